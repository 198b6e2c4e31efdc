// Package custody defines the persisted records of the custody layer and their
// fixed-width wire layouts.
package custody

import (
	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
)

// SessionID is the caller-supplied opaque token used as a one-time-use replay
// guard for a logical payment.
type SessionID [32]byte

// Registry is the singleton privileged-identity record. It is created once,
// mutated only by the current admin and never destroyed.
type Registry struct {
	Admin identity.ID
	Bump  byte
}

// Escrow tracks a per-owner authorized spend ceiling and cumulative spend. The
// invariant 0 <= Spent <= Allowed holds at all times; funds backing the
// difference sit in the Vault account, which only the escrow's derived
// authority may move.
type Escrow struct {
	Owner   identity.ID
	Vault   identity.ID
	Bump    byte
	Allowed uint64
	Spent   uint64
}

// Remaining returns the unspent allowance, saturating at zero so a corrupt
// record can never underflow a comparison.
func (e Escrow) Remaining() uint64 {
	if e.Spent >= e.Allowed {
		return 0
	}
	return e.Allowed - e.Spent
}

// SessionRecord is the permanent, immutable receipt written by swap-and-pay.
// Its existence at the derived (user, session) address is the double-spend
// guard.
type SessionRecord struct {
	User       identity.ID
	Recipient  identity.ID
	SOLAmount  uint64
	USDCAmount uint64
	Timestamp  int64
	SessionID  SessionID
}

// UserStats holds best-effort cumulative spend telemetry for one user. All
// counters are monotonic.
type UserStats struct {
	User             identity.ID
	TotalSpent       uint64
	TransactionCount uint32
	LastTransaction  int64
	Rank             uint16
	HasName          bool
}

// TimePeriod scopes a leaderboard.
type TimePeriod uint8

const (
	PeriodDaily TimePeriod = iota
	PeriodWeekly
	PeriodMonthly
	PeriodAllTime
)

// String implements fmt.Stringer for log output.
func (p TimePeriod) String() string {
	switch p {
	case PeriodDaily:
		return "daily"
	case PeriodWeekly:
		return "weekly"
	case PeriodMonthly:
		return "monthly"
	case PeriodAllTime:
		return "all-time"
	default:
		return "unknown"
	}
}

// MaxCategoryLen bounds leaderboard category names.
const MaxCategoryLen = 32

// LeaderboardMaxEntries caps how many users a leaderboard ranks.
const LeaderboardMaxEntries = 100

// Leaderboard aggregates spend rankings for one (period, category) pair.
type Leaderboard struct {
	TimePeriod     TimePeriod
	Category       string
	LastUpdated    int64
	EntryCount     uint16
	MinEntryAmount uint64
}
