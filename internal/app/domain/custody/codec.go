package custody

import (
	"encoding/binary"
	"fmt"

	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
)

// Record layouts are fixed-width and little-endian, matching the byte layouts
// persisted on the ledger. Sizes are asserted on decode so a truncated or
// overlong record fails loudly instead of misparsing.
const (
	RegistrySize      = identity.Size + 1
	EscrowSize        = identity.Size*2 + 1 + 8 + 8
	SessionRecordSize = identity.Size*2 + 8 + 8 + 8 + 32
	UserStatsSize     = identity.Size + 8 + 4 + 8 + 2 + 1
	LeaderboardSize   = 1 + 1 + MaxCategoryLen + 8 + 2 + 8
)

// Marshal encodes the registry record.
func (r Registry) Marshal() []byte {
	buf := make([]byte, RegistrySize)
	copy(buf, r.Admin[:])
	buf[identity.Size] = r.Bump
	return buf
}

// UnmarshalRegistry decodes a registry record.
func UnmarshalRegistry(data []byte) (Registry, error) {
	if len(data) != RegistrySize {
		return Registry{}, fmt.Errorf("registry record: unexpected length %d", len(data))
	}
	var r Registry
	copy(r.Admin[:], data)
	r.Bump = data[identity.Size]
	return r, nil
}

// Marshal encodes the escrow record.
func (e Escrow) Marshal() []byte {
	buf := make([]byte, EscrowSize)
	off := 0
	off += copy(buf[off:], e.Owner[:])
	off += copy(buf[off:], e.Vault[:])
	buf[off] = e.Bump
	off++
	binary.LittleEndian.PutUint64(buf[off:], e.Allowed)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], e.Spent)
	return buf
}

// UnmarshalEscrow decodes an escrow record.
func UnmarshalEscrow(data []byte) (Escrow, error) {
	if len(data) != EscrowSize {
		return Escrow{}, fmt.Errorf("escrow record: unexpected length %d", len(data))
	}
	var e Escrow
	off := 0
	off += copy(e.Owner[:], data[off:])
	off += copy(e.Vault[:], data[off:])
	e.Bump = data[off]
	off++
	e.Allowed = binary.LittleEndian.Uint64(data[off:])
	off += 8
	e.Spent = binary.LittleEndian.Uint64(data[off:])
	return e, nil
}

// Marshal encodes the session record.
func (s SessionRecord) Marshal() []byte {
	buf := make([]byte, SessionRecordSize)
	off := 0
	off += copy(buf[off:], s.User[:])
	off += copy(buf[off:], s.Recipient[:])
	binary.LittleEndian.PutUint64(buf[off:], s.SOLAmount)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], s.USDCAmount)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(s.Timestamp))
	off += 8
	copy(buf[off:], s.SessionID[:])
	return buf
}

// UnmarshalSessionRecord decodes a session record.
func UnmarshalSessionRecord(data []byte) (SessionRecord, error) {
	if len(data) != SessionRecordSize {
		return SessionRecord{}, fmt.Errorf("session record: unexpected length %d", len(data))
	}
	var s SessionRecord
	off := 0
	off += copy(s.User[:], data[off:])
	off += copy(s.Recipient[:], data[off:])
	s.SOLAmount = binary.LittleEndian.Uint64(data[off:])
	off += 8
	s.USDCAmount = binary.LittleEndian.Uint64(data[off:])
	off += 8
	s.Timestamp = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	copy(s.SessionID[:], data[off:])
	return s, nil
}

// Marshal encodes the user stats record.
func (u UserStats) Marshal() []byte {
	buf := make([]byte, UserStatsSize)
	off := 0
	off += copy(buf[off:], u.User[:])
	binary.LittleEndian.PutUint64(buf[off:], u.TotalSpent)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], u.TransactionCount)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(u.LastTransaction))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], u.Rank)
	off += 2
	if u.HasName {
		buf[off] = 1
	}
	return buf
}

// UnmarshalUserStats decodes a user stats record.
func UnmarshalUserStats(data []byte) (UserStats, error) {
	if len(data) != UserStatsSize {
		return UserStats{}, fmt.Errorf("user stats record: unexpected length %d", len(data))
	}
	var u UserStats
	off := 0
	off += copy(u.User[:], data[off:])
	u.TotalSpent = binary.LittleEndian.Uint64(data[off:])
	off += 8
	u.TransactionCount = binary.LittleEndian.Uint32(data[off:])
	off += 4
	u.LastTransaction = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	u.Rank = binary.LittleEndian.Uint16(data[off:])
	off += 2
	u.HasName = data[off] == 1
	return u, nil
}

// Marshal encodes the leaderboard record. The category is stored as a length
// byte followed by a zero-padded 32-byte field.
func (l Leaderboard) Marshal() ([]byte, error) {
	if len(l.Category) > MaxCategoryLen {
		return nil, ErrInvalidCategory
	}
	buf := make([]byte, LeaderboardSize)
	buf[0] = byte(l.TimePeriod)
	buf[1] = byte(len(l.Category))
	copy(buf[2:2+MaxCategoryLen], l.Category)
	off := 2 + MaxCategoryLen
	binary.LittleEndian.PutUint64(buf[off:], uint64(l.LastUpdated))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], l.EntryCount)
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], l.MinEntryAmount)
	return buf, nil
}

// UnmarshalLeaderboard decodes a leaderboard record.
func UnmarshalLeaderboard(data []byte) (Leaderboard, error) {
	if len(data) != LeaderboardSize {
		return Leaderboard{}, fmt.Errorf("leaderboard record: unexpected length %d", len(data))
	}
	catLen := int(data[1])
	if catLen > MaxCategoryLen {
		return Leaderboard{}, ErrInvalidCategory
	}
	var l Leaderboard
	l.TimePeriod = TimePeriod(data[0])
	l.Category = string(data[2 : 2+catLen])
	off := 2 + MaxCategoryLen
	l.LastUpdated = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	l.EntryCount = binary.LittleEndian.Uint16(data[off:])
	off += 2
	l.MinEntryAmount = binary.LittleEndian.Uint64(data[off:])
	return l, nil
}
