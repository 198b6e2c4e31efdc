// Package stats implements the best-effort spend telemetry and leaderboard
// module. Nothing in this package is safety-critical: counters are advisory,
// monotonic and allowed to lag the payments they describe.
package stats

import (
	"context"
	"errors"
	"fmt"

	"github.com/rozo-network/custody_layer/internal/app/domain/custody"
	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
	"github.com/rozo-network/custody_layer/internal/app/ledger"
	"github.com/rozo-network/custody_layer/internal/app/metrics"
	"github.com/rozo-network/custody_layer/internal/app/services/registry"
	"github.com/rozo-network/custody_layer/pkg/logger"
)

const (
	userStatsPurpose   = "user-stats"
	leaderboardPurpose = "leaderboard"
)

// UserStatsAddress returns the derived address of a user's telemetry record.
func UserStatsAddress(user identity.ID) (identity.ID, byte) {
	return ledger.Derive(userStatsPurpose, user[:])
}

// LeaderboardAddress returns the derived address of a leaderboard record.
func LeaderboardAddress(period custody.TimePeriod, category string) (identity.ID, byte) {
	return ledger.Derive(leaderboardPurpose, []byte{byte(period)}, []byte(category))
}

// SpendHook observes a completed telemetry update: the new cumulative totals
// after a deduction was folded in.
type SpendHook func(owner identity.ID, amount, newTotalSpent uint64, newTransactionCount uint32)

// UpdateHook observes a completed leaderboard ranking refresh.
type UpdateHook func(period custody.TimePeriod, category string, timestamp int64)

// Service manages user statistics and leaderboards.
type Service struct {
	ledger     ledger.Executor
	spendHook  SpendHook
	updateHook UpdateHook
	log        *logger.Logger
}

// New constructs a stats service with no-op hooks.
func New(exec ledger.Executor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("stats")
	}
	return &Service{
		ledger:     exec,
		spendHook:  func(identity.ID, uint64, uint64, uint32) {},
		updateHook: func(custody.TimePeriod, string, int64) {},
		log:        log,
	}
}

// AttachSpendHook registers the post-deduction notification. Call before use.
func (s *Service) AttachSpendHook(h SpendHook) {
	if h != nil {
		s.spendHook = h
	}
}

// AttachUpdateHook registers the leaderboard-updated notification. Call before
// use.
func (s *Service) AttachUpdateHook(h UpdateHook) {
	if h != nil {
		s.updateHook = h
	}
}

// InitializeUserStats opts a user into leaderboard tracking.
func (s *Service) InitializeUserStats(ctx context.Context, user identity.ID) (custody.UserStats, error) {
	if user.IsZero() {
		return custody.UserStats{}, fmt.Errorf("user identity is required")
	}

	var stats custody.UserStats
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		stats = custody.UserStats{User: user, LastTransaction: tx.Now().Unix()}
		addr, _ := UserStatsAddress(user)
		return tx.CreateRecord(addr, stats.Marshal())
	})
	if err != nil {
		return custody.UserStats{}, err
	}

	s.log.WithField("user", user.String()).Info("user stats initialized")
	return stats, nil
}

// RecordSpend folds a completed deduction into the owner's telemetry. It
// implements the escrow spend observer: an owner who never opted in is
// silently skipped, and no failure here can reach the payment path.
func (s *Service) RecordSpend(ctx context.Context, owner identity.ID, amount uint64) error {
	var stats custody.UserStats
	tracked := false
	qualifies := false
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		addr, _ := UserStatsAddress(owner)
		data, err := tx.GetRecord(addr)
		if errors.Is(err, ledger.ErrRecordNotFound) {
			return nil // not opted in; never fail the payment
		}
		if err != nil {
			return err
		}

		stats, err = custody.UnmarshalUserStats(data)
		if err != nil {
			return err
		}
		stats.TotalSpent += amount
		stats.TransactionCount++
		stats.LastTransaction = tx.Now().Unix()
		tracked = true
		if err := tx.PutRecord(addr, stats.Marshal()); err != nil {
			return err
		}

		// Ranking itself happens in UpdateLeaderboardRankings; here we only
		// probe whether the new total would qualify.
		boardAddr, _ := LeaderboardAddress(custody.PeriodAllTime, "")
		if boardData, err := tx.GetRecord(boardAddr); err == nil {
			if board, err := custody.UnmarshalLeaderboard(boardData); err == nil {
				qualifies = board.EntryCount < custody.LeaderboardMaxEntries ||
					stats.TotalSpent > board.MinEntryAmount
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !tracked {
		return nil
	}
	if qualifies {
		s.log.WithField("user", owner.String()).Debug("user qualifies for leaderboard")
	}

	s.log.WithField("user", owner.String()).
		WithField("total_spent", stats.TotalSpent).
		WithField("transaction_count", stats.TransactionCount).
		Debug("user stats updated")
	s.spendHook(owner, amount, stats.TotalSpent, stats.TransactionCount)
	return nil
}

// UserStats returns a user's telemetry record.
func (s *Service) UserStats(ctx context.Context, user identity.ID) (custody.UserStats, error) {
	var stats custody.UserStats
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		addr, _ := UserStatsAddress(user)
		data, err := tx.GetRecord(addr)
		if err != nil {
			return err
		}
		stats, err = custody.UnmarshalUserStats(data)
		return err
	})
	return stats, err
}

// InitializeLeaderboard creates a leaderboard for (period, category). Only the
// registry admin may create leaderboards; category names over 32 bytes are
// rejected with ErrInvalidCategory.
func (s *Service) InitializeLeaderboard(ctx context.Context, caller identity.ID, period custody.TimePeriod, category string) (custody.Leaderboard, error) {
	if len(category) > custody.MaxCategoryLen {
		return custody.Leaderboard{}, custody.ErrInvalidCategory
	}

	var board custody.Leaderboard
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		if err := registry.RequireAdmin(tx, caller); err != nil {
			return err
		}
		board = custody.Leaderboard{
			TimePeriod:  period,
			Category:    category,
			LastUpdated: tx.Now().Unix(),
		}
		data, err := board.Marshal()
		if err != nil {
			return err
		}
		addr, _ := LeaderboardAddress(period, category)
		return tx.CreateRecord(addr, data)
	})
	if err != nil {
		return custody.Leaderboard{}, err
	}

	s.log.WithField("period", period.String()).
		WithField("category", category).
		Info("leaderboard initialized")
	return board, nil
}

// Leaderboard returns the record for (period, category).
func (s *Service) Leaderboard(ctx context.Context, period custody.TimePeriod, category string) (custody.Leaderboard, error) {
	var board custody.Leaderboard
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		addr, _ := LeaderboardAddress(period, category)
		data, err := tx.GetRecord(addr)
		if err != nil {
			return err
		}
		board, err = custody.UnmarshalLeaderboard(data)
		return err
	})
	return board, err
}

// UpdateLeaderboardRankings stamps a ranking refresh on the leaderboard and
// emits the leaderboard-updated notification. Admin only.
func (s *Service) UpdateLeaderboardRankings(ctx context.Context, caller identity.ID, period custody.TimePeriod, category string) (custody.Leaderboard, error) {
	var board custody.Leaderboard
	err := s.ledger.Execute(ctx, func(tx ledger.Tx) error {
		if err := registry.RequireAdmin(tx, caller); err != nil {
			return err
		}
		addr, _ := LeaderboardAddress(period, category)
		data, err := tx.GetRecord(addr)
		if err != nil {
			return err
		}
		board, err = custody.UnmarshalLeaderboard(data)
		if err != nil {
			return err
		}
		board.LastUpdated = tx.Now().Unix()
		updated, err := board.Marshal()
		if err != nil {
			return err
		}
		return tx.PutRecord(addr, updated)
	})
	if err != nil {
		return custody.Leaderboard{}, err
	}

	metrics.RecordLeaderboardUpdate()
	s.log.WithField("period", period.String()).
		WithField("category", category).
		Info("leaderboard rankings updated")
	s.updateHook(board.TimePeriod, board.Category, board.LastUpdated)
	return board, nil
}
