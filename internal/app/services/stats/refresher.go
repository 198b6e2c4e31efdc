package stats

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/rozo-network/custody_layer/internal/app/domain/custody"
	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
	"github.com/rozo-network/custody_layer/internal/app/system"
	"github.com/rozo-network/custody_layer/pkg/logger"
)

type boardKey struct {
	period   custody.TimePeriod
	category string
}

// Refresher periodically re-stamps tracked leaderboards on a cron schedule.
// Refreshes run with the admin identity the refresher was configured with.
type Refresher struct {
	service  *Service
	admin    identity.ID
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	boards  []boardKey
	running bool
}

var _ system.Service = (*Refresher)(nil)

// NewRefresher builds a leaderboard refresher. An empty schedule defaults to
// hourly.
func NewRefresher(service *Service, admin identity.ID, schedule string, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("stats-refresher")
	}
	if schedule == "" {
		schedule = "@hourly"
	}
	return &Refresher{service: service, admin: admin, schedule: schedule, log: log}
}

// Track adds a leaderboard to the refresh set. Call before Start.
func (r *Refresher) Track(period custody.TimePeriod, category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boards = append(r.boards, boardKey{period: period, category: category})
}

func (r *Refresher) Name() string { return "stats-refresher" }

// Start schedules the refresh job.
func (r *Refresher) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.refresh(context.Background()) }); err != nil {
		return err
	}
	c.Start()
	r.cron = c
	r.running = true

	r.log.WithField("schedule", r.schedule).Info("leaderboard refresher started")
	return nil
}

// Stop cancels the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	r.mu.Lock()
	boards := append([]boardKey(nil), r.boards...)
	r.mu.Unlock()

	for _, board := range boards {
		if _, err := r.service.UpdateLeaderboardRankings(ctx, r.admin, board.period, board.category); err != nil {
			r.log.WithError(err).
				WithField("period", board.period.String()).
				WithField("category", board.category).
				Warn("leaderboard refresh failed")
		}
	}
}
