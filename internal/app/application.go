package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rozo-network/custody_layer/internal/app/domain/custody"
	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
	"github.com/rozo-network/custody_layer/internal/app/ledger"
	ledgermem "github.com/rozo-network/custody_layer/internal/app/ledger/memory"
	"github.com/rozo-network/custody_layer/internal/app/services/escrow"
	"github.com/rozo-network/custody_layer/internal/app/services/registry"
	"github.com/rozo-network/custody_layer/internal/app/services/stats"
	"github.com/rozo-network/custody_layer/internal/app/services/swap"
	"github.com/rozo-network/custody_layer/internal/app/system"
	"github.com/rozo-network/custody_layer/pkg/logger"
)

// Options configures the application. A nil Ledger defaults to the in-memory
// executor.
type Options struct {
	Ledger ledger.Executor

	// Admin, when set, bootstraps the registry on Start. Ignored if the
	// registry already exists.
	Admin identity.ID

	// LeaderboardSchedule is the cron expression for ranking refreshes.
	// Empty disables the refresher.
	LeaderboardSchedule string
}

// Application ties the custody services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	admin   identity.ID

	Ledger   ledger.Executor
	Registry *registry.Service
	Escrow   *escrow.Service
	Swap     *swap.Service
	Stats    *stats.Service
}

// New builds a fully initialised application.
func New(opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	exec := opts.Ledger
	if exec == nil {
		exec = ledgermem.New()
	}

	manager := system.NewManager()

	registryService := registry.New(exec, log)
	escrowService := escrow.New(exec, log)
	swapService := swap.New(exec, log)
	statsService := stats.New(exec, log)

	escrowService.AttachObserver(statsService)
	statsService.AttachUpdateHook(func(period custody.TimePeriod, category string, timestamp int64) {
		log.WithField("period", period.String()).
			WithField("category", category).
			WithField("timestamp", timestamp).
			Info("leaderboard updated")
	})

	for _, name := range []string{"registry", "escrow", "swap"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	if opts.LeaderboardSchedule != "" && !opts.Admin.IsZero() {
		refresher := stats.NewRefresher(statsService, opts.Admin, opts.LeaderboardSchedule, log)
		refresher.Track(custody.PeriodAllTime, "")
		if err := manager.Register(refresher); err != nil {
			return nil, fmt.Errorf("register %s: %w", refresher.Name(), err)
		}
	} else {
		log.Warn("no admin or schedule configured; leaderboard refresher disabled")
	}

	return &Application{
		manager:  manager,
		log:      log,
		admin:    opts.Admin,
		Ledger:   exec,
		Registry: registryService,
		Escrow:   escrowService,
		Swap:     swapService,
		Stats:    statsService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start bootstraps the registry admin when configured and begins all
// registered services.
func (a *Application) Start(ctx context.Context) error {
	if !a.admin.IsZero() {
		err := a.Registry.Initialize(ctx, a.admin)
		switch {
		case err == nil:
			a.log.WithField("admin", a.admin.String()).Info("registry bootstrapped")
		case errors.Is(err, custody.ErrRegistryInitialized):
			// already bootstrapped on a previous start
		default:
			return fmt.Errorf("bootstrap registry: %w", err)
		}
	}
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
