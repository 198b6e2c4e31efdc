// Package main implements the custody layer daemon. It exposes the
// escrow, swap, registry and stats services over HTTP backed by either
// the in-memory or the Postgres ledger executor.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rozo-network/custody_layer/internal/app"
	"github.com/rozo-network/custody_layer/internal/app/domain/identity"
	"github.com/rozo-network/custody_layer/internal/app/httpapi"
	"github.com/rozo-network/custody_layer/internal/app/ledger"
	ledgermem "github.com/rozo-network/custody_layer/internal/app/ledger/memory"
	ledgerpg "github.com/rozo-network/custody_layer/internal/app/ledger/postgres"
	"github.com/rozo-network/custody_layer/internal/app/metrics"
	"github.com/rozo-network/custody_layer/internal/config"
	"github.com/rozo-network/custody_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	flag.Parse()

	cfg := config.LoadOrDefault(*configPath)
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	appLog := logger.NewDefault("custodyd")

	var exec ledger.Executor
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := ledgerpg.Open(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatalf("Failed to open postgres ledger: %v", err)
		}
		defer pg.Close()
		exec = pg
		appLog.Info("using postgres ledger executor")
	} else {
		exec = ledgermem.New()
		appLog.Warn("using in-memory ledger executor; state will not survive restarts")
	}

	var admin identity.ID
	if cfg.Admin != "" {
		parsed, err := identity.Parse(cfg.Admin)
		if err != nil {
			log.Fatalf("Invalid admin identity %q: %v", cfg.Admin, err)
		}
		admin = parsed
	}

	application, err := app.New(app.Options{
		Ledger:              exec,
		Admin:               admin,
		LeaderboardSchedule: cfg.LeaderboardSchedule,
	}, appLog)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
	appLog.Info("application started")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", metrics.InstrumentHandler(httpapi.NewHandler(application)))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		appLog.Infof("custody API listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	appLog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Error("server shutdown error")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		appLog.WithError(err).Error("application stop error")
	}

	appLog.Info("stopped")
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetPrefix("[custodyd] ")
}
