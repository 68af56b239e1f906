package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dannguy1/opmas/internal/config"
	"github.com/dannguy1/opmas/internal/eventbus"
	"github.com/dannguy1/opmas/internal/health"
	"github.com/dannguy1/opmas/internal/lifecycle"
	"github.com/dannguy1/opmas/internal/logging"
	"github.com/dannguy1/opmas/internal/metrics"
	"github.com/dannguy1/opmas/internal/store"
)

// main runs the lifecycle manager supervising the detector fleet.
func main() {
	cfg, err := config.LoadLifecycle()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	logger, err := logging.New("lifecycle", cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("lifecycle manager starting",
		zap.String("nats_url", cfg.NatsURL),
		zap.String("detectors_dir", cfg.DetectorsDir),
		zap.Duration("heartbeat_timeout", cfg.HeartbeatTimeout))

	specs, err := lifecycle.LoadSpecs(cfg.DetectorsDir)
	if err != nil {
		logger.Fatal("failed to load detector specs", zap.Error(err))
	}
	logger.Info("detector specs loaded", zap.Int("count", len(specs)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Postgres is optional here: the fleet keeps running without status
	// persistence.
	var st store.Store
	if cfg.PostgresURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.PostgresURL, logger)
		if err != nil {
			logger.Warn("postgres unavailable, status persistence disabled", zap.Error(err))
		} else {
			st = pg
			defer pg.Close()
		}
	}

	bus, err := eventbus.Connect(cfg.NatsURL, "lifecycle", logger)
	if err != nil {
		logger.Fatal("failed to connect to bus", zap.Error(err))
	}

	m := metrics.New("lifecycle")
	m.Serve(cfg.MetricsPort)
	health.Serve(cfg.HealthPort, "lifecycle", bus.IsDegraded, logger)

	mgr, err := lifecycle.NewManager(cfg, specs, bus, st, m, logger)
	if err != nil {
		logger.Fatal("failed to build lifecycle manager", zap.Error(err))
	}
	if err := mgr.Start(); err != nil {
		logger.Fatal("failed to start lifecycle manager", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")
	mgr.Stop()
	bus.Drain()
	logger.Info("lifecycle manager exited")
}
