package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dannguy1/opmas/internal/config"
	"github.com/dannguy1/opmas/internal/detector"
	"github.com/dannguy1/opmas/internal/eventbus"
	"github.com/dannguy1/opmas/internal/health"
	"github.com/dannguy1/opmas/internal/logging"
	"github.com/dannguy1/opmas/internal/metrics"
	"github.com/dannguy1/opmas/internal/store"
)

// main runs one domain detector. The domain comes from DETECTOR_DOMAIN,
// normally injected by the lifecycle manager at spawn time.
func main() {
	cfg, err := config.LoadDetector()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	logger, err := logging.New("detector-"+cfg.Domain, cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("detector starting",
		zap.String("domain", cfg.Domain),
		zap.String("agent", cfg.AgentName),
		zap.String("nats_url", cfg.NatsURL))

	bus, err := eventbus.Connect(cfg.NatsURL, cfg.AgentName, logger)
	if err != nil {
		logger.Fatal("failed to connect to bus", zap.Error(err))
	}

	m := metrics.New("detector-" + cfg.Domain)
	m.Serve(cfg.MetricsPort)
	health.Serve(cfg.HealthPort, "detector-"+cfg.Domain, bus.IsDegraded, logger)

	// Rule persistence is optional; the detector runs fine on built-in and
	// file-based rules alone.
	var st store.Store
	if cfg.PostgresURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pg, err := store.NewPostgres(ctx, cfg.PostgresURL, logger)
		cancel()
		if err != nil {
			logger.Warn("postgres unavailable, rule persistence disabled", zap.Error(err))
		} else {
			st = pg
			defer pg.Close()
		}
	}

	svc, err := detector.New(cfg, bus, st, m, logger)
	if err != nil {
		logger.Fatal("failed to build detector", zap.Error(err))
	}
	if err := svc.Start(); err != nil {
		logger.Fatal("failed to start detector", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")
	svc.Stop()
	bus.Drain()
	logger.Info("detector exited")
}
