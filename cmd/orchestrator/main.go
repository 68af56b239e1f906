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
	"github.com/dannguy1/opmas/internal/knowledge"
	"github.com/dannguy1/opmas/internal/logging"
	"github.com/dannguy1/opmas/internal/metrics"
	"github.com/dannguy1/opmas/internal/orchestrator"
	"github.com/dannguy1/opmas/internal/playbook"
	"github.com/dannguy1/opmas/internal/store"
)

// main runs the orchestrator: findings in, audit records out.
func main() {
	cfg, err := config.LoadOrchestrator()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	logger, err := logging.New("orchestrator", cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("orchestrator starting",
		zap.String("nats_url", cfg.NatsURL),
		zap.String("playbooks_dir", cfg.PlaybooksDir),
		zap.Duration("action_cooldown", cfg.ActionCooldown))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.NewPostgres(ctx, cfg.PostgresURL, logger)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer st.Close()

	// Redis is optional: without it the orchestrator still audits actions,
	// it just loses active-finding tracking.
	var kn *knowledge.Client
	if cfg.RedisAddr != "" {
		kn, err = knowledge.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Warn("redis unavailable, finding-state tracking disabled", zap.Error(err))
			kn = nil
		} else {
			defer kn.Close()
		}
	}

	lib, err := playbook.LoadDir(cfg.PlaybooksDir, logger)
	if err != nil {
		logger.Fatal("failed to load playbooks", zap.Error(err))
	}
	logger.Info("playbooks loaded", zap.Int("count", lib.Len()))

	bus, err := eventbus.Connect(cfg.NatsURL, "orchestrator", logger)
	if err != nil {
		logger.Fatal("failed to connect to bus", zap.Error(err))
	}

	m := metrics.New("orchestrator")
	m.Serve(cfg.MetricsPort)
	health.Serve(cfg.HealthPort, "orchestrator", bus.IsDegraded, logger)

	handler := orchestrator.NewHandler(st, kn, lib, bus, m, cfg.ActionCooldown, logger)
	svc := orchestrator.NewService(handler, bus, m, logger)

	svc.SyncPlaybooks(ctx, st, lib)

	if err := svc.Start(); err != nil {
		logger.Fatal("failed to start orchestrator", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")
	svc.Stop()
	bus.Drain()
	logger.Info("orchestrator exited")
}
