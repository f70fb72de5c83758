package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"PartsSettle/internal/app"
	"PartsSettle/internal/config"
	"PartsSettle/internal/logging"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logging.MustNew("parts-settle-worker", "dev", "info").Fatal("config load failed", zap.Error(err))
	}
	logger := logging.MustNew(cfg.Log.Service+"-worker", cfg.Log.Env, cfg.Log.Level)
	defer func() { _ = logger.Sync() }()

	if cfg.DB.Storage != config.StoragePostgres {
		logger.Fatal("worker requires postgres storage", zap.String("storage", cfg.DB.Storage))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("app init failed", zap.Error(err))
	}
	a.Start(ctx)

	w := a.Worker()
	logger.Info("worker started",
		zap.Duration("interval", w.Interval),
		zap.Duration("settle_grace", w.Grace),
		zap.Duration("pending_ttl", w.PendingTTL),
	)
	w.Run(ctx)

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Close(ctxShutdown)
	logger.Info("worker stopped")
}
