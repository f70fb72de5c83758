package main

import (
	"context"

	"PartsSettle/internal/config"
	"PartsSettle/internal/db"
	"PartsSettle/internal/logging"
	"PartsSettle/migrations"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logging.MustNew("parts-settle-migrate", "dev", "info").Fatal("config load failed", zap.Error(err))
	}
	logger := logging.MustNew(cfg.Log.Service+"-migrate", cfg.Log.Env, cfg.Log.Level)
	defer func() { _ = logger.Sync() }()

	if cfg.DB.Storage != config.StoragePostgres {
		logger.Info("nothing to migrate", zap.String("storage", cfg.DB.Storage))
		return
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, migrations.FS, logger)
	if err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}
	logger.Info("migrations complete", zap.Int("applied", len(applied)))
}
