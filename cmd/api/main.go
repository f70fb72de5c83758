package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"PartsSettle/internal/app"
	"PartsSettle/internal/config"
	internalhttp "PartsSettle/internal/http"
	"PartsSettle/internal/logging"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logging.MustNew("parts-settle-api", "dev", "info").Fatal("config load failed", zap.Error(err))
	}
	logger := logging.MustNew(cfg.Log.Service+"-api", cfg.Log.Env, cfg.Log.Level)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("app init failed", zap.Error(err))
	}
	a.Start(ctx)

	h := internalhttp.NewHandler(a.Orders, a.Pricing, a.Machine, logger)
	srv := internalhttp.NewServer(h, internalhttp.ServerConfig{
		Metrics:     a.Metrics,
		Gatherer:    a.Registry,
		NotifyRate:  cfg.PayFast.NotifyRatePerSec,
		NotifyBurst: cfg.PayFast.NotifyBurst,
		Log:         logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Memory storage has no second process to share it with, so the reconciler runs here.
	if cfg.DB.Storage == config.StorageMemory {
		go a.Worker().Run(ctx)
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Server.Addr), zap.String("storage", cfg.DB.Storage))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	a.Close(ctxShutdown)
}
