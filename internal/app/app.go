// Package app assembles the settlement core from configuration. Both binaries share it so the
// API and the reconciler run against identically wired components.
package app

import (
	"context"
	"fmt"
	"time"

	"PartsSettle/internal/audit"
	"PartsSettle/internal/config"
	"PartsSettle/internal/db"
	"PartsSettle/internal/escrow"
	"PartsSettle/internal/events"
	"PartsSettle/internal/metrics"
	"PartsSettle/internal/money"
	"PartsSettle/internal/notify"
	"PartsSettle/internal/payments"
	"PartsSettle/internal/pricing"
	"PartsSettle/internal/services"
	"PartsSettle/internal/settlement"
	"PartsSettle/internal/store"
	"PartsSettle/internal/store/memstore"
	"PartsSettle/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Backend is everything the components need from storage.
type Backend interface {
	services.OrderStore
	settlement.Store
	escrow.Store
	escrow.RateStore
	audit.Store
	worker.UnsettledLister
}

type App struct {
	Config   *config.Config
	Log      *zap.Logger
	Store    Backend
	Bus      *events.Bus
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Audit    audit.Sink
	Pricing  pricing.Engine
	Orders   *services.OrderService
	Machine  *settlement.Machine

	started bool
	closers []func()
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: logger}

	backend, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = backend

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	a.Bus = events.NewBus(cfg.Notify.QueueSize, logger)
	var relay notify.Relay = notify.LogRelay{Log: logger}
	if cfg.Notify.RelayURL != "" {
		ws := notify.NewWSRelay(cfg.Notify.RelayURL, logger)
		a.closers = append(a.closers, func() { _ = ws.Close() })
		relay = ws
	}
	notify.NewNotifier(relay, logger).Register(a.Bus)

	a.Audit = audit.Multi(audit.NewLogger(logger), audit.NewStoreSink(backend, logger))
	a.Pricing = pricing.Engine{Catalog: backend}

	a.Orders = &services.OrderService{
		Store:     backend,
		Pricing:   a.Pricing,
		Limits:    limits(cfg),
		Publisher: a.Bus,
		Audit:     a.Audit,
		Metrics:   a.Metrics,
		Logger:    logger,
	}

	auth, err := payments.NewAuthenticator(payments.AuthenticatorConfig{
		AllowedCIDRs:    cfg.PayFast.AllowedCIDRs,
		MerchantID:      cfg.PayFast.MerchantID,
		Passphrase:      cfg.PayFast.Passphrase,
		ValidateTimeout: time.Duration(cfg.PayFast.ValidateTimeoutMS) * time.Millisecond,
	}, payments.NewHTTPValidator(cfg.PayFast.ValidateURL, time.Duration(cfg.PayFast.ValidateTimeoutMS)*time.Millisecond), a.Audit)
	if err != nil {
		a.release()
		return nil, fmt.Errorf("payfast authenticator: %w", err)
	}

	a.Machine = settlement.NewMachine(settlement.Deps{
		Auth:      auth,
		Store:     backend,
		Settler:   escrow.NewSettler(backend, a.Bus, a.Audit, a.Metrics, logger),
		Schedules: escrow.NewScheduleLoader(backend, feeDefaults(cfg)),
		Publisher: a.Bus,
		Audit:     a.Audit,
		Metrics:   a.Metrics,
		Logger:    logger,
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context) (Backend, error) {
	cfg := a.Config
	if cfg.DB.Storage == config.StorageMemory {
		mem := memstore.New()
		if cfg.DB.SeedFile != "" {
			if err := LoadSeed(cfg.DB.SeedFile, mem); err != nil {
				return nil, fmt.Errorf("seed: %w", err)
			}
		}
		a.Log.Warn("using in-memory storage; data is lost on exit")
		return mem, nil
	}

	pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	return store.New(pool), nil
}

// Worker returns the reconciler configured from the worker section.
func (a *App) Worker() *worker.Worker {
	cfg := a.Config
	return &worker.Worker{
		Store:      a.Store,
		Settlement: a.Machine,
		Orders:     a.Orders,
		Interval:   time.Duration(cfg.Worker.IntervalSeconds) * time.Second,
		Grace:      time.Duration(cfg.Worker.SettleGraceSeconds) * time.Second,
		PendingTTL: time.Duration(cfg.Orders.PendingTTLMinutes) * time.Minute,
		BatchSize:  cfg.Worker.BatchSize,
		Log:        a.Log.With(zap.String("component", "worker")),
	}
}

// Start begins event delivery.
func (a *App) Start(ctx context.Context) {
	a.Bus.Start(ctx)
	a.started = true
}

// Close drains the event bus and releases storage and relay connections, in that order.
func (a *App) Close(ctx context.Context) {
	if a.started {
		a.Bus.Stop(ctx)
	}
	a.release()
}

func (a *App) release() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func limits(cfg *config.Config) services.Limits {
	return services.Limits{
		MaxOrderAmount:        money.ToCents(cfg.Orders.MaxOrderAmount),
		FreeShippingThreshold: money.ToCents(cfg.Orders.FreeShippingThreshold),
		StandardShipping:      money.ToCents(cfg.Orders.StandardShipping),
		ExpressShipping:       money.ToCents(cfg.Orders.ExpressShipping),
	}
}

func feeDefaults(cfg *config.Config) escrow.FeeSchedule {
	return escrow.FeeSchedule{
		DefaultCommissionPct: cfg.Fees.DefaultCommissionPct,
		CommissionByCategory: cfg.Fees.CommissionByCategory,
		VATPct:               cfg.Fees.VATPct,
		VATEnabled:           cfg.Fees.VATEnabled,
		ProcessorFeePct:      cfg.Fees.ProcessorFeePct,
		ProcessorFeeEnabled:  cfg.Fees.ProcessorFeeEnabled,
	}
}
