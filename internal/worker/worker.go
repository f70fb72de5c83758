package worker

import (
	"context"
	"time"

	"PartsSettle/internal/escrow"
	"PartsSettle/internal/models"

	"go.uber.org/zap"
)

type UnsettledLister interface {
	ListUnsettledPaidOrders(ctx context.Context, paidBefore time.Time, limit int) ([]*models.Order, error)
}

type Resettler interface {
	ResettleOrder(ctx context.Context, order *models.Order) (*escrow.Result, error)
}

type Expirer interface {
	ExpireStaleOrders(ctx context.Context, ttl time.Duration, limit int) (int, error)
}

// Worker reconciles on a ticker: it finishes settlement for paid orders that were left
// unsettled and, when PendingTTL is set, cancels pending orders that were never paid.
type Worker struct {
	Store      UnsettledLister
	Settlement Resettler
	Orders     Expirer
	Interval   time.Duration
	Grace      time.Duration
	PendingTTL time.Duration
	BatchSize  int
	Log        *zap.Logger
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		if err := w.SyncOnce(ctx); err != nil {
			w.logger().Error("reconcile failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce runs one reconciliation pass.
func (w *Worker) SyncOnce(ctx context.Context) error {
	if err := w.resettle(ctx); err != nil {
		return err
	}
	if w.PendingTTL <= 0 || w.Orders == nil {
		return nil
	}
	expired, err := w.Orders.ExpireStaleOrders(ctx, w.PendingTTL, w.BatchSize)
	if err != nil {
		return err
	}
	if expired > 0 {
		w.logger().Info("expired pending orders", zap.Int("count", expired))
	}
	return nil
}

func (w *Worker) resettle(ctx context.Context) error {
	orders, err := w.Store.ListUnsettledPaidOrders(ctx, time.Now().UTC().Add(-w.Grace), w.BatchSize)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}
	w.logger().Info("resettling paid orders", zap.Int("pending", len(orders)))

	for _, order := range orders {
		res, err := w.Settlement.ResettleOrder(ctx, order)
		if err != nil {
			w.logger().Error("resettle failed", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		if !res.Complete() {
			w.logger().Warn("resettle incomplete", zap.String("order_id", order.ID))
		}
	}
	return nil
}

func (w *Worker) logger() *zap.Logger {
	if w.Log == nil {
		return zap.NewNop()
	}
	return w.Log
}
