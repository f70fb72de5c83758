// Package escrow settles a paid order: it splits the order by seller, writes one ledger row
// per seller and credits each seller's locked balance through the store's atomic hold.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PartsSettle/internal/audit"
	"PartsSettle/internal/events"
	"PartsSettle/internal/logging"
	"PartsSettle/internal/metrics"
	"PartsSettle/internal/models"
	"PartsSettle/internal/money"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrNoLineItems = errors.New("order has no line items")

type Store interface {
	ListLineItems(ctx context.Context, orderID string) ([]models.OrderLineItem, error)
	InsertTransaction(ctx context.Context, tx *models.Transaction) (bool, error)
	HoldEscrow(ctx context.Context, h models.EscrowHold) (bool, error)
	IncrementShopDailyStats(ctx context.Context, shopID string, day time.Time, orders, items int) error
	MarkOrderSettled(ctx context.Context, orderID string, at time.Time) error
}

type SellerResult struct {
	SellerID      string
	ShopID        string
	Split         Split
	LedgerCreated bool
	Credited      bool
	Err           error
}

type Result struct {
	OrderID string
	Sellers []SellerResult
}

// Complete reports whether every seller has both a ledger row and an escrow credit.
func (r *Result) Complete() bool {
	for _, s := range r.Sellers {
		if s.Err != nil {
			return false
		}
	}
	return true
}

type Settler struct {
	store     Store
	publisher events.Publisher
	audit     audit.Sink
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

func NewSettler(store Store, publisher events.Publisher, sink audit.Sink, m *metrics.Metrics, logger *zap.Logger) *Settler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = audit.NewLogger(logger)
	}
	return &Settler{
		store:     store,
		publisher: publisher,
		audit:     sink,
		metrics:   m,
		log:       logger.With(zap.String("component", "escrow")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type partition struct {
	sellerID string
	shopID   string
	items    []models.OrderLineItem
}

// partitionBySeller keeps sellers in first-seen order.
func partitionBySeller(items []models.OrderLineItem) []*partition {
	var out []*partition
	idx := make(map[string]*partition)
	for _, it := range items {
		p, ok := idx[it.SellerID]
		if !ok {
			p = &partition{sellerID: it.SellerID, shopID: it.ShopID}
			idx[it.SellerID] = p
			out = append(out, p)
		}
		p.items = append(p.items, it)
	}
	return out
}

// Settle is safe to call again for the same order: ledger inserts and escrow holds are both
// idempotent, so a retry completes whatever a previous run left undone.
func (s *Settler) Settle(ctx context.Context, order *models.Order, schedule FeeSchedule) (*Result, error) {
	ctx, span := otel.Tracer("parts-settle/escrow").Start(ctx, "escrow.Settle")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", order.ID))

	started := time.Now()
	log := logging.FromContext(ctx, s.log).With(zap.String("order_id", order.ID))

	items, err := s.store.ListLineItems(ctx, order.ID)
	if err == nil && len(items) == 0 {
		err = ErrNoLineItems
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load line items")
		s.metrics.Settlement("aborted", started)
		s.audit.Record(ctx, audit.Record{
			Type:     audit.SettlementRun,
			Success:  false,
			Severity: audit.SeverityCritical,
			OrderID:  order.ID,
			Detail:   "load line items: " + err.Error(),
		})
		return nil, fmt.Errorf("settle order %s: %w", order.ID, err)
	}

	paymentID := ""
	if order.PaymentID != nil {
		paymentID = *order.PaymentID
	}
	day := s.now()
	if order.PaidAt != nil {
		day = *order.PaidAt
	}

	res := &Result{OrderID: order.ID}
	for _, p := range partitionBySeller(items) {
		sr := s.settleSeller(ctx, log, order, paymentID, p, schedule)
		if sr.LedgerCreated {
			if err := s.store.IncrementShopDailyStats(ctx, p.shopID, day, 1, sr.Split.Items); err != nil {
				log.Warn("shop stats update failed", zap.String("shop_id", p.shopID), zap.Error(err))
			}
		}
		res.Sellers = append(res.Sellers, sr)
	}

	if !res.Complete() {
		span.SetStatus(codes.Error, "partial settlement")
		s.metrics.Settlement("partial", started)
		return res, nil
	}
	if err := s.store.MarkOrderSettled(ctx, order.ID, s.now()); err != nil {
		s.metrics.Settlement("error", started)
		return res, fmt.Errorf("mark order %s settled: %w", order.ID, err)
	}
	s.metrics.Settlement("settled", started)
	s.audit.Record(ctx, audit.Record{
		Type:      audit.SettlementRun,
		Success:   true,
		OrderID:   order.ID,
		PaymentID: paymentID,
		Detail:    fmt.Sprintf("sellers=%d", len(res.Sellers)),
	})
	return res, nil
}

func (s *Settler) settleSeller(ctx context.Context, log *zap.Logger, order *models.Order, paymentID string, p *partition, schedule FeeSchedule) SellerResult {
	split := schedule.Compute(p.items)
	sr := SellerResult{SellerID: p.sellerID, ShopID: p.shopID, Split: split}
	log = log.With(zap.String("seller_id", p.sellerID), zap.String("shop_id", p.shopID))

	now := s.now()
	created, err := s.store.InsertTransaction(ctx, &models.Transaction{
		ID:           uuid.NewString(),
		OrderID:      order.ID,
		ShopID:       p.shopID,
		SellerID:     p.sellerID,
		GrossAmount:  split.Gross,
		FeeAmount:    split.Fees,
		SellerAmount: split.Net,
		Status:       models.TransactionCompleted,
		EscrowStatus: models.EscrowHeld,
		PaymentID:    paymentID,
		CompletedAt:  now,
		CreatedAt:    now,
	})
	if err != nil {
		sr.Err = fmt.Errorf("insert ledger row: %w", err)
		log.Error("ledger insert failed", zap.Error(err))
		s.audit.Record(ctx, audit.Record{
			Type:      audit.SettlementRun,
			Success:   false,
			Severity:  audit.SeverityCritical,
			OrderID:   order.ID,
			PaymentID: paymentID,
			Detail:    fmt.Sprintf("seller=%s ledger insert: %v", p.sellerID, err),
		})
		return sr
	}
	sr.LedgerCreated = created

	credited, err := s.store.HoldEscrow(ctx, models.EscrowHold{
		SellerID:    p.sellerID,
		ShopID:      p.shopID,
		Amount:      split.Net,
		OrderID:     order.ID,
		Description: "Escrow hold for order " + order.OrderNumber,
	})
	if err != nil {
		sr.Err = fmt.Errorf("hold escrow: %w", err)
		s.metrics.EscrowCredit("error")
		log.Error("escrow hold failed", zap.Int64("amount_cents", split.Net), zap.Error(err))
		s.audit.Record(ctx, audit.Record{
			Type:      audit.EscrowHold,
			Success:   false,
			Severity:  audit.SeverityCritical,
			OrderID:   order.ID,
			PaymentID: paymentID,
			Detail:    fmt.Sprintf("seller=%s amount=%s: %v", p.sellerID, money.Format(split.Net), err),
		})
		return sr
	}
	sr.Credited = credited
	trace.SpanFromContext(ctx).AddEvent("escrow.hold", trace.WithAttributes(
		attribute.String("seller.id", p.sellerID),
		attribute.Int64("amount_cents", split.Net),
		attribute.Bool("credited", credited),
	))
	if !credited {
		s.metrics.EscrowCredit("duplicate")
		log.Info("escrow already held")
		return sr
	}

	s.metrics.EscrowCredit("credited")
	s.audit.Record(ctx, audit.Record{
		Type:      audit.EscrowHold,
		Success:   true,
		OrderID:   order.ID,
		PaymentID: paymentID,
		Detail: fmt.Sprintf("seller=%s gross=%s fees=%s net=%s",
			p.sellerID, money.Format(split.Gross), money.Format(split.Fees), money.Format(split.Net)),
	})
	if err := s.publisher.Publish(ctx, events.EscrowHeld{
		OrderID:    order.ID,
		SellerID:   p.sellerID,
		ShopID:     p.shopID,
		Amount:     split.Net,
		OccurredAt: now,
	}); err != nil {
		log.Warn("publish escrow.held failed", zap.Error(err))
	}
	return sr
}
