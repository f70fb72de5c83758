// Package settlement turns an authenticated payment notification into at most one order
// payment transition and, on success, hands the order to escrow settlement.
//
// Every write is a conditional update, so the machine is safe under concurrent and repeated
// delivery of the same notification.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PartsSettle/internal/audit"
	"PartsSettle/internal/escrow"
	"PartsSettle/internal/events"
	"PartsSettle/internal/logging"
	"PartsSettle/internal/metrics"
	"PartsSettle/internal/models"
	"PartsSettle/internal/money"
	"PartsSettle/internal/payments"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrAmountMismatch = errors.New("notification amount does not match order total")
)

type Outcome string

const (
	OutcomePaid        Outcome = "paid"
	OutcomeAlreadyPaid Outcome = "already_paid"
	OutcomeConcurrent  Outcome = "concurrent_update"
	OutcomeOrderClosed Outcome = "order_closed"
	OutcomeFailed      Outcome = "payment_failed"
	OutcomeFailedNoop  Outcome = "failed_noop"
	OutcomePending     Outcome = "pending"
	OutcomeIgnored     Outcome = "ignored"
	OutcomeUnsettled   Outcome = "paid_unsettled"
)

type Result struct {
	Outcome    Outcome
	OrderID    string
	PaymentID  string
	Settlement *escrow.Result
}

type Store interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID, paymentID string, paidAt time.Time) (bool, error)
	MarkOrderPaymentFailed(ctx context.Context, orderID, paymentID string) (bool, error)
	TouchPendingPayment(ctx context.Context, orderID, paymentID string) (bool, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, origin string, body []byte) (*payments.Notification, error)
}

type Settler interface {
	Settle(ctx context.Context, order *models.Order, schedule escrow.FeeSchedule) (*escrow.Result, error)
}

type ScheduleLoader interface {
	Load(ctx context.Context) (escrow.FeeSchedule, error)
}

type Machine struct {
	auth      Authenticator
	store     Store
	settler   Settler
	schedules ScheduleLoader
	publisher events.Publisher
	audit     audit.Sink
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

type Deps struct {
	Auth      Authenticator
	Store     Store
	Settler   Settler
	Schedules ScheduleLoader
	Publisher events.Publisher
	Audit     audit.Sink
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

func NewMachine(d Deps) *Machine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Audit == nil {
		d.Audit = audit.NewLogger(d.Logger)
	}
	return &Machine{
		auth:      d.Auth,
		store:     d.Store,
		settler:   d.Settler,
		schedules: d.Schedules,
		publisher: d.Publisher,
		audit:     d.Audit,
		metrics:   d.Metrics,
		log:       d.Logger.With(zap.String("component", "settlement")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandleNotification authenticates the raw notification and applies it. Authentication
// errors, ErrOrderNotFound and ErrAmountMismatch are returned to the caller; idempotent
// short-circuits are successes.
func (m *Machine) HandleNotification(ctx context.Context, origin string, body []byte) (Result, error) {
	ctx, span := otel.Tracer("parts-settle/settlement").Start(ctx, "settlement.HandleNotification")
	defer span.End()

	n, err := m.auth.Authenticate(ctx, origin, body)
	if err != nil {
		m.metrics.Notification(authStage(err), "rejected")
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
		return Result{}, err
	}
	m.metrics.Notification("auth", "accepted")

	status := n.PaymentStatus()
	span.SetAttributes(
		attribute.String("order.id", n.OrderID()),
		attribute.String("payment.id", n.PaymentID()),
		attribute.String("payment.status", status),
	)
	ctx = logging.WithContext(ctx, logging.FromContext(ctx, m.log).With(
		zap.String("order_id", n.OrderID()),
		zap.String("payment_id", n.PaymentID()),
		zap.String("payment_status", status),
	))

	var res Result
	switch status {
	case payments.StatusComplete:
		res, err = m.handleComplete(ctx, n, origin)
	case payments.StatusFailed:
		res, err = m.handleFailed(ctx, n, origin)
	case payments.StatusPending:
		res, err = m.handlePending(ctx, n, origin)
	default:
		m.audit.Record(ctx, audit.Record{
			Type:      audit.PaymentUnknownStatus,
			Success:   false,
			OrderID:   n.OrderID(),
			PaymentID: n.PaymentID(),
			Origin:    origin,
			Detail:    "payment_status=" + status,
		})
		res = Result{Outcome: OutcomeIgnored, OrderID: n.OrderID(), PaymentID: n.PaymentID()}
	}

	if err != nil {
		m.metrics.Notification("dispatch", "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	m.metrics.Notification("dispatch", string(res.Outcome))
	span.SetAttributes(attribute.String("settlement.outcome", string(res.Outcome)))
	return res, nil
}

func (m *Machine) loadOrder(ctx context.Context, n *payments.Notification, origin string) (*models.Order, error) {
	orderID := n.OrderID()
	if orderID == "" {
		m.audit.Record(ctx, audit.Record{Type: audit.OrderLookup, PaymentID: n.PaymentID(), Origin: origin, Detail: "missing order correlation id"})
		return nil, ErrOrderNotFound
	}
	order, err := m.store.GetOrder(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		m.audit.Record(ctx, audit.Record{Type: audit.OrderLookup, OrderID: orderID, PaymentID: n.PaymentID(), Origin: origin, Detail: "order not found"})
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return order, nil
}

func (m *Machine) handleComplete(ctx context.Context, n *payments.Notification, origin string) (Result, error) {
	log := logging.FromContext(ctx, m.log)
	res := Result{OrderID: n.OrderID(), PaymentID: n.PaymentID()}
	base := audit.Record{OrderID: n.OrderID(), PaymentID: n.PaymentID(), Origin: origin}

	order, err := m.loadOrder(ctx, n, origin)
	if err != nil {
		return res, err
	}

	if order.PaymentStatus == models.PaymentPaid {
		r := base
		r.Type, r.Success, r.Detail = audit.PaymentCompleted, true, "skipped: already paid"
		m.audit.Record(ctx, r)
		log.Info("notification skipped, order already paid")
		res.Outcome = OutcomeAlreadyPaid
		return res, nil
	}

	gross, perr := money.ParseCents(n.AmountGross())
	if perr != nil || gross != order.Total {
		r := base
		r.Type, r.Severity = audit.AmountCheck, audit.SeverityCritical
		r.Detail = fmt.Sprintf("amount_gross=%q order_total=%s", n.AmountGross(), money.Format(order.Total))
		m.audit.Record(ctx, r)
		return res, fmt.Errorf("%w: got %q, want %s", ErrAmountMismatch, n.AmountGross(), money.Format(order.Total))
	}
	r := base
	r.Type, r.Success = audit.AmountCheck, true
	m.audit.Record(ctx, r)

	paidAt := m.now()
	moved, err := m.store.MarkOrderPaid(ctx, order.ID, n.PaymentID(), paidAt)
	if err != nil {
		return res, fmt.Errorf("mark order %s paid: %w", order.ID, err)
	}
	if !moved {
		res.Outcome = m.classifyLostTransition(ctx, order.ID, base)
		return res, nil
	}

	r = base
	r.Type, r.Success, r.Detail = audit.PaymentCompleted, true, "amount="+money.Format(gross)
	m.audit.Record(ctx, r)

	paymentID := n.PaymentID()
	order.Status = models.OrderConfirmed
	order.PaymentStatus = models.PaymentPaid
	order.PaymentID = &paymentID
	order.PaidAt = &paidAt

	if err := m.publisher.Publish(ctx, events.OrderPaid{
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		PaymentID:  paymentID,
		Total:      order.Total,
		OccurredAt: paidAt,
	}); err != nil {
		log.Warn("publish order.paid failed", zap.Error(err))
	}

	// The order is paid from here on. Settlement problems are left for the reconciler.
	settled, err := m.settle(context.WithoutCancel(ctx), order)
	res.Settlement = settled
	if err != nil || settled == nil || !settled.Complete() {
		log.Error("settlement incomplete", zap.Error(err))
		res.Outcome = OutcomeUnsettled
		return res, nil
	}
	res.Outcome = OutcomePaid
	return res, nil
}

// classifyLostTransition explains a conditional update that matched no row.
func (m *Machine) classifyLostTransition(ctx context.Context, orderID string, base audit.Record) Outcome {
	log := logging.FromContext(ctx, m.log)
	current, err := m.store.GetOrder(ctx, orderID)
	if err == nil && current.PaymentStatus == models.PaymentPaid {
		r := base
		r.Type, r.Success, r.Detail = audit.PaymentCompleted, true, "skipped: concurrent update already applied"
		m.audit.Record(ctx, r)
		log.Info("concurrent notification already applied")
		return OutcomeConcurrent
	}

	detail := "payment received for order that is no longer payable"
	if err == nil {
		detail = fmt.Sprintf("payment received for order with status=%s payment_status=%s", current.Status, current.PaymentStatus)
	}
	r := base
	r.Type, r.Severity, r.Detail = audit.PaymentCompleted, audit.SeverityCritical, detail
	m.audit.Record(ctx, r)
	log.Error("payment received for closed order", zap.String("detail", detail))
	return OutcomeOrderClosed
}

func (m *Machine) settle(ctx context.Context, order *models.Order) (*escrow.Result, error) {
	schedule, err := m.schedules.Load(ctx)
	if err != nil {
		m.audit.Record(ctx, audit.Record{
			Type:     audit.SettlementRun,
			Severity: audit.SeverityCritical,
			OrderID:  order.ID,
			Detail:   err.Error(),
		})
		return nil, err
	}
	return m.settler.Settle(ctx, order, schedule)
}

// ResettleOrder re-runs settlement for a paid order. It is used by the reconciler for orders
// whose first settlement attempt did not complete.
func (m *Machine) ResettleOrder(ctx context.Context, order *models.Order) (*escrow.Result, error) {
	if order.PaymentStatus != models.PaymentPaid {
		return nil, fmt.Errorf("order %s is not paid", order.ID)
	}
	return m.settle(ctx, order)
}

func (m *Machine) handleFailed(ctx context.Context, n *payments.Notification, origin string) (Result, error) {
	res := Result{OrderID: n.OrderID(), PaymentID: n.PaymentID()}
	base := audit.Record{OrderID: n.OrderID(), PaymentID: n.PaymentID(), Origin: origin}

	order, err := m.loadOrder(ctx, n, origin)
	if err != nil {
		return res, err
	}

	moved, err := m.store.MarkOrderPaymentFailed(ctx, order.ID, n.PaymentID())
	if err != nil {
		return res, fmt.Errorf("mark order %s failed: %w", order.ID, err)
	}
	if !moved {
		r := base
		r.Type, r.Success = audit.PaymentFailed, true
		r.Detail = fmt.Sprintf("skipped: payment_status=%s", order.PaymentStatus)
		m.audit.Record(ctx, r)
		res.Outcome = OutcomeFailedNoop
		return res, nil
	}

	r := base
	r.Type, r.Success, r.Severity, r.Detail = audit.PaymentFailed, true, audit.SeverityWarning, "stock restored"
	m.audit.Record(ctx, r)
	if err := m.publisher.Publish(ctx, events.OrderPaymentFailed{
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		OccurredAt: m.now(),
	}); err != nil {
		logging.FromContext(ctx, m.log).Warn("publish order.payment_failed failed", zap.Error(err))
	}
	res.Outcome = OutcomeFailed
	return res, nil
}

func (m *Machine) handlePending(ctx context.Context, n *payments.Notification, origin string) (Result, error) {
	res := Result{OrderID: n.OrderID(), PaymentID: n.PaymentID()}

	order, err := m.loadOrder(ctx, n, origin)
	if err != nil {
		return res, err
	}
	touched, err := m.store.TouchPendingPayment(ctx, order.ID, n.PaymentID())
	if err != nil {
		return res, fmt.Errorf("touch order %s: %w", order.ID, err)
	}
	m.audit.Record(ctx, audit.Record{
		Type:      audit.PaymentPending,
		Success:   true,
		OrderID:   order.ID,
		PaymentID: n.PaymentID(),
		Origin:    origin,
		Detail:    fmt.Sprintf("updated=%t", touched),
	})
	res.Outcome = OutcomePending
	return res, nil
}

func authStage(err error) string {
	switch {
	case errors.Is(err, payments.ErrInvalidOrigin):
		return "origin"
	case errors.Is(err, payments.ErrSignatureMismatch):
		return "signature"
	case errors.Is(err, payments.ErrServerValidationFailed):
		return "server_validation"
	case errors.Is(err, payments.ErrMerchantMismatch):
		return "merchant"
	default:
		return "parse"
	}
}
