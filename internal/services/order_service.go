package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"PartsSettle/internal/audit"
	"PartsSettle/internal/events"
	"PartsSettle/internal/logging"
	"PartsSettle/internal/metrics"
	"PartsSettle/internal/models"
	"PartsSettle/internal/money"
	"PartsSettle/internal/pricing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var (
	ErrMissingBuyerID            = errors.New("missing buyer id")
	ErrMissingField              = errors.New("missing required field")
	ErrPartNotFound              = errors.New("part not found")
	ErrOrderRejected             = errors.New("order rejected")
	ErrOrderTotalExceedsMaximum  = errors.New("order total exceeds maximum")
	ErrOrderNotFound             = errors.New("order not found")
	ErrNotCancellable            = errors.New("only pending orders with pending payment can be cancelled")
	ErrUnsupportedShippingMethod = errors.New("unsupported shipping method")
)

// FieldError names the first missing request field.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string { return "missing required field: " + e.Field }

func (e *FieldError) Unwrap() error { return ErrMissingField }

type PartNotFoundError struct {
	PartIDs []string
}

func (e *PartNotFoundError) Error() string {
	return "parts not found: " + strings.Join(e.PartIDs, ", ")
}

func (e *PartNotFoundError) Unwrap() error { return ErrPartNotFound }

// RejectionError carries every rule violation found across the request.
type RejectionError struct {
	Violations []*pricing.Violation
}

func (e *RejectionError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Error())
	}
	return "order rejected: " + strings.Join(msgs, "; ")
}

func (e *RejectionError) Unwrap() error { return ErrOrderRejected }

type OrderStore interface {
	pricing.Catalog
	GetParts(ctx context.Context, ids []string) (map[string]*models.Part, error)
	PlaceOrder(ctx context.Context, order *models.Order, items []models.OrderLineItem) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListLineItems(ctx context.Context, orderID string) ([]models.OrderLineItem, error)
	CancelPendingOrder(ctx context.Context, orderID string) (bool, error)
	ListStalePendingOrders(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Order, error)
}

// Limits are the shipping rates and order cap, all in cents.
type Limits struct {
	MaxOrderAmount        int64
	FreeShippingThreshold int64
	StandardShipping      int64
	ExpressShipping       int64
}

type OrderService struct {
	Store     OrderStore
	Pricing   pricing.Engine
	Limits    Limits
	Publisher events.Publisher
	Audit     audit.Sink
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type ItemInput struct {
	PartID   string `json:"part_id"`
	Quantity int    `json:"quantity"`
}

type CreateOrderInput struct {
	BuyerID         string
	Items           []ItemInput
	ShippingAddress models.Address
	BillingAddress  *models.Address
	CustomerEmail   string
	CustomerName    string
	ShippingMethod  models.ShippingMethod
}

type PlacedOrder struct {
	Order *models.Order
	Items []models.OrderLineItem
}

func (s OrderService) logger(ctx context.Context) *zap.Logger {
	base := s.Logger
	if base == nil {
		base = zap.NewNop()
	}
	return logging.FromContext(ctx, base)
}

func (s OrderService) publish(ctx context.Context, e events.Event) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, e); err != nil {
		s.logger(ctx).Warn("publish event failed", zap.String("event", e.EventName()), zap.Error(err))
	}
}

// CreateOrder prices and validates the request from the catalog alone and persists it with
// its stock reservation. Any failure leaves no order and no stock change behind.
func (s OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*PlacedOrder, error) {
	ctx, span := otel.Tracer("parts-settle/services").Start(ctx, "services.CreateOrder")
	defer span.End()

	placed, err := s.createOrder(ctx, in)
	switch {
	case err == nil:
		s.Metrics.Order("created")
		span.SetAttributes(attribute.String("order.id", placed.Order.ID))
	case errors.Is(err, ErrOrderRejected), errors.Is(err, ErrPartNotFound), errors.Is(err, ErrMissingField),
		errors.Is(err, ErrOrderTotalExceedsMaximum), errors.Is(err, ErrMissingBuyerID), errors.Is(err, ErrUnsupportedShippingMethod):
		s.Metrics.Order("rejected")
		s.logger(ctx).Info("order rejected", zap.String("buyer_id", in.BuyerID), zap.Error(err))
	default:
		s.Metrics.Order("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order")
		s.logger(ctx).Error("create order failed", zap.String("buyer_id", in.BuyerID), zap.Error(err))
	}
	return placed, err
}

func (s OrderService) createOrder(ctx context.Context, in CreateOrderInput) (*PlacedOrder, error) {
	if in.BuyerID == "" {
		return nil, ErrMissingBuyerID
	}
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	lines := mergeItems(in.Items)
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.PartID)
	}
	parts, err := s.Store.GetParts(ctx, ids)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range ids {
		if _, ok := parts[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &PartNotFoundError{PartIDs: missing}
	}

	var violations []*pricing.Violation
	avail := make(map[string]pricing.Availability, len(lines))
	for _, l := range lines {
		p := parts[l.PartID]
		if v := pricing.ValidateQuantity(l.Quantity, p.MinOrderQty, p.PackSize, p.OrderIncrement); v != nil {
			v.PartID = p.ID
			violations = append(violations, v)
		}
		a, v := pricing.CheckStock(p, l.Quantity)
		if v != nil {
			violations = append(violations, v)
		}
		avail[p.ID] = a
	}
	if len(violations) > 0 {
		return nil, &RejectionError{Violations: violations}
	}

	now := time.Now().UTC()
	order := &models.Order{
		ID:              uuid.NewString(),
		OrderNumber:     orderNumber(now),
		BuyerID:         in.BuyerID,
		Status:          models.OrderPending,
		PaymentStatus:   models.PaymentPending,
		ShippingMethod:  in.ShippingMethod,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  *in.BillingAddress,
		CustomerEmail:   in.CustomerEmail,
		CustomerName:    in.CustomerName,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	items := make([]models.OrderLineItem, 0, len(lines))
	for _, l := range lines {
		p := parts[l.PartID]
		unit, label, err := s.Pricing.Quote(ctx, p, l.Quantity)
		if err != nil {
			return nil, err
		}
		lineTotal, ok := money.MulQty(unit, l.Quantity)
		if !ok {
			return nil, fmt.Errorf("%w: line total for part %s overflows", ErrOrderTotalExceedsMaximum, p.ID)
		}
		line := models.OrderLineItem{
			ID:          uuid.NewString(),
			OrderID:     order.ID,
			PartID:      p.ID,
			ShopID:      p.ShopID,
			SellerID:    p.SellerID,
			CategoryID:  p.CategoryID,
			Quantity:    l.Quantity,
			UnitPrice:   unit,
			TotalPrice:  lineTotal,
			TierLabel:   label,
			IsBackorder: avail[p.ID].IsBackorder,
			CreatedAt:   now,
		}
		if order.Subtotal, ok = money.Add(order.Subtotal, line.TotalPrice); !ok {
			return nil, fmt.Errorf("%w: subtotal overflows", ErrOrderTotalExceedsMaximum)
		}
		items = append(items, line)
	}
	order.ShopID = items[0].ShopID
	order.Shipping = s.Limits.shipping(in.ShippingMethod, order.Subtotal)
	total, ok := orderTotal(order)
	if !ok {
		return nil, fmt.Errorf("%w: total overflows", ErrOrderTotalExceedsMaximum)
	}
	order.Total = total

	if order.Total > s.Limits.MaxOrderAmount {
		return nil, fmt.Errorf("%w: %s > %s", ErrOrderTotalExceedsMaximum, money.Format(order.Total), money.Format(s.Limits.MaxOrderAmount))
	}

	if err := s.Store.PlaceOrder(ctx, order, items); err != nil {
		var conflict *models.StockConflictError
		if errors.As(err, &conflict) {
			return nil, &RejectionError{Violations: []*pricing.Violation{{
				PartID:  conflict.PartID,
				Code:    "InsufficientStock",
				Message: "stock changed while the order was placed",
				Err:     pricing.ErrInsufficientStock,
			}}}
		}
		return nil, err
	}

	s.logger(ctx).Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int("lines", len(items)),
		zap.Int64("total_cents", order.Total),
	)
	s.publish(ctx, events.OrderPlaced{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		Total:       order.Total,
		OccurredAt:  now,
	})
	return &PlacedOrder{Order: order, Items: items}, nil
}

func validateInput(in *CreateOrderInput) error {
	if len(in.Items) == 0 {
		return &FieldError{Field: "items"}
	}
	for _, it := range in.Items {
		if strings.TrimSpace(it.PartID) == "" {
			return &FieldError{Field: "items.part_id"}
		}
	}
	a := in.ShippingAddress
	required := []struct{ name, value string }{
		{"shippingAddress.fullName", a.FullName},
		{"shippingAddress.line1", a.Line1},
		{"shippingAddress.city", a.City},
		{"shippingAddress.postalCode", a.PostalCode},
		{"shippingAddress.country", a.Country},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &FieldError{Field: f.name}
		}
	}
	switch in.ShippingMethod {
	case "":
		in.ShippingMethod = models.ShippingStandard
	case models.ShippingStandard, models.ShippingExpress:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedShippingMethod, in.ShippingMethod)
	}
	if in.BillingAddress == nil {
		in.BillingAddress = &in.ShippingAddress
	}
	return nil
}

func orderTotal(o *models.Order) (int64, bool) {
	t, ok := money.Add(o.Subtotal, o.Shipping)
	if !ok {
		return 0, false
	}
	if t, ok = money.Add(t, o.Tax); !ok {
		return 0, false
	}
	return money.Add(t, -o.Discount)
}

// mergeItems folds repeated part ids into one line, keeping first-seen order.
func mergeItems(items []ItemInput) []ItemInput {
	out := make([]ItemInput, 0, len(items))
	idx := make(map[string]int, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.PartID)
		if i, ok := idx[id]; ok {
			out[i].Quantity = addQuantity(out[i].Quantity, it.Quantity)
			continue
		}
		idx[id] = len(out)
		out = append(out, ItemInput{PartID: id, Quantity: it.Quantity})
	}
	return out
}

// addQuantity saturates instead of wrapping: a non-positive part stays non-positive and
// anything above the line maximum stays above it, so validation still rejects the line.
func addQuantity(a, b int) int {
	switch {
	case a <= 0 || b <= 0:
		return min(a, b)
	case a > pricing.MaxQuantity || b > pricing.MaxQuantity:
		return max(a, b)
	}
	return a + b
}

func (l Limits) shipping(method models.ShippingMethod, subtotal int64) int64 {
	if method == models.ShippingExpress {
		return l.ExpressShipping
	}
	if subtotal > l.FreeShippingThreshold {
		return 0
	}
	return l.StandardShipping
}

func orderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "ORD-" + now.Format("20060102") + "-" + suffix
}

// GetOrder returns the buyer's order with its line items. Orders of other buyers are
// reported as not found.
func (s OrderService) GetOrder(ctx context.Context, buyerID, orderID string) (*PlacedOrder, error) {
	order, err := s.ownedOrder(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.Store.ListLineItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &PlacedOrder{Order: order, Items: items}, nil
}

func (s OrderService) ownedOrder(ctx context.Context, buyerID, orderID string) (*models.Order, error) {
	if buyerID == "" {
		return nil, ErrMissingBuyerID
	}
	order, err := s.Store.GetOrder(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// CancelOrder cancels a pending, unpaid order and returns its stock.
func (s OrderService) CancelOrder(ctx context.Context, buyerID, orderID string) (*models.Order, error) {
	order, err := s.ownedOrder(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPending || order.PaymentStatus != models.PaymentPending {
		return nil, ErrNotCancellable
	}
	if err := s.cancel(ctx, order, "buyer"); err != nil {
		return nil, err
	}
	return s.Store.GetOrder(ctx, order.ID)
}

func (s OrderService) cancel(ctx context.Context, order *models.Order, reason string) error {
	ok, err := s.Store.CancelPendingOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotCancellable
	}
	if s.Audit != nil {
		s.Audit.Record(ctx, audit.Record{
			Type:    audit.OrderCancel,
			Success: true,
			OrderID: order.ID,
			Detail:  "reason=" + reason,
		})
	}
	s.logger(ctx).Info("order cancelled", zap.String("order_id", order.ID), zap.String("reason", reason))
	s.publish(ctx, events.OrderCancelled{
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
	return nil
}

// ExpireStaleOrders cancels pending orders older than ttl so their stock returns to the shelf.
// Orders that were paid or cancelled in the meantime are skipped.
func (s OrderService) ExpireStaleOrders(ctx context.Context, ttl time.Duration, limit int) (int, error) {
	orders, err := s.Store.ListStalePendingOrders(ctx, time.Now().UTC().Add(-ttl), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, o := range orders {
		err := s.cancel(ctx, o, "expired")
		if errors.Is(err, ErrNotCancellable) {
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}
