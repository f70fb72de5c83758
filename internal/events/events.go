package events

import (
	"context"
	"time"
)

const (
	OrderPlacedName        = "order.placed"
	OrderPaidName          = "order.paid"
	OrderPaymentFailedName = "order.payment_failed"
	OrderCancelledName     = "order.cancelled"
	EscrowHeldName         = "escrow.held"
)

// Event is any domain event with a name identifier.
type Event interface {
	EventName() string
}

// Handler processes a published event.
type Handler func(ctx context.Context, e Event) error

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscriber interface {
	Subscribe(eventName string, h Handler)
}

type OrderPlaced struct {
	OrderID     string
	OrderNumber string
	BuyerID     string
	Total       int64
	OccurredAt  time.Time
}

func (OrderPlaced) EventName() string { return OrderPlacedName }

type OrderPaid struct {
	OrderID    string
	BuyerID    string
	PaymentID  string
	Total      int64
	OccurredAt time.Time
}

func (OrderPaid) EventName() string { return OrderPaidName }

type OrderPaymentFailed struct {
	OrderID    string
	BuyerID    string
	OccurredAt time.Time
}

func (OrderPaymentFailed) EventName() string { return OrderPaymentFailedName }

type OrderCancelled struct {
	OrderID    string
	BuyerID    string
	Reason     string
	OccurredAt time.Time
}

func (OrderCancelled) EventName() string { return OrderCancelledName }

// EscrowHeld is emitted once per seller credit.
type EscrowHeld struct {
	OrderID    string
	SellerID   string
	ShopID     string
	Amount     int64
	OccurredAt time.Time
}

func (EscrowHeld) EventName() string { return EscrowHeldName }

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
