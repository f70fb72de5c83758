// Package notify turns committed order events into buyer and seller push messages. Delivery
// is best effort: a failed send is logged and never reaches the order or payment path.
package notify

import (
	"context"

	"PartsSettle/internal/events"
	"PartsSettle/internal/money"

	"go.uber.org/zap"
)

type Notifier struct {
	relay Relay
	log   *zap.Logger
}

func NewNotifier(relay Relay, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{relay: relay, log: logger.With(zap.String("component", "notify"))}
}

// Register subscribes the notifier to every event it turns into a message.
func (n *Notifier) Register(sub events.Subscriber) {
	for _, name := range []string{
		events.OrderPlacedName,
		events.OrderPaidName,
		events.OrderPaymentFailedName,
		events.OrderCancelledName,
		events.EscrowHeldName,
	} {
		sub.Subscribe(name, n.Handle)
	}
}

func (n *Notifier) Handle(ctx context.Context, e events.Event) error {
	msg, ok := messageFor(e)
	if !ok {
		return nil
	}
	if err := n.relay.Send(ctx, msg); err != nil {
		n.log.Warn("notification dropped",
			zap.String("type", msg.Type),
			zap.String("order_id", msg.OrderID),
			zap.Error(err),
		)
	}
	return nil
}

func messageFor(e events.Event) (Message, bool) {
	switch ev := e.(type) {
	case events.OrderPlaced:
		return Message{
			Type:       ev.EventName(),
			Recipient:  ev.BuyerID,
			OrderID:    ev.OrderID,
			Data:       map[string]any{"orderNumber": ev.OrderNumber, "total": money.Format(ev.Total)},
			OccurredAt: ev.OccurredAt,
		}, true
	case events.OrderPaid:
		return Message{
			Type:       ev.EventName(),
			Recipient:  ev.BuyerID,
			OrderID:    ev.OrderID,
			Data:       map[string]any{"paymentId": ev.PaymentID, "total": money.Format(ev.Total)},
			OccurredAt: ev.OccurredAt,
		}, true
	case events.OrderPaymentFailed:
		return Message{Type: ev.EventName(), Recipient: ev.BuyerID, OrderID: ev.OrderID, OccurredAt: ev.OccurredAt}, true
	case events.OrderCancelled:
		return Message{
			Type:       ev.EventName(),
			Recipient:  ev.BuyerID,
			OrderID:    ev.OrderID,
			Data:       map[string]any{"reason": ev.Reason},
			OccurredAt: ev.OccurredAt,
		}, true
	case events.EscrowHeld:
		return Message{
			Type:       ev.EventName(),
			Recipient:  ev.SellerID,
			OrderID:    ev.OrderID,
			Data:       map[string]any{"shopId": ev.ShopID, "amount": money.Format(ev.Amount)},
			OccurredAt: ev.OccurredAt,
		}, true
	default:
		return Message{}, false
	}
}
