package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PartsSettle/internal/events"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// relayServer accepts websocket connections and forwards every received message.
func relayServer(t *testing.T, closeAfterFirst bool) (string, <-chan Message) {
	t.Helper()
	received := make(chan Message, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
			if closeAfterFirst {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), received
}

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay message")
		return Message{}
	}
}

func TestNotifierSendsOverWebsocket(t *testing.T) {
	endpoint, received := relayServer(t, false)
	relay := NewWSRelay(endpoint, zaptest.NewLogger(t))
	defer relay.Close()
	n := NewNotifier(relay, zaptest.NewLogger(t))

	require.NoError(t, n.Handle(context.Background(), events.OrderPaid{OrderID: "o1", BuyerID: "buyer-1", PaymentID: "pf-1", Total: 15000}))
	require.NoError(t, n.Handle(context.Background(), events.EscrowHeld{OrderID: "o1", SellerID: "seller-1", ShopID: "shop-1", Amount: 7660}))

	paid := recv(t, received)
	assert.Equal(t, events.OrderPaidName, paid.Type)
	assert.Equal(t, "buyer-1", paid.Recipient)
	assert.Equal(t, "150.00", paid.Data["total"])

	held := recv(t, received)
	assert.Equal(t, events.EscrowHeldName, held.Type)
	assert.Equal(t, "seller-1", held.Recipient)
	assert.Equal(t, "76.60", held.Data["amount"])
}

func TestWSRelayRedialsAfterDisconnect(t *testing.T) {
	endpoint, received := relayServer(t, true)
	relay := NewWSRelay(endpoint, zaptest.NewLogger(t))
	defer relay.Close()
	ctx := context.Background()

	require.NoError(t, relay.Send(ctx, Message{Type: "first"}))
	assert.Equal(t, "first", recv(t, received).Type)

	// the server hangs up after one message; keep sending until a write notices
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, relay.Send(ctx, Message{Type: "second"}))
		select {
		case m := <-received:
			assert.Equal(t, "second", m.Type)
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("relay never redelivered after reconnect")
}

type failingRelay struct{ calls int }

func (f *failingRelay) Send(context.Context, Message) error {
	f.calls++
	return errors.New("relay down")
}

func TestNotifierSwallowsRelayErrors(t *testing.T) {
	relay := &failingRelay{}
	n := NewNotifier(relay, zaptest.NewLogger(t))

	err := n.Handle(context.Background(), events.OrderCancelled{OrderID: "o1", BuyerID: "b", Reason: "expired"})
	assert.NoError(t, err)
	assert.Equal(t, 1, relay.calls)
}

type recordingSubscriber struct{ names []string }

func (r *recordingSubscriber) Subscribe(name string, _ events.Handler) { r.names = append(r.names, name) }

func TestRegisterSubscribesAllEvents(t *testing.T) {
	sub := &recordingSubscriber{}
	NewNotifier(LogRelay{Log: zaptest.NewLogger(t)}, nil).Register(sub)
	assert.ElementsMatch(t, []string{
		events.OrderPlacedName,
		events.OrderPaidName,
		events.OrderPaymentFailedName,
		events.OrderCancelledName,
		events.EscrowHeldName,
	}, sub.names)
}
