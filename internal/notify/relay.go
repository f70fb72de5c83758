package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message is one push notification for a buyer or seller.
type Message struct {
	Type       string         `json:"type"`
	Recipient  string         `json:"recipient"`
	OrderID    string         `json:"orderId"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

type Relay interface {
	Send(ctx context.Context, msg Message) error
}

// WSRelay writes messages to a push relay over one websocket connection, dialing lazily and
// redialing once when a write fails.
type WSRelay struct {
	Endpoint     string
	WriteTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
	log  *zap.Logger
}

func NewWSRelay(endpoint string, logger *zap.Logger) *WSRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSRelay{Endpoint: endpoint, WriteTimeout: 5 * time.Second, log: logger}
}

func (r *WSRelay) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: r.WriteTimeout}
	conn, _, err := dialer.DialContext(ctx, r.Endpoint, nil)
	if err != nil {
		return err
	}
	r.conn = conn
	r.log.Info("relay connected", zap.String("endpoint", r.Endpoint))
	return nil
}

func (r *WSRelay) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if r.conn == nil {
			if err = r.connect(ctx); err != nil {
				continue
			}
		}
		if err = r.write(msg); err == nil {
			return nil
		}
		r.log.Warn("relay write failed", zap.Error(err))
		r.closeLocked()
	}
	return err
}

func (r *WSRelay) write(msg Message) error {
	if err := r.conn.SetWriteDeadline(time.Now().Add(r.WriteTimeout)); err != nil {
		return err
	}
	return r.conn.WriteJSON(msg)
}

func (r *WSRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
	return nil
}

func (r *WSRelay) closeLocked() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

// LogRelay only logs messages. It is used when no relay endpoint is configured.
type LogRelay struct {
	Log *zap.Logger
}

func (r LogRelay) Send(_ context.Context, msg Message) error {
	if r.Log == nil {
		return errors.New("log relay has no logger")
	}
	r.Log.Info("notification",
		zap.String("type", msg.Type),
		zap.String("recipient", msg.Recipient),
		zap.String("order_id", msg.OrderID),
	)
	return nil
}
