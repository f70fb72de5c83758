// Package audit records every authentication and state-transition decision taken on the
// payment path. Records are append-only and carry correlation ids so a payment dispute can
// be reconstructed from logs alone.
package audit

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"PartsSettle/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event types written by the payment path.
const (
	OriginCheck          = "origin_check"
	SignatureCheck       = "signature_check"
	ServerValidation     = "server_validation"
	MerchantCheck        = "merchant_check"
	NotificationParse    = "notification_parse"
	OrderLookup          = "order_lookup"
	AmountCheck          = "amount_check"
	PaymentCompleted     = "payment_completed"
	PaymentFailed        = "payment_failed"
	PaymentPending       = "payment_pending"
	PaymentUnknownStatus = "payment_unknown_status"
	SettlementRun        = "settlement"
	EscrowHold           = "escrow_hold"
	OrderCancel          = "order_cancel"
)

type Record struct {
	Type      string
	Success   bool
	Severity  string
	OrderID   string
	PaymentID string
	Origin    string
	Detail    string
}

type Sink interface {
	Record(ctx context.Context, r Record)
}

// Logger writes records as structured zap entries.
type Logger struct {
	log *zap.Logger
}

func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{log: logger.With(zap.String("component", "audit"))}
}

func (l *Logger) Record(_ context.Context, r Record) {
	fields := []zap.Field{
		zap.String("audit_event", r.Type),
		zap.Bool("success", r.Success),
		zap.String("order_id", r.OrderID),
		zap.String("payment_id", r.PaymentID),
		zap.String("origin", r.Origin),
		zap.String("detail", r.Detail),
	}
	switch severity(r) {
	case SeverityCritical:
		l.log.Error("audit", fields...)
	case SeverityWarning:
		l.log.Warn("audit", fields...)
	default:
		l.log.Info("audit", fields...)
	}
}

type Store interface {
	InsertAuditEvent(ctx context.Context, ev models.AuditEvent) error
}

// StoreSink persists records. Persistence failures are logged and never block the caller's path.
type StoreSink struct {
	store Store
	log   *zap.Logger
}

func NewStoreSink(store Store, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, log: logger}
}

func (s *StoreSink) Record(ctx context.Context, r Record) {
	ev := models.AuditEvent{
		ID:        uuid.NewString(),
		Type:      r.Type,
		Success:   r.Success,
		Severity:  severity(r),
		OrderID:   r.OrderID,
		PaymentID: r.PaymentID,
		Origin:    r.Origin,
		Detail:    r.Detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertAuditEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("audit_persist_failed", zap.String("audit_event", r.Type), zap.Error(err))
	}
}

type multi []Sink

// Multi fans a record out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Record(ctx context.Context, r Record) {
	for _, s := range m {
		s.Record(ctx, r)
	}
}

func severity(r Record) string {
	if r.Severity != "" {
		return r.Severity
	}
	if r.Success {
		return SeverityInfo
	}
	return SeverityWarning
}

var redactedKeys = map[string]bool{
	"signature":     true,
	"passphrase":    true,
	"merchant_key":  true,
	"email_address": true,
	"name_first":    true,
	"name_last":     true,
	"cell_number":   true,
	"token":         true,
}

// Redact renders a field set for diagnostics with secrets and buyer PII masked.
func Redact(fields url.Values) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.Join(fields[k], ",")
		if redactedKeys[k] && v != "" {
			v = "[redacted]"
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}
