package audit

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"PartsSettle/internal/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactMasksSecretsAndPII(t *testing.T) {
	fields := url.Values{
		"signature":     {"abc123"},
		"email_address": {"buyer@example.com"},
		"amount_gross":  {"150.00"},
		"custom_str1":   {"order-1"},
	}
	got := Redact(fields)
	assert.Equal(t, "amount_gross=150.00 custom_str1=order-1 email_address=[redacted] signature=[redacted]", got)
	assert.NotContains(t, got, "abc123")
}

func TestLoggerSeverity(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogger(zap.New(core))

	l.Record(context.Background(), Record{Type: SignatureCheck, Success: true})
	l.Record(context.Background(), Record{Type: SignatureCheck, Success: false})
	l.Record(context.Background(), Record{Type: AmountCheck, Severity: SeverityCritical, OrderID: "o-1"})

	entries := logs.All()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
		assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
		assert.Equal(t, "o-1", entries[2].ContextMap()["order_id"])
	}
}

type recordingStore struct {
	events []models.AuditEvent
	err    error
}

func (s *recordingStore) InsertAuditEvent(_ context.Context, ev models.AuditEvent) error {
	s.events = append(s.events, ev)
	return s.err
}

func TestStoreSinkPersistsAndSwallowsErrors(t *testing.T) {
	st := &recordingStore{err: errors.New("db down")}
	sink := Multi(NewStoreSink(st, nil), NewLogger(nil))

	sink.Record(context.Background(), Record{Type: OriginCheck, Success: false, Origin: "10.0.0.1"})

	if assert.Len(t, st.events, 1) {
		assert.Equal(t, SeverityWarning, st.events[0].Severity)
		assert.Equal(t, "10.0.0.1", st.events[0].Origin)
		assert.NotEmpty(t, st.events[0].ID)
	}
}
