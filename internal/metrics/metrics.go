// Package metrics holds the Prometheus collectors for the order and payment paths.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "parts_settle"

type Metrics struct {
	Notifications      *prometheus.CounterVec
	Orders             *prometheus.CounterVec
	Settlements        *prometheus.CounterVec
	EscrowCredits      *prometheus.CounterVec
	SettlementDuration prometheus.Histogram
	HTTPRequests       *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Payment notifications by processing stage and outcome.",
		}, []string{"stage", "outcome"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order creation attempts by outcome.",
		}, []string{"outcome"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement runs by outcome.",
		}, []string{"outcome"}),
		EscrowCredits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_credits_total",
			Help:      "Per-seller escrow hold attempts by outcome.",
		}, []string{"outcome"}),
		SettlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Time spent settling one paid order.",
			Buckets:   prometheus.DefBuckets,
		}),
		HTTPRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Notifications,
			m.Orders,
			m.Settlements,
			m.EscrowCredits,
			m.SettlementDuration,
			m.HTTPRequests,
		)
	}
	return m
}

func (m *Metrics) Notification(stage, outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) Order(outcome string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Settlement(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(outcome).Inc()
	m.SettlementDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) EscrowCredit(outcome string) {
	if m == nil {
		return
	}
	m.EscrowCredits.WithLabelValues(outcome).Inc()
}

func (m *Metrics) HTTPRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Observe(d.Seconds())
}
