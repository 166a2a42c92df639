// Package metrics defines the Prometheus instruments shared by the registrar
// client components. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for queries, transactions, claims and events.
type Metrics struct {
	// Ledger view latency by operation and result
	QueryDuration *prometheus.HistogramVec

	// Submitted transactions by operation and result
	Transactions *prometheus.CounterVec

	// Claim phase transitions
	ClaimPhases *prometheus.CounterVec

	// Wall-clock time from commit to terminal phase
	ClaimDuration prometheus.Histogram

	// Events delivered to handlers, and handler failures
	EventsDispatched *prometheus.CounterVec
	HandlerFailures  *prometheus.CounterVec
}

// New registers all instruments with reg under namespace.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registrar_query_duration_seconds",
			Help:      "Duration of registrar view calls by operation and result",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op", "result"}),

		Transactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrar_transactions_total",
			Help:      "Registrar transactions by operation and result",
		}, []string{"op", "result"}), // result: "ok", "rejected", "error"

		ClaimPhases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_phase_transitions_total",
			Help:      "Registration intent phase transitions",
		}, []string{"phase"}),

		ClaimDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_duration_seconds",
			Help:      "Time from commit to a terminal phase",
			Buckets:   []float64{1, 5, 15, 30, 60, 90, 120, 300, 600},
		}),

		EventsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Registrar events delivered to subscribers by kind",
		}, []string{"kind"}),

		HandlerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_failures_total",
			Help:      "Event handlers that returned an error or panicked, by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveQuery(op string, err error, d time.Duration) {
	if m != nil {
		m.QueryDuration.WithLabelValues(op, result(err)).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementTransaction(op, result string) {
	if m != nil {
		m.Transactions.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) IncrementPhase(phase string) {
	if m != nil {
		m.ClaimPhases.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) ObserveClaimDuration(d time.Duration) {
	if m != nil {
		m.ClaimDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementDispatched(kind string) {
	if m != nil {
		m.EventsDispatched.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementHandlerFailure(kind string) {
	if m != nil {
		m.HandlerFailures.WithLabelValues(kind).Inc()
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
