package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so use cases can run without a registry in tests.
type Metrics struct {
	// Transfer metrics
	TransfersTotal     *prometheus.CounterVec
	TransferRejections *prometheus.CounterVec
	TransferDuration   *prometheus.HistogramVec
	TransferAmount     prometheus.Histogram
	TransfersInFlight  prometheus.Gauge

	// Leg metrics
	LedgerCalls    *prometheus.CounterVec
	LedgerDuration *prometheus.HistogramVec
	LegRetries     *prometheus.CounterVec
	Compensations  *prometheus.CounterVec
	ManualReviews  prometheus.Counter

	// Ledger circuit breakers
	CircuitState *prometheus.GaugeVec

	// Recovery worker
	RecoveryRuns *prometheus.CounterVec

	// Outbox
	OutboxEvents *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TransfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerbridge_transfers_total",
				Help: "Transfers that reached a terminal or parked state, by direction and state",
			},
			[]string{"direction", "state"},
		),
		TransferRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerbridge_transfer_rejections_total",
				Help: "Transfers rejected before any ledger mutation, by reason",
			},
			[]string{"reason"},
		),
		TransferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledgerbridge_transfer_duration_seconds",
				Help:    "End-to-end duration of transfer sagas",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),
		TransferAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledgerbridge_transfer_amount",
			Help:    "Transfer amounts",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000, 1000000},
		}),
		TransfersInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerbridge_transfers_in_flight",
			Help: "Transfers currently executing",
		}),

		LedgerCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerbridge_ledger_calls_total",
				Help: "Ledger operations by ledger, operation and outcome",
			},
			[]string{"ledger", "operation", "outcome"},
		),
		LedgerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledgerbridge_ledger_call_duration_seconds",
				Help:    "Duration of ledger calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"ledger", "operation"},
		),
		LegRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerbridge_leg_retries_total",
				Help: "Retried leg attempts by ledger and leg",
			},
			[]string{"ledger", "leg"},
		),
		Compensations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerbridge_compensations_total",
				Help: "Compensating reversals by outcome",
			},
			[]string{"outcome"},
		),
		ManualReviews: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledgerbridge_manual_reviews_total",
			Help: "Transfers flagged for manual operator reconciliation",
		}),

		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledgerbridge_ledger_circuit_state",
				Help: "Ledger circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"ledger"},
		),

		RecoveryRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerbridge_recovery_transfers_total",
				Help: "Stale transfers processed by the recovery worker, by outcome",
			},
			[]string{"outcome"},
		),

		OutboxEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledgerbridge_outbox_events_total",
				Help: "Outbox events processed, by status",
			},
			[]string{"status"},
		),
	}
}

// ObserveTransfer records a finished transfer.
func (m *Metrics) ObserveTransfer(direction, state string, amount float64, took time.Duration) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(direction, state).Inc()
	m.TransferDuration.WithLabelValues(direction).Observe(took.Seconds())
	m.TransferAmount.Observe(amount)
}

// RejectTransfer records a rejection before any mutation.
func (m *Metrics) RejectTransfer(reason string) {
	if m == nil {
		return
	}
	m.TransferRejections.WithLabelValues(reason).Inc()
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.TransfersInFlight.Inc()
	return m.TransfersInFlight.Dec
}

// ObserveLedgerCall records one ledger call.
func (m *Metrics) ObserveLedgerCall(ledger, operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.LedgerCalls.WithLabelValues(ledger, operation, outcome).Inc()
	m.LedgerDuration.WithLabelValues(ledger, operation).Observe(took.Seconds())
}

// RetryLeg records a retried leg attempt.
func (m *Metrics) RetryLeg(ledger, leg string) {
	if m == nil {
		return
	}
	m.LegRetries.WithLabelValues(ledger, leg).Inc()
}

// ObserveCompensation records a compensation outcome.
func (m *Metrics) ObserveCompensation(outcome string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(outcome).Inc()
}

// FlagManualReview records a transfer needing operator action.
func (m *Metrics) FlagManualReview() {
	if m == nil {
		return
	}
	m.ManualReviews.Inc()
}

// SetCircuitState records a ledger breaker state.
func (m *Metrics) SetCircuitState(ledger string, state float64) {
	if m == nil {
		return
	}
	m.CircuitState.WithLabelValues(ledger).Set(state)
}

// ObserveRecovery records a recovery worker outcome.
func (m *Metrics) ObserveRecovery(outcome string) {
	if m == nil {
		return
	}
	m.RecoveryRuns.WithLabelValues(outcome).Inc()
}

// ObserveOutbox records an outbox publish attempt.
func (m *Metrics) ObserveOutbox(status string) {
	if m == nil {
		return
	}
	m.OutboxEvents.WithLabelValues(status).Inc()
}
