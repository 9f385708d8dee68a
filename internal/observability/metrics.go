// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the swap engine.
type Metrics struct {
	// Listing metrics
	ListingsCreated prometheus.Counter
	ListingsClosed  *prometheus.CounterVec

	// Swap lifecycle metrics
	SwapsCreated   prometheus.Counter
	SwapTransitions *prometheus.CounterVec

	// Concurrency metrics
	ReserveConflicts  prometheus.Counter
	ReserveRetries    prometheus.Counter
	RetriesExhausted  prometheus.Counter
	Compensations     prometheus.Counter

	// Degraded outcomes
	DegradedCancellations prometheus.Counter
	ReconcilerReleases    prometheus.Counter

	// Side channel metrics
	NotificationFailures *prometheus.CounterVec
	AuditWriteFailures   prometheus.Counter
	ActivityWriteFailures prometheus.Counter

	// Latency metrics
	OperationDuration *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulReconcile prometheus.Gauge
	UptimeSeconds           prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "renex"
	}

	return &Metrics{
		// Listing metrics
		ListingsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "created_total",
			Help:      "Total number of listings created",
		}),
		ListingsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listing",
			Name:      "closed_total",
			Help:      "Total number of listings closed by reason",
		}, []string{"reason"}),

		// Swap lifecycle metrics
		SwapsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "created_total",
			Help:      "Total number of swap proposals created",
		}),
		SwapTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "transitions_total",
			Help:      "Total number of committed swap state transitions by target state",
		}, []string{"state"}),

		// Concurrency metrics
		ReserveConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "reserve_conflicts_total",
			Help:      "Total number of version conflicts observed by volume writes",
		}),
		ReserveRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "reserve_retries_total",
			Help:      "Total number of volume write retry attempts",
		}),
		RetriesExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "retries_exhausted_total",
			Help:      "Total number of operations that exhausted their retry budget",
		}),
		Compensations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "compensations_total",
			Help:      "Total number of compensating volume releases executed",
		}),

		// Degraded outcomes
		DegradedCancellations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "degraded_cancellations_total",
			Help:      "Total number of cancellations whose volume release did not commit",
		}),
		ReconcilerReleases: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "releases_total",
			Help:      "Total number of outstanding reservations released by the reconciler",
		}),

		// Side channel metrics
		NotificationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Total number of failed notification deliveries by event kind",
		}, []string{"kind"}),
		AuditWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Total number of failed audit event appends",
		}),
		ActivityWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "write_failures_total",
			Help:      "Total number of failed activity feed writes",
		}),

		// Latency metrics
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "operation_duration_seconds",
			Help:      "Orchestrator operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		// Health metrics
		LastSuccessfulReconcile: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_reconcile_timestamp",
			Help:      "Unix timestamp of last successful reconciler run",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordListingCreated increments the listings created counter.
func RecordListingCreated() {
	DefaultMetrics.ListingsCreated.Inc()
}

// RecordListingClosed records a listing close by reason ("owner" or "exhausted").
func RecordListingClosed(reason string) {
	DefaultMetrics.ListingsClosed.WithLabelValues(reason).Inc()
}

// RecordSwapCreated increments the swaps created counter.
func RecordSwapCreated() {
	DefaultMetrics.SwapsCreated.Inc()
}

// RecordSwapTransition records a committed transition into state.
func RecordSwapTransition(state string) {
	DefaultMetrics.SwapTransitions.WithLabelValues(state).Inc()
}

// RecordReserveConflict increments the version conflict counter.
func RecordReserveConflict() {
	DefaultMetrics.ReserveConflicts.Inc()
}

// RecordReserveRetry increments the retry attempt counter.
func RecordReserveRetry() {
	DefaultMetrics.ReserveRetries.Inc()
}

// RecordRetriesExhausted increments the exhausted retry budget counter.
func RecordRetriesExhausted() {
	DefaultMetrics.RetriesExhausted.Inc()
}

// RecordCompensation increments the compensating release counter.
func RecordCompensation() {
	DefaultMetrics.Compensations.Inc()
}

// RecordDegradedCancellation increments the degraded cancellation counter.
func RecordDegradedCancellation() {
	DefaultMetrics.DegradedCancellations.Inc()
}

// RecordReconcilerRelease increments the reconciler release counter.
func RecordReconcilerRelease() {
	DefaultMetrics.ReconcilerReleases.Inc()
}

// RecordNotificationFailure records a failed delivery for an event kind.
func RecordNotificationFailure(kind string) {
	DefaultMetrics.NotificationFailures.WithLabelValues(kind).Inc()
}

// RecordAuditWriteFailure increments the audit append failure counter.
func RecordAuditWriteFailure() {
	DefaultMetrics.AuditWriteFailures.Inc()
}

// RecordActivityWriteFailure increments the activity write failure counter.
func RecordActivityWriteFailure() {
	DefaultMetrics.ActivityWriteFailures.Inc()
}

// RecordOperationDuration records orchestrator operation latency.
func RecordOperationDuration(operation string, seconds float64) {
	DefaultMetrics.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// UpdateLastReconcile sets the last successful reconcile timestamp.
func UpdateLastReconcile(unixSeconds float64) {
	DefaultMetrics.LastSuccessfulReconcile.Set(unixSeconds)
}
