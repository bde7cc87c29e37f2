package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Order flow metrics
	OrdersCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goeats_orders_created_total",
			Help: "Total number of orders accepted at ingress",
		},
	)

	OrdersInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goeats_orders_inflight",
			Help: "Orders accepted but not yet terminal",
		},
	)

	OrderCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "goeats_order_create_duration_seconds",
			Help:    "Time taken to accept an order in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Saga metrics
	SagaTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goeats_saga_transitions_total",
			Help: "Total number of saga step transitions by target step",
		},
		[]string{"step"},
	)

	SagaCompensationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goeats_saga_compensations_total",
			Help: "Total number of sagas that entered compensation",
		},
	)

	SagaHandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goeats_saga_handler_duration_seconds",
			Help:    "Time taken by a saga handler transaction in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	// Outbox relay metrics
	OutboxPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goeats_outbox_published_total",
			Help: "Total number of outbox records published to the broker",
		},
	)

	OutboxPublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goeats_outbox_publish_failures_total",
			Help: "Total number of outbox publish failures (tick aborted)",
		},
	)

	OutboxPendingRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goeats_outbox_pending_records",
			Help: "Unpublished outbox records observed at the last relay tick",
		},
	)

	RelayTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "goeats_outbox_relay_tick_duration_seconds",
			Help:    "Time taken by an outbox relay tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Consumer metrics
	EventsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goeats_events_consumed_total",
			Help: "Total number of consumed events by binding and outcome",
		},
		[]string{"binding", "outcome"},
	)

	DuplicateEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goeats_duplicate_events_total",
			Help: "Events skipped because the idempotency ledger already held their id",
		},
	)

	DeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goeats_dead_lettered_total",
			Help: "Messages forwarded to a dead-letter binding",
		},
		[]string{"binding"},
	)

	// Admission queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goeats_admission_queue_depth",
			Help: "Current admission queue size",
		},
	)

	QueueWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "goeats_admission_queue_wait_seconds",
			Help:    "Time an order spent in the admission queue in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// Resilience metrics
	BreakerStateChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goeats_breaker_state_changes_total",
			Help: "Circuit breaker state changes by operation and target state",
		},
		[]string{"op", "state"},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goeats_rate_limited_total",
			Help: "Requests rejected by the ingress rate limiter",
		},
	)

	BulkheadRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goeats_bulkhead_rejected_total",
			Help: "Calls rejected because the bulkhead was full",
		},
		[]string{"op"},
	)

	// Cache metrics
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goeats_cache_hits_total",
			Help: "Read-path cache hits by level",
		},
		[]string{"level"},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goeats_cache_misses_total",
			Help: "Read-path lookups that fell through to storage",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goeats_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goeats_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(OrdersCreatedTotal)
	prometheus.MustRegister(OrdersInflight)
	prometheus.MustRegister(OrderCreateDuration)
	prometheus.MustRegister(SagaTransitionsTotal)
	prometheus.MustRegister(SagaCompensationsTotal)
	prometheus.MustRegister(SagaHandlerDuration)
	prometheus.MustRegister(OutboxPublishedTotal)
	prometheus.MustRegister(OutboxPublishFailuresTotal)
	prometheus.MustRegister(OutboxPendingRecords)
	prometheus.MustRegister(RelayTickDuration)
	prometheus.MustRegister(EventsConsumedTotal)
	prometheus.MustRegister(DuplicateEventsTotal)
	prometheus.MustRegister(DeadLetteredTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueWaitDuration)
	prometheus.MustRegister(BreakerStateChangesTotal)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(BulkheadRejectedTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
