package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue metrics

	// QueueItemsEnqueued tracks transfer items accepted by the queue
	QueueItemsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "queue",
			Name:      "items_enqueued_total",
			Help:      "Total transfer items accepted by the queue",
		},
		[]string{"mode"}, // mode: new, coalesced
	)

	// QueueItems tracks queue composition by state
	QueueItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "payrelay",
			Subsystem: "queue",
			Name:      "items",
			Help:      "Number of transfer items by state",
		},
		[]string{"state"}, // state: pending, processing, success, stalled
	)

	// QueueItemsStalled tracks items parked for operator attention
	QueueItemsStalled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "queue",
			Name:      "items_stalled_total",
			Help:      "Total transfer items stalled",
		},
		[]string{"reason"}, // reason: action_error, retries_exhausted
	)

	// QueueItemsUnstalled tracks items returned to scheduling
	QueueItemsUnstalled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "queue",
			Name:      "items_unstalled_total",
			Help:      "Total transfer items returned to scheduling",
		},
	)

	// Executor metrics

	// ExecutorBatchesProcessed tracks batch outcomes
	ExecutorBatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "executor",
			Name:      "batches_processed_total",
			Help:      "Total batches processed by outcome",
		},
		[]string{"result"}, // result: success, action_error, invalid_tx, transport_error
	)

	// ExecutorItemsSettled tracks per-item settlement outcomes
	ExecutorItemsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "executor",
			Name:      "items_settled_total",
			Help:      "Total transfer items settled by outcome",
		},
		[]string{"result"}, // result: success, stalled, recycled
	)

	// ExecutorTickDuration tracks time spent in one executor tick
	ExecutorTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "payrelay",
			Subsystem: "executor",
			Name:      "tick_duration_seconds",
			Help:      "Time to run one executor tick",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ExecutorBatchActions tracks actions packed into each transaction
	ExecutorBatchActions = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "payrelay",
			Subsystem: "executor",
			Name:      "batch_actions",
			Help:      "Actions packed into a single transaction",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 75, 100},
		},
	)

	// ExecutorReplayedBatches tracks in-flight batches resubmitted at startup
	ExecutorReplayedBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "executor",
			Name:      "replayed_batches_total",
			Help:      "Total in-flight batches resubmitted during crash recovery",
		},
	)

	// ExecutorRecoveredItems tracks items demoted from stale PROCESSING state
	ExecutorRecoveredItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "executor",
			Name:      "recovered_items_total",
			Help:      "Total items recovered from stale PROCESSING state",
		},
	)

	// RPC metrics

	// RPCRequests tracks JSON-RPC calls made to the chain node
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total JSON-RPC requests to the chain node",
		},
		[]string{"method", "result"}, // result: success, error
	)

	// RPCDuration tracks JSON-RPC call duration
	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payrelay",
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "JSON-RPC request duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	// RPCCircuitBreakerState tracks circuit breaker state
	// 0 = closed (healthy), 1 = open (tripped), 2 = half-open (testing)
	RPCCircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "payrelay",
			Subsystem: "rpc",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	// RPCCircuitBreakerTrips tracks circuit breaker trip events
	RPCCircuitBreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "rpc",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total circuit breaker trip events",
		},
	)

	// Validation metrics

	// ValidationChecks tracks recipient pre-validation lookups
	ValidationChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "validate",
			Name:      "checks_total",
			Help:      "Total recipient validation lookups",
		},
		[]string{"result"}, // result: hit, miss, error
	)

	// Event metrics

	// EventsPublished tracks lifecycle events published on the bus
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total lifecycle events published on the bus",
		},
		[]string{"topic"},
	)

	// EventsForwarded tracks events delivered to NATS
	EventsForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "events",
			Name:      "forwarded_total",
			Help:      "Total lifecycle events forwarded to NATS",
		},
		[]string{"topic"},
	)

	// EventsDropped tracks events dropped by the forwarder
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total lifecycle events dropped by the forwarder",
		},
	)

	// HTTP API metrics

	// HTTPRequestsTotal tracks HTTP API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP API request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payrelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP API request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// CircuitBreakerState constants
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)
