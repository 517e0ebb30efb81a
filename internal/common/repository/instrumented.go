package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Row-primitive metrics live here rather than in the central metrics
// package: they are an implementation detail of the data layer,
// labeled by table and operation.
var (
	opDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payrelay",
			Subsystem: "db",
			Name:      "operation_duration_seconds",
			Help:      "Store operation duration in seconds",
			// The store is a local sqlite file; most operations land
			// well under a millisecond, so the ladder leans low.
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		},
		[]string{"table", "operation"},
	)

	opTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "db",
			Name:      "operations_total",
			Help:      "Store operations by result",
		},
		[]string{"table", "operation", "result"},
	)

	opErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payrelay",
			Subsystem: "db",
			Name:      "operation_errors_total",
			Help:      "Store operation errors by class",
		},
		[]string{"table", "operation", "error_type"},
	)
)

// slowQuery is when a store operation earns a warning log.
const slowQuery = 100 * time.Millisecond

// Instrument runs one store operation and records its duration, result
// and error class. Slow operations are logged. ErrNotFound is counted
// but not logged, since lookup misses are answers rather than
// failures.
func Instrument[T any](ctx context.Context, table, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	observe(table, operation, time.Since(start), err)
	return result, err
}

// InstrumentVoid is Instrument for operations that return only an
// error.
func InstrumentVoid(ctx context.Context, table, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	observe(table, operation, time.Since(start), err)
	return err
}

func observe(table, operation string, d time.Duration, err error) {
	opDuration.WithLabelValues(table, operation).Observe(d.Seconds())

	if err == nil {
		opTotal.WithLabelValues(table, operation, "success").Inc()
		if d > slowQuery {
			slog.Warn("Slow store operation",
				"table", table,
				"operation", operation,
				"duration_ms", d.Milliseconds())
		}
		return
	}

	opTotal.WithLabelValues(table, operation, "error").Inc()
	opErrors.WithLabelValues(table, operation, errClass(err)).Inc()

	if !errors.Is(err, ErrNotFound) {
		slog.Error("Store operation failed",
			"table", table,
			"operation", operation,
			"duration_ms", d.Milliseconds(),
			"error", err)
	}
}

// errClass buckets an error into a bounded metric label.
func errClass(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
