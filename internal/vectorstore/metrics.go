package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts index operations.
	// Labels: backend, op (upsert, query, persist), result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minutes",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of similarity index operations",
		},
		[]string{"backend", "op", "result"},
	)

	// OperationDuration tracks index operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "minutes",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of similarity index operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// FallbacksTotal counts substitutions of the memory backend for a failed one.
	// Labels: requested
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minutes",
			Subsystem: "vectorstore",
			Name:      "fallbacks_total",
			Help:      "Total number of times the memory backend replaced an unavailable backend",
		},
		[]string{"requested"},
	)
)

// observe records one operation. Call it deferred with a pointer to the named error.
func observe(backend, op string, start time.Time, err *error) {
	result := "success"
	if err != nil && *err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(backend, op, result).Inc()
	OperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
