package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts oracle calls.
	// Labels: provider, op (complete, stream), result (success, error, canceled)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minutes",
			Subsystem: "oracle",
			Name:      "requests_total",
			Help:      "Total number of text-generation oracle requests",
		},
		[]string{"provider", "op", "result"},
	)

	// RequestDuration tracks oracle latency, streams included.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "minutes",
			Subsystem: "oracle",
			Name:      "request_duration_seconds",
			Help:      "Duration of oracle requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
		},
		[]string{"provider", "op"},
	)
)

func observe(provider, op string, start time.Time, err *error) {
	result := "success"
	if err != nil && *err != nil {
		result = "error"
		if errors.Is(*err, context.Canceled) {
			result = "canceled"
		}
	}
	RequestsTotal.WithLabelValues(provider, op, result).Inc()
	RequestDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
}
