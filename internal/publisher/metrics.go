package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ItemsTotal counts published items by outcome.
// Labels: status (created, skipped-empty-title, skipped-duplicate, failed)
var ItemsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "minutes",
		Subsystem: "publisher",
		Name:      "items_total",
		Help:      "Total number of publish items by status",
	},
	[]string{"status"},
)

// BatchErrorsTotal counts batches stopped by a tracker transport failure.
var BatchErrorsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "minutes",
		Subsystem: "publisher",
		Name:      "batch_transport_errors_total",
		Help:      "Total number of publish batches aborted by tracker transport errors",
	},
)
