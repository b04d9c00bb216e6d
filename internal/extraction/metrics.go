package extraction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts completed extractions.
	// Labels: mode (structured, heuristic)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minutes",
			Subsystem: "extraction",
			Name:      "runs_total",
			Help:      "Total number of completed task extractions by mode",
		},
		[]string{"mode"},
	)

	// RetrievalFallbacksTotal counts extractions that used the leading
	// passages because retrieval returned nothing.
	RetrievalFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "minutes",
			Subsystem: "extraction",
			Name:      "retrieval_fallbacks_total",
			Help:      "Total number of extractions that fell back to the leading passages",
		},
	)
)
