package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session outcomes.
const (
	outcomeStructured = "structured"
	outcomeHeuristic  = "heuristic"
	outcomeError      = "error"
	outcomeCanceled   = "canceled"
)

// SessionsTotal counts finished streaming sessions.
// Labels: outcome (structured, heuristic, error, canceled)
var SessionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "minutes",
		Subsystem: "stream",
		Name:      "sessions_total",
		Help:      "Total number of streaming extraction sessions by outcome",
	},
	[]string{"outcome"},
)
