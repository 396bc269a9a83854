package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Discovery outcomes.
const (
	OutcomeCacheHit   = "cache_hit"
	OutcomeDiscovered = "discovered"
	OutcomeConflict   = "conflict"
	OutcomeFailed     = "failed"
	OutcomeError      = "error"
)

var (
	discoveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vindex",
			Name:      "discovery_total",
			Help:      "Discovery requests by outcome",
		},
		[]string{"outcome"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vindex",
			Name:      "discovery_stage_duration_seconds",
			Help:      "Duration of each discovery pipeline stage in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
)

// RecordOutcome counts one finished discovery request.
func RecordOutcome(outcome string) {
	discoveryTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a pipeline stage took since start.
func ObserveStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
