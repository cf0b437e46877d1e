// Package telemetry persists run artifacts (metrics log, incident log,
// postprocessing audit trail, run-status file) and exposes Prometheus
// instruments for live monitoring.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UnitsGenerated counts accepted content units.
	UnitsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "storyguard",
			Subsystem: "run",
			Name:      "units_generated_total",
			Help:      "Total number of content units accepted by the critic gate",
		},
	)

	// DefectsDetected counts defects by kind on raw output.
	// Labels: kind (preamble, truncation_marker, ...)
	DefectsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storyguard",
			Subsystem: "run",
			Name:      "defects_total",
			Help:      "Total defects recorded on raw provider output, by kind",
		},
		[]string{"kind"},
	)

	// RetriesSpent counts critic-gate semantic retries.
	RetriesSpent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "storyguard",
			Subsystem: "run",
			Name:      "retries_total",
			Help:      "Total semantic retries spent by the critic gate",
		},
	)

	// Rollbacks counts integrity-driven snapshot restorations.
	Rollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "storyguard",
			Subsystem: "run",
			Name:      "rollbacks_total",
			Help:      "Total stage rollbacks triggered by integrity violations",
		},
	)

	// BreakerTrips counts circuit-breaker activations.
	BreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "storyguard",
			Subsystem: "run",
			Name:      "breaker_trips_total",
			Help:      "Total runs halted by the consecutive-failure circuit breaker",
		},
	)

	// DefenseTokenRatio tracks defense spend over total spend.
	DefenseTokenRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "storyguard",
			Subsystem: "run",
			Name:      "defense_token_ratio",
			Help:      "Ratio of tokens spent on retries and rewrites to total tokens",
		},
	)

	// StageDuration tracks wall time per stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storyguard",
			Subsystem: "run",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "status"},
	)
)
