package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesloop_runs_started_total",
			Help: "Total number of workflow runs created",
		},
		[]string{"workflow_id", "trigger_type"},
	)

	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesloop_runs_finished_total",
			Help: "Total number of workflow runs by terminal status",
		},
		[]string{"status"},
	)

	RunsWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "salesloop_runs_waiting",
			Help: "Number of runs parked on a wait step",
		},
	)

	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesloop_steps_total",
			Help: "Total number of executed steps by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesloop_step_duration_seconds",
			Help:    "Step execution duration in seconds, retries included",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"action"},
	)

	StepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesloop_step_retries_total",
			Help: "Total number of transient step retries",
		},
		[]string{"action"},
	)

	VersionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salesloop_run_version_conflicts_total",
			Help: "Optimistic concurrency conflicts on run writes",
		},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "salesloop_tick_duration_seconds",
			Help:    "Duration of the periodic sweep",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)
)
