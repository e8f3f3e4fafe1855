// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_worker_jobs_completed_total",
			Help: "Total number of units of work completed, by task type",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_worker_jobs_failed_total",
			Help: "Total number of units of work that failed, by task type and error code",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "survey_worker_job_duration_seconds",
			Help:    "Duration of a unit of work in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "survey_worker_jobs_active",
			Help: "Number of units of work in progress, by task type",
		},
		[]string{"task_type"},
	)

	PipelineSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_pipeline_steps_total",
			Help: "Write steps of the update pipeline, by step and outcome",
		},
		[]string{"step", "outcome"},
	)

	RuleDiagnostics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_rule_diagnostics_total",
			Help: "Rule applications, by rule type and diagnostic",
		},
		[]string{"rule", "diagnostic"},
	)

	RuleFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_rule_faults_total",
			Help: "Rule evaluations that returned an error or panicked, by rule type",
		},
		[]string{"rule"},
	)

	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_reconciliations_total",
			Help: "Recovery attempts, by outcome",
		},
		[]string{"outcome"},
	)

	OutstandingFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "survey_outstanding_failures",
			Help: "Failed profile updates found by the last sweep",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "survey_queue_depth",
			Help: "Units of work waiting in the local queue",
		},
		[]string{"queue"},
	)
)
