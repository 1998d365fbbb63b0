package worker

import (
	"newspulse/internal/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics provides Prometheus metrics for the composition root. It
// embeds the standard ConfigMetrics for configuration monitoring and adds
// metrics for the analysis worker's control-loop cycles (C8), since that
// loop — not a cron job — is the thing an operator needs to watch for
// stalls or rising failure rates.
//
// Embedded metrics (from ConfigMetrics):
//   - worker_config_load_timestamp: Unix timestamp of last configuration load
//   - worker_config_validation_errors_total: Total validation errors by field
//   - worker_config_fallbacks_total: Total fallback operations by field
//   - worker_config_fallback_active: 1 if any fallback active, 0 otherwise
//
// Worker-specific metrics:
//   - worker_analysis_cycle_runs_total: Total RunCycle invocations by status
//   - worker_analysis_cycle_duration_seconds: Duration histogram of RunCycle
//   - worker_analysis_cycle_items_processed_total: Total items analyzed
//   - worker_analysis_cycle_last_success_timestamp: Unix timestamp of last successful cycle
type WorkerMetrics struct {
	*config.ConfigMetrics

	// AnalysisCycleRunsTotal counts RunCycle invocations, labeled
	// success/failure.
	AnalysisCycleRunsTotal *prometheus.CounterVec

	// AnalysisCycleDurationSeconds measures how long one RunCycle call takes.
	AnalysisCycleDurationSeconds prometheus.Histogram

	// AnalysisCycleItemsProcessedTotal counts items folded into an
	// AnalysisRun across all cycles.
	AnalysisCycleItemsProcessedTotal prometheus.Counter

	// AnalysisCycleLastSuccessTimestamp records the Unix timestamp of the
	// last cycle that completed without error.
	AnalysisCycleLastSuccessTimestamp prometheus.Gauge
}

// NewWorkerMetrics creates a new WorkerMetrics instance with all metrics
// initialized. Metrics are created but registration happens automatically
// via promauto; call MustRegister() for API symmetry with the rest of the
// codebase.
func NewWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetrics("worker"),

		AnalysisCycleRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_analysis_cycle_runs_total",
			Help: "Total number of analysis worker RunCycle invocations by status (success/failure)",
		}, []string{"status"}),

		AnalysisCycleDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_analysis_cycle_duration_seconds",
			Help:    "Duration of one analysis worker RunCycle invocation in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300},
		}),

		AnalysisCycleItemsProcessedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worker_analysis_cycle_items_processed_total",
			Help: "Total number of items folded into an analysis run across all cycles",
		}),

		AnalysisCycleLastSuccessTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worker_analysis_cycle_last_success_timestamp",
			Help: "Unix timestamp of the last analysis worker cycle that completed without error",
		}),
	}
}

// MustRegister is a no-op method for API compatibility; metrics are
// auto-registered via promauto when created in NewWorkerMetrics.
func (m *WorkerMetrics) MustRegister() {
}

// RecordCycleRun increments the cycle run counter for the given status
// ("success" or "failure").
func (m *WorkerMetrics) RecordCycleRun(status string) {
	m.AnalysisCycleRunsTotal.WithLabelValues(status).Inc()
}

// RecordCycleDuration observes the duration, in seconds, of one RunCycle call.
func (m *WorkerMetrics) RecordCycleDuration(seconds float64) {
	m.AnalysisCycleDurationSeconds.Observe(seconds)
}

// RecordItemsProcessed adds count to the cumulative items-processed counter.
func (m *WorkerMetrics) RecordItemsProcessed(count int) {
	m.AnalysisCycleItemsProcessedTotal.Add(float64(count))
}

// RecordLastSuccess records the current time as the last successful cycle completion.
func (m *WorkerMetrics) RecordLastSuccess() {
	m.AnalysisCycleLastSuccessTimestamp.SetToCurrentTime()
}
