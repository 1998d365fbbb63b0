package llm

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRecorder abstracts analysis-call observability, the same shape
// the teacher's summarizer.SummaryMetricsRecorder takes, so it can be
// mocked in unit tests or swapped for a different metrics backend.
type MetricsRecorder interface {
	RecordDuration(provider string, d time.Duration)
	RecordTokens(provider string, tokens int64)
	RecordFailure(provider string)
}

// PrometheusMetrics implements MetricsRecorder with package-level
// Prometheus collectors registered once via sync.Once, mirroring the
// teacher's singleton-registration pattern to avoid duplicate-metric
// panics when multiple Client instances are constructed in tests.
type PrometheusMetrics struct {
	durationHistogram *prometheus.HistogramVec
	tokensCounter     *prometheus.CounterVec
	failureCounter    *prometheus.CounterVec
}

var (
	prometheusMetricsInstance *PrometheusMetrics
	prometheusMetricsOnce     sync.Once
)

// NewPrometheusMetrics returns the process-wide analysis metrics recorder.
func NewPrometheusMetrics() *PrometheusMetrics {
	prometheusMetricsOnce.Do(func() {
		prometheusMetricsInstance = &PrometheusMetrics{
			durationHistogram: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "llm_analysis_duration_seconds",
				Help:    "Time taken for one item's sentiment/impact analysis call",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			}, []string{"provider"}),
			tokensCounter: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "llm_analysis_tokens_total",
				Help: "Total tokens consumed by analysis calls",
			}, []string{"provider"}),
			failureCounter: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "llm_analysis_failures_total",
				Help: "Total analysis calls that failed after retries",
			}, []string{"provider"}),
		}
	})
	return prometheusMetricsInstance
}

func (p *PrometheusMetrics) RecordDuration(provider string, d time.Duration) {
	p.durationHistogram.WithLabelValues(provider).Observe(d.Seconds())
}

func (p *PrometheusMetrics) RecordTokens(provider string, tokens int64) {
	p.tokensCounter.WithLabelValues(provider).Add(float64(tokens))
}

func (p *PrometheusMetrics) RecordFailure(provider string) {
	p.failureCounter.WithLabelValues(provider).Inc()
}
