package notify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the operational alert dispatch path.
var (
	alertDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_dispatched_total",
			Help: "Total number of operational alerts dispatched",
		},
		[]string{"channel"},
	)

	alertSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_sent_total",
			Help: "Total number of operational alerts sent",
		},
		[]string{"channel", "status"}, // status: success|failure
	)

	alertSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alert_send_duration_seconds",
			Help:    "Alert send duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"channel"},
	)

	alertRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_rate_limit_hits_total",
			Help: "Total number of rate limit hits while sending alerts",
		},
		[]string{"channel"},
	)

	alertCircuitBreakerOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_circuit_breaker_open_total",
			Help: "Total number of times an alert channel's circuit breaker opened",
		},
		[]string{"channel"},
	)

	alertDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_dropped_total",
			Help: "Total number of dropped alerts",
		},
		[]string{"channel", "reason"}, // reason: pool_full|circuit_open
	)

	activeAlertSends = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alert_active_goroutines",
			Help: "Number of in-flight alert-send goroutines",
		},
	)

	alertChannelsEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alert_channels_enabled",
			Help: "Number of enabled alert delivery channels",
		},
	)
)

func RecordDispatch(channel string) {
	alertDispatchedTotal.WithLabelValues(channel).Inc()
}

func RecordSuccess(channel string, duration time.Duration) {
	alertSentTotal.WithLabelValues(channel, "success").Inc()
	alertSendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func RecordFailure(channel string, duration time.Duration) {
	alertSentTotal.WithLabelValues(channel, "failure").Inc()
	alertSendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func RecordDropped(channel string, reason string) {
	alertDroppedTotal.WithLabelValues(channel, reason).Inc()
}

func RecordCircuitBreakerOpen(channel string) {
	alertCircuitBreakerOpenTotal.WithLabelValues(channel).Inc()
}

func RecordRateLimitHit(channel string) {
	alertRateLimitHits.WithLabelValues(channel).Inc()
}

func IncrementActiveGoroutines() {
	activeAlertSends.Inc()
}

func DecrementActiveGoroutines() {
	activeAlertSends.Dec()
}

func SetChannelsEnabled(count float64) {
	alertChannelsEnabled.Set(count)
}
