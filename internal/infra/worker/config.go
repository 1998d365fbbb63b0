package worker

import (
	"fmt"
	"log/slog"
	"time"

	"newspulse/internal/pkg/config"
	"newspulse/internal/usecase/analysis"
	"newspulse/internal/usecase/scheduler"
)

// WorkerConfig holds the operational tunables for the composition root:
// how often the scheduler (C5) reconciles against the configuration
// watcher (C4), how long the analysis worker (C8) sleeps between idle
// cycles, the full-content fetch concurrency (C3), the alert dispatch
// fan-out width (notify.Service), and the health check port.
//
// Configuration sources:
//   - Environment variables (loaded via LoadConfigFromEnv)
//   - Default values (provided by DefaultConfig)
type WorkerConfig struct {
	// SchedulerConfigCheckInterval is how often the scheduler drains the
	// configuration-change log (spec §4.5). Default: 30s.
	SchedulerConfigCheckInterval time.Duration

	// AnalysisSleepInterval is how long the analysis worker sleeps after a
	// cycle that did no work (spec §4.8). Default: 5s.
	AnalysisSleepInterval time.Duration

	// ContentFetchParallelism bounds concurrent full-content scrape
	// fetches triggered by short RSS descriptions (spec §4.3).
	// Range: 1-20. Default: 3.
	ContentFetchParallelism int

	// ContentFetchThreshold is the minimum description length, in runes,
	// below which a feed item is eligible for full-content enhancement.
	// Range: 0-10000. Default: 280.
	ContentFetchThreshold int

	// NotifyMaxConcurrent bounds how many alert channels dispatch
	// concurrently per operational alert.
	// Range: 1-50. Default: 10.
	NotifyMaxConcurrent int

	// HealthPort is the port number for the health check HTTP server.
	// Range: 1024-65535 (avoid privileged ports). Default: 9091.
	HealthPort int
}

// DefaultConfig returns a WorkerConfig with sensible default values.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		SchedulerConfigCheckInterval: scheduler.DefaultConfigCheck,
		AnalysisSleepInterval:        analysis.SleepInterval,
		ContentFetchParallelism:      3,
		ContentFetchThreshold:        280,
		NotifyMaxConcurrent:          10,
		HealthPort:                   9091,
	}
}

// Validate checks if the configuration values are valid. If multiple
// fields are invalid, all errors are collected and returned together.
func (c *WorkerConfig) Validate() error {
	var errs []error

	if err := config.ValidateDuration(c.SchedulerConfigCheckInterval, 5*time.Second, 1*time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("scheduler config check interval: %w", err))
	}
	if err := config.ValidateDuration(c.AnalysisSleepInterval, 1*time.Second, 5*time.Minute); err != nil {
		errs = append(errs, fmt.Errorf("analysis sleep interval: %w", err))
	}
	if err := config.ValidateIntRange(c.ContentFetchParallelism, 1, 20); err != nil {
		errs = append(errs, fmt.Errorf("content fetch parallelism: %w", err))
	}
	if err := config.ValidateIntRange(c.ContentFetchThreshold, 0, 10000); err != nil {
		errs = append(errs, fmt.Errorf("content fetch threshold: %w", err))
	}
	if err := config.ValidateIntRange(c.NotifyMaxConcurrent, 1, 50); err != nil {
		errs = append(errs, fmt.Errorf("notify max concurrent: %w", err))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	return nil
}

// LoadConfigFromEnv loads worker configuration from environment variables
// with validation and automatic fallback to default values on failure.
// It implements the fail-open strategy: a malformed value logs a warning,
// records the fallback in metrics, and keeps the default rather than
// failing startup.
//
// Environment variables:
//   - SCHEDULER_CONFIG_CHECK_INTERVAL: duration string (default: "30s")
//   - ANALYSIS_SLEEP_INTERVAL: duration string (default: "5s")
//   - CONTENT_FETCH_PARALLELISM: integer 1-20 (default: 3)
//   - CONTENT_FETCH_THRESHOLD: integer 0-10000 (default: 280)
//   - NOTIFY_MAX_CONCURRENT: integer 1-50 (default: 10)
//   - WORKER_HEALTH_PORT: integer 1024-65535 (default: 9091)
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()
	fallbackApplied := false

	warn := func(field, envKey string, warnings []string) {
		fallbackApplied = true
		metrics.RecordValidationError(field)
		metrics.RecordFallback(field, "default")
		for _, w := range warnings {
			logger.Warn("Configuration fallback applied",
				slog.String("field", field),
				slog.String("env_key", envKey),
				slog.String("warning", w))
		}
	}

	durResult := config.LoadEnvDuration("SCHEDULER_CONFIG_CHECK_INTERVAL", cfg.SchedulerConfigCheckInterval, func(d time.Duration) error {
		return config.ValidateDuration(d, 5*time.Second, 1*time.Hour)
	})
	cfg.SchedulerConfigCheckInterval = durResult.Value.(time.Duration)
	if durResult.FallbackApplied {
		warn("scheduler_config_check_interval", "SCHEDULER_CONFIG_CHECK_INTERVAL", durResult.Warnings)
	}

	durResult = config.LoadEnvDuration("ANALYSIS_SLEEP_INTERVAL", cfg.AnalysisSleepInterval, func(d time.Duration) error {
		return config.ValidateDuration(d, 1*time.Second, 5*time.Minute)
	})
	cfg.AnalysisSleepInterval = durResult.Value.(time.Duration)
	if durResult.FallbackApplied {
		warn("analysis_sleep_interval", "ANALYSIS_SLEEP_INTERVAL", durResult.Warnings)
	}

	intResult := config.LoadEnvInt("CONTENT_FETCH_PARALLELISM", cfg.ContentFetchParallelism, func(v int) error {
		return config.ValidateIntRange(v, 1, 20)
	})
	cfg.ContentFetchParallelism = intResult.Value.(int)
	if intResult.FallbackApplied {
		warn("content_fetch_parallelism", "CONTENT_FETCH_PARALLELISM", intResult.Warnings)
	}

	intResult = config.LoadEnvInt("CONTENT_FETCH_THRESHOLD", cfg.ContentFetchThreshold, func(v int) error {
		return config.ValidateIntRange(v, 0, 10000)
	})
	cfg.ContentFetchThreshold = intResult.Value.(int)
	if intResult.FallbackApplied {
		warn("content_fetch_threshold", "CONTENT_FETCH_THRESHOLD", intResult.Warnings)
	}

	intResult = config.LoadEnvInt("NOTIFY_MAX_CONCURRENT", cfg.NotifyMaxConcurrent, func(v int) error {
		return config.ValidateIntRange(v, 1, 50)
	})
	cfg.NotifyMaxConcurrent = intResult.Value.(int)
	if intResult.FallbackApplied {
		warn("notify_max_concurrent", "NOTIFY_MAX_CONCURRENT", intResult.Warnings)
	}

	intResult = config.LoadEnvInt("WORKER_HEALTH_PORT", cfg.HealthPort, func(v int) error {
		return config.ValidateIntRange(v, 1024, 65535)
	})
	cfg.HealthPort = intResult.Value.(int)
	if intResult.FallbackApplied {
		warn("health_port", "WORKER_HEALTH_PORT", intResult.Warnings)
	}

	metrics.SetFallbackActive("", fallbackApplied)
	metrics.RecordLoadTimestamp()

	return &cfg, nil
}
