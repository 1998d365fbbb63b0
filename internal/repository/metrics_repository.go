package repository

import (
	"context"
	"time"

	"newspulse/internal/domain/entity"
)

// FeedMetricsRepository is the Storage Adapter's contract for daily
// per-feed rollups (spec §3 FeedMetrics). Upsert is additive: weighted
// fields are recombined via entity.RunningAverage, never overwritten.
type FeedMetricsRepository interface {
	Upsert(ctx context.Context, m *entity.FeedMetrics) error
	Get(ctx context.Context, feedID int64, date time.Time) (*entity.FeedMetrics, error)
}

// QueueMetricsRepository is the Storage Adapter's contract for hourly queue
// rollups (spec §3 QueueMetrics).
type QueueMetricsRepository interface {
	Upsert(ctx context.Context, m *entity.QueueMetrics) error
	Get(ctx context.Context, date time.Time, hour int) (*entity.QueueMetrics, error)
}
