package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

type FeedMetricsRepo struct{ db *sql.DB }

func NewFeedMetricsRepo(db *sql.DB) repository.FeedMetricsRepository {
	return &FeedMetricsRepo{db: db}
}

// Upsert persists m's fields verbatim; the additive math (entity.RunningAverage
// over SampleCount, summing counters) happens in the aggregator use case before
// this is called, so two concurrent upserts for the same (feed_id, date) must
// not race — callers serialize per key themselves (spec §4.9).
func (r *FeedMetricsRepo) Upsert(ctx context.Context, m *entity.FeedMetrics) error {
	perModelJSON, err := json.Marshal(m.PerModel)
	if err != nil {
		return fmt.Errorf("Upsert: marshal per_model: %w", err)
	}
	const query = `
INSERT INTO feed_metrics (feed_id, metric_date, items_fetched, items_analyzed,
	avg_processing_time_sec, avg_items_per_run, sample_count, cost_usd, per_model)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (feed_id, metric_date) DO UPDATE SET
	items_fetched = EXCLUDED.items_fetched,
	items_analyzed = EXCLUDED.items_analyzed,
	avg_processing_time_sec = EXCLUDED.avg_processing_time_sec,
	avg_items_per_run = EXCLUDED.avg_items_per_run,
	sample_count = EXCLUDED.sample_count,
	cost_usd = EXCLUDED.cost_usd,
	per_model = EXCLUDED.per_model`
	_, err = r.db.ExecContext(ctx, query,
		m.FeedID, m.MetricDate, m.ItemsFetched, m.ItemsAnalyzed,
		m.AvgProcessingTimeSec, m.AvgItemsPerRun, m.SampleCount, m.CostUSD, perModelJSON,
	)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (r *FeedMetricsRepo) Get(ctx context.Context, feedID int64, date time.Time) (*entity.FeedMetrics, error) {
	const query = `
SELECT feed_id, metric_date, items_fetched, items_analyzed, avg_processing_time_sec,
	avg_items_per_run, sample_count, cost_usd, per_model
FROM feed_metrics WHERE feed_id = $1 AND metric_date = $2`
	var m entity.FeedMetrics
	var perModelJSON []byte
	err := r.db.QueryRowContext(ctx, query, feedID, date).Scan(
		&m.FeedID, &m.MetricDate, &m.ItemsFetched, &m.ItemsAnalyzed, &m.AvgProcessingTimeSec,
		&m.AvgItemsPerRun, &m.SampleCount, &m.CostUSD, &perModelJSON,
	)
	if err == sql.ErrNoRows {
		return &entity.FeedMetrics{FeedID: feedID, MetricDate: date}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	if len(perModelJSON) > 0 {
		if err := json.Unmarshal(perModelJSON, &m.PerModel); err != nil {
			return nil, fmt.Errorf("Get: unmarshal per_model: %w", err)
		}
	}
	return &m, nil
}

type QueueMetricsRepo struct{ db *sql.DB }

func NewQueueMetricsRepo(db *sql.DB) repository.QueueMetricsRepository {
	return &QueueMetricsRepo{db: db}
}

func (r *QueueMetricsRepo) Upsert(ctx context.Context, m *entity.QueueMetrics) error {
	perModelJSON, err := json.Marshal(m.PerModel)
	if err != nil {
		return fmt.Errorf("Upsert: marshal per_model: %w", err)
	}
	const query = `
INSERT INTO queue_metrics (metric_date, metric_hour, runs_started, runs_completed, runs_failed,
	items_queued, items_processed, avg_queue_wait_sec, sample_count, per_model)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (metric_date, metric_hour) DO UPDATE SET
	runs_started = EXCLUDED.runs_started,
	runs_completed = EXCLUDED.runs_completed,
	runs_failed = EXCLUDED.runs_failed,
	items_queued = EXCLUDED.items_queued,
	items_processed = EXCLUDED.items_processed,
	avg_queue_wait_sec = EXCLUDED.avg_queue_wait_sec,
	sample_count = EXCLUDED.sample_count,
	per_model = EXCLUDED.per_model`
	_, err = r.db.ExecContext(ctx, query,
		m.MetricDate, m.MetricHour, m.RunsStarted, m.RunsCompleted, m.RunsFailed,
		m.ItemsQueued, m.ItemsProcessed, m.AvgQueueWaitSec, m.SampleCount, perModelJSON,
	)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (r *QueueMetricsRepo) Get(ctx context.Context, date time.Time, hour int) (*entity.QueueMetrics, error) {
	const query = `
SELECT metric_date, metric_hour, runs_started, runs_completed, runs_failed,
	items_queued, items_processed, avg_queue_wait_sec, sample_count, per_model
FROM queue_metrics WHERE metric_date = $1 AND metric_hour = $2`
	var m entity.QueueMetrics
	var perModelJSON []byte
	err := r.db.QueryRowContext(ctx, query, date, hour).Scan(
		&m.MetricDate, &m.MetricHour, &m.RunsStarted, &m.RunsCompleted, &m.RunsFailed,
		&m.ItemsQueued, &m.ItemsProcessed, &m.AvgQueueWaitSec, &m.SampleCount, &perModelJSON,
	)
	if err == sql.ErrNoRows {
		return &entity.QueueMetrics{MetricDate: date, MetricHour: hour}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	if len(perModelJSON) > 0 {
		if err := json.Unmarshal(perModelJSON, &m.PerModel); err != nil {
			return nil, fmt.Errorf("Get: unmarshal per_model: %w", err)
		}
	}
	return &m, nil
}
