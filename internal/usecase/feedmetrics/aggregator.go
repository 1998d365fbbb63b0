// Package feedmetrics implements the metrics and cost aggregator (C9): it
// folds per-fetch and per-item-analysis outcomes into the additive daily
// (FeedMetrics) and hourly (QueueMetrics) rollups using the count-weighted
// running-average formula, rather than overwriting prior samples (spec §3,
// §4.9).
package feedmetrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

// Aggregator owns the feed_metrics/queue_metrics rollups.
type Aggregator struct {
	feedMetrics  repository.FeedMetricsRepository
	queueMetrics repository.QueueMetricsRepository
	logger       *slog.Logger
}

// New constructs an Aggregator.
func New(feedMetrics repository.FeedMetricsRepository, queueMetrics repository.QueueMetricsRepository, logger *slog.Logger) *Aggregator {
	return &Aggregator{feedMetrics: feedMetrics, queueMetrics: queueMetrics, logger: logger}
}

func dateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// RecordFetch folds a fetch cycle's new-item count into the feed's daily
// rollup.
func (a *Aggregator) RecordFetch(ctx context.Context, feedID int64, at time.Time, itemsFetched int) error {
	m, err := a.getOrInit(ctx, feedID, at)
	if err != nil {
		return err
	}
	m.ItemsFetched += itemsFetched
	return a.upsertFeed(ctx, m)
}

// RecordAnalysis folds one completed item analysis into the feed's daily
// rollup: item count, the running-average processing time, and the
// per-model cost/token totals.
func (a *Aggregator) RecordAnalysis(ctx context.Context, feedID int64, at time.Time, processingTimeSec float64, model string, tokens entity.TokenUsage, costUSD float64) error {
	m, err := a.getOrInit(ctx, feedID, at)
	if err != nil {
		return err
	}

	m.SampleCount++
	m.ItemsAnalyzed++
	m.AvgProcessingTimeSec = entity.RunningAverage(m.AvgProcessingTimeSec, m.SampleCount, processingTimeSec)
	m.CostUSD += costUSD

	if m.PerModel == nil {
		m.PerModel = make(map[string]entity.ModelMetrics)
	}
	mm := m.PerModel[model]
	mm.Count++
	mm.CostUSD += costUSD
	mm.Tokens.Input += tokens.Input
	mm.Tokens.Output += tokens.Output
	mm.Tokens.Cached += tokens.Cached
	m.PerModel[model] = mm

	return a.upsertFeed(ctx, m)
}

// RecordRunItemsPerRun folds one completed run's item count for feedID into
// the running-average AvgItemsPerRun — called once per (feed, run) pair
// when a run completes, not once per item.
func (a *Aggregator) RecordRunItemsPerRun(ctx context.Context, feedID int64, at time.Time, itemsInRun int, runSampleCount int64) error {
	m, err := a.getOrInit(ctx, feedID, at)
	if err != nil {
		return err
	}
	m.AvgItemsPerRun = entity.RunningAverage(m.AvgItemsPerRun, runSampleCount, float64(itemsInRun))
	return a.upsertFeed(ctx, m)
}

func (a *Aggregator) getOrInit(ctx context.Context, feedID int64, at time.Time) (*entity.FeedMetrics, error) {
	date := dateOnly(at)
	m, err := a.feedMetrics.Get(ctx, feedID, date)
	if err != nil {
		if err != entity.ErrNotFound {
			return nil, fmt.Errorf("get feed metrics: %w", err)
		}
		m = nil
	}
	if m == nil {
		m = &entity.FeedMetrics{FeedID: feedID, MetricDate: date}
	}
	m.FeedID = feedID
	m.MetricDate = date
	return m, nil
}

func (a *Aggregator) upsertFeed(ctx context.Context, m *entity.FeedMetrics) error {
	if err := a.feedMetrics.Upsert(ctx, m); err != nil {
		return fmt.Errorf("upsert feed metrics: %w", err)
	}
	return nil
}

// RecordQueueSample folds one queue-processing sample into the hourly
// rollup keyed by at's (date, hour).
func (a *Aggregator) RecordQueueSample(ctx context.Context, at time.Time, started, completed, failed, queued, processed int, queueWaitSec float64) error {
	date := dateOnly(at)
	hour := at.UTC().Hour()

	m, err := a.queueMetrics.Get(ctx, date, hour)
	if err != nil {
		if err != entity.ErrNotFound {
			return fmt.Errorf("get queue metrics: %w", err)
		}
		m = nil
	}
	if m == nil {
		m = &entity.QueueMetrics{MetricDate: date, MetricHour: hour}
	}
	m.MetricDate = date
	m.MetricHour = hour
	m.RunsStarted += started
	m.RunsCompleted += completed
	m.RunsFailed += failed
	m.ItemsQueued += queued
	m.ItemsProcessed += processed
	m.SampleCount++
	m.AvgQueueWaitSec = entity.RunningAverage(m.AvgQueueWaitSec, m.SampleCount, queueWaitSec)

	if err := a.queueMetrics.Upsert(ctx, m); err != nil {
		return fmt.Errorf("upsert queue metrics: %w", err)
	}
	return nil
}
