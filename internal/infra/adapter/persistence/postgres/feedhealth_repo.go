package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

type FeedHealthRepo struct{ db *sql.DB }

func NewFeedHealthRepo(db *sql.DB) repository.FeedHealthRepository {
	return &FeedHealthRepo{db: db}
}

const feedHealthColumns = `feed_id, ok_ratio, consecutive_fails, avg_response_time_ms,
	last_success, last_failure, uptime_24h, uptime_7d, total_articles, articles_24h,
	analyzed_count, analyzed_percentage`

func (r *FeedHealthRepo) Get(ctx context.Context, feedID int64) (*entity.FeedHealth, error) {
	query := fmt.Sprintf(`SELECT %s FROM feed_health WHERE feed_id = $1`, feedHealthColumns)
	var h entity.FeedHealth
	err := r.db.QueryRowContext(ctx, query, feedID).Scan(
		&h.FeedID, &h.OkRatio, &h.ConsecutiveFails, &h.AvgResponseTimeMs,
		&h.LastSuccess, &h.LastFailure, &h.Uptime24h, &h.Uptime7d, &h.TotalArticles,
		&h.Articles24h, &h.AnalyzedCount, &h.AnalyzedPercentage,
	)
	if err == sql.ErrNoRows {
		return &entity.FeedHealth{FeedID: feedID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &h, nil
}

func (r *FeedHealthRepo) upsert(ctx context.Context, h *entity.FeedHealth) error {
	const query = `
INSERT INTO feed_health (feed_id, ok_ratio, consecutive_fails, avg_response_time_ms,
	last_success, last_failure, uptime_24h, uptime_7d, total_articles, articles_24h,
	analyzed_count, analyzed_percentage)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (feed_id) DO UPDATE SET
	ok_ratio = EXCLUDED.ok_ratio,
	consecutive_fails = EXCLUDED.consecutive_fails,
	avg_response_time_ms = EXCLUDED.avg_response_time_ms,
	last_success = EXCLUDED.last_success,
	last_failure = EXCLUDED.last_failure,
	uptime_24h = EXCLUDED.uptime_24h,
	uptime_7d = EXCLUDED.uptime_7d,
	total_articles = EXCLUDED.total_articles,
	articles_24h = EXCLUDED.articles_24h,
	analyzed_count = EXCLUDED.analyzed_count,
	analyzed_percentage = EXCLUDED.analyzed_percentage`
	_, err := r.db.ExecContext(ctx, query,
		h.FeedID, h.OkRatio, h.ConsecutiveFails, h.AvgResponseTimeMs,
		h.LastSuccess, h.LastFailure, h.Uptime24h, h.Uptime7d, h.TotalArticles,
		h.Articles24h, h.AnalyzedCount, h.AnalyzedPercentage,
	)
	return err
}

func (r *FeedHealthRepo) RecordSuccess(ctx context.Context, h *entity.FeedHealth) error {
	if err := r.upsert(ctx, h); err != nil {
		return fmt.Errorf("RecordSuccess: %w", err)
	}
	return nil
}

func (r *FeedHealthRepo) RecordFailure(ctx context.Context, h *entity.FeedHealth) error {
	if err := r.upsert(ctx, h); err != nil {
		return fmt.Errorf("RecordFailure: %w", err)
	}
	return nil
}
