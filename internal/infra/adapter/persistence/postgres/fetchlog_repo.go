package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

type FetchLogRepo struct{ db *sql.DB }

func NewFetchLogRepo(db *sql.DB) repository.FetchLogRepository {
	return &FetchLogRepo{db: db}
}

func (r *FetchLogRepo) InsertRunning(ctx context.Context, feedID int64, startedAt time.Time) (int64, error) {
	const query = `
INSERT INTO fetch_logs (feed_id, started_at, status)
VALUES ($1, $2, 'running')
RETURNING id`
	var id int64
	err := r.db.QueryRowContext(ctx, query, feedID, startedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("InsertRunning: %w", err)
	}
	return id, nil
}

func (r *FetchLogRepo) Complete(ctx context.Context, id int64, log *entity.FetchLog) error {
	const query = `
UPDATE fetch_logs SET
	completed_at = $1, status = $2, items_found = $3, items_new = $4,
	response_time_ms = $5, error_message = $6
WHERE id = $7`
	_, err := r.db.ExecContext(ctx, query,
		log.CompletedAt, log.Status, log.ItemsFound, log.ItemsNew,
		log.ResponseTimeMs, log.ErrorMessage, id,
	)
	if err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	return nil
}

func (r *FetchLogRepo) RecentByFeed(ctx context.Context, feedID int64, limit int) ([]*entity.FetchLog, error) {
	const query = `
SELECT id, feed_id, started_at, completed_at, status, items_found, items_new, response_time_ms, error_message
FROM fetch_logs
WHERE feed_id = $1
ORDER BY started_at DESC
LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentByFeed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	logs := make([]*entity.FetchLog, 0, limit)
	for rows.Next() {
		var l entity.FetchLog
		if err := rows.Scan(&l.ID, &l.FeedID, &l.StartedAt, &l.CompletedAt, &l.Status,
			&l.ItemsFound, &l.ItemsNew, &l.ResponseTimeMs, &l.ErrorMessage); err != nil {
			return nil, fmt.Errorf("RecentByFeed: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
