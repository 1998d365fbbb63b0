package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

type ConfigChangeRepo struct{ db *sql.DB }

func NewConfigChangeRepo(db *sql.DB) repository.ConfigChangeRepository {
	return &ConfigChangeRepo{db: db}
}

func (r *ConfigChangeRepo) Append(ctx context.Context, c *entity.FeedConfigurationChange) error {
	const query = `
INSERT INTO feed_configuration_changes (change_type, feed_id, template_id, old_config, new_config, created_at)
VALUES ($1,$2,$3,$4,$5,now())
RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, c.ChangeType, c.FeedID, c.TemplateID, c.OldConfig, c.NewConfig).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

func (r *ConfigChangeRepo) UnappliedSince(ctx context.Context, since time.Time) ([]*entity.FeedConfigurationChange, error) {
	const query = `
SELECT id, change_type, feed_id, template_id, old_config, new_config, created_at, applied_at
FROM feed_configuration_changes
WHERE applied_at IS NULL AND created_at >= $1
ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("UnappliedSince: %w", err)
	}
	defer func() { _ = rows.Close() }()

	changes := make([]*entity.FeedConfigurationChange, 0, 32)
	for rows.Next() {
		var c entity.FeedConfigurationChange
		if err := rows.Scan(&c.ID, &c.ChangeType, &c.FeedID, &c.TemplateID, &c.OldConfig, &c.NewConfig, &c.CreatedAt, &c.AppliedAt); err != nil {
			return nil, fmt.Errorf("UnappliedSince: %w", err)
		}
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}

func (r *ConfigChangeRepo) MarkApplied(ctx context.Context, ids []int64, appliedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE feed_configuration_changes SET applied_at = $1 WHERE id = ANY($2)`
	_, err := r.db.ExecContext(ctx, query, appliedAt, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("MarkApplied: %w", err)
	}
	return nil
}

type SchedulerStateRepo struct{ db *sql.DB }

func NewSchedulerStateRepo(db *sql.DB) repository.SchedulerStateRepository {
	return &SchedulerStateRepo{db: db}
}

func (r *SchedulerStateRepo) Get(ctx context.Context) (*entity.FeedSchedulerState, error) {
	const query = `
SELECT id, last_config_check, last_heartbeat, last_feed_config_hash, last_template_config_hash, is_active
FROM feed_scheduler_state
WHERE id = 1`
	var s entity.FeedSchedulerState
	err := r.db.QueryRowContext(ctx, query).Scan(
		&s.ID, &s.LastConfigCheck, &s.LastHeartbeat, &s.LastFeedConfigHash, &s.LastTemplateConfigHash, &s.IsActive,
	)
	if err == sql.ErrNoRows {
		return &entity.FeedSchedulerState{ID: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &s, nil
}

func (r *SchedulerStateRepo) Upsert(ctx context.Context, s *entity.FeedSchedulerState) error {
	const query = `
INSERT INTO feed_scheduler_state (id, last_config_check, last_heartbeat, last_feed_config_hash, last_template_config_hash, is_active)
VALUES (1, $1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	last_config_check = EXCLUDED.last_config_check,
	last_heartbeat = EXCLUDED.last_heartbeat,
	last_feed_config_hash = EXCLUDED.last_feed_config_hash,
	last_template_config_hash = EXCLUDED.last_template_config_hash,
	is_active = EXCLUDED.is_active`
	_, err := r.db.ExecContext(ctx, query, s.LastConfigCheck, s.LastHeartbeat, s.LastFeedConfigHash, s.LastTemplateConfigHash, s.IsActive)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}
