package repository

import (
	"context"
	"time"

	"newspulse/internal/domain/entity"
)

// ConfigChangeRepository is the Storage Adapter's contract for C4's
// append-only audit log (spec §3 FeedConfigurationChange, §4.1
// "AppendConfigChange(entry), UnappliedChangesSince(ts), MarkChangesApplied(ids)").
type ConfigChangeRepository interface {
	Append(ctx context.Context, change *entity.FeedConfigurationChange) error
	UnappliedSince(ctx context.Context, since time.Time) ([]*entity.FeedConfigurationChange, error)
	MarkApplied(ctx context.Context, ids []int64, appliedAt time.Time) error
}

// SchedulerStateRepository is the Storage Adapter's contract for the
// per-scheduler-instance singleton row (spec §3 FeedSchedulerState).
type SchedulerStateRepository interface {
	Get(ctx context.Context) (*entity.FeedSchedulerState, error)
	Upsert(ctx context.Context, state *entity.FeedSchedulerState) error
}
