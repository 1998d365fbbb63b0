package repository

import (
	"context"
	"time"

	"newspulse/internal/domain/entity"
)

// FeedRepository is the Storage Adapter's (C1) contract for the feed table.
type FeedRepository interface {
	Get(ctx context.Context, id int64) (*entity.Feed, error)
	GetByURL(ctx context.Context, url string) (*entity.Feed, error)
	List(ctx context.Context) ([]*entity.Feed, error)
	ListActive(ctx context.Context) ([]*entity.Feed, error)
	Create(ctx context.Context, feed *entity.Feed) error
	Update(ctx context.Context, feed *entity.Feed) error
	// Delete enforces the critical-feed rule: if feed.is_critical and any
	// referencing rows exist (items, analysis_run_items via items), it
	// returns entity.ErrCriticalFeedReferenced and performs no deletion.
	Delete(ctx context.Context, id int64) error
	// UpdateFetchMeta persists the fetcher's post-attempt mutations to the
	// feed row (last_fetched, etag, last_modified, status, title/description
	// when previously empty) in the same transaction as the fetch-completion
	// write (spec §4.1's "single transaction" contract).
	UpdateFetchMeta(ctx context.Context, feed *entity.Feed) error
}

// FeedHealthRepository is the Storage Adapter's contract for rolling
// per-feed health stats, recomputed from FetchLog windows on each fetch
// completion (spec §3 FeedHealth).
type FeedHealthRepository interface {
	Get(ctx context.Context, feedID int64) (*entity.FeedHealth, error)
	// RecordSuccess and RecordFailure update the rolling stats in place;
	// callers recompute uptime/avg-response windows from FetchLog before
	// calling these, per spec §4.3 step 8/9.
	RecordSuccess(ctx context.Context, health *entity.FeedHealth) error
	RecordFailure(ctx context.Context, health *entity.FeedHealth) error
}

// FetchLogRepository is the Storage Adapter's contract for the append-only
// per-attempt fetch log (spec §3 FetchLog).
type FetchLogRepository interface {
	// InsertRunning writes the initial `running` row (spec §4.3 step 1) and
	// returns its id.
	InsertRunning(ctx context.Context, feedID int64, startedAt time.Time) (int64, error)
	Complete(ctx context.Context, id int64, log *entity.FetchLog) error
	// RecentByFeed returns the most recent N logs for a feed, newest first,
	// used by the feed health scorer's reachability/stability components.
	RecentByFeed(ctx context.Context, feedID int64, limit int) ([]*entity.FetchLog, error)
}
