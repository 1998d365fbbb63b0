package repository

import (
	"context"

	"newspulse/internal/domain/entity"
)

// InsertResult reports whether InsertItemIfAbsent created a new row or
// found an existing one with the same content_hash.
type InsertResult int

const (
	Inserted InsertResult = iota
	Duplicate
)

// ItemRepository is the Storage Adapter's contract for deduplicated
// articles (spec §3 Item).
type ItemRepository interface {
	// InsertItemIfAbsent inserts item, translating a unique-violation on
	// content_hash into (nil, Duplicate, nil) rather than an error — it must
	// not poison the surrounding transaction (spec §4.1).
	InsertItemIfAbsent(ctx context.Context, item *entity.Item) (*entity.Item, InsertResult, error)
	Get(ctx context.Context, id int64) (*entity.Item, error)
	ListByFeed(ctx context.Context, feedID int64, limit int) ([]*entity.Item, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*entity.Item, error)
	// CountByFeedSince counts items for a feed published at or after since,
	// used by the feed health scorer's volume component.
	CountByFeedSince(ctx context.Context, feedID int64, sinceHours int) (int, error)

	// MatchScope resolves scope to the newest-first item ids it selects,
	// applying params.UnanalyzedOnly/OverrideExisting and the impact
	// threshold filters against each item's most recent completed analysis
	// (spec §4.8.1). The caller truncates the result to params.Limit.
	MatchScope(ctx context.Context, scope entity.RunScope, params entity.RunParams) ([]int64, error)
}
