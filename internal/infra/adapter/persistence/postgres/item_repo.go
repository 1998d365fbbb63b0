package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

const pgUniqueViolation = "23505"

type ItemRepo struct{ db *sql.DB }

func NewItemRepo(db *sql.DB) repository.ItemRepository {
	return &ItemRepo{db: db}
}

const itemColumns = `id, feed_id, title, link, description, content, author, published, created_at, content_hash`

func scanItem(row interface{ Scan(...interface{}) error }) (*entity.Item, error) {
	var i entity.Item
	if err := row.Scan(&i.ID, &i.FeedID, &i.Title, &i.Link, &i.Description, &i.Content,
		&i.Author, &i.Published, &i.CreatedAt, &i.ContentHash); err != nil {
		return nil, err
	}
	return &i, nil
}

// InsertItemIfAbsent translates a unique-violation on content_hash into
// (nil, Duplicate, nil), per spec §4.1, rather than surfacing a tx-poisoning
// error. It must be called outside a transaction, or inside one that the
// caller is prepared to have aborted by the failed INSERT (Postgres marks
// the transaction failed on any statement error) — fetch completion should
// call this before opening the multi-table completion transaction.
func (r *ItemRepo) InsertItemIfAbsent(ctx context.Context, item *entity.Item) (*entity.Item, repository.InsertResult, error) {
	if item.ContentHash == "" {
		item.WithContentHash()
	}
	const query = `
INSERT INTO items (feed_id, title, link, description, content, author, published, content_hash)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		item.FeedID, item.Title, item.Link, item.Description, item.Content,
		item.Author, item.Published, item.ContentHash,
	).Scan(&item.ID, &item.CreatedAt)
	if err == nil {
		return item, repository.Inserted, nil
	}
	if isUniqueViolation(err) {
		return nil, repository.Duplicate, nil
	}
	return nil, repository.Duplicate, fmt.Errorf("InsertItemIfAbsent: %w", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	// Fallback for drivers/mocks that don't surface a typed pgconn.PgError
	// (e.g. sqlmock in tests).
	return strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique constraint")
}

func (r *ItemRepo) Get(ctx context.Context, id int64) (*entity.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM items WHERE id = $1`, itemColumns)
	item, err := scanItem(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return item, nil
}

func (r *ItemRepo) ListByFeed(ctx context.Context, feedID int64, limit int) ([]*entity.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM items WHERE feed_id = $1 ORDER BY published DESC LIMIT $2`, itemColumns)
	rows, err := r.db.QueryContext(ctx, query, feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListByFeed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]*entity.Item, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByFeed: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *ItemRepo) GetByIDs(ctx context.Context, ids []int64) ([]*entity.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM items WHERE id = ANY($1) ORDER BY id ASC`, itemColumns)
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("GetByIDs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]*entity.Item, 0, len(ids))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("GetByIDs: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MatchScope builds the selection described in spec §4.8.1: a type-specific
// WHERE clause plus the unanalyzed-only / impact-threshold filters, each
// expressed as an EXISTS/NOT EXISTS against the item's completed
// analysis_run_items rows.
func (r *ItemRepo) MatchScope(ctx context.Context, scope entity.RunScope, params entity.RunParams) ([]int64, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch scope.Type {
	case entity.ScopeItems:
		if len(scope.ItemIDs) == 0 {
			return nil, nil
		}
		where = append(where, fmt.Sprintf("i.id = ANY(%s)", arg(pq.Array(scope.ItemIDs))))
	case entity.ScopeFeeds:
		if len(scope.FeedIDs) == 0 {
			return nil, nil
		}
		where = append(where, fmt.Sprintf("i.feed_id = ANY(%s)", arg(pq.Array(scope.FeedIDs))))
	case entity.ScopeTimeRange:
		if scope.StartTime != nil {
			where = append(where, fmt.Sprintf("i.created_at >= %s", arg(*scope.StartTime)))
		}
		if scope.EndTime != nil {
			where = append(where, fmt.Sprintf("i.created_at <= %s", arg(*scope.EndTime)))
		}
	case entity.ScopeGlobal:
		// no additional predicate
	default:
		return nil, entity.ErrUnknownScopeType
	}

	if params.UnanalyzedOnly && !params.OverrideExisting {
		where = append(where, `NOT EXISTS (
			SELECT 1 FROM analysis_run_items ari
			WHERE ari.item_id = i.id AND ari.state = 'completed')`)
	}
	if params.MinImpactThreshold != nil {
		where = append(where, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM analysis_run_items ari
			WHERE ari.item_id = i.id AND ari.state = 'completed'
			AND (ari.impact_json->>'overall')::float8 >= %s)`, arg(*params.MinImpactThreshold)))
	}
	if params.MaxImpactThreshold != nil {
		where = append(where, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM analysis_run_items ari
			WHERE ari.item_id = i.id AND ari.state = 'completed'
			AND (ari.impact_json->>'overall')::float8 <= %s)`, arg(*params.MaxImpactThreshold)))
	}

	limit := params.Limit
	if limit <= 0 || limit > 5000 {
		limit = 5000
	}

	query := "SELECT i.id FROM items i"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY i.published DESC LIMIT %s", arg(limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("MatchScope: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("MatchScope: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ItemRepo) CountByFeedSince(ctx context.Context, feedID int64, sinceHours int) (int, error) {
	const query = `
SELECT count(*) FROM items
WHERE feed_id = $1 AND published >= now() - ($2 || ' hours')::interval`
	var n int
	if err := r.db.QueryRowContext(ctx, query, feedID, sinceHours).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountByFeedSince: %w", err)
	}
	return n, nil
}
