// Package postgres provides PostgreSQL implementations of repository interfaces.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

type FeedRepo struct{ db *sql.DB }

func NewFeedRepo(db *sql.DB) repository.FeedRepository {
	return &FeedRepo{db: db}
}

const feedColumns = `id, url, title, description, fetch_interval_minutes, status, kind,
	last_fetched, etag, last_modified, auto_analyze_enabled, scrape_full_content,
	configuration_hash, is_critical, archived_at, scraper_config`

func scanFeed(row interface{ Scan(...interface{}) error }) (*entity.Feed, error) {
	var f entity.Feed
	var scraperConfigJSON []byte
	if err := row.Scan(
		&f.ID, &f.URL, &f.Title, &f.Description, &f.FetchIntervalMinutes, &f.Status, &f.Kind,
		&f.LastFetched, &f.ETag, &f.LastModified, &f.AutoAnalyzeEnabled, &f.ScrapeFullContent,
		&f.ConfigurationHash, &f.IsCritical, &f.ArchivedAt, &scraperConfigJSON,
	); err != nil {
		return nil, err
	}
	if len(scraperConfigJSON) > 0 {
		var cfg entity.ScraperConfig
		if err := json.Unmarshal(scraperConfigJSON, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal scraper_config: %w", err)
		}
		f.ScraperConfig = &cfg
	}
	return &f, nil
}

func (r *FeedRepo) Get(ctx context.Context, id int64) (*entity.Feed, error) {
	query := fmt.Sprintf(`SELECT %s FROM feeds WHERE id = $1`, feedColumns)
	f, err := scanFeed(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return f, nil
}

func (r *FeedRepo) GetByURL(ctx context.Context, url string) (*entity.Feed, error) {
	query := fmt.Sprintf(`SELECT %s FROM feeds WHERE url = $1`, feedColumns)
	f, err := scanFeed(r.db.QueryRowContext(ctx, query, url))
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetByURL: %w", err)
	}
	return f, nil
}

func (r *FeedRepo) list(ctx context.Context, where string) ([]*entity.Feed, error) {
	query := fmt.Sprintf(`SELECT %s FROM feeds %s ORDER BY id ASC`, feedColumns, where)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	feeds := make([]*entity.Feed, 0, 64)
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

func (r *FeedRepo) List(ctx context.Context) ([]*entity.Feed, error) {
	feeds, err := r.list(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return feeds, nil
}

func (r *FeedRepo) ListActive(ctx context.Context) ([]*entity.Feed, error) {
	feeds, err := r.list(ctx, "WHERE status = 'active' AND archived_at IS NULL")
	if err != nil {
		return nil, fmt.Errorf("ListActive: %w", err)
	}
	return feeds, nil
}

func (r *FeedRepo) Create(ctx context.Context, f *entity.Feed) error {
	var scraperConfigJSON []byte
	if f.ScraperConfig != nil {
		var err error
		scraperConfigJSON, err = json.Marshal(f.ScraperConfig)
		if err != nil {
			return fmt.Errorf("Create: marshal scraper_config: %w", err)
		}
	}
	const query = `
INSERT INTO feeds (url, title, description, fetch_interval_minutes, status, kind,
	last_fetched, etag, last_modified, auto_analyze_enabled, scrape_full_content,
	configuration_hash, is_critical, archived_at, scraper_config)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
RETURNING id`
	err := r.db.QueryRowContext(ctx, query,
		f.URL, f.Title, f.Description, f.FetchIntervalMinutes, f.Status, f.Kind,
		f.LastFetched, f.ETag, f.LastModified, f.AutoAnalyzeEnabled, f.ScrapeFullContent,
		f.ConfigurationHash, f.IsCritical, f.ArchivedAt, scraperConfigJSON,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *FeedRepo) Update(ctx context.Context, f *entity.Feed) error {
	var scraperConfigJSON []byte
	if f.ScraperConfig != nil {
		var err error
		scraperConfigJSON, err = json.Marshal(f.ScraperConfig)
		if err != nil {
			return fmt.Errorf("Update: marshal scraper_config: %w", err)
		}
	}
	const query = `
UPDATE feeds SET
	url = $1, title = $2, description = $3, fetch_interval_minutes = $4, status = $5, kind = $6,
	last_fetched = $7, etag = $8, last_modified = $9, auto_analyze_enabled = $10,
	scrape_full_content = $11, configuration_hash = $12, is_critical = $13, archived_at = $14,
	scraper_config = $15
WHERE id = $16`
	res, err := r.db.ExecContext(ctx, query,
		f.URL, f.Title, f.Description, f.FetchIntervalMinutes, f.Status, f.Kind,
		f.LastFetched, f.ETag, f.LastModified, f.AutoAnalyzeEnabled, f.ScrapeFullContent,
		f.ConfigurationHash, f.IsCritical, f.ArchivedAt, scraperConfigJSON, f.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrNotFound
	}
	return nil
}

func (r *FeedRepo) UpdateFetchMeta(ctx context.Context, f *entity.Feed) error {
	const query = `
UPDATE feeds SET
	last_fetched = $1, etag = $2, last_modified = $3, status = $4,
	title = CASE WHEN title = '' THEN $5 ELSE title END,
	description = CASE WHEN description = '' THEN $6 ELSE description END
WHERE id = $7`
	_, err := r.db.ExecContext(ctx, query, f.LastFetched, f.ETag, f.LastModified, f.Status, f.Title, f.Description, f.ID)
	if err != nil {
		return fmt.Errorf("UpdateFetchMeta: %w", err)
	}
	return nil
}

func (r *FeedRepo) Delete(ctx context.Context, id int64) error {
	f, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if f.IsCritical {
		var refCount int
		if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM items WHERE feed_id = $1`, id).Scan(&refCount); err != nil {
			return fmt.Errorf("Delete: check references: %w", err)
		}
		if refCount > 0 {
			return entity.ErrCriticalFeedReferenced
		}
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrNotFound
	}
	return nil
}
