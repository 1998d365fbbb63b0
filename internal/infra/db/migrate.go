package db

import (
	"database/sql"
)

// MigrateUp creates the full schema: feeds and their fetch/health rollups,
// dynamic extraction templates, the configuration change audit log, analysis
// runs and their per-item rows, the run admission queue, and the daily/hourly
// metrics rollups.
func MigrateUp(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS feeds (
    id                     SERIAL PRIMARY KEY,
    url                    TEXT NOT NULL UNIQUE,
    title                  TEXT NOT NULL DEFAULT '',
    description            TEXT NOT NULL DEFAULT '',
    fetch_interval_minutes INT NOT NULL DEFAULT 60,
    status                 VARCHAR(20) NOT NULL DEFAULT 'active',
    kind                   VARCHAR(20) NOT NULL DEFAULT 'RSS',
    last_fetched           TIMESTAMPTZ,
    etag                   TEXT NOT NULL DEFAULT '',
    last_modified          TEXT NOT NULL DEFAULT '',
    auto_analyze_enabled   BOOLEAN NOT NULL DEFAULT FALSE,
    scrape_full_content    BOOLEAN NOT NULL DEFAULT FALSE,
    configuration_hash     TEXT NOT NULL DEFAULT '',
    is_critical            BOOLEAN NOT NULL DEFAULT FALSE,
    archived_at            TIMESTAMPTZ,
    scraper_config         JSONB
)`,
		`CREATE TABLE IF NOT EXISTS items (
    id           SERIAL PRIMARY KEY,
    feed_id      INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
    title        TEXT NOT NULL DEFAULT '',
    link         TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    content      TEXT NOT NULL DEFAULT '',
    author       TEXT NOT NULL DEFAULT '',
    published    TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    content_hash CHAR(64) NOT NULL UNIQUE
)`,
		`CREATE TABLE IF NOT EXISTS fetch_logs (
    id               SERIAL PRIMARY KEY,
    feed_id          INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
    started_at       TIMESTAMPTZ NOT NULL,
    completed_at     TIMESTAMPTZ,
    status           VARCHAR(20) NOT NULL DEFAULT 'running',
    items_found      INT NOT NULL DEFAULT 0,
    items_new        INT NOT NULL DEFAULT 0,
    response_time_ms BIGINT NOT NULL DEFAULT 0,
    error_message    TEXT NOT NULL DEFAULT ''
)`,
		`CREATE TABLE IF NOT EXISTS feed_health (
    feed_id              INTEGER PRIMARY KEY REFERENCES feeds(id) ON DELETE CASCADE,
    ok_ratio             DOUBLE PRECISION NOT NULL DEFAULT 0,
    consecutive_fails    INT NOT NULL DEFAULT 0,
    avg_response_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_success         TIMESTAMPTZ,
    last_failure         TIMESTAMPTZ,
    uptime_24h           DOUBLE PRECISION NOT NULL DEFAULT 0,
    uptime_7d            DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_articles       INT NOT NULL DEFAULT 0,
    articles_24h         INT NOT NULL DEFAULT 0,
    analyzed_count       INT NOT NULL DEFAULT 0,
    analyzed_percentage  DOUBLE PRECISION NOT NULL DEFAULT 0
)`,
		`CREATE TABLE IF NOT EXISTS dynamic_feed_templates (
    id                       SERIAL PRIMARY KEY,
    name                     TEXT NOT NULL,
    field_mappings           JSONB,
    content_processing_rules JSONB,
    quality_filters          JSONB,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS feed_template_assignments (
    id          SERIAL PRIMARY KEY,
    feed_id     INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
    template_id INTEGER NOT NULL REFERENCES dynamic_feed_templates(id) ON DELETE CASCADE,
    priority    INT NOT NULL DEFAULT 0,
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS feed_configuration_changes (
    id          SERIAL PRIMARY KEY,
    change_type VARCHAR(40) NOT NULL,
    feed_id     INTEGER REFERENCES feeds(id) ON DELETE SET NULL,
    template_id INTEGER REFERENCES dynamic_feed_templates(id) ON DELETE SET NULL,
    old_config  JSONB,
    new_config  JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    applied_at  TIMESTAMPTZ
)`,
		`CREATE TABLE IF NOT EXISTS feed_scheduler_state (
    id                        INT PRIMARY KEY DEFAULT 1,
    last_config_check         TIMESTAMPTZ,
    last_heartbeat            TIMESTAMPTZ,
    last_feed_config_hash     TEXT NOT NULL DEFAULT '',
    last_template_config_hash TEXT NOT NULL DEFAULT '',
    is_active                 BOOLEAN NOT NULL DEFAULT TRUE,
    CONSTRAINT chk_scheduler_state_singleton CHECK (id = 1)
)`,
		`CREATE TABLE IF NOT EXISTS analysis_runs (
    id               SERIAL PRIMARY KEY,
    scope            JSONB NOT NULL,
    params           JSONB NOT NULL,
    scope_hash       CHAR(16) NOT NULL,
    status           VARCHAR(20) NOT NULL DEFAULT 'pending',
    started_at       TIMESTAMPTZ,
    completed_at     TIMESTAMPTZ,
    triggered_by     VARCHAR(20) NOT NULL,
    cost_estimate    DOUBLE PRECISION NOT NULL DEFAULT 0,
    actual_cost      DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_error       TEXT NOT NULL DEFAULT '',
    queued_count     INT NOT NULL DEFAULT 0,
    processed_count  INT NOT NULL DEFAULT 0,
    failed_count     INT NOT NULL DEFAULT 0,
    coverage_10m     DOUBLE PRECISION NOT NULL DEFAULT 0,
    coverage_60m     DOUBLE PRECISION NOT NULL DEFAULT 0,
    error_rate       DOUBLE PRECISION NOT NULL DEFAULT 0,
    items_per_minute DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS analysis_run_items (
    id            SERIAL PRIMARY KEY,
    run_id        INTEGER NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    item_id       INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    state         VARCHAR(20) NOT NULL DEFAULT 'queued',
    started_at    TIMESTAMPTZ,
    completed_at  TIMESTAMPTZ,
    tokens_input  BIGINT NOT NULL DEFAULT 0,
    tokens_output BIGINT NOT NULL DEFAULT 0,
    tokens_cached BIGINT NOT NULL DEFAULT 0,
    cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    sentiment     JSONB,
    impact        JSONB,
    model_tag     TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS queued_runs (
    id              SERIAL PRIMARY KEY,
    priority        VARCHAR(10) NOT NULL,
    status          VARCHAR(20) NOT NULL DEFAULT 'QUEUED',
    scope_hash      CHAR(16) NOT NULL,
    scope           JSONB NOT NULL,
    params          JSONB NOT NULL,
    triggered_by    VARCHAR(20) NOT NULL,
    queue_position  INT NOT NULL DEFAULT 0,
    analysis_run_id INTEGER REFERENCES analysis_runs(id),
    failure_reason  TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at      TIMESTAMPTZ
)`,
		`CREATE TABLE IF NOT EXISTS pending_auto_analysis (
    id            SERIAL PRIMARY KEY,
    feed_id       INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
    item_ids      BIGINT[] NOT NULL,
    status        VARCHAR(20) NOT NULL DEFAULT 'pending',
    error_message TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS feed_metrics (
    feed_id                  INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
    metric_date              DATE NOT NULL,
    items_fetched            INT NOT NULL DEFAULT 0,
    items_analyzed           INT NOT NULL DEFAULT 0,
    avg_processing_time_sec  DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_items_per_run        DOUBLE PRECISION NOT NULL DEFAULT 0,
    sample_count             BIGINT NOT NULL DEFAULT 0,
    cost_usd                 DOUBLE PRECISION NOT NULL DEFAULT 0,
    per_model                JSONB,
    PRIMARY KEY (feed_id, metric_date)
)`,
		`CREATE TABLE IF NOT EXISTS queue_metrics (
    metric_date        DATE NOT NULL,
    metric_hour        INT NOT NULL,
    runs_started       INT NOT NULL DEFAULT 0,
    runs_completed     INT NOT NULL DEFAULT 0,
    runs_failed        INT NOT NULL DEFAULT 0,
    items_queued       INT NOT NULL DEFAULT 0,
    items_processed    INT NOT NULL DEFAULT 0,
    avg_queue_wait_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
    sample_count       BIGINT NOT NULL DEFAULT 0,
    per_model          JSONB,
    PRIMARY KEY (metric_date, metric_hour)
)`,
	}

	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	// パフォーマンス最適化: インデックス追加
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_feeds_status ON feeds(status) WHERE archived_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_items_feed_id ON items(feed_id)`,
		`CREATE INDEX IF NOT EXISTS idx_items_published ON items(published DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_fetch_logs_feed_id ON fetch_logs(feed_id, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_template_assignments_feed_id ON feed_template_assignments(feed_id) WHERE active = TRUE`,
		`CREATE INDEX IF NOT EXISTS idx_feed_configuration_changes_unapplied ON feed_configuration_changes(created_at) WHERE applied_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_runs_scope_hash ON analysis_runs(scope_hash)`,
		// 同時実行ワーカーによる行衝突を避けるためのクレーム用インデックス(FOR UPDATE SKIP LOCKED)
		`CREATE INDEX IF NOT EXISTS idx_analysis_run_items_claim ON analysis_run_items(run_id, state, id)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_run_items_stale ON analysis_run_items(state, started_at) WHERE state = 'processing'`,
		`CREATE INDEX IF NOT EXISTS idx_queued_runs_priority ON queued_runs(status, priority, created_at) WHERE status = 'QUEUED'`,
		`CREATE INDEX IF NOT EXISTS idx_pending_auto_analysis_pending ON pending_auto_analysis(created_at) WHERE status = 'pending'`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	// scope_hash ごとにアクティブな実行は高々1件という不変条件を守る部分ユニークインデックス
	uniquenessIndexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_analysis_runs_active_scope_hash
		    ON analysis_runs(scope_hash) WHERE status IN ('pending','running','paused')`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_queued_runs_active_scope_hash
		    ON queued_runs(scope_hash) WHERE status IN ('QUEUED','RUNNING')`,
	}
	for _, idx := range uniquenessIndexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	// feed.kind 制約追加
	// PostgreSQL特有の制約構文のため、エラーを無視(既に存在する場合)
	_, _ = db.Exec(`
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM pg_constraint
        WHERE conname = 'chk_feed_kind'
    ) THEN
        ALTER TABLE feeds ADD CONSTRAINT chk_feed_kind
        CHECK (kind IN ('RSS', 'Webflow', 'NextJS', 'Remix'));
    END IF;
END $$;
`)

	return nil
}

// MigrateDown rolls back the database schema, dropping every table this
// module owns. Use with caution: this deletes all data.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP TABLE IF EXISTS queue_metrics CASCADE`,
		`DROP TABLE IF EXISTS feed_metrics CASCADE`,
		`DROP TABLE IF EXISTS pending_auto_analysis CASCADE`,
		`DROP TABLE IF EXISTS queued_runs CASCADE`,
		`DROP TABLE IF EXISTS analysis_run_items CASCADE`,
		`DROP TABLE IF EXISTS analysis_runs CASCADE`,
		`DROP TABLE IF EXISTS feed_scheduler_state CASCADE`,
		`DROP TABLE IF EXISTS feed_configuration_changes CASCADE`,
		`DROP TABLE IF EXISTS feed_template_assignments CASCADE`,
		`DROP TABLE IF EXISTS dynamic_feed_templates CASCADE`,
		`DROP TABLE IF EXISTS feed_health CASCADE`,
		`DROP TABLE IF EXISTS fetch_logs CASCADE`,
		`DROP TABLE IF EXISTS items CASCADE`,
		`DROP TABLE IF EXISTS feeds CASCADE`,
	}

	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
