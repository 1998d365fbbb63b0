package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

type AnalysisRunRepo struct{ db *sql.DB }

func NewAnalysisRunRepo(db *sql.DB) repository.AnalysisRunRepository {
	return &AnalysisRunRepo{db: db}
}

func (r *AnalysisRunRepo) Create(ctx context.Context, run *entity.AnalysisRun) error {
	scopeJSON, err := json.Marshal(run.Scope)
	if err != nil {
		return fmt.Errorf("Create: marshal scope: %w", err)
	}
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("Create: marshal params: %w", err)
	}
	const query = `
INSERT INTO analysis_runs (scope, params, scope_hash, status, triggered_by, cost_estimate, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,now(),now())
RETURNING id, updated_at`
	err = r.db.QueryRowContext(ctx, query, scopeJSON, paramsJSON, run.ScopeHash, run.Status, run.TriggeredBy, run.CostEstimate).
		Scan(&run.ID, &run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

const analysisRunColumns = `id, scope, params, scope_hash, status, started_at, completed_at,
	triggered_by, cost_estimate, actual_cost, last_error, queued_count, processed_count, failed_count,
	coverage_10m, coverage_60m, error_rate, items_per_minute, updated_at`

func scanAnalysisRun(row interface{ Scan(...interface{}) error }) (*entity.AnalysisRun, error) {
	var run entity.AnalysisRun
	var scopeJSON, paramsJSON []byte
	if err := row.Scan(&run.ID, &scopeJSON, &paramsJSON, &run.ScopeHash, &run.Status,
		&run.StartedAt, &run.CompletedAt, &run.TriggeredBy, &run.CostEstimate, &run.ActualCost, &run.LastError,
		&run.QueuedCount, &run.ProcessedCount, &run.FailedCount, &run.Coverage10m, &run.Coverage60m,
		&run.ErrorRate, &run.ItemsPerMinute, &run.UpdatedAt); err != nil {
		return nil, err
	}
	if len(scopeJSON) > 0 {
		if err := json.Unmarshal(scopeJSON, &run.Scope); err != nil {
			return nil, fmt.Errorf("unmarshal scope: %w", err)
		}
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &run.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	return &run, nil
}

func (r *AnalysisRunRepo) Get(ctx context.Context, id int64) (*entity.AnalysisRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM analysis_runs WHERE id = $1`, analysisRunColumns)
	run, err := scanAnalysisRun(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return run, nil
}

func (r *AnalysisRunRepo) ActiveByScopeHash(ctx context.Context, scopeHash string) (*entity.AnalysisRun, error) {
	query := fmt.Sprintf(`
SELECT %s FROM analysis_runs
WHERE scope_hash = $1 AND status IN ('pending','running','paused')
ORDER BY id DESC LIMIT 1`, analysisRunColumns)
	run, err := scanAnalysisRun(r.db.QueryRowContext(ctx, query, scopeHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ActiveByScopeHash: %w", err)
	}
	return run, nil
}

func (r *AnalysisRunRepo) ListActive(ctx context.Context, limit int) ([]*entity.AnalysisRun, error) {
	query := fmt.Sprintf(`
SELECT %s FROM analysis_runs
WHERE status IN ('pending','running')
ORDER BY id ASC
LIMIT $1`, analysisRunColumns)
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ListActive: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]*entity.AnalysisRun, 0, limit)
	for rows.Next() {
		run, err := scanAnalysisRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ListActive: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *AnalysisRunRepo) UpdateStatus(ctx context.Context, id int64, status entity.RunStatus, lastError string) error {
	const query = `
UPDATE analysis_runs SET status = $1, last_error = $2, updated_at = now(),
	started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN now() ELSE started_at END
WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, lastError, id)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	return nil
}

// UpdateProgress advances processed/failed counters by the given deltas and
// derives error_rate and items_per_minute from the resulting totals and
// started_at server-side, so callers need only report what happened in the
// chunk just processed (spec §4.8 step 3).
func (r *AnalysisRunRepo) UpdateProgress(ctx context.Context, id int64, processedDelta, failedDelta int, coverage10m, coverage60m float64) error {
	const query = `
UPDATE analysis_runs SET
	processed_count = processed_count + $1,
	failed_count = failed_count + $2,
	coverage_10m = $3,
	coverage_60m = $4,
	error_rate = CASE WHEN (processed_count + $1 + failed_count + $2) > 0
		THEN (failed_count + $2)::float8 / (processed_count + $1 + failed_count + $2)
		ELSE 0 END,
	items_per_minute = CASE WHEN started_at IS NOT NULL AND extract(epoch FROM now() - started_at) > 0
		THEN (processed_count + $1) / (extract(epoch FROM now() - started_at) / 60.0)
		ELSE items_per_minute END,
	updated_at = now()
WHERE id = $5`
	_, err := r.db.ExecContext(ctx, query, processedDelta, failedDelta, coverage10m, coverage60m, id)
	if err != nil {
		return fmt.Errorf("UpdateProgress: %w", err)
	}
	return nil
}

func (r *AnalysisRunRepo) SetCostEstimate(ctx context.Context, id int64, estimate float64) error {
	const query = `UPDATE analysis_runs SET cost_estimate = $1, updated_at = now() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, estimate, id)
	if err != nil {
		return fmt.Errorf("SetCostEstimate: %w", err)
	}
	return nil
}

func (r *AnalysisRunRepo) AddActualCost(ctx context.Context, id int64, delta float64) error {
	const query = `UPDATE analysis_runs SET actual_cost = actual_cost + $1, updated_at = now() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, delta, id)
	if err != nil {
		return fmt.Errorf("AddActualCost: %w", err)
	}
	return nil
}

func (r *AnalysisRunRepo) Complete(ctx context.Context, id int64, completedAt time.Time, status entity.RunStatus) error {
	const query = `UPDATE analysis_runs SET completed_at = $1, status = $2, updated_at = now() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, completedAt, status, id)
	if err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	return nil
}

type AnalysisRunItemRepo struct{ db *sql.DB }

func NewAnalysisRunItemRepo(db *sql.DB) repository.AnalysisRunItemRepository {
	return &AnalysisRunItemRepo{db: db}
}

func (r *AnalysisRunItemRepo) BulkInsertQueued(ctx context.Context, runID int64, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	const query = `
INSERT INTO analysis_run_items (run_id, item_id, state, created_at)
SELECT $1, unnest($2::bigint[]), 'queued', now()`
	_, err := r.db.ExecContext(ctx, query, runID, pq.Array(itemIDs))
	if err != nil {
		return fmt.Errorf("BulkInsertQueued: %w", err)
	}
	return nil
}

// ClaimQueuedRunItems is the pivot operation from spec §4.1: a single
// statement that selects the oldest `queued` rows for runID, locks them
// with FOR UPDATE SKIP LOCKED, and atomically flips them to `processing`
// with started_at set, letting multiple workers and multiple concurrent
// runs claim disjoint rows without colliding.
func (r *AnalysisRunItemRepo) ClaimQueuedRunItems(ctx context.Context, runID int64, chunkSize int) ([]*entity.AnalysisRunItem, error) {
	const query = `
WITH claimed AS (
	SELECT id FROM analysis_run_items
	WHERE run_id = $1 AND state = 'queued'
	ORDER BY id ASC
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
UPDATE analysis_run_items SET state = 'processing', started_at = now()
WHERE id IN (SELECT id FROM claimed)
RETURNING id, run_id, item_id, state, started_at, completed_at,
	tokens_input, tokens_output, tokens_cached, cost_usd, error_message, created_at,
	sentiment, impact, model_tag`
	rows, err := r.db.QueryContext(ctx, query, runID, chunkSize)
	if err != nil {
		return nil, fmt.Errorf("ClaimQueuedRunItems: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]*entity.AnalysisRunItem, 0, chunkSize)
	for rows.Next() {
		var it entity.AnalysisRunItem
		if err := rows.Scan(&it.ID, &it.RunID, &it.ItemID, &it.State, &it.StartedAt, &it.CompletedAt,
			&it.TokensUsed.Input, &it.TokensUsed.Output, &it.TokensUsed.Cached, &it.CostUSD, &it.ErrorMessage, &it.CreatedAt,
			&it.SentimentJSON, &it.ImpactJSON, &it.ModelTag); err != nil {
			return nil, fmt.Errorf("ClaimQueuedRunItems: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// ResetStaleProcessing flips `processing` rows older than maxAge back to
// `queued` for crash recovery (spec §4.1). This is the only transition that
// is allowed to move state backward outside the normal monotonic flow.
func (r *AnalysisRunItemRepo) ResetStaleProcessing(ctx context.Context, maxAge time.Duration) (int, error) {
	const query = `
UPDATE analysis_run_items SET state = 'queued', started_at = NULL
WHERE state = 'processing' AND started_at < $1`
	cutoff := time.Now().Add(-maxAge)
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ResetStaleProcessing: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *AnalysisRunItemRepo) MarkCompleted(ctx context.Context, id int64, sentiment, impact []byte, tokens entity.TokenUsage, costUSD float64) error {
	const query = `
UPDATE analysis_run_items SET
	state = 'completed', completed_at = now(), sentiment = $1, impact = $2,
	tokens_input = $3, tokens_output = $4, tokens_cached = $5, cost_usd = $6
WHERE id = $7`
	_, err := r.db.ExecContext(ctx, query, sentiment, impact, tokens.Input, tokens.Output, tokens.Cached, costUSD, id)
	if err != nil {
		return fmt.Errorf("MarkCompleted: %w", err)
	}
	return nil
}

func (r *AnalysisRunItemRepo) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	const query = `UPDATE analysis_run_items SET state = 'failed', completed_at = now(), error_message = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, errMsg, id)
	if err != nil {
		return fmt.Errorf("MarkFailed: %w", err)
	}
	return nil
}

func (r *AnalysisRunItemRepo) MarkSkipped(ctx context.Context, id int64, reason string) error {
	const query = `UPDATE analysis_run_items SET state = 'skipped', completed_at = now(), error_message = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, reason, id)
	if err != nil {
		return fmt.Errorf("MarkSkipped: %w", err)
	}
	return nil
}

func (r *AnalysisRunItemRepo) CountByState(ctx context.Context, runID int64, state entity.RunItemState) (int, error) {
	const query = `SELECT count(*) FROM analysis_run_items WHERE run_id = $1 AND state = $2`
	var n int
	if err := r.db.QueryRowContext(ctx, query, runID, state).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountByState: %w", err)
	}
	return n, nil
}
