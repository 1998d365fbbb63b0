package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

type QueuedRunRepo struct{ db *sql.DB }

func NewQueuedRunRepo(db *sql.DB) repository.QueuedRunRepository {
	return &QueuedRunRepo{db: db}
}

const queuedRunColumns = `id, priority, status, scope_hash, scope, params, triggered_by,
	queue_position, analysis_run_id, failure_reason, created_at, started_at`

func scanQueuedRun(row interface{ Scan(...interface{}) error }) (*entity.QueuedRun, error) {
	var q entity.QueuedRun
	if err := row.Scan(&q.ID, &q.Priority, &q.Status, &q.ScopeHash, &q.ScopeJSON, &q.ParamsJSON, &q.TriggeredBy,
		&q.QueuePosition, &q.AnalysisRunID, &q.FailureReason, &q.CreatedAt, &q.StartedAt); err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *QueuedRunRepo) Enqueue(ctx context.Context, q *entity.QueuedRun) error {
	const query = `
INSERT INTO queued_runs (priority, status, scope_hash, scope, params, triggered_by, queue_position, created_at)
VALUES ($1,$2,$3,$4,$5,$6,
	(SELECT COALESCE(MAX(queue_position),0)+1 FROM queued_runs WHERE status = 'QUEUED'),
	now())
RETURNING id, queue_position, created_at`
	err := r.db.QueryRowContext(ctx, query, q.Priority, q.Status, q.ScopeHash, q.ScopeJSON, q.ParamsJSON, q.TriggeredBy).
		Scan(&q.ID, &q.QueuePosition, &q.CreatedAt)
	if err != nil {
		return fmt.Errorf("Enqueue: %w", err)
	}
	return nil
}

func (r *QueuedRunRepo) ActiveByScopeHash(ctx context.Context, scopeHash string) (*entity.QueuedRun, error) {
	query := fmt.Sprintf(`
SELECT %s FROM queued_runs
WHERE scope_hash = $1 AND status IN ('QUEUED','RUNNING')
ORDER BY id DESC LIMIT 1`, queuedRunColumns)
	q, err := scanQueuedRun(r.db.QueryRowContext(ctx, query, scopeHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ActiveByScopeHash: %w", err)
	}
	return q, nil
}

// NextByPriority pops the next queued run in admission order: HIGH before
// MEDIUM before LOW, and oldest-first within a priority tier (spec §5/§4.1).
// The row is locked FOR UPDATE SKIP LOCKED so a concurrent admission
// controller instance cannot pop the same run twice.
func (r *QueuedRunRepo) NextByPriority(ctx context.Context) (*entity.QueuedRun, error) {
	query := fmt.Sprintf(`
SELECT %s FROM queued_runs
WHERE status = 'QUEUED'
ORDER BY
	CASE priority WHEN 'HIGH' THEN 0 WHEN 'MEDIUM' THEN 1 ELSE 2 END,
	created_at ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`, queuedRunColumns)
	q, err := scanQueuedRun(r.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("NextByPriority: %w", err)
	}
	return q, nil
}

func (r *QueuedRunRepo) MarkRunning(ctx context.Context, id int64, analysisRunID int64) error {
	const query = `
UPDATE queued_runs SET status = 'RUNNING', analysis_run_id = $1, started_at = now()
WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, analysisRunID, id)
	if err != nil {
		return fmt.Errorf("MarkRunning: %w", err)
	}
	return nil
}

func (r *QueuedRunRepo) MarkStatus(ctx context.Context, id int64, status entity.QueuedRunStatus, failureReason string) error {
	const query = `UPDATE queued_runs SET status = $1, failure_reason = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, failureReason, id)
	if err != nil {
		return fmt.Errorf("MarkStatus: %w", err)
	}
	return nil
}

var _ repository.QueuedRunRepository = (*QueuedRunRepo)(nil)

func (r *QueuedRunRepo) Get(ctx context.Context, id int64) (*entity.QueuedRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM queued_runs WHERE id = $1`, queuedRunColumns)
	q, err := scanQueuedRun(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return q, nil
}

func (r *QueuedRunRepo) List(ctx context.Context, status entity.QueuedRunStatus) ([]*entity.QueuedRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM queued_runs WHERE status = $1 ORDER BY created_at ASC`, queuedRunColumns)
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]*entity.QueuedRun, 0, 16)
	for rows.Next() {
		q, err := scanQueuedRun(rows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		runs = append(runs, q)
	}
	return runs, rows.Err()
}

type PendingAutoAnalysisRepo struct{ db *sql.DB }

func NewPendingAutoAnalysisRepo(db *sql.DB) repository.PendingAutoAnalysisRepository {
	return &PendingAutoAnalysisRepo{db: db}
}

func (r *PendingAutoAnalysisRepo) Enqueue(ctx context.Context, p *entity.PendingAutoAnalysis) error {
	const query = `
INSERT INTO pending_auto_analysis (feed_id, item_ids, status, created_at)
VALUES ($1,$2,'pending',now())
RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, p.FeedID, pq.Array(p.ItemIDs)).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("Enqueue: %w", err)
	}
	p.Status = entity.PendingAutoStatusPending
	return nil
}

// ClaimNextPending locks and claims the oldest pending row, flipping it to
// `processing` in one statement so multiple worker instances don't double-claim.
func (r *PendingAutoAnalysisRepo) ClaimNextPending(ctx context.Context) (*entity.PendingAutoAnalysis, error) {
	const query = `
WITH claimed AS (
	SELECT id FROM pending_auto_analysis
	WHERE status = 'pending'
	ORDER BY created_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE pending_auto_analysis SET status = 'processing'
WHERE id IN (SELECT id FROM claimed)
RETURNING id, feed_id, item_ids, status, error_message, created_at`
	var p entity.PendingAutoAnalysis
	var itemIDs pq.Int64Array
	err := r.db.QueryRowContext(ctx, query).Scan(&p.ID, &p.FeedID, &itemIDs, &p.Status, &p.ErrorMessage, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ClaimNextPending: %w", err)
	}
	p.ItemIDs = []int64(itemIDs)
	return &p, nil
}

func (r *PendingAutoAnalysisRepo) MarkDone(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE pending_auto_analysis SET status = 'done' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("MarkDone: %w", err)
	}
	return nil
}

func (r *PendingAutoAnalysisRepo) MarkError(ctx context.Context, id int64, errMsg string) error {
	const query = `UPDATE pending_auto_analysis SET status = 'error', error_message = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, errMsg, id)
	if err != nil {
		return fmt.Errorf("MarkError: %w", err)
	}
	return nil
}

var _ repository.PendingAutoAnalysisRepository = (*PendingAutoAnalysisRepo)(nil)
