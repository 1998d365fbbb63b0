package repository

import (
	"context"
	"time"

	"newspulse/internal/domain/entity"
)

// AnalysisRunRepository is the Storage Adapter's contract for analysis run
// batch jobs (spec §3 AnalysisRun). Invariant: at most one active run per
// scope_hash — enforced by ActiveByScopeHash plus a unique partial index in
// the schema, not by this interface alone.
type AnalysisRunRepository interface {
	Create(ctx context.Context, run *entity.AnalysisRun) error
	Get(ctx context.Context, id int64) (*entity.AnalysisRun, error)
	// ActiveByScopeHash returns the run currently pending/running/paused for
	// scope_hash, or nil if none — used to enforce single-active-run-per-scope.
	ActiveByScopeHash(ctx context.Context, scopeHash string) (*entity.AnalysisRun, error)
	// ListActive returns pending/running runs, oldest first, bounded to
	// limit — the worker's per-cycle active-run set (spec §4.8 step 3).
	ListActive(ctx context.Context, limit int) ([]*entity.AnalysisRun, error)
	UpdateStatus(ctx context.Context, id int64, status entity.RunStatus, lastError string) error
	// UpdateProgress additively advances the run's aggregate counters and
	// SLO gauges; callers pass deltas, not absolute values, so concurrent
	// workers completing items for the same run don't race-overwrite.
	UpdateProgress(ctx context.Context, id int64, processedDelta, failedDelta int, coverage10m, coverage60m float64) error
	Complete(ctx context.Context, id int64, completedAt time.Time, status entity.RunStatus) error
	// SetCostEstimate records the conservative cost_estimate computed once
	// the run's item set is known (spec §4.8.2).
	SetCostEstimate(ctx context.Context, id int64, estimate float64) error
	// AddActualCost accumulates actual_cost by delta as each chunk of items
	// completes (spec §4.8.2: actual cost is the sum of per-item costs).
	AddActualCost(ctx context.Context, id int64, delta float64) error
}

// AnalysisRunItemRepository is the Storage Adapter's contract for per-item
// run rows (spec §3 AnalysisRunItem, §4.1's claim/reclaim contracts).
type AnalysisRunItemRepository interface {
	BulkInsertQueued(ctx context.Context, runID int64, itemIDs []int64) error

	// ClaimQueuedRunItems selects the oldest `queued` rows for runID, locks
	// them with FOR UPDATE SKIP LOCKED so concurrent workers/runs don't
	// collide, and atomically flips them to `processing` with started_at
	// set — all in one statement (spec §4.1).
	ClaimQueuedRunItems(ctx context.Context, runID int64, chunkSize int) ([]*entity.AnalysisRunItem, error)

	// ResetStaleProcessing flips `processing` rows older than maxAge back to
	// `queued`, across all runs, and returns the count reclaimed (spec §4.1,
	// crash recovery).
	ResetStaleProcessing(ctx context.Context, maxAge time.Duration) (int, error)

	MarkCompleted(ctx context.Context, id int64, sentiment, impact []byte, tokens entity.TokenUsage, costUSD float64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	MarkSkipped(ctx context.Context, id int64, reason string) error

	CountByState(ctx context.Context, runID int64, state entity.RunItemState) (int, error)
}
