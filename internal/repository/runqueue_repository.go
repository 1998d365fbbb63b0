package repository

import (
	"context"

	"newspulse/internal/domain/entity"
)

// QueuedRunRepository is the Storage Adapter's contract for runs awaiting
// admission (spec §3 QueuedRun). Invariant: only one {QUEUED, RUNNING} row
// per scope_hash.
type QueuedRunRepository interface {
	Enqueue(ctx context.Context, q *entity.QueuedRun) error
	// ActiveByScopeHash returns the QUEUED or RUNNING row for scope_hash, or
	// nil — used for duplicate-run suppression (spec §4.6).
	ActiveByScopeHash(ctx context.Context, scopeHash string) (*entity.QueuedRun, error)
	// NextByPriority returns the oldest queued row at the highest available
	// priority (HIGH, then MEDIUM, then LOW), or nil if the queue is empty.
	NextByPriority(ctx context.Context) (*entity.QueuedRun, error)
	MarkRunning(ctx context.Context, id int64, analysisRunID int64) error
	MarkStatus(ctx context.Context, id int64, status entity.QueuedRunStatus, failureReason string) error
	Get(ctx context.Context, id int64) (*entity.QueuedRun, error)
	List(ctx context.Context, status entity.QueuedRunStatus) ([]*entity.QueuedRun, error)
}

// PendingAutoAnalysisRepository is the Storage Adapter's contract for the
// fetcher→worker auto-analysis handoff FIFO (spec §3 PendingAutoAnalysis).
type PendingAutoAnalysisRepository interface {
	Enqueue(ctx context.Context, p *entity.PendingAutoAnalysis) error
	// ClaimNextPending atomically selects and marks the oldest pending row
	// as processing, mirroring AnalysisRunItemRepository's claim pattern so
	// a single worker never double-drains the FIFO.
	ClaimNextPending(ctx context.Context) (*entity.PendingAutoAnalysis, error)
	MarkDone(ctx context.Context, id int64) error
	MarkError(ctx context.Context, id int64, errMsg string) error
}
