// Package runqueue implements the run queue manager (C6): it turns a
// scheduler/API-triggered analysis request into a deduplicated, priority-
// ordered QueuedRun row, and exposes the dequeue/status-transition
// operations the admission controller (C7) drives (spec §4.6).
package runqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

// ErrUnknownScope is returned by Enqueue when scope.Type is not one of the
// known ScopeType discriminators (spec §9: reject unknown discriminators
// at ingress rather than let them reach storage).
var ErrUnknownScope = entity.ErrUnknownScopeType

var knownScopeTypes = map[entity.ScopeType]bool{
	entity.ScopeItems:     true,
	entity.ScopeFeeds:     true,
	entity.ScopeTimeRange: true,
	entity.ScopeGlobal:    true,
}

// Manager owns the queued_runs FIFO.
type Manager struct {
	queued repository.QueuedRunRepository
	logger *slog.Logger
}

// New constructs a Manager.
func New(queued repository.QueuedRunRepository, logger *slog.Logger) *Manager {
	return &Manager{queued: queued, logger: logger}
}

// Enqueue validates scope, derives its scope_hash, and either returns the
// already-queued/running row for that hash (duplicate suppression, spec
// §4.6) or inserts a new QueuedRun at the priority TriggeredBy implies.
// The bool return reports whether an existing run was returned instead of
// a new one being created.
func (m *Manager) Enqueue(ctx context.Context, scope entity.RunScope, params entity.RunParams, triggeredBy entity.TriggeredBy) (*entity.QueuedRun, bool, error) {
	if !knownScopeTypes[scope.Type] {
		return nil, false, ErrUnknownScope
	}

	hash := entity.ScopeHash(scope, params)

	existing, err := m.queued.ActiveByScopeHash(ctx, hash)
	if err != nil {
		return nil, false, fmt.Errorf("check active scope: %w", err)
	}
	if existing != nil {
		m.logger.Debug("suppressing duplicate run request", slog.String("scope_hash", hash), slog.Int64("existing_queued_run_id", existing.ID))
		return existing, true, nil
	}

	scopeJSON, err := json.Marshal(scope)
	if err != nil {
		return nil, false, fmt.Errorf("marshal scope: %w", err)
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, false, fmt.Errorf("marshal params: %w", err)
	}

	q := &entity.QueuedRun{
		Priority:    entity.PriorityFor(triggeredBy),
		Status:      entity.QueuedStatusQueued,
		ScopeHash:   hash,
		ScopeJSON:   scopeJSON,
		ParamsJSON:  paramsJSON,
		TriggeredBy: triggeredBy,
	}
	if err := m.queued.Enqueue(ctx, q); err != nil {
		return nil, false, fmt.Errorf("enqueue run: %w", err)
	}
	return q, false, nil
}

// Dequeue returns the highest-priority, oldest queued row, or nil if the
// queue is empty.
func (m *Manager) Dequeue(ctx context.Context) (*entity.QueuedRun, error) {
	return m.queued.NextByPriority(ctx)
}

// MarkRunning transitions a queued row to RUNNING once admitted, recording
// the AnalysisRun it now tracks.
func (m *Manager) MarkRunning(ctx context.Context, id int64, analysisRunID int64) error {
	return m.queued.MarkRunning(ctx, id, analysisRunID)
}

// MarkCompleted transitions a queued row to COMPLETED.
func (m *Manager) MarkCompleted(ctx context.Context, id int64) error {
	return m.queued.MarkStatus(ctx, id, entity.QueuedStatusCompleted, "")
}

// MarkFailed transitions a queued row to FAILED with reason.
func (m *Manager) MarkFailed(ctx context.Context, id int64, reason string) error {
	return m.queued.MarkStatus(ctx, id, entity.QueuedStatusFailed, reason)
}

// Cancel transitions a queued row to CANCELLED.
func (m *Manager) Cancel(ctx context.Context, id int64) error {
	return m.queued.MarkStatus(ctx, id, entity.QueuedStatusCancelled, "cancelled by operator")
}

// ClearQueue cancels every row still in QUEUED status and returns the
// count cancelled — used by the emergency-stop operator action.
func (m *Manager) ClearQueue(ctx context.Context) (int, error) {
	rows, err := m.queued.List(ctx, entity.QueuedStatusQueued)
	if err != nil {
		return 0, fmt.Errorf("list queued runs: %w", err)
	}
	cleared := 0
	var firstErr error
	for _, q := range rows {
		if err := m.queued.MarkStatus(ctx, q.ID, entity.QueuedStatusCancelled, "queue cleared"); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		cleared++
	}
	if firstErr != nil {
		return cleared, fmt.Errorf("clear queue: %w", firstErr)
	}
	return cleared, nil
}

// Status returns one queued run by id.
func (m *Manager) Status(ctx context.Context, id int64) (*entity.QueuedRun, error) {
	q, err := m.queued.Get(ctx, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get queued run: %w", err)
	}
	return q, nil
}

// List returns all queued runs in a given status.
func (m *Manager) List(ctx context.Context, status entity.QueuedRunStatus) ([]*entity.QueuedRun, error) {
	return m.queued.List(ctx, status)
}
