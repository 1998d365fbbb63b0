// Package admission implements the admission controller (C7): it gates
// which queued run may start next, in the fixed check order the pipeline
// requires, and drives the queue manager (C6) to admit runs while capacity
// allows (spec §4.7).
package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
	"newspulse/internal/usecase/runqueue"
)

// Quota thresholds (spec §4.7). There is exactly one Controller per worker
// process (spec §9: no global singletons, explicit construction and
// injection), so these are tracked in memory rather than in the database.
const (
	MaxConcurrent = 2
	MaxDaily      = 100
	MaxDailyAuto  = 50
	MaxHourly     = 10
)

// Controller gates admission of queued runs.
type Controller struct {
	mu     sync.Mutex
	runs   repository.AnalysisRunRepository
	logger *slog.Logger

	emergencyStop bool

	dayStart  time.Time
	hourStart time.Time

	dailyCount  int
	dailyAuto   int
	hourlyCount int
	activeCount int
}

// New constructs a Controller with its rolling windows anchored to now.
func New(runs repository.AnalysisRunRepository, logger *slog.Logger) *Controller {
	now := time.Now().UTC()
	return &Controller{
		runs:      runs,
		logger:    logger,
		dayStart:  startOfDay(now),
		hourStart: startOfHour(now),
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func startOfHour(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}

// Decision is the outcome of a CanStart check.
type Decision struct {
	Proceed bool
	Reason  string
}

// CanStart evaluates the fixed admission order: emergency stop, duplicate
// scope, MAX_CONCURRENT, MAX_DAILY, MAX_DAILY_AUTO, MAX_HOURLY.
func (c *Controller) CanStart(ctx context.Context, scopeHash string, triggeredBy entity.TriggeredBy) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollWindows(time.Now().UTC())

	if c.emergencyStop {
		return Decision{Reason: "emergency stop active"}, nil
	}

	active, err := c.runs.ActiveByScopeHash(ctx, scopeHash)
	if err != nil {
		return Decision{}, fmt.Errorf("check active scope: %w", err)
	}
	if active != nil {
		return Decision{Reason: "duplicate scope already running"}, nil
	}

	if c.activeCount >= MaxConcurrent {
		return Decision{Reason: "max concurrent runs reached"}, nil
	}
	if c.dailyCount >= MaxDaily {
		return Decision{Reason: "max daily runs reached"}, nil
	}
	if triggeredBy == entity.TriggeredAuto && c.dailyAuto >= MaxDailyAuto {
		return Decision{Reason: "max daily auto runs reached"}, nil
	}
	if c.hourlyCount >= MaxHourly {
		return Decision{Reason: "max hourly runs reached"}, nil
	}

	return Decision{Proceed: true}, nil
}

// RecordStart advances the in-memory quota counters; callers invoke this
// exactly once per admitted run, at the point it transitions to RUNNING.
func (c *Controller) RecordStart(triggeredBy entity.TriggeredBy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollWindows(time.Now().UTC())
	c.activeCount++
	c.dailyCount++
	c.hourlyCount++
	if triggeredBy == entity.TriggeredAuto {
		c.dailyAuto++
	}
}

// RecordFinish releases the concurrency slot a run held; callers invoke
// this once per run, on completion or failure.
func (c *Controller) RecordFinish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeCount > 0 {
		c.activeCount--
	}
}

func (c *Controller) rollWindows(now time.Time) {
	if d := startOfDay(now); d.After(c.dayStart) {
		c.dayStart = d
		c.dailyCount = 0
		c.dailyAuto = 0
	}
	if h := startOfHour(now); h.After(c.hourStart) {
		c.hourStart = h
		c.hourlyCount = 0
	}
}

// EmergencyStop halts all further admissions until Resume is called.
// Already-running runs are unaffected; use runqueue.Manager.ClearQueue to
// also drain the backlog.
func (c *Controller) EmergencyStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emergencyStop = true
	c.logger.Warn("admission controller emergency stop engaged")
}

// Resume clears the emergency-stop flag.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emergencyStop = false
	c.logger.Info("admission controller resumed from emergency stop")
}

// IsEmergencyStopped reports the current emergency-stop state.
func (c *Controller) IsEmergencyStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emergencyStop
}

// ActiveCount reports the number of runs currently occupying a concurrency
// slot, for observability.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeCount
}

// ProcessQueue drains rq while admission allows, creating the AnalysisRun
// shell for each admitted QueuedRun and flipping it to RUNNING. It returns
// the count of runs admitted this call. Materializing the run's concrete
// item set is C8's job once it claims the run.
func (c *Controller) ProcessQueue(ctx context.Context, rq *runqueue.Manager) (int, error) {
	admitted := 0
	for {
		q, err := rq.Dequeue(ctx)
		if err != nil {
			return admitted, fmt.Errorf("dequeue: %w", err)
		}
		if q == nil {
			return admitted, nil
		}

		decision, err := c.CanStart(ctx, q.ScopeHash, q.TriggeredBy)
		if err != nil {
			return admitted, err
		}
		if !decision.Proceed {
			// Stop rather than skip past this row: priority/FIFO order
			// must hold, and a later row admitting ahead of a blocked one
			// would violate it.
			c.logger.Debug("admission refused head of queue",
				slog.Int64("queued_run_id", q.ID), slog.String("reason", decision.Reason))
			return admitted, nil
		}

		var scope entity.RunScope
		if err := json.Unmarshal(q.ScopeJSON, &scope); err != nil {
			_ = rq.MarkFailed(ctx, q.ID, "corrupt scope json")
			continue
		}
		var params entity.RunParams
		if err := json.Unmarshal(q.ParamsJSON, &params); err != nil {
			_ = rq.MarkFailed(ctx, q.ID, "corrupt params json")
			continue
		}

		run := &entity.AnalysisRun{
			Scope:       scope,
			Params:      params,
			ScopeHash:   q.ScopeHash,
			Status:      entity.RunPending,
			TriggeredBy: q.TriggeredBy,
		}
		if err := c.runs.Create(ctx, run); err != nil {
			return admitted, fmt.Errorf("create analysis run: %w", err)
		}
		if err := rq.MarkRunning(ctx, q.ID, run.ID); err != nil {
			return admitted, fmt.Errorf("mark queued run running: %w", err)
		}
		c.RecordStart(q.TriggeredBy)
		admitted++
	}
}
