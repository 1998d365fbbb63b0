package admission_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newspulse/internal/domain/entity"
	"newspulse/internal/usecase/admission"
	"newspulse/internal/usecase/runqueue"
)

type fakeAnalysisRunRepo struct {
	runs          []*entity.AnalysisRun
	nextID        int64
	activeByScope map[string]*entity.AnalysisRun
}

func (f *fakeAnalysisRunRepo) Create(_ context.Context, run *entity.AnalysisRun) error {
	f.nextID++
	run.ID = f.nextID
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeAnalysisRunRepo) Get(_ context.Context, id int64) (*entity.AnalysisRun, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (f *fakeAnalysisRunRepo) ActiveByScopeHash(_ context.Context, scopeHash string) (*entity.AnalysisRun, error) {
	if f.activeByScope == nil {
		return nil, nil
	}
	return f.activeByScope[scopeHash], nil
}

func (f *fakeAnalysisRunRepo) UpdateStatus(_ context.Context, id int64, status entity.RunStatus, lastError string) error {
	for _, r := range f.runs {
		if r.ID == id {
			r.Status = status
			r.LastError = lastError
			return nil
		}
	}
	return entity.ErrNotFound
}

func (f *fakeAnalysisRunRepo) UpdateProgress(_ context.Context, id int64, processedDelta, failedDelta int, coverage10m, coverage60m float64) error {
	return nil
}

func (f *fakeAnalysisRunRepo) Complete(_ context.Context, id int64, completedAt time.Time, status entity.RunStatus) error {
	return nil
}

type fakeQueuedRunRepo struct {
	rows   []*entity.QueuedRun
	nextID int64
}

func (f *fakeQueuedRunRepo) Enqueue(_ context.Context, q *entity.QueuedRun) error {
	f.nextID++
	q.ID = f.nextID
	f.rows = append(f.rows, q)
	return nil
}

func (f *fakeQueuedRunRepo) ActiveByScopeHash(_ context.Context, scopeHash string) (*entity.QueuedRun, error) {
	for _, q := range f.rows {
		if q.ScopeHash == scopeHash && (q.Status == entity.QueuedStatusQueued || q.Status == entity.QueuedStatusRunning) {
			return q, nil
		}
	}
	return nil, nil
}

func (f *fakeQueuedRunRepo) NextByPriority(_ context.Context) (*entity.QueuedRun, error) {
	order := map[entity.Priority]int{entity.PriorityHigh: 0, entity.PriorityMedium: 1, entity.PriorityLow: 2}
	var best *entity.QueuedRun
	for _, q := range f.rows {
		if q.Status != entity.QueuedStatusQueued {
			continue
		}
		if best == nil || order[q.Priority] < order[best.Priority] {
			best = q
		}
	}
	return best, nil
}

func (f *fakeQueuedRunRepo) MarkRunning(_ context.Context, id int64, analysisRunID int64) error {
	for _, q := range f.rows {
		if q.ID == id {
			q.Status = entity.QueuedStatusRunning
			q.AnalysisRunID = &analysisRunID
			return nil
		}
	}
	return entity.ErrNotFound
}

func (f *fakeQueuedRunRepo) MarkStatus(_ context.Context, id int64, status entity.QueuedRunStatus, reason string) error {
	for _, q := range f.rows {
		if q.ID == id {
			q.Status = status
			q.FailureReason = reason
			return nil
		}
	}
	return entity.ErrNotFound
}

func (f *fakeQueuedRunRepo) Get(_ context.Context, id int64) (*entity.QueuedRun, error) {
	for _, q := range f.rows {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (f *fakeQueuedRunRepo) List(_ context.Context, status entity.QueuedRunStatus) ([]*entity.QueuedRun, error) {
	var out []*entity.QueuedRun
	for _, q := range f.rows {
		if q.Status == status {
			out = append(out, q)
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCanStart_RefusedWhenEmergencyStopped(t *testing.T) {
	c := admission.New(&fakeAnalysisRunRepo{}, testLogger())
	c.EmergencyStop()

	decision, err := c.CanStart(context.Background(), "anyhash", entity.TriggeredManual)
	require.NoError(t, err)
	assert.False(t, decision.Proceed)
	assert.Contains(t, decision.Reason, "emergency stop")
}

func TestCanStart_RefusedOnDuplicateScope(t *testing.T) {
	runs := &fakeAnalysisRunRepo{activeByScope: map[string]*entity.AnalysisRun{
		"dup": {ID: 1, Status: entity.RunRunning},
	}}
	c := admission.New(runs, testLogger())

	decision, err := c.CanStart(context.Background(), "dup", entity.TriggeredManual)
	require.NoError(t, err)
	assert.False(t, decision.Proceed)
	assert.Contains(t, decision.Reason, "duplicate scope")
}

func TestCanStart_RefusedAtMaxConcurrent(t *testing.T) {
	c := admission.New(&fakeAnalysisRunRepo{}, testLogger())
	for i := 0; i < admission.MaxConcurrent; i++ {
		c.RecordStart(entity.TriggeredManual)
	}

	decision, err := c.CanStart(context.Background(), "fresh", entity.TriggeredManual)
	require.NoError(t, err)
	assert.False(t, decision.Proceed)
	assert.Contains(t, decision.Reason, "max concurrent")
}

func TestCanStart_RefusedAtMaxDailyAuto(t *testing.T) {
	c := admission.New(&fakeAnalysisRunRepo{}, testLogger())
	for i := 0; i < admission.MaxDailyAuto; i++ {
		c.RecordStart(entity.TriggeredAuto)
		c.RecordFinish()
	}

	decision, err := c.CanStart(context.Background(), "fresh-auto", entity.TriggeredAuto)
	require.NoError(t, err)
	assert.False(t, decision.Proceed)
	assert.Contains(t, decision.Reason, "max daily auto")

	// A manual trigger is unaffected by the auto-specific quota.
	decision, err = c.CanStart(context.Background(), "fresh-manual", entity.TriggeredManual)
	require.NoError(t, err)
	assert.True(t, decision.Proceed)
}

func TestRecordFinish_ReleasesConcurrencySlot(t *testing.T) {
	c := admission.New(&fakeAnalysisRunRepo{}, testLogger())
	c.RecordStart(entity.TriggeredManual)
	assert.Equal(t, 1, c.ActiveCount())
	c.RecordFinish()
	assert.Equal(t, 0, c.ActiveCount())
}

func TestProcessQueue_AdmitsUntilRefused(t *testing.T) {
	runsRepo := &fakeAnalysisRunRepo{}
	queuedRepo := &fakeQueuedRunRepo{}
	rq := runqueue.New(queuedRepo, testLogger())
	c := admission.New(runsRepo, testLogger())

	for i := int64(1); i <= 3; i++ {
		_, _, err := rq.Enqueue(context.Background(), entity.RunScope{Type: entity.ScopeFeeds, FeedIDs: []int64{i}}, entity.RunParams{}, entity.TriggeredManual)
		require.NoError(t, err)
	}

	admitted, err := c.ProcessQueue(context.Background(), rq)
	require.NoError(t, err)
	assert.Equal(t, admission.MaxConcurrent, admitted)
	assert.Equal(t, admission.MaxConcurrent, c.ActiveCount())

	remaining, err := rq.List(context.Background(), entity.QueuedStatusQueued)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
