package entity

import "time"

// ScopeType discriminates a RunScope. Unknown discriminators must be
// rejected at ingress (spec.md §9 "Dynamic typing of scope/params").
type ScopeType string

const (
	ScopeItems     ScopeType = "items"
	ScopeFeeds     ScopeType = "feeds"
	ScopeTimeRange ScopeType = "timerange"
	ScopeGlobal    ScopeType = "global"
)

// RunScope describes what an AnalysisRun analyzes. Exactly the fields
// relevant to Type are meaningful; the rest are zero.
type RunScope struct {
	Type      ScopeType
	ItemIDs   []int64
	FeedIDs   []int64
	StartTime *time.Time
	EndTime   *time.Time
	ModelTag  string
	Limit     int
}

// RunParams are the tunables of an AnalysisRun.
type RunParams struct {
	Model              string
	RatePerSecond      float64
	Limit              int
	OverrideExisting   bool
	UnanalyzedOnly     bool
	MinImpactThreshold *float64
	MaxImpactThreshold *float64
}

// DefaultRatePerSecond and the bounds enforced on RunParams.RatePerSecond.
const (
	DefaultRatePerSecond = 1.0
	MinRatePerSecond     = 0.2
	MaxRatePerSecond     = 3.0
)

// TriggeredBy identifies what caused a run to be created, which in turn
// determines its priority (manual=HIGH, scheduled=MEDIUM, auto=LOW).
type TriggeredBy string

const (
	TriggeredManual    TriggeredBy = "manual"
	TriggeredScheduled TriggeredBy = "scheduled"
	TriggeredAuto      TriggeredBy = "auto"
)

// Priority is derived from TriggeredBy and drives queue dequeue order.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// PriorityFor maps a trigger to its queue priority.
func PriorityFor(t TriggeredBy) Priority {
	switch t {
	case TriggeredManual:
		return PriorityHigh
	case TriggeredScheduled:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// RunStatus is the lifecycle state of an AnalysisRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// AnalysisRun is a batch analysis job.
type AnalysisRun struct {
	ID             int64
	Scope          RunScope
	Params         RunParams
	ScopeHash      string // 16 hex chars
	Status         RunStatus
	StartedAt      *time.Time
	CompletedAt    *time.Time
	TriggeredBy    TriggeredBy
	CostEstimate   float64
	ActualCost     float64
	LastError      string
	QueuedCount    int
	ProcessedCount int
	FailedCount    int
	Coverage10m    float64
	Coverage60m    float64
	ErrorRate      float64
	ItemsPerMinute float64
	UpdatedAt      time.Time
}

// IsActive reports whether the run currently occupies a concurrency slot.
func (r *AnalysisRun) IsActive() bool {
	return r.Status == RunPending || r.Status == RunRunning
}

// RunItemState is the lifecycle of one item inside a run. Transitions are
// monotonic: queued -> processing -> {completed|failed|skipped}, except
// for the explicit processing->queued reclaim done by ResetStaleProcessing.
type RunItemState string

const (
	RunItemQueued     RunItemState = "queued"
	RunItemProcessing RunItemState = "processing"
	RunItemCompleted  RunItemState = "completed"
	RunItemFailed     RunItemState = "failed"
	RunItemSkipped    RunItemState = "skipped"
)

// TokenUsage is the token breakdown the LLM client reports.
type TokenUsage struct {
	Input  int64
	Output int64
	Cached int64
}

// AnalysisRunItem is one item inside a run.
type AnalysisRunItem struct {
	ID           int64
	RunID        int64
	ItemID       int64
	State        RunItemState
	StartedAt    *time.Time
	CompletedAt  *time.Time
	TokensUsed   TokenUsage
	CostUSD      float64
	ErrorMessage string
	CreatedAt    time.Time

	SentimentJSON []byte
	ImpactJSON    []byte
	ModelTag      string
}

// QueuedRunStatus is the lifecycle of a QueuedRun.
type QueuedRunStatus string

const (
	QueuedStatusQueued    QueuedRunStatus = "QUEUED"
	QueuedStatusRunning   QueuedRunStatus = "RUNNING"
	QueuedStatusCompleted QueuedRunStatus = "COMPLETED"
	QueuedStatusFailed    QueuedRunStatus = "FAILED"
	QueuedStatusCancelled QueuedRunStatus = "CANCELLED"
)

// QueuedRun is a pending run awaiting admission.
type QueuedRun struct {
	ID            int64
	Priority      Priority
	Status        QueuedRunStatus
	ScopeHash     string
	ScopeJSON     []byte
	ParamsJSON    []byte
	TriggeredBy   TriggeredBy
	QueuePosition int
	AnalysisRunID *int64
	FailureReason string
	CreatedAt     time.Time
	StartedAt     *time.Time
}

// PendingAutoAnalysisStatus is the lifecycle of a PendingAutoAnalysis row.
type PendingAutoAnalysisStatus string

const (
	PendingAutoStatusPending    PendingAutoAnalysisStatus = "pending"
	PendingAutoStatusProcessing PendingAutoAnalysisStatus = "processing"
	PendingAutoStatusDone       PendingAutoAnalysisStatus = "done"
	PendingAutoStatusError      PendingAutoAnalysisStatus = "error"
)

// PendingAutoAnalysis is a FIFO request written by the fetcher and drained
// by the worker: "these newly-inserted items for this feed should be
// auto-analyzed."
type PendingAutoAnalysis struct {
	ID           int64
	FeedID       int64
	ItemIDs      []int64
	Status       PendingAutoAnalysisStatus
	ErrorMessage string
	CreatedAt    time.Time
}
