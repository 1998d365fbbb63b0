// Package scheduler implements the dynamic feed scheduler (C5): the single
// active loop that holds an in-memory view of every active feed's next-fetch
// time, reconciles that view against the configuration watcher (C4) each
// tick, and dispatches due feeds to the fetcher (C3) in bounded-concurrency
// batches (spec §4.5).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
	"newspulse/internal/usecase/confwatcher"
)

// Tick tunables (spec §4.5).
const (
	TickInterval        = 5 * time.Second
	DefaultConfigCheck  = 30 * time.Second
	DispatchBatch       = 5
	MaxBackoff          = 240 * time.Minute
	ShutdownGracePeriod = 30 * time.Second
)

// FeedFetcher is the Feed Fetcher core (C3) as seen by the scheduler: fetch
// one feed and report success or failure. The scheduler does not care what
// happened inside — status, FetchLog, and FeedHealth bookkeeping are C3's
// job — it only needs the outcome to drive backoff.
type FeedFetcher interface {
	FetchFeed(ctx context.Context, feed *entity.Feed) error
}

// scheduleEntry is the scheduler's in-memory view of one feed, mirroring
// spec §4.5's `schedule` map value shape.
type scheduleEntry struct {
	FeedID              int64
	URL                 string
	Title               string
	IntervalMinutes     int
	NextFetch           time.Time
	Status              entity.FeedStatus
	ConsecutiveFailures int
	IsRunning           bool
}

// Scheduler owns the in-memory schedule and drives the main loop.
type Scheduler struct {
	feeds   repository.FeedRepository
	state   repository.SchedulerStateRepository
	watcher *confwatcher.Watcher
	fetcher FeedFetcher
	logger  *slog.Logger

	configCheckInterval time.Duration

	mu              sync.Mutex
	schedule        map[int64]*scheduleEntry
	lastConfigCheck time.Time

	inFlight sync.WaitGroup
	stopping bool
}

// New constructs a Scheduler. configCheckInterval of 0 uses DefaultConfigCheck.
func New(
	feeds repository.FeedRepository,
	state repository.SchedulerStateRepository,
	watcher *confwatcher.Watcher,
	fetcher FeedFetcher,
	configCheckInterval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if configCheckInterval <= 0 {
		configCheckInterval = DefaultConfigCheck
	}
	return &Scheduler{
		feeds:               feeds,
		state:               state,
		watcher:             watcher,
		fetcher:             fetcher,
		configCheckInterval: configCheckInterval,
		logger:              logger,
		schedule:            make(map[int64]*scheduleEntry),
	}
}

// LoadInitial populates the schedule from every active feed (spec §4.5
// "Initial load"). It is safe to call again later to force a full reload,
// e.g. after a drift-hash mismatch.
func (s *Scheduler) LoadInitial(ctx context.Context) error {
	feeds, err := s.feeds.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active feeds: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make(map[int64]*scheduleEntry, len(feeds))
	for _, f := range feeds {
		fresh[f.ID] = s.entryFor(f)
	}
	s.schedule = fresh
	return nil
}

// entryFor builds a scheduleEntry for feed, preserving is_running and
// consecutive_failures from any existing entry with the same id (so a
// reload triggered mid-flight doesn't clobber an in-progress dispatch).
func (s *Scheduler) entryFor(f *entity.Feed) *scheduleEntry {
	next := time.Now()
	if f.LastFetched != nil {
		next = f.LastFetched.Add(time.Duration(f.FetchIntervalMinutes) * time.Minute)
	}

	e := &scheduleEntry{
		FeedID:          f.ID,
		URL:             f.URL,
		Title:           f.Title,
		IntervalMinutes: f.FetchIntervalMinutes,
		NextFetch:       next,
		Status:          f.Status,
	}
	if prev, ok := s.schedule[f.ID]; ok {
		e.IsRunning = prev.IsRunning
		e.ConsecutiveFailures = prev.ConsecutiveFailures
		if prev.IntervalMinutes == e.IntervalMinutes {
			e.NextFetch = prev.NextFetch
		}
	}
	return e
}

// Tick runs one iteration of the main loop (spec §4.5 steps 1-5).
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.shouldCheckConfig() {
		if err := s.reconcileConfig(ctx); err != nil {
			return fmt.Errorf("reconcile config: %w", err)
		}
	}

	due := s.collectDue()
	if len(due) == 0 {
		return nil
	}

	s.dispatch(ctx, due)
	return nil
}

func (s *Scheduler) shouldCheckConfig() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastConfigCheck) >= s.configCheckInterval
}

// reconcileConfig consumes one confwatcher.Reconciliation and applies its
// buckets to the in-memory schedule (spec §4.5 step 1). Watcher.Reconcile
// already marks the underlying changes applied and heartbeats the scheduler
// state row, so this method's only job is the in-memory bookkeeping.
func (s *Scheduler) reconcileConfig(ctx context.Context) error {
	result, err := s.watcher.Reconcile(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.lastConfigCheck = time.Now()
	s.mu.Unlock()

	if result.FeedConfigDrifted || result.TemplateConfigDrifted {
		s.logger.Warn("configuration drift detected, forcing full schedule reload")
		return s.LoadInitial(ctx)
	}

	for _, id := range result.NewFeedsToSchedule {
		s.addOrUpdateFeed(ctx, id, true)
	}
	for _, id := range result.FeedsRequiringScheduleUpdate {
		s.addOrUpdateFeed(ctx, id, false)
	}
	for _, id := range result.DeletedFeedsToUnschedule {
		s.mu.Lock()
		delete(s.schedule, id)
		s.mu.Unlock()
	}
	for _, id := range result.TemplateChangesAffectingFeeds {
		s.mu.Lock()
		if e, ok := s.schedule[id]; ok {
			e.NextFetch = time.Now()
		}
		s.mu.Unlock()
	}

	return nil
}

// addOrUpdateFeed re-fetches feed id and either inserts it (forceNow=true,
// feed_created) or updates an existing entry's fields, removing it if the
// feed is no longer active (spec §4.5 step 1, feed_created/feed_updated).
func (s *Scheduler) addOrUpdateFeed(ctx context.Context, feedID int64, forceNow bool) {
	f, err := s.feeds.Get(ctx, feedID)
	if err != nil {
		if err == entity.ErrNotFound {
			s.mu.Lock()
			delete(s.schedule, feedID)
			s.mu.Unlock()
			return
		}
		s.logger.Error("reload feed for schedule update failed", slog.Int64("feed_id", feedID), slog.String("error", err.Error()))
		return
	}

	if f.Status != entity.FeedStatusActive {
		s.mu.Lock()
		delete(s.schedule, feedID)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryFor(f)
	if forceNow {
		e.NextFetch = time.Now()
	}
	s.schedule[feedID] = e
}

// collectDue returns the feeds eligible for dispatch right now, matching
// spec §4.5 step 2's predicate.
func (s *Scheduler) collectDue() []*scheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	due := make([]*scheduleEntry, 0)
	for _, e := range s.schedule {
		if !e.IsRunning && e.Status == entity.FeedStatusActive && !now.Before(e.NextFetch) {
			due = append(due, e)
		}
	}
	return due
}

// dispatch fetches due feeds DispatchBatch at a time, concurrently within
// each batch (spec §4.5 step 3), and folds each outcome back into the
// schedule (step 4). New dispatches are refused once shutdown has begun.
func (s *Scheduler) dispatch(ctx context.Context, due []*scheduleEntry) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	for _, e := range due {
		e.IsRunning = true
	}
	s.mu.Unlock()

	for i := 0; i < len(due); i += DispatchBatch {
		end := i + DispatchBatch
		if end > len(due) {
			end = len(due)
		}
		batch := due[i:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, e := range batch {
			e := e
			s.inFlight.Add(1)
			g.Go(func() error {
				defer s.inFlight.Done()
				s.runOne(gctx, e)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// runOne fetches a single feed and applies the success/failure outcome
// (spec §4.5 step 4).
func (s *Scheduler) runOne(ctx context.Context, e *scheduleEntry) {
	err := s.fetcher.FetchFeed(ctx, &entity.Feed{ID: e.FeedID, URL: e.URL, Title: e.Title, FetchIntervalMinutes: e.IntervalMinutes})

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.schedule[e.FeedID]
	if !ok {
		return
	}
	interval := time.Duration(cur.IntervalMinutes) * time.Minute
	if err != nil {
		cur.ConsecutiveFailures++
		backoff := interval * time.Duration(math.Pow(2, float64(cur.ConsecutiveFailures)))
		if backoff > MaxBackoff {
			backoff = MaxBackoff
		}
		cur.NextFetch = time.Now().Add(backoff)
		s.logger.Warn("feed fetch failed", slog.Int64("feed_id", e.FeedID), slog.Int("consecutive_failures", cur.ConsecutiveFailures), slog.String("error", err.Error()))
	} else {
		cur.ConsecutiveFailures = 0
		cur.NextFetch = time.Now().Add(interval)
	}
	cur.IsRunning = false
}

// Run drives the ~5s tick loop until ctx is cancelled, then shuts down
// cooperatively: no further dispatches are started, and in-flight fetches
// are given up to ShutdownGracePeriod to finish (spec §4.5 "Shutdown").
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.LoadInitial(ctx); err != nil {
		return fmt.Errorf("initial schedule load: %w", err)
	}

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(ShutdownGracePeriod):
		s.logger.Warn("shutdown grace period elapsed with fetches still in flight")
	}
}
