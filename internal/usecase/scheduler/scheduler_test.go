package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"newspulse/internal/domain/entity"
	"newspulse/internal/usecase/confwatcher"
	"newspulse/internal/usecase/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFeedRepo is an in-memory FeedRepository.
type fakeFeedRepo struct {
	mu    sync.Mutex
	feeds map[int64]*entity.Feed
}

func newFakeFeedRepo(feeds ...*entity.Feed) *fakeFeedRepo {
	r := &fakeFeedRepo{feeds: make(map[int64]*entity.Feed)}
	for _, f := range feeds {
		r.feeds[f.ID] = f
	}
	return r
}

func (r *fakeFeedRepo) Get(ctx context.Context, id int64) (*entity.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *f
	return &cp, nil
}
func (r *fakeFeedRepo) GetByURL(ctx context.Context, url string) (*entity.Feed, error) {
	return nil, entity.ErrNotFound
}
func (r *fakeFeedRepo) List(ctx context.Context) ([]*entity.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}
func (r *fakeFeedRepo) ListActive(ctx context.Context) ([]*entity.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.Feed, 0)
	for _, f := range r.feeds {
		if f.Status == entity.FeedStatusActive {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (r *fakeFeedRepo) Create(ctx context.Context, f *entity.Feed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[f.ID] = f
	return nil
}
func (r *fakeFeedRepo) Update(ctx context.Context, f *entity.Feed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[f.ID] = f
	return nil
}
func (r *fakeFeedRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.feeds, id)
	return nil
}
func (r *fakeFeedRepo) UpdateFetchMeta(ctx context.Context, f *entity.Feed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[f.ID] = f
	return nil
}

// fakeSchedulerStateRepo is an in-memory SchedulerStateRepository.
type fakeSchedulerStateRepo struct {
	mu    sync.Mutex
	state *entity.FeedSchedulerState
}

func (r *fakeSchedulerStateRepo) Get(ctx context.Context) (*entity.FeedSchedulerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return nil, entity.ErrNotFound
	}
	cp := *r.state
	return &cp, nil
}
func (r *fakeSchedulerStateRepo) Upsert(ctx context.Context, s *entity.FeedSchedulerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.state = &cp
	return nil
}

// fakeConfigChangeRepo is an in-memory ConfigChangeRepository.
type fakeConfigChangeRepo struct {
	mu      sync.Mutex
	changes []*entity.FeedConfigurationChange
}

func (r *fakeConfigChangeRepo) Append(ctx context.Context, c *entity.FeedConfigurationChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = int64(len(r.changes) + 1)
	r.changes = append(r.changes, c)
	return nil
}
func (r *fakeConfigChangeRepo) UnappliedSince(ctx context.Context, since time.Time) ([]*entity.FeedConfigurationChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.FeedConfigurationChange, 0)
	for _, c := range r.changes {
		if c.AppliedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}
func (r *fakeConfigChangeRepo) MarkApplied(ctx context.Context, ids []int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	applied := make(map[int64]bool, len(ids))
	for _, id := range ids {
		applied[id] = true
	}
	for _, c := range r.changes {
		if applied[c.ID] {
			t := at
			c.AppliedAt = &t
		}
	}
	return nil
}

// fakeTemplateRepo is a minimal TemplateRepository (empty template set).
type fakeTemplateRepo struct{}

func (fakeTemplateRepo) Get(ctx context.Context, id int64) (*entity.DynamicFeedTemplate, error) {
	return nil, entity.ErrNotFound
}
func (fakeTemplateRepo) List(ctx context.Context) ([]*entity.DynamicFeedTemplate, error) {
	return nil, nil
}
func (fakeTemplateRepo) Create(ctx context.Context, t *entity.DynamicFeedTemplate) error { return nil }
func (fakeTemplateRepo) Update(ctx context.Context, t *entity.DynamicFeedTemplate) error { return nil }
func (fakeTemplateRepo) Delete(ctx context.Context, id int64) error                      { return nil }
func (fakeTemplateRepo) ActiveAssignmentForFeed(ctx context.Context, feedID int64) (*entity.FeedTemplateAssignment, error) {
	return nil, nil
}
func (fakeTemplateRepo) AssignmentsForFeed(ctx context.Context, feedID int64) ([]*entity.FeedTemplateAssignment, error) {
	return nil, nil
}
func (fakeTemplateRepo) Assign(ctx context.Context, a *entity.FeedTemplateAssignment) error {
	return nil
}
func (fakeTemplateRepo) Unassign(ctx context.Context, id int64) error { return nil }

// fakeFetcher records invocations and returns a scripted outcome per feed id.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    int
	fail     map[int64]bool
	seenURLs []string
}

func (f *fakeFetcher) FetchFeed(ctx context.Context, feed *entity.Feed) error {
	f.mu.Lock()
	f.calls++
	f.seenURLs = append(f.seenURLs, feed.URL)
	shouldFail := f.fail[feed.ID]
	f.mu.Unlock()
	if shouldFail {
		return errors.New("boom")
	}
	return nil
}

func newScheduler(t *testing.T, feedRepo *fakeFeedRepo, fetcher *fakeFetcher) (*scheduler.Scheduler, *fakeConfigChangeRepo, *fakeSchedulerStateRepo) {
	t.Helper()
	stateRepo := &fakeSchedulerStateRepo{}
	changeRepo := &fakeConfigChangeRepo{}
	w := confwatcher.New(changeRepo, stateRepo, feedRepo, fakeTemplateRepo{}, testLogger())
	s := scheduler.New(feedRepo, stateRepo, w, fetcher, time.Millisecond, testLogger())
	return s, changeRepo, stateRepo
}

func TestLoadInitial_OnlySchedulesActiveFeeds(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	feedRepo := newFakeFeedRepo(
		&entity.Feed{ID: 1, URL: "https://a.example/feed", Status: entity.FeedStatusActive, FetchIntervalMinutes: 30, LastFetched: &past},
		&entity.Feed{ID: 2, URL: "https://b.example/feed", Status: entity.FeedStatusInactive, FetchIntervalMinutes: 30},
	)
	fetcher := &fakeFetcher{}
	s2, _, _ := newScheduler(t, feedRepo, fetcher)
	if err := s2.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if err := s2.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected exactly 1 fetch (only the active, overdue feed), got %d", fetcher.calls)
	}
}

func TestTick_DispatchesDueFeedAndAppliesSuccessOutcome(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	feedRepo := newFakeFeedRepo(
		&entity.Feed{ID: 1, URL: "https://a.example/feed", Status: entity.FeedStatusActive, FetchIntervalMinutes: 15, LastFetched: &past},
	)
	fetcher := &fakeFetcher{}
	s, _, _ := newScheduler(t, feedRepo, fetcher)

	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", fetcher.calls)
	}

	// A second immediate tick must not redispatch: next_fetch was pushed
	// out by one interval after a success.
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected no redispatch before next_fetch, got %d calls", fetcher.calls)
	}
}

func TestTick_FailureAppliesExponentialBackoff(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	feedRepo := newFakeFeedRepo(
		&entity.Feed{ID: 1, URL: "https://a.example/feed", Status: entity.FeedStatusActive, FetchIntervalMinutes: 5, LastFetched: &past},
	)
	fetcher := &fakeFetcher{fail: map[int64]bool{1: true}}
	s, _, _ := newScheduler(t, feedRepo, fetcher)

	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected 1 fetch attempt, got %d", fetcher.calls)
	}

	// The failure pushes next_fetch out by interval*2 (10m), so an
	// immediate second tick must not retry the feed.
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected no retry before the backoff elapses, got %d calls", fetcher.calls)
	}
}

func TestReconcileConfig_FeedCreatedIsScheduledImmediately(t *testing.T) {
	feedRepo := newFakeFeedRepo()
	fetcher := &fakeFetcher{}
	s, changeRepo, _ := newScheduler(t, feedRepo, fetcher)

	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	newFeed := &entity.Feed{ID: 9, URL: "https://new.example/feed", Status: entity.FeedStatusActive, FetchIntervalMinutes: 30}
	if err := feedRepo.Create(context.Background(), newFeed); err != nil {
		t.Fatalf("create feed: %v", err)
	}
	if err := changeRepo.Append(context.Background(), &entity.FeedConfigurationChange{
		ChangeType: entity.ChangeFeedCreated,
		FeedID:     &newFeed.ID,
		CreatedAt:  time.Now(),
	}); err != nil {
		t.Fatalf("append change: %v", err)
	}

	// Force the config-check gate open regardless of the scheduler's
	// internal interval bookkeeping.
	time.Sleep(2 * time.Millisecond)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected the newly created feed to be fetched this tick, got %d calls", fetcher.calls)
	}
}

func TestReconcileConfig_FeedDeletedIsUnscheduled(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	feedRepo := newFakeFeedRepo(
		&entity.Feed{ID: 1, URL: "https://a.example/feed", Status: entity.FeedStatusActive, FetchIntervalMinutes: 15, LastFetched: &past},
	)
	fetcher := &fakeFetcher{}
	s, changeRepo, _ := newScheduler(t, feedRepo, fetcher)

	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	feedID := int64(1)
	_ = feedRepo.Delete(context.Background(), feedID)
	if err := changeRepo.Append(context.Background(), &entity.FeedConfigurationChange{
		ChangeType: entity.ChangeFeedDeleted,
		FeedID:     &feedID,
		CreatedAt:  time.Now(),
	}); err != nil {
		t.Fatalf("append change: %v", err)
	}

	time.Sleep(2 * time.Millisecond)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected no fetch after feed_deleted reconciliation, got %d calls", fetcher.calls)
	}
}

func TestRun_ShutsDownCooperativelyOnContextCancel(t *testing.T) {
	feedRepo := newFakeFeedRepo()
	s, _, _ := newScheduler(t, feedRepo, &fakeFetcher{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not shut down after context cancellation")
	}
}
