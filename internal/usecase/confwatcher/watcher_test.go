package confwatcher_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newspulse/internal/domain/entity"
	"newspulse/internal/usecase/confwatcher"
)

type fakeChangeRepo struct {
	changes []*entity.FeedConfigurationChange
	applied []int64
}

func (f *fakeChangeRepo) Append(_ context.Context, c *entity.FeedConfigurationChange) error {
	f.changes = append(f.changes, c)
	return nil
}

func (f *fakeChangeRepo) UnappliedSince(_ context.Context, since time.Time) ([]*entity.FeedConfigurationChange, error) {
	var out []*entity.FeedConfigurationChange
	for _, c := range f.changes {
		if c.AppliedAt == nil && c.CreatedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChangeRepo) MarkApplied(_ context.Context, ids []int64, appliedAt time.Time) error {
	f.applied = append(f.applied, ids...)
	for _, c := range f.changes {
		for _, id := range ids {
			if c.ID == id {
				t := appliedAt
				c.AppliedAt = &t
			}
		}
	}
	return nil
}

type fakeStateRepo struct {
	state *entity.FeedSchedulerState
}

func (f *fakeStateRepo) Get(_ context.Context) (*entity.FeedSchedulerState, error) {
	if f.state == nil {
		return nil, entity.ErrNotFound
	}
	return f.state, nil
}

func (f *fakeStateRepo) Upsert(_ context.Context, state *entity.FeedSchedulerState) error {
	f.state = state
	return nil
}

type fakeFeedRepo struct {
	feeds []*entity.Feed
}

func (f *fakeFeedRepo) Get(_ context.Context, id int64) (*entity.Feed, error) { return nil, nil }
func (f *fakeFeedRepo) GetByURL(_ context.Context, url string) (*entity.Feed, error) {
	return nil, nil
}
func (f *fakeFeedRepo) List(_ context.Context) ([]*entity.Feed, error)       { return f.feeds, nil }
func (f *fakeFeedRepo) ListActive(_ context.Context) ([]*entity.Feed, error) { return f.feeds, nil }
func (f *fakeFeedRepo) Create(_ context.Context, _ *entity.Feed) error       { return nil }
func (f *fakeFeedRepo) Update(_ context.Context, _ *entity.Feed) error       { return nil }
func (f *fakeFeedRepo) Delete(_ context.Context, _ int64) error              { return nil }
func (f *fakeFeedRepo) UpdateFetchMeta(_ context.Context, _ *entity.Feed) error {
	return nil
}

type fakeTemplateRepo struct {
	templates []*entity.DynamicFeedTemplate
}

func (f *fakeTemplateRepo) Get(_ context.Context, id int64) (*entity.DynamicFeedTemplate, error) {
	return nil, nil
}
func (f *fakeTemplateRepo) List(_ context.Context) ([]*entity.DynamicFeedTemplate, error) {
	return f.templates, nil
}
func (f *fakeTemplateRepo) Create(_ context.Context, _ *entity.DynamicFeedTemplate) error {
	return nil
}
func (f *fakeTemplateRepo) Update(_ context.Context, _ *entity.DynamicFeedTemplate) error {
	return nil
}
func (f *fakeTemplateRepo) Delete(_ context.Context, _ int64) error { return nil }
func (f *fakeTemplateRepo) ActiveAssignmentForFeed(_ context.Context, _ int64) (*entity.FeedTemplateAssignment, error) {
	return nil, nil
}
func (f *fakeTemplateRepo) AssignmentsForFeed(_ context.Context, _ int64) ([]*entity.FeedTemplateAssignment, error) {
	return nil, nil
}
func (f *fakeTemplateRepo) Assign(_ context.Context, _ *entity.FeedTemplateAssignment) error {
	return nil
}
func (f *fakeTemplateRepo) Unassign(_ context.Context, _ int64) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcile_FirstRunBucketsAllChangeTypes(t *testing.T) {
	feedA, feedB, feedC := int64(1), int64(2), int64(3)
	changes := &fakeChangeRepo{
		changes: []*entity.FeedConfigurationChange{
			{ID: 1, ChangeType: entity.ChangeFeedCreated, FeedID: &feedA, CreatedAt: time.Now()},
			{ID: 2, ChangeType: entity.ChangeFeedUpdated, FeedID: &feedB, CreatedAt: time.Now()},
			{ID: 3, ChangeType: entity.ChangeFeedDeleted, FeedID: &feedC, CreatedAt: time.Now()},
			{ID: 4, ChangeType: entity.ChangeTemplateAssigned, FeedID: &feedA, CreatedAt: time.Now()},
		},
	}
	w := confwatcher.New(changes, &fakeStateRepo{}, &fakeFeedRepo{}, &fakeTemplateRepo{}, testLogger())

	result, err := w.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{feedA}, result.NewFeedsToSchedule)
	assert.Equal(t, []int64{feedB}, result.FeedsRequiringScheduleUpdate)
	assert.Equal(t, []int64{feedC}, result.DeletedFeedsToUnschedule)
	assert.Equal(t, []int64{feedA}, result.TemplateChangesAffectingFeeds)
	assert.Len(t, changes.applied, 4)
}

func TestReconcile_NoChangesAndNoDrift(t *testing.T) {
	feeds := &fakeFeedRepo{feeds: []*entity.Feed{{ID: 1, ConfigurationHash: "h1"}}}
	templates := &fakeTemplateRepo{}
	state := &fakeStateRepo{}
	w := confwatcher.New(&fakeChangeRepo{}, state, feeds, templates, testLogger())

	first, err := w.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, first.FeedConfigDrifted)

	second, err := w.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, second.FeedConfigDrifted)
	assert.False(t, second.TemplateConfigDrifted)
}

func TestReconcile_DetectsFeedDriftWithoutChangeLogEntry(t *testing.T) {
	feeds := &fakeFeedRepo{feeds: []*entity.Feed{{ID: 1, ConfigurationHash: "h1"}}}
	state := &fakeStateRepo{}
	w := confwatcher.New(&fakeChangeRepo{}, state, feeds, &fakeTemplateRepo{}, testLogger())

	_, err := w.Reconcile(context.Background())
	require.NoError(t, err)

	// Mutate the feed's config hash out-of-band, as if the row changed
	// without an append to the change log.
	feeds.feeds[0].ConfigurationHash = "h2"

	result, err := w.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, result.FeedConfigDrifted)
}

func TestReconcile_UnknownChangeTypeIsIgnoredNotFatal(t *testing.T) {
	feedID := int64(1)
	changes := &fakeChangeRepo{
		changes: []*entity.FeedConfigurationChange{
			{ID: 1, ChangeType: "bogus_change", FeedID: &feedID, CreatedAt: time.Now()},
		},
	}
	w := confwatcher.New(changes, &fakeStateRepo{}, &fakeFeedRepo{}, &fakeTemplateRepo{}, testLogger())

	result, err := w.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.NewFeedsToSchedule)
	assert.Len(t, changes.applied, 1)
}
