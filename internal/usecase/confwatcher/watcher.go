// Package confwatcher implements the configuration watcher (C4): it drains
// the append-only feed_configuration_changes log since the scheduler's last
// check, buckets each change into the categories the dynamic scheduler (C5)
// consumes, and cross-checks a drift hash over the current feed/template
// tables as a second line of defense against a missed append (spec §4.4).
package confwatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

// Watcher reconciles the configuration-change log against the scheduler's
// watermark on each tick.
type Watcher struct {
	changes   repository.ConfigChangeRepository
	state     repository.SchedulerStateRepository
	feeds     repository.FeedRepository
	templates repository.TemplateRepository
	logger    *slog.Logger
}

// New constructs a Watcher. All dependencies are required.
func New(
	changes repository.ConfigChangeRepository,
	state repository.SchedulerStateRepository,
	feeds repository.FeedRepository,
	templates repository.TemplateRepository,
	logger *slog.Logger,
) *Watcher {
	return &Watcher{changes: changes, state: state, feeds: feeds, templates: templates, logger: logger}
}

// Reconciliation buckets the outcome of one Reconcile call for the
// scheduler to act on.
type Reconciliation struct {
	NewFeedsToSchedule            []int64
	FeedsRequiringScheduleUpdate  []int64
	DeletedFeedsToUnschedule      []int64
	TemplateChangesAffectingFeeds []int64
	FeedConfigDrifted             bool
	TemplateConfigDrifted         bool
}

func (r *Reconciliation) empty() bool {
	return len(r.NewFeedsToSchedule) == 0 &&
		len(r.FeedsRequiringScheduleUpdate) == 0 &&
		len(r.DeletedFeedsToUnschedule) == 0 &&
		len(r.TemplateChangesAffectingFeeds) == 0 &&
		!r.FeedConfigDrifted && !r.TemplateConfigDrifted
}

// Reconcile drains unapplied changes since the scheduler's last check,
// buckets them, recomputes the drift hashes, and advances the watermark.
// It returns a Reconciliation the scheduler uses to decide what to
// reschedule; a zero-value Reconciliation means nothing changed.
func (w *Watcher) Reconcile(ctx context.Context) (*Reconciliation, error) {
	st, err := w.state.Get(ctx)
	if err != nil && err != entity.ErrNotFound {
		return nil, fmt.Errorf("load scheduler state: %w", err)
	}
	if st == nil {
		st = &entity.FeedSchedulerState{}
	}

	changes, err := w.changes.UnappliedSince(ctx, st.LastConfigCheck)
	if err != nil {
		return nil, fmt.Errorf("load unapplied changes: %w", err)
	}

	result := &Reconciliation{}
	appliedIDs := make([]int64, 0, len(changes))
	for _, c := range changes {
		appliedIDs = append(appliedIDs, c.ID)
		switch c.ChangeType {
		case entity.ChangeFeedCreated:
			if c.FeedID != nil {
				result.NewFeedsToSchedule = append(result.NewFeedsToSchedule, *c.FeedID)
			}
		case entity.ChangeFeedUpdated:
			if c.FeedID != nil {
				result.FeedsRequiringScheduleUpdate = append(result.FeedsRequiringScheduleUpdate, *c.FeedID)
			}
		case entity.ChangeFeedDeleted:
			if c.FeedID != nil {
				result.DeletedFeedsToUnschedule = append(result.DeletedFeedsToUnschedule, *c.FeedID)
			}
		case entity.ChangeTemplateCreated, entity.ChangeTemplateUpdated, entity.ChangeTemplateDeleted,
			entity.ChangeTemplateAssigned, entity.ChangeTemplateUnassigned:
			// Template-level changes only carry a feed id when the change
			// is an assignment/unassignment on a specific feed; a bare
			// template edit has FeedID == nil and is picked up entirely by
			// the template drift hash below.
			if c.FeedID != nil {
				result.TemplateChangesAffectingFeeds = append(result.TemplateChangesAffectingFeeds, *c.FeedID)
			}
		default:
			w.logger.Warn("unrecognized configuration change type, ignoring",
				slog.String("change_type", string(c.ChangeType)), slog.Int64("change_id", c.ID))
		}
	}

	now := time.Now().UTC()

	feedHash, err := w.feedConfigHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute feed config hash: %w", err)
	}
	templateHash, err := w.templateConfigHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute template config hash: %w", err)
	}

	if st.LastFeedConfigHash != "" && st.LastFeedConfigHash != feedHash && result.empty() {
		result.FeedConfigDrifted = true
		w.logger.Warn("feed configuration drift detected with no corresponding change-log entry")
	}
	if st.LastTemplateConfigHash != "" && st.LastTemplateConfigHash != templateHash && len(result.TemplateChangesAffectingFeeds) == 0 {
		result.TemplateConfigDrifted = true
		w.logger.Warn("template configuration drift detected with no corresponding change-log entry")
	}

	if len(appliedIDs) > 0 {
		if err := w.changes.MarkApplied(ctx, appliedIDs, now); err != nil {
			return nil, fmt.Errorf("mark changes applied: %w", err)
		}
	}

	st.LastConfigCheck = now
	st.LastHeartbeat = now
	st.LastFeedConfigHash = feedHash
	st.LastTemplateConfigHash = templateHash
	st.IsActive = true
	if err := w.state.Upsert(ctx, st); err != nil {
		return nil, fmt.Errorf("persist scheduler state: %w", err)
	}

	return result, nil
}

func (w *Watcher) feedConfigHash(ctx context.Context) (string, error) {
	feeds, err := w.feeds.List(ctx)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(feeds))
	for _, f := range feeds {
		parts = append(parts, fmt.Sprintf("%d:%s", f.ID, f.ConfigurationHash))
	}
	sort.Strings(parts)
	return hashParts(parts), nil
}

func (w *Watcher) templateConfigHash(ctx context.Context) (string, error) {
	templates, err := w.templates.List(ctx)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(templates))
	for _, t := range templates {
		parts = append(parts, fmt.Sprintf("%d:%s", t.ID, t.UpdatedAt.UTC().Format(time.RFC3339Nano)))
	}
	sort.Strings(parts)
	return hashParts(parts), nil
}

func hashParts(parts []string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
