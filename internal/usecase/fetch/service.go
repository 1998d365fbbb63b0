// Package fetch implements the Feed Fetcher core (C3): given one feed, it
// performs a conditional fetch, runs the feed's template-driven extraction
// pipeline over each entry, deduplicates and persists new items, and
// maintains the feed's FetchLog/FeedHealth bookkeeping (spec §4.3).
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
	"newspulse/internal/usecase/feedhealth"
)

// scraperConfigKey is the context key for ScraperConfig, consumed by the
// Webflow/NextJS/Remix scrapers.
type scraperConfigKey string

// AutoMaxPerRun bounds how many newly-inserted item ids are handed to a
// single pending_auto_analysis row; the rest are dropped with a log line
// (spec §4.3 step 7).
const AutoMaxPerRun = 50

// FeedFetcher fetches raw entries from a feed's source URL. Implementations:
// RSSFetcher (gofeed-backed, RSS/Atom), WebflowScraper/NextJSScraper/RemixScraper
// (HTML-backed, selected by Feed.Kind).
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]FeedItem, error)
}

// ConditionalFetcher is additionally implemented by fetchers that support
// HTTP conditional GET; only RSSFetcher does today, so callers type-assert
// to detect it (spec §4.3 steps 2-3).
type ConditionalFetcher interface {
	FetchConditional(ctx context.Context, url, etag, lastModified string) (items []FeedItem, notModified bool, newETag, newLastModified string, err error)
}

// FeedItem is a single raw entry produced by a FeedFetcher, prior to any
// template field mapping or content processing.
type FeedItem struct {
	Title       string
	URL         string
	Description string
	Content     string
	Author      string
	GUID        string
	PublishedAt time.Time
}

// ContentFetchConfig controls the full-content enhancement path.
type ContentFetchConfig struct {
	Parallelism int
	Threshold   int
}

// Service implements one feed's fetch-and-persist cycle (spec §4.3). It
// satisfies scheduler.FeedFetcher via FetchFeed.
type Service struct {
	Feeds          repository.FeedRepository
	Items          repository.ItemRepository
	FetchLogs      repository.FetchLogRepository
	Templates      repository.TemplateRepository
	PendingAuto    repository.PendingAutoAnalysisRepository
	Health         *feedhealth.Scorer
	Fetchers       map[entity.FeedKind]FeedFetcher
	ContentFetcher ContentFetcher
	contentConfig  ContentFetchConfig
	logger         *slog.Logger
}

// NewService constructs a Service. fetchers must at minimum carry an entry
// for entity.FeedKindRSS; contentFetcher may be nil to disable full-content
// enhancement entirely.
func NewService(
	feeds repository.FeedRepository,
	items repository.ItemRepository,
	fetchLogs repository.FetchLogRepository,
	templates repository.TemplateRepository,
	pendingAuto repository.PendingAutoAnalysisRepository,
	health *feedhealth.Scorer,
	fetchers map[entity.FeedKind]FeedFetcher,
	contentFetcher ContentFetcher,
	contentConfig ContentFetchConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		Feeds:          feeds,
		Items:          items,
		FetchLogs:      fetchLogs,
		Templates:      templates,
		PendingAuto:    pendingAuto,
		Health:         health,
		Fetchers:       fetchers,
		ContentFetcher: contentFetcher,
		contentConfig:  contentConfig,
		logger:         logger,
	}
}

// FetchFeed loads feedStub's current row, performs the fetch, and applies
// the full 9-step algorithm of spec §4.3. It satisfies
// scheduler.FeedFetcher, so the dynamic scheduler (C5) can dispatch to it
// directly.
func (s *Service) FetchFeed(ctx context.Context, feedStub *entity.Feed) error {
	feed, err := s.Feeds.Get(ctx, feedStub.ID)
	if err != nil {
		return fmt.Errorf("load feed: %w", err)
	}

	start := time.Now()
	logID, err := s.FetchLogs.InsertRunning(ctx, feed.ID, start)
	if err != nil {
		return fmt.Errorf("insert fetch log: %w", err)
	}

	fetcher, ok := s.Fetchers[feed.Kind]
	if !ok {
		fetcher = s.Fetchers[entity.FeedKindRSS]
		s.logger.Warn("no fetcher registered for feed kind, falling back to RSS", slog.String("kind", string(feed.Kind)), slog.Int64("feed_id", feed.ID))
	}
	if feed.ScraperConfig != nil {
		ctx = context.WithValue(ctx, scraperConfigKey("scraper_config"), feed.ScraperConfig)
	}

	var (
		items                    []FeedItem
		notModified              bool
		newETag, newLastModified string
		fetchErr                 error
	)
	if cf, ok := fetcher.(ConditionalFetcher); ok {
		items, notModified, newETag, newLastModified, fetchErr = cf.FetchConditional(ctx, feed.URL, feed.ETag, feed.LastModified)
	} else {
		items, fetchErr = fetcher.Fetch(ctx, feed.URL)
	}
	responseTimeMs := time.Since(start).Milliseconds()

	if fetchErr != nil {
		return s.failFetch(ctx, feed, logID, responseTimeMs, fetchErr)
	}

	if notModified {
		if err := s.FetchLogs.Complete(ctx, logID, &entity.FetchLog{Status: entity.FetchStatusNotModified, ResponseTimeMs: responseTimeMs}); err != nil {
			s.logger.Warn("complete fetch log failed", slog.Int64("feed_id", feed.ID), slog.String("error", err.Error()))
		}
		now := time.Now()
		feed.LastFetched = &now
		if err := s.Feeds.UpdateFetchMeta(ctx, feed); err != nil {
			s.logger.Warn("update fetch meta after 304 failed", slog.Int64("feed_id", feed.ID), slog.String("error", err.Error()))
		}
		s.recordHealth(ctx, feed.ID, true, responseTimeMs)
		return nil
	}

	feed.ETag = newETag
	feed.LastModified = newLastModified
	now := time.Now()
	feed.LastFetched = &now
	feed.Status = entity.FeedStatusActive
	if err := s.Feeds.UpdateFetchMeta(ctx, feed); err != nil {
		return s.failFetch(ctx, feed, logID, responseTimeMs, fmt.Errorf("update feed metadata: %w", err))
	}

	tmpl := s.activeTemplate(ctx, feed.ID)

	insertedIDs := make([]int64, 0, len(items))
	itemsNew := 0
	for _, raw := range items {
		entry := applyFieldMappings(raw, tmpl)
		if tmpl != nil {
			entry = applyContentProcessingRules(entry, tmpl.ContentProcessingRules)
		}
		entry.Description = s.enhanceContent(ctx, entry)

		qf := entity.QualityFilters{}
		if tmpl != nil {
			qf = tmpl.QualityFilters
		}
		if !passesQualityFilters(entry.Title, qf) {
			continue
		}

		contentHash := entity.ComputeContentHash(entry.Title, entry.Link, entry.Description)
		item := &entity.Item{
			FeedID:      feed.ID,
			Title:       entry.Title,
			Link:        entry.Link,
			Description: entry.Description,
			Content:     entry.Content,
			Author:      entry.Author,
			Published:   entry.Published,
			CreatedAt:   time.Now(),
			ContentHash: contentHash,
		}

		created, result, err := s.Items.InsertItemIfAbsent(ctx, item)
		if err != nil {
			s.logger.Warn("insert item failed, skipping entry", slog.Int64("feed_id", feed.ID), slog.String("link", entry.Link), slog.String("error", err.Error()))
			continue
		}
		if result == repository.Duplicate {
			continue
		}
		itemsNew++
		insertedIDs = append(insertedIDs, created.ID)
	}

	if itemsNew > 0 && feed.AutoAnalyzeEnabled {
		s.enqueueAutoAnalysis(ctx, feed.ID, insertedIDs)
	}

	if err := s.FetchLogs.Complete(ctx, logID, &entity.FetchLog{
		Status:         entity.FetchStatusSuccess,
		ItemsFound:     len(items),
		ItemsNew:       itemsNew,
		ResponseTimeMs: responseTimeMs,
	}); err != nil {
		// A post-success session error: items are already durably
		// persisted, so this is logged rather than surfaced as a failure
		// (spec §4.3 step 9's "post-success session error" carve-out).
		s.logger.Warn("complete fetch log failed after successful item persistence", slog.Int64("feed_id", feed.ID), slog.String("error", err.Error()))
	}
	s.recordHealth(ctx, feed.ID, true, responseTimeMs)
	return nil
}

// failFetch applies spec §4.3 step 9: mark the feed errored, close the
// fetch log as an error, and record the health failure.
func (s *Service) failFetch(ctx context.Context, feed *entity.Feed, logID int64, responseTimeMs int64, cause error) error {
	feed.Status = entity.FeedStatusError
	if err := s.Feeds.UpdateFetchMeta(ctx, feed); err != nil {
		s.logger.Warn("mark feed errored failed", slog.Int64("feed_id", feed.ID), slog.String("error", err.Error()))
	}
	if err := s.FetchLogs.Complete(ctx, logID, &entity.FetchLog{
		Status:         entity.FetchStatusError,
		ErrorMessage:   truncate(cause.Error(), 500),
		ResponseTimeMs: responseTimeMs,
	}); err != nil {
		s.logger.Warn("complete error fetch log failed", slog.Int64("feed_id", feed.ID), slog.String("error", err.Error()))
	}
	s.recordHealth(ctx, feed.ID, false, responseTimeMs)
	return fmt.Errorf("fetch feed %d: %w", feed.ID, cause)
}

func (s *Service) recordHealth(ctx context.Context, feedID int64, success bool, responseTimeMs int64) {
	if s.Health == nil {
		return
	}
	if err := s.Health.RecordOutcome(ctx, feedID, success, responseTimeMs); err != nil {
		s.logger.Warn("record feed health failed", slog.Int64("feed_id", feedID), slog.String("error", err.Error()))
	}
}

// activeTemplate returns feedID's active template assignment's template, or
// nil on any error/absence — template-driven extraction is best-effort and
// always has the default mapping to fall back to.
func (s *Service) activeTemplate(ctx context.Context, feedID int64) *entity.DynamicFeedTemplate {
	if s.Templates == nil {
		return nil
	}
	assignment, err := s.Templates.ActiveAssignmentForFeed(ctx, feedID)
	if err != nil || assignment == nil {
		return nil
	}
	tmpl, err := s.Templates.Get(ctx, assignment.TemplateID)
	if err != nil {
		return nil
	}
	return tmpl
}

func (s *Service) enqueueAutoAnalysis(ctx context.Context, feedID int64, itemIDs []int64) {
	ids := itemIDs
	if len(ids) > AutoMaxPerRun {
		s.logger.Info("dropping excess auto-analysis item ids", slog.Int64("feed_id", feedID), slog.Int("dropped", len(ids)-AutoMaxPerRun))
		ids = ids[:AutoMaxPerRun]
	}
	err := s.PendingAuto.Enqueue(ctx, &entity.PendingAutoAnalysis{
		FeedID:    feedID,
		ItemIDs:   ids,
		Status:    entity.PendingAutoStatusPending,
		CreatedAt: time.Now(),
	})
	if err != nil {
		s.logger.Warn("enqueue auto-analysis failed", slog.Int64("feed_id", feedID), slog.String("error", err.Error()))
	}
}

// enhanceContent fetches the full article when the feed requests it and the
// extracted description is below the configured threshold, falling back to
// the description on any failure (spec SPEC_FULL §12.3 item 5, grounded on
// the teacher's enhanceContent). It never returns an error.
func (s *Service) enhanceContent(ctx context.Context, e extractedEntry) string {
	if s.ContentFetcher == nil || e.Link == "" {
		return e.Description
	}
	if len(e.Description) >= s.contentConfig.Threshold {
		return e.Description
	}

	full, err := s.ContentFetcher.FetchContent(ctx, e.Link)
	if err != nil {
		return e.Description
	}
	if len(full) > len(e.Description) {
		return full
	}
	return e.Description
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
