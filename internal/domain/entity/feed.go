// Package entity defines the core domain entities and validation logic for the
// feed intelligence pipeline: feeds, items, runs, and the queueing state that
// ties fetching to analysis.
package entity

import (
	"fmt"
	"time"
)

// FeedKind identifies which fetcher a Feed uses. RSS is the default and only
// kind the feed fetcher core depends on; the others are handled by the
// web-scraper fetchers under internal/infra/scraper.
type FeedKind string

const (
	FeedKindRSS     FeedKind = "RSS"
	FeedKindWebflow FeedKind = "Webflow"
	FeedKindNextJS  FeedKind = "NextJS"
	FeedKindRemix   FeedKind = "Remix"
)

// FeedStatus is the lifecycle status of a Feed.
type FeedStatus string

const (
	FeedStatusActive   FeedStatus = "active"
	FeedStatusInactive FeedStatus = "inactive"
	FeedStatusError    FeedStatus = "error"
)

// MinFetchIntervalMinutes and MaxFetchIntervalMinutes bound Feed.FetchIntervalMinutes.
const (
	MinFetchIntervalMinutes = 5
	MaxFetchIntervalMinutes = 1440
)

// Feed is a subscribed RSS/Atom (or scraped) source.
type Feed struct {
	ID                   int64
	URL                  string
	Title                string
	Description          string
	FetchIntervalMinutes int
	Status               FeedStatus
	Kind                 FeedKind
	LastFetched          *time.Time
	ETag                 string
	LastModified         string
	AutoAnalyzeEnabled   bool
	ScrapeFullContent    bool
	ConfigurationHash    string
	IsCritical           bool
	ArchivedAt           *time.Time
	ScraperConfig        *ScraperConfig
}

// ScraperConfig holds configuration for non-RSS (web scraping) feed kinds.
// Different fields are used depending on the kind:
//   - Webflow: ItemSelector, TitleSelector, DateSelector, URLSelector, DateFormat
//   - NextJS: DataKey, URLPrefix
//   - Remix: ContextKey, URLPrefix
type ScraperConfig struct {
	ItemSelector  string `json:"item_selector,omitempty"`
	TitleSelector string `json:"title_selector,omitempty"`
	DateSelector  string `json:"date_selector,omitempty"`
	URLSelector   string `json:"url_selector,omitempty"`
	DateFormat    string `json:"date_format,omitempty"`

	DataKey string `json:"data_key,omitempty"`

	ContextKey string `json:"context_key,omitempty"`

	URLPrefix string `json:"url_prefix,omitempty"`
}

// Validate checks Feed invariants: fetch interval bounds, valid kind, and
// scraper config presence for non-RSS kinds. Empty Kind defaults to RSS.
func (f *Feed) Validate() error {
	if f.Kind == "" {
		f.Kind = FeedKindRSS
	}

	validKinds := map[FeedKind]bool{
		FeedKindRSS:     true,
		FeedKindWebflow: true,
		FeedKindNextJS:  true,
		FeedKindRemix:   true,
	}
	if !validKinds[f.Kind] {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("invalid feed kind: %s", f.Kind)}
	}

	if f.Kind != FeedKindRSS && f.ScraperConfig == nil {
		return &ValidationError{Field: "scraper_config", Message: "scraper_config is required for non-RSS feeds"}
	}

	if f.FetchIntervalMinutes < MinFetchIntervalMinutes || f.FetchIntervalMinutes > MaxFetchIntervalMinutes {
		return &ValidationError{
			Field:   "fetch_interval_minutes",
			Message: fmt.Sprintf("must be between %d and %d", MinFetchIntervalMinutes, MaxFetchIntervalMinutes),
		}
	}

	if err := ValidateURL(f.URL); err != nil {
		return err
	}

	return nil
}

// NextFetchFrom computes the earliest-eligible next fetch time given the feed
// was last fetched at lastFetched (zero value means never fetched).
func (f *Feed) NextFetchFrom(lastFetched time.Time, now time.Time) time.Time {
	if lastFetched.IsZero() {
		return now
	}
	return lastFetched.Add(time.Duration(f.FetchIntervalMinutes) * time.Minute)
}
