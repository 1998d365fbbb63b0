package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Item is a deduplicated article belonging to one feed.
type Item struct {
	ID          int64
	FeedID      int64
	Title       string
	Link        string
	Description string
	Content     string
	Author      string
	Published   time.Time
	CreatedAt   time.Time
	ContentHash string
}

// ComputeContentHash derives the natural identity of an item:
// SHA-256(title || link || summary), hex-encoded. summary is the
// Description field — content and author do not participate in dedup so
// that re-fetches with enriched full-content scraping do not create
// duplicate rows for the same logical article.
func ComputeContentHash(title, link, summary string) string {
	h := sha256.Sum256([]byte(title + link + summary))
	return hex.EncodeToString(h[:])
}

// WithContentHash sets ContentHash from the item's current Title/Link/Description.
func (i *Item) WithContentHash() *Item {
	i.ContentHash = ComputeContentHash(i.Title, i.Link, i.Description)
	return i
}

// FetchStatus is the outcome of a single fetch attempt.
type FetchStatus string

const (
	FetchStatusRunning     FetchStatus = "running"
	FetchStatusSuccess     FetchStatus = "success"
	FetchStatusNotModified FetchStatus = "not_modified"
	FetchStatusError       FetchStatus = "error"
)

// FetchLog is an append-only per-attempt record of fetching one feed.
type FetchLog struct {
	ID             int64
	FeedID         int64
	StartedAt      time.Time
	CompletedAt    *time.Time
	Status         FetchStatus
	ItemsFound     int
	ItemsNew       int
	ResponseTimeMs int64
	ErrorMessage   string
}

// FeedHealth holds rolling fetch-reliability stats for a feed, recomputed
// from a window of FetchLog rows on each fetch completion.
type FeedHealth struct {
	FeedID            int64
	OkRatio           float64
	ConsecutiveFails  int
	AvgResponseTimeMs float64
	LastSuccess       *time.Time
	LastFailure       *time.Time
	Uptime24h         float64
	Uptime7d          float64

	// Item/analysis counts (SPEC_FULL §12.1); persisted as feed_health
	// columns alongside the rolling stats above. No weighted health score is
	// computed from them.
	TotalArticles      int
	Articles24h        int
	AnalyzedCount      int
	AnalyzedPercentage float64
}
