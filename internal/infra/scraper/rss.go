// Package scraper provides implementations for fetching RSS/Atom feeds.
// It uses the gofeed library to parse feed content with reliability patterns.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"newspulse/internal/resilience/circuitbreaker"
	"newspulse/internal/resilience/retry"
	"newspulse/internal/usecase/fetch"

	"github.com/mmcdole/gofeed"
	"github.com/sony/gobreaker"
)

// RSSFetcher implements FeedFetcher using the gofeed library.
// It includes circuit breaker and retry logic for improved reliability, and
// honors HTTP conditional GET (ETag/If-Modified-Since) so an unchanged feed
// costs a single round trip (spec §4.3 steps 2-3).
type RSSFetcher struct {
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// Breaker exposes the fetcher's circuit breaker for operational alerting.
func (f *RSSFetcher) Breaker() *circuitbreaker.CircuitBreaker {
	return f.circuitBreaker
}

// NewRSSFetcher creates a new RSSFetcher with the given HTTP client.
// It automatically configures circuit breaker and retry logic.
func NewRSSFetcher(client *http.Client) *RSSFetcher {
	return &RSSFetcher{
		client:         client,
		circuitBreaker: circuitbreaker.New(circuitbreaker.FeedFetchConfig()),
		retryConfig:    retry.FeedFetchConfig(),
	}
}

// conditionalResult is the circuit-breaker payload for one fetch attempt.
type conditionalResult struct {
	items        []fetch.FeedItem
	notModified  bool
	etag         string
	lastModified string
}

// Fetch retrieves and parses an RSS/Atom feed from the given URL without a
// conditional GET. It satisfies fetch.FeedFetcher for callers that don't
// track ETag/Last-Modified (e.g. a first-ever fetch).
func (f *RSSFetcher) Fetch(ctx context.Context, feedURL string) ([]fetch.FeedItem, error) {
	items, _, _, _, err := f.FetchConditional(ctx, feedURL, "", "")
	return items, err
}

// FetchConditional performs a conditional GET using etag/lastModified, and
// reports the feed's new validators so the caller can persist them. When the
// server replies 304, items is nil and notModified is true.
func (f *RSSFetcher) FetchConditional(ctx context.Context, feedURL, etag, lastModified string) (items []fetch.FeedItem, notModified bool, newETag, newLastModified string, err error) {
	var result conditionalResult

	retryErr := retry.WithBackoff(ctx, f.retryConfig, func() error {
		cbResult, cbErr := f.circuitBreaker.Execute(func() (interface{}, error) {
			return f.doFetch(ctx, feedURL, etag, lastModified)
		})
		if cbErr != nil {
			if errors.Is(cbErr, gobreaker.ErrOpenState) {
				slog.Warn("feed fetch circuit breaker open, request rejected",
					slog.String("service", "feed-fetch"),
					slog.String("url", feedURL),
					slog.String("state", f.circuitBreaker.State().String()))
			}
			return cbErr
		}
		result = cbResult.(conditionalResult)
		return nil
	})
	if retryErr != nil {
		return nil, false, "", "", retryErr
	}

	return result.items, result.notModified, result.etag, result.lastModified, nil
}

// doFetch performs the actual feed fetch without retry or circuit breaker.
func (f *RSSFetcher) doFetch(ctx context.Context, feedURL, etag, lastModified string) (conditionalResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return conditionalResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "CatchUpFeedBot")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return conditionalResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		return conditionalResult{notModified: true, etag: etag, lastModified: lastModified}, nil
	}
	if resp.StatusCode >= 400 {
		return conditionalResult{}, &retry.HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("unexpected status: %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return conditionalResult{}, fmt.Errorf("read response body: %w", err)
	}

	fp := gofeed.NewParser()
	parsed, err := fp.Parse(bytes.NewReader(body))
	if err != nil {
		return conditionalResult{}, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]fetch.FeedItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		pubAt := time.Now()
		if it.PublishedParsed != nil {
			pubAt = *it.PublishedParsed
		}

		author := ""
		if it.Author != nil {
			author = it.Author.Name
		}

		items = append(items, fetch.FeedItem{
			Title:       it.Title,
			URL:         it.Link,
			Description: it.Description,
			Content:     it.Content,
			Author:      author,
			GUID:        it.GUID,
			PublishedAt: pubAt,
		})
	}

	return conditionalResult{
		items:        items,
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}, nil
}
