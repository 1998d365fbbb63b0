package scraper

import (
	"net/http"

	"newspulse/internal/domain/entity"
	"newspulse/internal/usecase/fetch"
)

// ScraperFactory creates the fetcher instances keyed by entity.FeedKind.
// It provides a centralized way to instantiate fetchers with consistent configuration.
type ScraperFactory struct {
	client *http.Client
}

// NewScraperFactory creates a new ScraperFactory with the given HTTP client.
// The HTTP client should be configured with appropriate timeouts and security settings.
func NewScraperFactory(client *http.Client) *ScraperFactory {
	return &ScraperFactory{client: client}
}

// CreateFetchers creates and returns a map of all available fetchers, keyed
// by the Feed.Kind that selects them.
//
// This map is used by fetch.Service to route feeds to the appropriate fetcher.
func (f *ScraperFactory) CreateFetchers() map[entity.FeedKind]fetch.FeedFetcher {
	return map[entity.FeedKind]fetch.FeedFetcher{
		entity.FeedKindRSS:     NewRSSFetcher(f.client),
		entity.FeedKindWebflow: NewWebflowScraper(f.client),
		entity.FeedKindNextJS:  NewNextJSScraper(f.client),
		entity.FeedKindRemix:   NewRemixScraper(f.client),
	}
}
