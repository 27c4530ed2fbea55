package scrape

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stockscout/stockscout/internal/browser"
	"github.com/stockscout/stockscout/internal/catalog"
	"github.com/stockscout/stockscout/internal/extract"
	"github.com/stockscout/stockscout/internal/ratelimit"
)

const navigationRetries = 3

// Listing walks one listing URL and its pagination with a dedicated
// browser session, collecting product URLs.
type Listing struct {
	browser   *browser.Browser
	extractor *extract.Extractor
	limiter   ratelimit.RateLimiter
	logger    *slog.Logger
}

func NewListing(b *browser.Browser, e *extract.Extractor, limiter ratelimit.RateLimiter) *Listing {
	return &Listing{
		browser:   b,
		extractor: e,
		limiter:   limiter,
		logger:    slog.Default().With("component", "listing_client"),
	}
}

// ProductURLs fetches the listing's first page, reads the pagination count
// and visits every page, returning the deduplicated product URLs found.
func (l *Listing) ProductURLs(ctx context.Context, listingURL string) ([]string, error) {
	session, err := l.browser.NewSession()
	if err != nil {
		return nil, catalog.Tag(catalog.ReasonNavigation, err)
	}
	defer session.Close()
	page := session.Page()

	if err := l.browser.NavigateWithRetry(page, listingURL, navigationRetries); err != nil {
		return nil, catalog.Tag(catalog.ReasonNavigation, err)
	}

	html, err := page.Content()
	if err != nil {
		return nil, catalog.Tag(catalog.ReasonExtraction, fmt.Errorf("failed to read listing page: %w", err))
	}

	totalPages, err := l.extractor.PageCount(html)
	if err != nil {
		return nil, catalog.Tag(catalog.ReasonExtraction, err)
	}
	l.logger.Info("crawling listing", "url", listingURL, "pages", totalPages)

	seen := make(map[string]struct{})
	var urls []string
	collect := func(html string) error {
		pageURLs, err := l.extractor.ProductURLs(html, listingURL)
		if err != nil {
			return catalog.Tag(catalog.ReasonExtraction, err)
		}
		for _, u := range pageURLs {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
		return nil
	}

	if err := collect(html); err != nil {
		return nil, err
	}

	for pageNum := 2; pageNum <= totalPages; pageNum++ {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		pageURL := fmt.Sprintf("%s?page=%d", listingURL, pageNum)
		if err := l.browser.NavigateWithRetry(page, pageURL, navigationRetries); err != nil {
			return nil, catalog.Tag(catalog.ReasonNavigation, err)
		}

		html, err := page.Content()
		if err != nil {
			return nil, catalog.Tag(catalog.ReasonExtraction, fmt.Errorf("failed to read listing page %d: %w", pageNum, err))
		}
		if err := collect(html); err != nil {
			return nil, err
		}

		l.logger.Debug("listing page crawled", "url", pageURL, "total_found", len(urls))
	}

	return urls, nil
}
