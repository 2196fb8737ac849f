package fetch

import (
	"context"

	"github.com/poiesic/reviewmill/core"
)

// SourceRef identifies one product to fetch.
type SourceRef struct {
	URL  string
	Slug string
}

// NewSourceRef derives the slug from the product URL.
func NewSourceRef(url string) SourceRef {
	return SourceRef{URL: url, Slug: core.SlugFromURL(url)}
}

// Source is a paginated review provider.
type Source interface {
	// Name identifies the source, e.g. "vistaprint".
	Name() string

	// FetchProductPage performs one request for the product page.
	FetchProductPage(ctx context.Context, url string) (core.RawPage, error)

	// FeedKey reads the review feed key from a product page.
	// It returns "" and no error when the page has no review section.
	FeedKey(page core.RawPage) (string, error)

	// FetchReviewPage performs one request for the zero-based review page n
	// and reports whether the source has further pages.
	FetchReviewPage(ctx context.Context, feedKey string, n int) (core.RawPage, bool, error)

	// Search returns absolute product URLs matching query.
	Search(ctx context.Context, query string) ([]string, error)
}
