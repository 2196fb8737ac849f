package fetch

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/poiesic/reviewmill/core"
)

var (
	// ErrSourceRequired is returned when a source is not provided.
	ErrSourceRequired = errors.New("source required")

	// ErrPageCacheRequired is returned when a page cache is not provided.
	ErrPageCacheRequired = errors.New("page cache required")

	// ErrBlobStoreRequired is returned when a blob store is not provided.
	ErrBlobStoreRequired = errors.New("blob store required")

	// ErrNoFeedKey is returned when a product page carries no review feed key.
	ErrNoFeedKey = errors.New("no review feed key on product page")

	// ErrNoSearchResults is returned when a keyword search yields no product links.
	ErrNoSearchResults = errors.New("no products found in search results")

	// ErrEmptyCatalog is returned when mock mode has neither a URL nor a catalog.
	ErrEmptyCatalog = errors.New("mock catalog is empty")

	// ErrPageTooLarge is returned when a page body exceeds the size limit.
	ErrPageTooLarge = errors.New("page too large")
)

// HTTPStatusError reports a non-2xx response from the source.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap makes every status error a network error.
func (e *HTTPStatusError) Unwrap() error {
	return core.ErrNetwork
}

// Temporary reports whether the status is worth retrying.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable classifies fetch errors for the retry policy.
// Client errors other than 429 are permanent; everything else is retried.
func IsRetryable(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return !errors.Is(err, ErrNoFeedKey) && !errors.Is(err, ErrPageTooLarge)
}
