// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/reviewmill/blob"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/metrics"
	"github.com/poiesic/reviewmill/retry"
	"github.com/poiesic/reviewmill/storage"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultCacheTTL = 24 * time.Hour
	DefaultMaxPages = 20
	DefaultMinDelay = time.Second
)

// Status describes how a fetch went.
type Status struct {
	FromCache bool
	// PartialFailure is set when a page exhausted its retries and pagination stopped early.
	PartialFailure bool
	// FailedPage is the review page number that failed, or -1 when the product page failed.
	FailedPage int
	// Truncated is set when MaxPages was reached while the source still reported more pages.
	Truncated bool
	// Err is the last error of the failed page.
	Err error
}

// Result is the outcome of one Fetch. Pages holds the product page first,
// followed by review pages in order.
type Result struct {
	Pages  []core.RawPage
	Status Status
}

// Fetcher retrieves pages for a source through the page cache.
type Fetcher struct {
	source   Source
	cache    storage.PageCache
	blobs    blob.Store
	limiter  *rate.Limiter
	policy   retry.Policy
	ttl      time.Duration
	maxPages int
	now      func() time.Time
	metrics  *metrics.Metrics
	group    singleflight.Group
	logger   *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher) error

// WithCacheTTL sets how long a cache entry is served. Default is 24h.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: cache ttl must be positive", core.ErrValidation)
		}
		f.ttl = ttl
		return nil
	}
}

// WithMaxPages bounds the number of review pages fetched. Default is 20.
func WithMaxPages(n int) Option {
	return func(f *Fetcher) error {
		if n < 1 {
			return fmt.Errorf("%w: max pages %d", core.ErrInvalidLimit, n)
		}
		f.maxPages = n
		return nil
	}
}

// WithMinDelay sets the minimum delay between consecutive source requests.
// Zero disables the delay. Default is 1s.
func WithMinDelay(d time.Duration) Option {
	return func(f *Fetcher) error {
		if d <= 0 {
			f.limiter = rate.NewLimiter(rate.Inf, 1)
			return nil
		}
		f.limiter = rate.NewLimiter(rate.Every(d), 1)
		return nil
	}
}

// WithRetryPolicy sets the policy applied to every page request.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(f *Fetcher) error {
		if policy.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		if policy.Retryable == nil {
			policy.Retryable = IsRetryable
		}
		f.policy = policy
		return nil
	}
}

// WithClock overrides the time source used for cache buckets and expiry.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) error {
		if now != nil {
			f.now = now
		}
		return nil
	}
}

// WithMetrics records cache lookups, page counts and fetch failures in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) error {
		f.metrics = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		f.logger = logger
		return nil
	}
}

// NewFetcher creates a fetcher for source. Raw pages are archived in blobs and
// indexed by cache.
func NewFetcher(source Source, cache storage.PageCache, blobs blob.Store, opts ...Option) (*Fetcher, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if cache == nil {
		return nil, ErrPageCacheRequired
	}
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}

	policy := retry.DefaultPolicy()
	policy.Retryable = IsRetryable

	f := &Fetcher{
		source:   source,
		cache:    cache,
		blobs:    blobs,
		limiter:  rate.NewLimiter(rate.Every(DefaultMinDelay), 1),
		policy:   policy,
		ttl:      DefaultCacheTTL,
		maxPages: DefaultMaxPages,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	f.logger = f.logger.With("component", "fetcher", "source", source.Name())
	return f, nil
}

// Fetch returns the pages for ref, from the cache when a fresh entry exists
// for today's bucket and forceRefresh is false. Concurrent live fetches of the
// same slug and bucket are shared, forced refreshes included, so a caller that
// misses the cache joins a refresh already in flight.
//
// The shared fetch is detached from any single caller's cancellation and is
// bounded by the retry policy's per-attempt timeouts. A caller whose ctx ends
// stops waiting and gets ctx.Err(); the others still get the result.
//
// A page that exhausts its retries does not produce an error; the result
// carries the pages fetched before it and Status.PartialFailure.
func (f *Fetcher) Fetch(ctx context.Context, ref SourceRef, forceRefresh bool) (*Result, error) {
	if ref.Slug == "" {
		ref.Slug = core.SlugFromURL(ref.URL)
	}
	if err := core.ValidateSourceURL(ref.URL); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bucket := core.DateBucket(f.now())
	if forceRefresh {
		f.metrics.RecordCacheLookup("bypass")
	} else if pages, ok := f.lookup(ctx, ref.Slug, bucket); ok {
		f.metrics.RecordPages("cache", len(pages))
		f.logger.Info("serving pages from cache", "slug", ref.Slug, "bucket", bucket, "pages", len(pages))
		return &Result{Pages: pages, Status: Status{FromCache: true, FailedPage: -1}}, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := f.group.DoChan(ref.Slug+"/"+bucket, func() (any, error) {
		return f.refresh(detached, ref, bucket)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			f.logger.Debug("shared in-flight fetch", "slug", ref.Slug, "bucket", bucket)
		}
		result := *res.Val.(*Result)
		return &result, nil
	}
}

// refresh fetches live and overwrites the cache entry when the fetch was complete.
func (f *Fetcher) refresh(ctx context.Context, ref SourceRef, bucket string) (*Result, error) {
	result, err := f.fetchLive(ctx, ref)
	if err != nil {
		return nil, err
	}
	f.metrics.RecordPages("live", len(result.Pages))

	if result.Status.PartialFailure || len(result.Pages) == 0 {
		return result, nil
	}
	if err := f.store(ctx, ref, bucket, result.Pages); err != nil {
		f.logger.Warn("failed to cache pages", "slug", ref.Slug, "error", err)
	}
	return result, nil
}

// lookup returns cached pages for (slug, bucket) when a fresh, readable entry exists.
func (f *Fetcher) lookup(ctx context.Context, slug, bucket string) ([]core.RawPage, bool) {
	entry, err := f.cache.GetEntry(ctx, slug, bucket)
	if err != nil {
		f.logger.Warn("page cache read failed", "slug", slug, "error", err)
		f.metrics.RecordCacheLookup("miss")
		return nil, false
	}
	if entry == nil {
		f.metrics.RecordCacheLookup("miss")
		return nil, false
	}
	if entry.Expired(f.now(), f.ttl) {
		f.metrics.RecordCacheLookup("expired")
		return nil, false
	}
	if len(entry.PageKeys) == 0 || len(entry.PageKeys) != len(entry.Pages) {
		f.metrics.RecordCacheLookup("miss")
		return nil, false
	}

	bodies, err := blob.GetAll(ctx, f.blobs, entry.PageKeys)
	if err != nil {
		f.logger.Warn("cached pages unreadable, refetching", "slug", slug, "error", err)
		f.metrics.RecordCacheLookup("miss")
		return nil, false
	}

	pages := make([]core.RawPage, len(bodies))
	for i, desc := range entry.Pages {
		pages[i] = core.RawPage{
			Kind:        desc.Kind,
			Number:      desc.Number,
			URL:         desc.URL,
			ContentType: desc.ContentType,
			Body:        bodies[i],
			FetchedAt:   entry.CreatedAt,
		}
	}
	f.metrics.RecordCacheLookup("hit")
	return pages, true
}

func (f *Fetcher) fetchLive(ctx context.Context, ref SourceRef) (*Result, error) {
	result := &Result{Status: Status{FailedPage: -1}}

	var product core.RawPage
	err := f.do(ctx, func(ctx context.Context) error {
		var err error
		product, err = f.source.FetchProductPage(ctx, ref.URL)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		f.logger.Error("product page fetch failed", "url", ref.URL, "error", err)
		f.metrics.RecordFetchFailure("product")
		result.Status.PartialFailure = true
		result.Status.Err = err
		return result, nil
	}
	result.Pages = append(result.Pages, product)

	feedKey, err := f.source.FeedKey(product)
	if err != nil {
		f.logger.Warn("no review feed on product page", "url", ref.URL, "error", err)
		return result, nil
	}
	if feedKey == "" {
		f.logger.Info("product has no reviews section", "url", ref.URL)
		return result, nil
	}

	for n := 0; n < f.maxPages; n++ {
		var (
			page    core.RawPage
			hasNext bool
		)
		err := f.do(ctx, func(ctx context.Context) error {
			var err error
			page, hasNext, err = f.source.FetchReviewPage(ctx, feedKey, n)
			return err
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			f.logger.Error("review page fetch failed, stopping pagination",
				"feedKey", feedKey, "page", n, "fetched", n, "error", err)
			f.metrics.RecordFetchFailure("reviews")
			result.Status.PartialFailure = true
			result.Status.FailedPage = n
			result.Status.Err = err
			return result, nil
		}
		result.Pages = append(result.Pages, page)
		f.logger.Debug("fetched review page", "feedKey", feedKey, "page", n, "hasNext", hasNext)

		if !hasNext {
			return result, nil
		}
		if n == f.maxPages-1 {
			f.logger.Warn("page ceiling reached", "feedKey", feedKey, "maxPages", f.maxPages)
			result.Status.Truncated = true
		}
	}
	return result, nil
}

// do runs one source request under the retry policy. Every attempt waits
// for the rate limiter so consecutive requests keep their minimum spacing.
func (f *Fetcher) do(ctx context.Context, request func(ctx context.Context) error) error {
	return f.policy.Do(ctx, func(attemptCtx context.Context) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		return request(attemptCtx)
	})
}

// store archives pages in the blob store and records them in the cache.
func (f *Fetcher) store(ctx context.Context, ref SourceRef, bucket string, pages []core.RawPage) error {
	at := f.now().UTC()
	entry := &core.CacheEntry{
		Slug:      ref.Slug,
		Bucket:    bucket,
		URL:       ref.URL,
		CreatedAt: at,
	}
	for _, page := range pages {
		key := blob.ProductPageKey(ref.Slug, at)
		if page.Kind == core.PageKindReviews {
			key = blob.ReviewPageKey(ref.Slug, at, page.Number)
		}
		if _, err := f.blobs.Put(ctx, key, page.Body, page.ContentType); err != nil {
			return fmt.Errorf("archiving %s: %w", key, err)
		}
		entry.PageKeys = append(entry.PageKeys, key)
		entry.Pages = append(entry.Pages, core.PageDescriptor{
			Kind:        page.Kind,
			Number:      page.Number,
			URL:         page.URL,
			ContentType: page.ContentType,
		})
	}
	if err := f.cache.PutEntry(ctx, entry, f.ttl); err != nil {
		return err
	}
	f.logger.Info("cached pages", "slug", ref.Slug, "bucket", bucket, "pages", len(pages))
	return nil
}

// IsUnrecoverable reports whether a result holds no usable page at all.
func (r *Result) IsUnrecoverable() bool {
	return len(r.Pages) == 0
}

// Unrecoverable wraps the failure of a result with no pages.
func (r *Result) Unrecoverable() error {
	if r.Status.Err == nil {
		return core.ErrUnrecoverableFetch
	}
	if errors.Is(r.Status.Err, core.ErrUnrecoverableFetch) {
		return r.Status.Err
	}
	return fmt.Errorf("%w: %w", core.ErrUnrecoverableFetch, r.Status.Err)
}
