package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/retry"
)

// DefaultCatalog lists the products mock mode picks from when no URL is given.
var DefaultCatalog = []string{
	"https://www.vistaprint.com/photo-gifts/paper-coasters",
	"https://www.vistaprint.com/promotional-products/drinkware/sports-water-bottles/yeti-r-rambler-r-water-bottle-18-oz",
}

// DefaultKeywords lists the search terms random mode picks from.
var DefaultKeywords = []string{"food storage", "gloves", "bottle", "t-shirt", "jacket"}

// Resolver maps a scrape request onto the product to fetch.
type Resolver struct {
	source   Source
	catalog  []string
	keywords []string
	policy   retry.Policy
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver) error

// WithCatalog replaces the mock-mode product catalog.
func WithCatalog(urls []string) ResolverOption {
	return func(r *Resolver) error {
		for _, u := range urls {
			if err := core.ValidateSourceURL(u); err != nil {
				return err
			}
		}
		r.catalog = urls
		return nil
	}
}

// WithKeywords replaces the random-mode search keywords.
func WithKeywords(keywords []string) ResolverOption {
	return func(r *Resolver) error {
		if len(keywords) == 0 {
			return fmt.Errorf("%w: keyword list is empty", core.ErrValidation)
		}
		r.keywords = keywords
		return nil
	}
}

// WithRand sets the random source used for picks.
func WithRand(rng *rand.Rand) ResolverOption {
	return func(r *Resolver) error {
		if rng != nil {
			r.rng = rng
		}
		return nil
	}
}

func WithResolverRetry(policy retry.Policy) ResolverOption {
	return func(r *Resolver) error {
		if policy.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		r.policy = policy
		return nil
	}
}

func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

func NewResolver(source Source, opts ...ResolverOption) (*Resolver, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	policy := retry.DefaultPolicy()
	policy.Retryable = IsRetryable
	r := &Resolver{
		source:   source,
		catalog:  DefaultCatalog,
		keywords: DefaultKeywords,
		policy:   policy,
		logger:   slog.Default(),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "resolver")
	return r, nil
}

// Resolve returns the product reference for a request.
//
//   - scrape: rawURL is required and used as is.
//   - mock: rawURL when given, otherwise a pick from the catalog.
//   - random: a pick among the search results for a random keyword.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, mode core.ScrapeMode) (SourceRef, error) {
	if err := core.ValidateScrapeRequest(rawURL, mode); err != nil {
		return SourceRef{}, err
	}

	switch mode {
	case core.ModeScrape:
		return NewSourceRef(rawURL), nil
	case core.ModeMock:
		if rawURL != "" {
			return NewSourceRef(rawURL), nil
		}
		if len(r.catalog) == 0 {
			return SourceRef{}, ErrEmptyCatalog
		}
		picked := r.pick(r.catalog)
		r.logger.Info("selected catalog product", "url", picked)
		return NewSourceRef(picked), nil
	default:
		return r.resolveRandom(ctx)
	}
}

func (r *Resolver) resolveRandom(ctx context.Context) (SourceRef, error) {
	keyword := r.pick(r.keywords)
	r.logger.Info("searching source", "query", keyword)

	var links []string
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		links, err = r.source.Search(ctx, keyword)
		return err
	})
	if err != nil {
		return SourceRef{}, fmt.Errorf("%w: search %q: %w", core.ErrUnrecoverableFetch, keyword, err)
	}
	if len(links) == 0 {
		return SourceRef{}, fmt.Errorf("%w: %w: %q", core.ErrUnrecoverableFetch, ErrNoSearchResults, keyword)
	}

	picked := r.pick(links)
	r.logger.Info("selected product from search", "query", keyword, "url", picked)
	return NewSourceRef(picked), nil
}

func (r *Resolver) pick(items []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return items[r.rng.IntN(len(items))]
}
