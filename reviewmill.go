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

package reviewmill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/poiesic/reviewmill/ai"
	"github.com/poiesic/reviewmill/ai/openai"
	"github.com/poiesic/reviewmill/blob"
	"github.com/poiesic/reviewmill/config"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/extract"
	"github.com/poiesic/reviewmill/fetch"
	"github.com/poiesic/reviewmill/index"
	"github.com/poiesic/reviewmill/ingestion"
	"github.com/poiesic/reviewmill/media"
	"github.com/poiesic/reviewmill/metrics"
	"github.com/poiesic/reviewmill/search"
	"github.com/poiesic/reviewmill/sentiment"
	"github.com/poiesic/reviewmill/storage"
	"github.com/poiesic/reviewmill/storage/badger"
	"github.com/poiesic/reviewmill/storage/postgres"
	"github.com/poiesic/reviewmill/storage/redis"
	goredis "github.com/redis/go-redis/v9"
)

// Service owns every component of a running reviewmill instance.
// It is safe for concurrent use; Close must be called exactly once when done.
type Service struct {
	cfg *config.Config

	badgerRepos *badger.Repositories
	pgRepos     *postgres.Repositories
	redisClient *goredis.Client

	products storage.ProductRepository
	reviews  storage.ReviewRepository
	images   storage.ImageRepository
	blobs    blob.Store

	provider ai.AIProvider
	index    *index.Index
	pipeline *ingestion.Pipeline
	searcher *search.Searcher
	metrics  *metrics.Metrics
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	cfg        *config.Config
	provider   ai.AIProvider
	source     fetch.Source
	blobs      blob.Store
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
	progress   io.Writer
}

// WithConfig sets the configuration. Defaults to config.Default().
func WithConfig(cfg *config.Config) Option {
	return func(o *serviceOptions) {
		o.cfg = cfg
	}
}

// WithProvider replaces the OpenAI-compatible provider built from the config.
// The Service takes ownership and closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *serviceOptions) {
		o.provider = provider
	}
}

// WithSource replaces the Vistaprint source built from the config.
func WithSource(source fetch.Source) Option {
	return func(o *serviceOptions) {
		o.source = source
	}
}

// WithBlobStore replaces the blob store built from the config.
func WithBlobStore(store blob.Store) Option {
	return func(o *serviceOptions) {
		o.blobs = store
	}
}

// WithHTTPClient sets the client used for source pages and image downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(o *serviceOptions) {
		o.httpClient = client
	}
}

// WithMetrics shares m with every component. Default is a fresh registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *serviceOptions) {
		o.metrics = m
	}
}

// WithLogger sets the base logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithProgress reports index rebuild progress to w.
func WithProgress(w io.Writer) Option {
	return func(o *serviceOptions) {
		o.progress = w
	}
}

// New opens the stores, builds the ingestion and search components and loads
// the vector index. The index is rebuilt before New returns when the persisted
// snapshot is unusable or disagrees with the review store.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	options := &serviceOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.cfg == nil {
		options.cfg = config.Default()
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.metrics == nil {
		options.metrics = metrics.New()
	}
	cfg := options.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		metrics: options.metrics,
		logger:  options.logger.With("component", "service"),
	}
	if err := s.open(ctx, options); err != nil {
		if cerr := s.release(); cerr != nil {
			s.logger.Error("error releasing resources after failed start", "err", cerr)
		}
		return nil, err
	}
	return s, nil
}

func (s *Service) open(ctx context.Context, options *serviceOptions) error {
	cfg := s.cfg
	logger := options.logger

	backend, err := badger.OpenBackend(cfg.Storage.Path, cfg.Storage.InMemory)
	if err != nil {
		return fmt.Errorf("failed to open badger store: %w", err)
	}
	s.badgerRepos, err = badger.NewRepositories(backend)
	if err != nil {
		backend.Close()
		return err
	}
	s.products, s.reviews, s.images = s.badgerRepos.Products, s.badgerRepos.Reviews, s.badgerRepos.Images

	if cfg.Storage.Driver == config.DriverPostgres {
		db, err := postgres.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		s.pgRepos = postgres.NewRepositories(db)
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return err
		}
		s.products, s.reviews, s.images = s.pgRepos.Products, s.pgRepos.Reviews, s.pgRepos.Images
	}

	var cache storage.PageCache = s.badgerRepos.PageCache
	if cfg.Cache.Driver == config.DriverRedis {
		s.redisClient, err = redis.NewClient(cfg.Cache.Redis)
		if err != nil {
			return err
		}
		cache = redis.NewPageCache(s.redisClient, cfg.Cache.Redis.KeyPrefix)
	}

	s.blobs = options.blobs
	if s.blobs == nil {
		if s.blobs, err = OpenBlobStore(ctx, cfg.Blob); err != nil {
			return err
		}
	}

	s.provider = options.provider
	if s.provider == nil {
		if s.provider, err = openai.NewProvider(&cfg.AI); err != nil {
			return fmt.Errorf("failed to create AI provider: %w", err)
		}
	}

	source := options.source
	if source == nil {
		sourceOpts := []fetch.VistaprintOption{
			fetch.WithBaseURL(cfg.Fetch.BaseURL),
			fetch.WithAPIURL(cfg.Fetch.APIURL),
			fetch.WithPageSize(cfg.Fetch.PageSize),
			fetch.WithSourceLogger(logger),
		}
		client := options.httpClient
		if client == nil {
			client = &http.Client{Timeout: cfg.Fetch.Timeout}
		}
		sourceOpts = append(sourceOpts, fetch.WithHTTPClient(client))
		if source, err = fetch.NewVistaprintSource(sourceOpts...); err != nil {
			return err
		}
	}

	policy := cfg.Retry.Policy()
	resolver, err := fetch.NewResolver(source,
		fetch.WithCatalog(cfg.Fetch.Catalog),
		fetch.WithKeywords(cfg.Fetch.Keywords),
		fetch.WithResolverRetry(policy),
		fetch.WithResolverLogger(logger))
	if err != nil {
		return err
	}
	fetcher, err := fetch.NewFetcher(source, cache, s.blobs,
		fetch.WithCacheTTL(cfg.Cache.TTL),
		fetch.WithMaxPages(cfg.Fetch.MaxPages),
		fetch.WithMinDelay(cfg.Fetch.MinDelay),
		fetch.WithRetryPolicy(policy),
		fetch.WithMetrics(s.metrics),
		fetch.WithLogger(logger))
	if err != nil {
		return err
	}
	classifier, err := sentiment.New(s.provider.SentimentClassifier(),
		sentiment.WithRetryPolicy(policy),
		sentiment.WithConcurrency(cfg.Ingestion.PoolSize),
		sentiment.WithMetrics(s.metrics),
		sentiment.WithLogger(logger))
	if err != nil {
		return err
	}

	mediaOpts := []media.Option{
		media.WithRetryPolicy(policy),
		media.WithMaxBytes(cfg.Media.MaxBytes),
		media.WithMetrics(s.metrics),
		media.WithLogger(logger),
	}
	if options.httpClient != nil {
		mediaOpts = append(mediaOpts, media.WithHTTPClient(options.httpClient))
	}
	mediaStore, err := media.New(s.images, s.blobs, mediaOpts...)
	if err != nil {
		return err
	}

	indexOpts := []index.Option{
		index.WithDimension(cfg.AI.Dimension),
		index.WithSnapshotName(cfg.Index.SnapshotName),
		index.WithBatchSize(cfg.Index.BatchSize),
		index.WithRetryPolicy(policy),
		index.WithMetrics(s.metrics),
		index.WithLogger(logger),
	}
	if options.progress != nil {
		indexOpts = append(indexOpts, index.WithProgress(options.progress, cfg.Index.ReportInterval))
	}
	s.index, err = index.New(s.provider.Embedder(), s.badgerRepos.Snapshots, indexOpts...)
	if err != nil {
		return err
	}
	if err := s.loadIndex(ctx); err != nil {
		return err
	}

	s.pipeline, err = ingestion.NewPipeline(ingestion.Components{
		Products:   s.products,
		Reviews:    s.reviews,
		Resolver:   resolver,
		Fetcher:    fetcher,
		Extractor:  extract.New(source.Name(), logger),
		Classifier: classifier,
		Media:      mediaStore,
		Index:      s.index,
	},
		ingestion.WithPoolSize(cfg.Ingestion.PoolSize),
		ingestion.WithMetrics(s.metrics),
		ingestion.WithLogger(logger))
	if err != nil {
		return err
	}

	s.searcher, err = search.NewSearcher(s.index, s.reviews,
		search.WithImages(s.images),
		search.WithMetrics(s.metrics),
		search.WithLogger(logger))
	return err
}

// OpenBlobStore builds the blob store selected by cfg.
func OpenBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return blob.NewMemoryStore(), nil
	case config.DriverFile:
		store, err := blob.NewFileStore(cfg.Root)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverS3:
		store, err := blob.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("%w: blob %q", config.ErrUnknownDriver, cfg.Driver)
}

// loadIndex restores the persisted index and rebuilds it when it cannot be
// trusted.
func (s *Service) loadIndex(ctx context.Context) error {
	if err := s.index.Load(ctx); err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}

	reason := ""
	if s.index.RebuildNeeded() {
		reason = "snapshot unusable"
	} else if err := s.index.CheckConsistency(ctx, s.reviews); err != nil {
		var cerr *index.ConsistencyError
		if !errors.As(err, &cerr) {
			return err
		}
		reason = cerr.Error()
	}
	if reason == "" {
		return nil
	}

	s.logger.Warn("rebuilding index", "reason", reason)
	if _, err := s.RebuildIndex(ctx); err != nil {
		return err
	}
	return nil
}

// ScrapeRequest asks for one product's reviews to be ingested.
type ScrapeRequest struct {
	URL          string          `json:"url"`
	Mode         core.ScrapeMode `json:"mode"`
	ForceRefresh bool            `json:"force_refresh"`
}

// ScrapeResponse summarizes one ingestion.
type ScrapeResponse struct {
	ProductID      core.ID                  `json:"product_id"`
	URL            string                   `json:"url"`
	ReviewsCount   int                      `json:"reviews_count"`
	ProcessingTime time.Duration            `json:"processing_time"`
	AnomalyCount   int                      `json:"anomaly_count"`
	AnomalyCounts  map[core.AnomalyKind]int `json:"anomaly_counts,omitempty"`
	PartialFailure bool                     `json:"partial_failure"`
	State          ingestion.State          `json:"state"`
}

// Scrape ingests the product named by req. When nothing could be ingested the
// error is returned together with a FAILED response.
func (s *Service) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error) {
	res, err := s.pipeline.Ingest(ctx, ingestion.Request{
		URL:          req.URL,
		Mode:         req.Mode,
		ForceRefresh: req.ForceRefresh,
	})
	if res == nil {
		return nil, err
	}
	return &ScrapeResponse{
		ProductID:      res.ProductID,
		URL:            res.URL,
		ReviewsCount:   res.ReviewsIngested,
		ProcessingTime: res.Elapsed,
		AnomalyCount:   res.AnomalyCount(),
		AnomalyCounts:  res.AnomalyCounts,
		PartialFailure: res.PartialFailure,
		State:          res.State,
	}, err
}

// ProductDetail is a product with its stored reviews and images.
type ProductDetail struct {
	Product *core.Product       `json:"product"`
	Reviews []*core.Review      `json:"reviews"`
	Images  []*core.ReviewImage `json:"images"`
}

// GetProduct returns storage.ErrNotFound for an unknown id.
func (s *Service) GetProduct(ctx context.Context, id core.ID) (*ProductDetail, error) {
	product, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	reviews, err := s.reviews.GetReviewsByProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load reviews: %w", err)
	}
	images, err := s.images.GetImagesByProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load images: %w", err)
	}
	return &ProductDetail{Product: product, Reviews: reviews, Images: images}, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]*core.Product, error) {
	return s.products.ListProducts(ctx)
}

// ProductStats aggregates the stored reviews of one product.
type ProductStats struct {
	ProductID   core.ID `json:"product_id"`
	ReviewCount int     `json:"review_count"`
	// AverageRating is rounded to two decimals and nil when there are no reviews.
	AverageRating         *float64                    `json:"average_rating"`
	SentimentDistribution map[core.SentimentLabel]int `json:"sentiment_distribution"`
	ImageCount            int                         `json:"image_count"`
}

// ProductStats returns storage.ErrNotFound for an unknown id.
func (s *Service) ProductStats(ctx context.Context, id core.ID) (*ProductStats, error) {
	detail, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &ProductStats{
		ProductID:             id,
		ReviewCount:           len(detail.Reviews),
		SentimentDistribution: make(map[core.SentimentLabel]int),
		ImageCount:            len(detail.Images),
	}
	total := 0
	for _, r := range detail.Reviews {
		total += r.Rating
		if r.Sentiment != nil {
			stats.SentimentDistribution[r.Sentiment.Label]++
		}
	}
	if stats.ReviewCount > 0 {
		avg := math.Round(float64(total)/float64(stats.ReviewCount)*100) / 100
		stats.AverageRating = &avg
	}
	return stats, nil
}

// ReviewsBySentiment returns up to limit reviews carrying label.
func (s *Service) ReviewsBySentiment(ctx context.Context, label core.SentimentLabel, limit int) ([]*core.Review, error) {
	if !label.Valid() {
		return nil, fmt.Errorf("%w: unknown sentiment %q", core.ErrValidation, label)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", core.ErrValidation)
	}
	return s.reviews.GetReviewsBySentiment(ctx, label, limit)
}

// Search returns the k reviews closest to query.
func (s *Service) Search(ctx context.Context, query string, k int) (*search.Response, error) {
	return s.searcher.Search(ctx, search.Query{Text: query, Limit: k})
}

// SearchFiltered runs a query restricted to a product or sentiment.
func (s *Service) SearchFiltered(ctx context.Context, q search.Query) (*search.Response, error) {
	return s.searcher.Search(ctx, q)
}

// SearchStats reports index size and health.
func (s *Service) SearchStats(ctx context.Context) (*search.Stats, error) {
	return s.searcher.Stats(ctx)
}

// RebuildIndex re-embeds every stored review and persists the new index.
func (s *Service) RebuildIndex(ctx context.Context) (index.RebuildStats, error) {
	stats, err := s.index.Rebuild(ctx, s.reviews)
	if err != nil {
		return stats, fmt.Errorf("failed to rebuild index: %w", err)
	}
	if err := s.index.Persist(ctx); err != nil {
		return stats, fmt.Errorf("failed to persist index: %w", err)
	}
	return stats, nil
}

// CheckIndex compares the index with the review store. A nil
// *index.ConsistencyError means they agree.
func (s *Service) CheckIndex(ctx context.Context) (*index.ConsistencyError, error) {
	err := s.index.CheckConsistency(ctx, s.reviews)
	if err == nil {
		return nil, nil
	}
	var cerr *index.ConsistencyError
	if errors.As(err, &cerr) {
		return cerr, nil
	}
	return nil, err
}

// PersistIndex writes the current index snapshot. Close also does this.
func (s *Service) PersistIndex(ctx context.Context) error {
	return s.index.Persist(ctx)
}

// Blobs exposes the object store, e.g. for log shipping.
func (s *Service) Blobs() blob.Store {
	return s.blobs
}

// Metrics returns the service metrics.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Close persists the index and releases every resource. Later calls return
// the result of the first.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		if s.index != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.index.Persist(ctx); err != nil {
				s.logger.Error("error persisting index", "err", err)
				s.closeErr = err
			}
			cancel()
		}
		if err := s.release(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}

func (s *Service) release() error {
	var errs []error
	if s.pipeline != nil {
		s.pipeline.Release()
	}
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("error closing redis client", "err", err)
			errs = append(errs, err)
		}
	}
	if s.pgRepos != nil {
		if err := s.pgRepos.Close(); err != nil {
			s.logger.Error("error closing postgres pool", "err", err)
			errs = append(errs, err)
		}
	}
	if s.badgerRepos != nil {
		if err := s.badgerRepos.Close(); err != nil {
			s.logger.Error("error closing repositories", "err", err)
			errs = append(errs, err)
		}
		if err := s.badgerRepos.Backend.Close(); err != nil {
			s.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
