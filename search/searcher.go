package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/index"
	"github.com/poiesic/reviewmill/metrics"
	"github.com/poiesic/reviewmill/storage"
)

// overfetch is the initial multiple of the limit requested from the index
// when filters may discard hits.
const overfetch = 2

// Query is one search request. ProductID and Sentiment are optional filters.
type Query struct {
	Text      string
	Limit     int
	ProductID core.ID
	Sentiment core.SentimentLabel
}

func (q Query) filtered() bool {
	return q.ProductID != 0 || q.Sentiment != ""
}

func (q Query) validate() error {
	if err := core.ValidateSearch(q.Text, q.Limit); err != nil {
		return err
	}
	if q.Sentiment != "" && !q.Sentiment.Valid() {
		return fmt.Errorf("%w: unknown sentiment %q", core.ErrValidation, q.Sentiment)
	}
	return nil
}

// Result is one ranked review.
type Result struct {
	ReviewID core.ID      `json:"review_id"`
	Score    float32      `json:"score"`
	Review   *core.Review `json:"review"`
	// Verbatim is set when the review text contains every query keyword.
	Verbatim  bool     `json:"verbatim"`
	ImageURLs []string `json:"image_urls,omitempty"`
}

// Response is the outcome of a search.
type Response struct {
	Query          string        `json:"query"`
	Results        []Result      `json:"results"`
	ProcessingTime time.Duration `json:"processing_time"`
	TotalResults   int           `json:"total_results"`
}

// Stats describes the searchable corpus.
type Stats struct {
	TotalReviews    int    `json:"total_reviews"`
	TotalVectors    int    `json:"total_vectors"`
	Dimension       int    `json:"dimension"`
	IndexType       string `json:"index_type"`
	SearchAvailable bool   `json:"search_available"`
	RebuildNeeded   bool   `json:"rebuild_needed"`
}

// Searcher provides semantic search over reviews.
type Searcher struct {
	index   *index.Index
	reviews storage.ReviewRepository
	images  storage.ImageRepository
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithImages attaches image URLs to results.
func WithImages(images storage.ImageRepository) Option {
	return func(s *Searcher) error {
		s.images = images
		return nil
	}
}

// WithMetrics records search latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Searcher) error {
		s.metrics = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(ix *index.Index, reviews storage.ReviewRepository, opts ...Option) (*Searcher, error) {
	if ix == nil {
		return nil, ErrIndexRequired
	}
	if reviews == nil {
		return nil, ErrReviewRepositoryRequired
	}

	s := &Searcher{
		index:   ix,
		reviews: reviews,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "search")
	return s, nil
}

// Search returns up to q.Limit reviews most similar to q.Text.
func (s *Searcher) Search(ctx context.Context, q Query) (*Response, error) {
	return s.SearchWithMonitor(ctx, q, nil)
}

// SearchWithMonitor is Search with callbacks at each stage.
func (s *Searcher) SearchWithMonitor(ctx context.Context, q Query, monitor SearchMonitor) (*Response, error) {
	start := time.Now()
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	monitor.Start(q)

	if s.index.RebuildNeeded() {
		s.logger.Warn("searching an index that needs a rebuild", "vectors", s.index.Len())
	}

	vector, err := s.index.Embed(ctx, q.Text)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", q.Text, "err", err)
		return nil, err
	}

	k := q.Limit
	if q.filtered() {
		k *= overfetch
	}

	var results []Result
	for {
		hits, err := s.index.SearchVector(vector, k)
		if err != nil {
			return nil, err
		}
		monitor.AfterVectorSearch(hits)

		results, err = s.join(ctx, q, hits, monitor)
		if err != nil {
			return nil, err
		}
		if len(results) >= q.Limit || len(hits) < k {
			break
		}
		k *= 2
	}
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}

	if s.images != nil {
		if err := s.attachImages(ctx, results); err != nil {
			s.logger.Warn("failed to load result images", "err", err)
		}
	}

	monitor.Finish(results)
	elapsed := time.Since(start)
	s.metrics.ObserveSearch(elapsed)
	s.logger.Debug("search complete", "query", q.Text, "results", len(results), "elapsed", elapsed)

	return &Response{
		Query:          q.Text,
		Results:        results,
		ProcessingTime: elapsed,
		TotalResults:   len(results),
	}, nil
}

// join resolves hits to stored reviews in rank order, dropping hits whose
// review is gone or filtered out.
func (s *Searcher) join(ctx context.Context, q Query, hits []core.SearchHit, monitor SearchMonitor) ([]Result, error) {
	ids := make([]core.ID, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ReviewID
	}
	reviews, err := s.reviews.GetReviews(ctx, ids...)
	if err != nil {
		s.logger.Error("error retrieving reviews", "reviewCount", len(ids), "err", err)
		return nil, err
	}
	monitor.AfterRecordRetrieval(reviews)

	byID := make(map[core.ID]*core.Review, len(reviews))
	for _, r := range reviews {
		byID[r.Id] = r
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		review, ok := byID[hit.ReviewID]
		if !ok {
			s.logger.Debug("indexed review missing from store", "review", hit.ReviewID)
			continue
		}
		if q.ProductID != 0 && review.ProductID != q.ProductID {
			monitor.Filtered(review, "product")
			continue
		}
		if q.Sentiment != "" && (review.Sentiment == nil || review.Sentiment.Label != q.Sentiment) {
			monitor.Filtered(review, "sentiment")
			continue
		}
		results = append(results, Result{
			ReviewID: hit.ReviewID,
			Score:    hit.Score,
			Review:   review,
			Verbatim: containsAllQueryWords(review.Text(), q.Text),
		})
	}
	return results, nil
}

func (s *Searcher) attachImages(ctx context.Context, results []Result) error {
	byProduct := make(map[core.ID]map[core.ID][]string)
	for i := range results {
		productID := results[i].Review.ProductID
		urls, ok := byProduct[productID]
		if !ok {
			images, err := s.images.GetImagesByProduct(ctx, productID)
			if err != nil {
				return err
			}
			urls = make(map[core.ID][]string)
			for _, img := range images {
				url := img.StorageURL
				if url == "" {
					url = img.OriginalURL
				}
				urls[img.ReviewID] = append(urls[img.ReviewID], url)
			}
			byProduct[productID] = urls
		}
		results[i].ImageURLs = urls[results[i].ReviewID]
	}
	return nil
}

// Stats reports the size and availability of the index.
func (s *Searcher) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.reviews.CountReviews(ctx)
	if err != nil {
		return nil, err
	}
	vectors := s.index.Len()
	rebuild := s.index.RebuildNeeded()
	return &Stats{
		TotalReviews:    total,
		TotalVectors:    vectors,
		Dimension:       s.index.Dimension(),
		IndexType:       index.Type,
		SearchAvailable: vectors > 0 && !rebuild,
		RebuildNeeded:   rebuild,
	}, nil
}
