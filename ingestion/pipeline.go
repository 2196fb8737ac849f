package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/extract"
	"github.com/poiesic/reviewmill/fetch"
	"github.com/poiesic/reviewmill/index"
	"github.com/poiesic/reviewmill/metrics"
	"github.com/poiesic/reviewmill/storage"
)

// Resolver turns caller input into a product reference.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string, mode core.ScrapeMode) (fetch.SourceRef, error)
}

// Fetcher retrieves the raw pages of a product.
type Fetcher interface {
	Fetch(ctx context.Context, ref fetch.SourceRef, forceRefresh bool) (*fetch.Result, error)
}

// Extractor parses raw pages.
type Extractor interface {
	Extract(productURL string, pages []core.RawPage) (*extract.Extraction, error)
}

// Classifier assigns a sentiment to review text and never fails.
type Classifier interface {
	Classify(ctx context.Context, text string) core.Sentiment
}

// MediaStore saves review images, reporting failures as anomalies.
type MediaStore interface {
	Store(ctx context.Context, product *core.Product, reviewID core.ID, refs []core.ImageRef) ([]*core.ReviewImage, []core.Anomaly)
}

// Indexer is the writable side of the vector index.
type Indexer interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	AddVectors(entries ...index.Entry) error
	Contains(reviewID core.ID) bool
	MarkRebuildNeeded()
}

// Components are the collaborators a Pipeline drives. All are required.
type Components struct {
	Products   storage.ProductRepository
	Reviews    storage.ReviewRepository
	Resolver   Resolver
	Fetcher    Fetcher
	Extractor  Extractor
	Classifier Classifier
	Media      MediaStore
	Index      Indexer
}

func (c Components) validate() error {
	switch {
	case c.Products == nil:
		return ErrProductRepositoryRequired
	case c.Reviews == nil:
		return ErrReviewRepositoryRequired
	case c.Resolver == nil:
		return ErrResolverRequired
	case c.Fetcher == nil:
		return ErrFetcherRequired
	case c.Extractor == nil:
		return ErrExtractorRequired
	case c.Classifier == nil:
		return ErrClassifierRequired
	case c.Media == nil:
		return ErrMediaStoreRequired
	case c.Index == nil:
		return ErrIndexRequired
	}
	return nil
}

// Request is one ingestion request.
type Request struct {
	URL          string
	Mode         core.ScrapeMode
	ForceRefresh bool
}

// Result is the outcome of one ingestion request.
type Result struct {
	ProductID core.ID
	Product   *core.Product
	URL       string
	State     State

	// ReviewsIngested is the number of reviews persisted by this request.
	ReviewsIngested int
	Inserted        int
	Updated         int
	Indexed         int
	ImagesStored    int
	FromCache       bool

	Anomalies     []core.Anomaly
	AnomalyCounts map[core.AnomalyKind]int
	// PartialFailure is set when some content could not be fetched, stored
	// or indexed. Anomalies that were repaired in place do not set it.
	PartialFailure bool
	Elapsed        time.Duration
}

// AnomalyCount returns the total number of anomalies.
func (r *Result) AnomalyCount() int {
	return len(r.Anomalies)
}

func (r *Result) record(anomalies ...core.Anomaly) {
	for _, a := range anomalies {
		r.Anomalies = append(r.Anomalies, a)
		r.AnomalyCounts[a.Kind]++
		if a.Kind == core.AnomalyImage || a.Kind == core.AnomalyIndex {
			r.PartialFailure = true
		}
	}
}

// Pipeline orchestrates ingestion requests. It is safe for concurrent use;
// all requests share one worker pool.
type Pipeline struct {
	components    Components
	pool          *ants.Pool
	sentimentProc processor
	mediaProc     processor
	indexProc     processor
	now           func() time.Time
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for per-review processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithClock sets the time source used for product timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) error {
		if now != nil {
			p.now = now
		}
		return nil
	}
}

// WithMetrics records request outcomes and anomalies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(components Components, opts ...Option) (*Pipeline, error) {
	if err := components.validate(); err != nil {
		return nil, err
	}

	poolSize := max(runtime.NumCPU()/2, 1)
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		components: components,
		pool:       pool,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	p.sentimentProc = &sentimentProcessor{classifier: components.Classifier, logger: p.logger}
	p.mediaProc = &mediaProcessor{media: components.Media}
	p.indexProc = &indexProcessor{index: components.Index, logger: p.logger}
	return p, nil
}

// Ingest runs one request to a terminal state.
//
// Validation errors are returned before any work starts. A request that
// yields no usable page returns an error wrapping core.ErrUnrecoverableFetch
// together with a FAILED result. If ctx is cancelled during enrichment or
// indexing, work already handed to the pool completes, nothing new is
// scheduled, and the context error is returned with the partial result.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	m := newMachine()
	res := &Result{State: StateQueued, AnomalyCounts: make(map[core.AnomalyKind]int)}

	finish := func(err error) (*Result, error) {
		res.State = m.current()
		res.Elapsed = time.Since(start)
		if res.State.Terminal() {
			p.metrics.RecordIngestion(string(res.State), res.Elapsed)
		}
		for _, a := range res.Anomalies {
			p.metrics.RecordAnomaly(string(a.Kind))
		}
		return res, err
	}

	mode := req.Mode
	if mode == "" {
		mode = core.ModeScrape
	}
	if err := core.ValidateScrapeRequest(req.URL, mode); err != nil {
		return finish(err)
	}

	// FETCHING
	if err := m.transition(StateFetching); err != nil {
		return finish(err)
	}
	pages, ref, err := p.fetchPages(ctx, req, mode, res)
	if err != nil {
		return finish(p.fail(m, err))
	}

	// EXTRACTING
	if err := m.transition(StateExtracting); err != nil {
		return finish(err)
	}
	extraction, err := p.components.Extractor.Extract(ref.URL, pages)
	if extraction != nil {
		res.record(extraction.Anomalies...)
	}
	if err != nil {
		if errors.Is(err, extract.ErrNoUsablePages) {
			err = fmt.Errorf("%w: %w", core.ErrUnrecoverableFetch, err)
		}
		return finish(p.fail(m, err))
	}

	extraction.Product.LastScrapedAt = p.now().UTC()
	product, _, err := p.components.Products.UpsertProduct(ctx, &extraction.Product)
	if err != nil {
		return finish(fmt.Errorf("failed to store product: %w", err))
	}
	res.Product = product
	res.ProductID = product.Id
	p.logger.Info("extracted product", "product", product.Id, "slug", product.Slug,
		"reviews", len(extraction.Reviews), "anomalies", len(extraction.Anomalies))

	// ENRICHING
	if err := m.transition(StateEnriching); err != nil {
		return finish(err)
	}
	jobs := make([]*reviewJob, len(extraction.Reviews))
	for i, r := range extraction.Reviews {
		r.ProductID = product.Id
		jobs[i] = &reviewJob{review: r}
	}

	classified, schedErr := p.runStage(ctx, p.sentimentProc, product, jobs)
	if len(classified) > 0 {
		reviews := make([]*core.Review, len(classified))
		for i, job := range classified {
			reviews[i] = job.review
		}
		upsert, err := p.components.Reviews.UpsertReviews(context.WithoutCancel(ctx), reviews...)
		if err != nil {
			p.collect(res, classified)
			return finish(fmt.Errorf("failed to store reviews: %w", err))
		}
		res.Inserted, res.Updated = upsert.Inserted, upsert.Updated
		res.ReviewsIngested = len(reviews)
	}
	if schedErr != nil {
		p.collect(res, classified)
		return finish(schedErr)
	}

	withImages, schedErr := p.runStage(ctx, p.mediaProc, product, classified)
	if schedErr != nil {
		p.collect(res, classified)
		return finish(schedErr)
	}
	for _, job := range withImages {
		res.ImagesStored += job.images
	}

	// INDEXING
	if err := m.transition(StateIndexing); err != nil {
		return finish(err)
	}
	indexed, schedErr := p.runStage(ctx, p.indexProc, product, classified)
	p.publishIndex(indexed)
	p.commitIndexState(ctx, indexed, res)
	p.collect(res, classified)
	if schedErr != nil {
		return finish(schedErr)
	}

	if err := m.transition(StateComplete); err != nil {
		return finish(err)
	}
	res.Elapsed = time.Since(start)
	p.logger.Info("ingestion complete",
		"product", product.Id,
		"reviews", res.ReviewsIngested,
		"inserted", res.Inserted,
		"updated", res.Updated,
		"indexed", res.Indexed,
		"images", res.ImagesStored,
		"anomalies", len(res.Anomalies),
		"partialFailure", res.PartialFailure,
		"elapsed", res.Elapsed.Round(time.Millisecond))
	return finish(nil)
}

// fetchPages resolves the source and fetches its pages. Pagination failures
// that leave some pages become fetch anomalies on res.
func (p *Pipeline) fetchPages(ctx context.Context, req Request, mode core.ScrapeMode, res *Result) ([]core.RawPage, fetch.SourceRef, error) {
	ref, err := p.components.Resolver.Resolve(ctx, req.URL, mode)
	if err != nil {
		return nil, ref, err
	}
	res.URL = ref.URL
	p.logger.Info("fetching source", "url", ref.URL, "mode", mode, "forceRefresh", req.ForceRefresh)

	fetched, err := p.components.Fetcher.Fetch(ctx, ref, req.ForceRefresh)
	if err != nil {
		return nil, ref, err
	}
	res.FromCache = fetched.Status.FromCache
	if fetched.IsUnrecoverable() {
		return nil, ref, fetched.Unrecoverable()
	}

	if fetched.Status.PartialFailure {
		res.PartialFailure = true
		detail := "pagination stopped"
		if fetched.Status.Err != nil {
			detail += ": " + fetched.Status.Err.Error()
		}
		res.record(core.Anomaly{Kind: core.AnomalyFetch, Page: fetched.Status.FailedPage, Detail: detail})
	}
	if fetched.Status.Truncated {
		res.record(core.Anomaly{Kind: core.AnomalyFetch, Page: -1, Detail: "page ceiling reached, remaining pages skipped"})
	}
	return fetched.Pages, ref, nil
}

func (p *Pipeline) fail(m *machine, err error) error {
	if terr := m.transition(StateFailed); terr != nil {
		return errors.Join(err, terr)
	}
	p.logger.Error("ingestion failed", "err", err)
	return err
}

// runStage hands every job to the worker pool and waits for the ones that
// were scheduled. Scheduling stops once ctx is done; scheduled jobs run to
// completion on a context detached from the caller's cancellation.
func (p *Pipeline) runStage(ctx context.Context, proc processor, product *core.Product, jobs []*reviewJob) ([]*reviewJob, error) {
	var (
		wg       sync.WaitGroup
		done     = make([]bool, len(jobs))
		schedErr error
		workCtx  = context.WithoutCancel(ctx)
	)
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			schedErr = err
			break
		}
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			proc.process(workCtx, product, job)
			done[i] = true
		})
		if err != nil {
			wg.Done()
			schedErr = fmt.Errorf("failed to schedule %s stage: %w", proc.name(), err)
			break
		}
	}
	wg.Wait()

	completed := make([]*reviewJob, 0, len(jobs))
	for i, job := range jobs {
		if done[i] {
			completed = append(completed, job)
		}
	}
	if schedErr != nil {
		p.logger.Warn("stage interrupted", "stage", proc.name(),
			"completed", len(completed), "total", len(jobs), "err", schedErr)
	}
	return completed, schedErr
}

// publishIndex adds the vectors embedded by the index stage in one snapshot swap.
func (p *Pipeline) publishIndex(jobs []*reviewJob) {
	var entries []index.Entry
	for _, job := range jobs {
		if job.vector != nil {
			entries = append(entries, index.Entry{ReviewID: job.review.Id, Vector: job.vector})
		}
	}
	if len(entries) == 0 {
		return
	}

	err := p.components.Index.AddVectors(entries...)
	for _, job := range jobs {
		if job.vector == nil {
			continue
		}
		job.vector = nil
		if err != nil {
			job.anomaly(core.AnomalyIndex, err.Error())
			continue
		}
		job.indexed = true
	}
	if err != nil {
		p.logger.Error("failed to publish vectors", "reviews", len(entries), "err", err)
	}
}

// commitIndexState records index references for freshly indexed reviews.
// Failure leaves entries without references, so the index is flagged for rebuild.
func (p *Pipeline) commitIndexState(ctx context.Context, jobs []*reviewJob, res *Result) {
	var states []storage.IndexState
	for _, job := range jobs {
		if !job.indexed {
			continue
		}
		r := job.review
		states = append(states, storage.IndexState{
			ReviewID:    r.Id,
			IndexRef:    r.Id,
			ContentHash: core.IDFromContent(r.Text()),
		})
	}
	if len(states) == 0 {
		return
	}

	if err := p.components.Reviews.SetIndexState(context.WithoutCancel(ctx), states...); err != nil {
		p.logger.Error("failed to record index references", "reviews", len(states), "err", err)
		p.components.Index.MarkRebuildNeeded()
		for _, job := range jobs {
			if job.indexed {
				job.indexed = false
				job.anomaly(core.AnomalyIndex, "index reference not recorded: "+err.Error())
			}
		}
		return
	}
	for _, job := range jobs {
		if job.indexed {
			job.review.IndexRef = job.review.Id
			job.review.ContentHash = core.IDFromContent(job.review.Text())
		}
	}
	res.Indexed = len(states)
}

// collect copies per-review anomalies into res in review order.
func (p *Pipeline) collect(res *Result, jobs []*reviewJob) {
	for _, job := range jobs {
		res.record(job.anomalies...)
		job.anomalies = nil
	}
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
