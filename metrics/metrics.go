// Package metrics exposes Prometheus collectors for the ingestion pipeline.
// All recording methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reviewmill"

// Metrics holds all pipeline collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Fetch metrics
	PagesFetched  *prometheus.CounterVec
	FetchFailures *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec

	// Enrichment metrics
	Classifications *prometheus.CounterVec
	Images          *prometheus.CounterVec

	// Ingestion metrics
	Ingestions        *prometheus.CounterVec
	IngestionDuration prometheus.Histogram
	Anomalies         *prometheus.CounterVec

	// Index metrics
	IndexVectors   prometheus.Gauge
	SearchDuration prometheus.Histogram
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{registry: reg}
	initFetchMetrics(m, factory)
	initEnrichmentMetrics(m, factory)
	initIngestionMetrics(m, factory)
	initIndexMetrics(m, factory)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the metrics in exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func initFetchMetrics(m *Metrics, f promauto.Factory) {
	m.PagesFetched = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_pages_total",
		Help:      "Pages returned by the fetcher, by origin (live or cache)",
	}, []string{"origin"})

	m.FetchFailures = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_failures_total",
		Help:      "Page fetches that exhausted their retries",
	}, []string{"kind"})

	m.CacheLookups = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Page cache lookups by result (hit, miss, expired, bypass)",
	}, []string{"result"})
}

func initEnrichmentMetrics(m *Metrics, f promauto.Factory) {
	m.Classifications = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sentiment_classifications_total",
		Help:      "Sentiment classifications by source (primary or fallback)",
	}, []string{"source"})

	m.Images = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "images_total",
		Help:      "Review images by outcome (stored, deduplicated, failed)",
	}, []string{"result"})
}

func initIngestionMetrics(m *Metrics, f promauto.Factory) {
	m.Ingestions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingestions_total",
		Help:      "Ingestion requests by terminal state",
	}, []string{"state"})

	m.IngestionDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingestion_duration_seconds",
		Help:      "Wall time of one ingestion request",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	m.Anomalies = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anomalies_total",
		Help:      "Per-item anomalies recorded during ingestion",
	}, []string{"kind"})
}

func initIndexMetrics(m *Metrics, f promauto.Factory) {
	m.IndexVectors = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_vectors",
		Help:      "Vectors currently materialized in the index",
	})

	m.SearchDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Time to answer one search query",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})
}

func (m *Metrics) RecordPages(origin string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.PagesFetched.WithLabelValues(origin).Add(float64(n))
}

func (m *Metrics) RecordFetchFailure(kind string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordClassification(source string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordImage(result string) {
	if m == nil {
		return
	}
	m.Images.WithLabelValues(result).Inc()
}

// RecordIngestion records the terminal state and duration of one request.
func (m *Metrics) RecordIngestion(state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Ingestions.WithLabelValues(state).Inc()
	m.IngestionDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordAnomaly(kind string) {
	if m == nil {
		return
	}
	m.Anomalies.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetIndexVectors(n int) {
	if m == nil {
		return
	}
	m.IndexVectors.Set(float64(n))
}

func (m *Metrics) ObserveSearch(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SearchDuration.Observe(elapsed.Seconds())
}
