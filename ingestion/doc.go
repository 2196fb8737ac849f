// Package ingestion drives one review ingestion request end to end.
//
// A Pipeline resolves the source, fetches its pages, extracts products and
// reviews, enriches every review and finally indexes the changed ones:
//
//	QUEUED -> FETCHING -> EXTRACTING -> ENRICHING -> INDEXING -> COMPLETE
//
// FAILED is reachable from FETCHING and EXTRACTING only, when not a single
// usable page was obtained. Every other component failure degrades to a
// per-review anomaly and the request keeps progressing.
//
// Enrichment (sentiment and images) and indexing run per review on a shared
// ants worker pool. Reviews are persisted before they are indexed; an index
// failure is recorded as an anomaly and left for a later rebuild.
package ingestion
