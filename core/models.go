// Package core defines the domain models and primitives for reviewmill.
package core

import (
	"encoding/binary"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID represents a unique identifier for records in reviewmill.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// SentimentLabel is the coarse polarity assigned to a review.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// Valid reports whether l is one of the known labels.
func (l SentimentLabel) Valid() bool {
	switch l {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// SentimentSource records which classification path produced a Sentiment.
type SentimentSource string

const (
	SourcePrimary  SentimentSource = "primary"
	SourceFallback SentimentSource = "fallback"
)

// Sentiment is the typed outcome of classifying one review text.
type Sentiment struct {
	Label      SentimentLabel  `json:"label"`
	Confidence float64         `json:"confidence"`
	Score      float64         `json:"score"` // -1 (negative) .. 1 (positive)
	Reasoning  string          `json:"reasoning"`
	Source     SentimentSource `json:"source"`
}

// Product is a single item whose reviews are ingested.
// Products are unique on (Source, ExternalID).
type Product struct {
	Id            ID        `json:"id"`
	Source        string    `json:"source"`
	ExternalID    string    `json:"external_id"` // review feed key assigned by the source
	URL           string    `json:"url"`
	Slug          string    `json:"slug"` // derived from URL, partitions cache and blob keys
	Name          string    `json:"name"`
	LastScrapedAt time.Time `json:"last_scraped_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ImageRef points at an image attached to a review upstream.
type ImageRef struct {
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
}

// Review is one customer review of a Product.
// ExternalID is unique within the owning product.
type Review struct {
	Id         ID         `json:"id"`
	ProductID  ID         `json:"product_id"`
	ExternalID string     `json:"external_id"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Rating     int        `json:"rating"`
	Author     string     `json:"author"`
	PostedAt   time.Time  `json:"posted_at"`
	Verified   bool       `json:"verified"`
	Position   int        `json:"position"`
	Sentiment  *Sentiment `json:"sentiment,omitempty"`
	Images     []ImageRef `json:"images,omitempty"`

	// ContentHash is IDFromContent(Text()) at the time the review was last embedded.
	ContentHash ID `json:"content_hash"`
	// IndexRef is non-zero when the review is materialized in the vector index.
	IndexRef  ID        `json:"index_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Text returns the text used for classification and embedding.
func (r *Review) Text() string {
	switch {
	case r.Title == "":
		return r.Body
	case r.Body == "":
		return r.Title
	}
	return r.Title + "\n" + r.Body
}

// Indexed reports whether the review carries an index reference.
func (r *Review) Indexed() bool {
	return r.IndexRef != 0
}

// ReviewImage is a stored copy of an image attached to a review.
// Created once per (ProductID, ExternalID) and never modified afterwards.
type ReviewImage struct {
	ProductID   ID        `json:"product_id"`
	ReviewID    ID        `json:"review_id"`
	ExternalID  string    `json:"external_id"`
	OriginalURL string    `json:"original_url"`
	StorageKey  string    `json:"storage_key"`
	StorageURL  string    `json:"storage_url"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// PageKind distinguishes the raw page formats produced by a source.
type PageKind string

const (
	PageKindProduct PageKind = "product"
	PageKindReviews PageKind = "reviews"
)

// RawPage is one unparsed page fetched from a source.
// Number is zero-based within its Kind.
type RawPage struct {
	Kind        PageKind
	Number      int
	URL         string
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// CacheEntry records a previously fetched set of pages for a source slug on a given day.
type CacheEntry struct {
	Slug      string
	Bucket    string // YYYYMMDD, UTC
	URL       string
	PageKeys  []string // blob keys, in page order
	Pages     []PageDescriptor
	CreatedAt time.Time
}

// PageDescriptor carries the metadata of a cached page whose body lives in the blob store.
type PageDescriptor struct {
	Kind        PageKind
	Number      int
	URL         string
	ContentType string
}

// Expired reports whether the entry is older than ttl at now.
func (e *CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CreatedAt) >= ttl
}

// AnomalyKind classifies a non-fatal, per-item processing defect.
type AnomalyKind string

const (
	AnomalyFetch                  AnomalyKind = "fetch"
	AnomalyParse                  AnomalyKind = "parse"
	AnomalyRating                 AnomalyKind = "rating"
	AnomalyClassificationFallback AnomalyKind = "classification_fallback"
	AnomalyImage                  AnomalyKind = "image"
	AnomalyIndex                  AnomalyKind = "index"
)

// Anomaly is recorded and counted rather than aborting the batch.
// Page is the zero-based review page, or -1 when the anomaly concerns the
// product page or is not tied to a page.
type Anomaly struct {
	Kind       AnomalyKind `json:"kind"`
	Page       int         `json:"page"`
	ExternalID string      `json:"external_id,omitempty"`
	Detail     string      `json:"detail"`
}

// SearchHit is one ranked vector search match.
type SearchHit struct {
	ReviewID ID      `json:"review_id"`
	Score    float32 `json:"score"`
}

// ScrapeMode selects how the source URL for an ingestion is resolved.
type ScrapeMode string

const (
	ModeScrape ScrapeMode = "scrape"
	ModeMock   ScrapeMode = "mock"
	ModeRandom ScrapeMode = "random"
)

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// SlugFromURL derives a stable source slug from a product URL.
// The slug is the last non-empty path segment, lowercased, with runs of
// non-alphanumerics collapsed to "-". Falls back to the host when the path is empty.
func SlugFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	segment := path.Base(strings.TrimRight(u.Path, "/"))
	if segment == "." || segment == "/" || segment == "" {
		segment = u.Hostname()
	}
	slug := slugUnsafe.ReplaceAllString(strings.ToLower(segment), "-")
	return strings.Trim(slug, "-")
}

// DateBucket returns the UTC day bucket (YYYYMMDD) for t.
func DateBucket(t time.Time) string {
	return t.UTC().Format("20060102")
}
