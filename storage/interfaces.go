package storage

import (
	"context"
	"time"

	"github.com/poiesic/reviewmill/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close releases resources held by the repository.
	Close() error
}

// ProductRepository provides operations for managing products.
type ProductRepository interface {
	Repository

	// UpsertProduct inserts a product or updates the one matching (Source, ExternalID).
	// On update the stored Id and CreatedAt are preserved and copied into product.
	// Returns the stored product and true when it was newly created.
	UpsertProduct(ctx context.Context, product *core.Product) (*core.Product, bool, error)

	// GetProduct retrieves a product by ID.
	// Returns ErrNotFound if the product doesn't exist.
	GetProduct(ctx context.Context, id core.ID) (*core.Product, error)

	// FindProduct retrieves a product by its natural key.
	// Returns ErrNotFound if the product doesn't exist.
	FindProduct(ctx context.Context, source, externalID string) (*core.Product, error)

	// ListProducts returns all products ordered by ID.
	ListProducts(ctx context.Context) ([]*core.Product, error)
}

// UpsertResult reports how an UpsertReviews call was applied.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// IndexState is the index bookkeeping stored on a review.
// A zero IndexRef clears the reference.
type IndexState struct {
	ReviewID    core.ID
	IndexRef    core.ID
	ContentHash core.ID
}

// ReviewRepository provides operations for managing reviews.
type ReviewRepository interface {
	Repository

	// UpsertReviews inserts new reviews and updates existing ones matched by
	// (ProductID, ExternalID) in a single transaction. Mutable fields are refreshed in
	// place; Id, CreatedAt, IndexRef and ContentHash of existing reviews are preserved
	// and copied back into the passed reviews.
	UpsertReviews(ctx context.Context, reviews ...*core.Review) (UpsertResult, error)

	// SetIndexState updates index bookkeeping without touching other fields.
	// Returns ErrNotFound if any review doesn't exist.
	SetIndexState(ctx context.Context, states ...IndexState) error

	// GetReview retrieves a single review by ID.
	// Returns ErrNotFound if the review doesn't exist.
	GetReview(ctx context.Context, id core.ID) (*core.Review, error)

	// GetReviews retrieves multiple reviews by their IDs.
	// Returns only the reviews that exist (no error for missing reviews).
	GetReviews(ctx context.Context, ids ...core.ID) ([]*core.Review, error)

	// GetReviewsByProduct returns the reviews of a product ordered by position, then ID.
	GetReviewsByProduct(ctx context.Context, productID core.ID) ([]*core.Review, error)

	// GetReviewsBySentiment returns up to limit reviews with the given label, ordered by ID.
	GetReviewsBySentiment(ctx context.Context, label core.SentimentLabel, limit int) ([]*core.Review, error)

	// ForEachReview calls fn with batches of up to batchSize reviews in ascending ID order.
	// Iteration stops on the first error returned by fn.
	ForEachReview(ctx context.Context, batchSize int, fn func([]*core.Review) error) error

	// CountReviews returns the total number of stored reviews.
	CountReviews(ctx context.Context) (int, error)
}

// ImageRepository provides operations for stored review images.
type ImageRepository interface {
	Repository

	// AddImage records an image unless one already exists for (ProductID, ExternalID).
	// Returns the stored image and true when it was newly created.
	AddImage(ctx context.Context, image *core.ReviewImage) (*core.ReviewImage, bool, error)

	// GetImage retrieves an image by its dedup key.
	// Returns ErrNotFound if the image doesn't exist.
	GetImage(ctx context.Context, productID core.ID, externalID string) (*core.ReviewImage, error)

	// GetImagesByProduct returns all images of a product ordered by external ID.
	GetImagesByProduct(ctx context.Context, productID core.ID) ([]*core.ReviewImage, error)
}

// PageCache stores fetch cache entries keyed by (slug, date bucket).
type PageCache interface {
	// GetEntry returns the entry for the key, or nil, nil on a miss.
	// Expiry is decided by the caller; backends may drop entries lazily after ttl.
	GetEntry(ctx context.Context, slug, bucket string) (*core.CacheEntry, error)

	// PutEntry overwrites the entry for (entry.Slug, entry.Bucket).
	PutEntry(ctx context.Context, entry *core.CacheEntry, ttl time.Duration) error
}

// SnapshotStore persists opaque named blobs such as vector index snapshots.
type SnapshotStore interface {
	// SaveSnapshot overwrites the snapshot stored under name.
	SaveSnapshot(ctx context.Context, name string, data []byte) error

	// LoadSnapshot returns the snapshot stored under name.
	// Returns ErrNotFound if none exists.
	LoadSnapshot(ctx context.Context, name string) ([]byte, error)
}
