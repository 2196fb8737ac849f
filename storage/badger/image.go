package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/storage"
)

// ImageRepository implements storage.ImageRepository for BadgerDB.
// Images are keyed by (product, external id) and never rewritten.
type ImageRepository struct {
	backend *Backend
}

var _ storage.ImageRepository = (*ImageRepository)(nil)

// NewImageRepository creates a new ImageRepository.
func NewImageRepository(backend *Backend) *ImageRepository {
	return &ImageRepository{backend: backend}
}

// Close is a no-op; the backend is owned by the caller.
func (r *ImageRepository) Close() error {
	return nil
}

// AddImage records an image unless one already exists for its dedup key.
func (r *ImageRepository) AddImage(ctx context.Context, image *core.ReviewImage) (*core.ReviewImage, bool, error) {
	if image.ProductID == 0 || image.ExternalID == "" {
		return nil, false, storage.ErrInvalidQuery
	}

	var stored *core.ReviewImage
	created := false
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeImageKey(image.ProductID, image.ExternalID)
		existing, err := readValue(tx, key, storage.UnmarshalReviewImage)
		if err != nil {
			return err
		}
		if existing != nil {
			stored = existing
			return nil
		}

		if image.CreatedAt.IsZero() {
			image.CreatedAt = time.Now().UTC()
		}
		value, err := storage.MarshalReviewImage(image)
		if err != nil {
			return err
		}
		if err := tx.Set(key, value); err != nil {
			return err
		}
		stored = image
		created = true
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// GetImage retrieves an image by its dedup key.
func (r *ImageRepository) GetImage(ctx context.Context, productID core.ID, externalID string) (*core.ReviewImage, error) {
	var result *core.ReviewImage
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readValue(tx, makeImageKey(productID, externalID), storage.UnmarshalReviewImage)
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetImagesByProduct returns all images of a product ordered by external ID.
func (r *ImageRepository) GetImagesByProduct(ctx context.Context, productID core.ID) ([]*core.ReviewImage, error) {
	var results []*core.ReviewImage
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialImageKey(productID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				image, err := storage.UnmarshalReviewImage(val)
				if err != nil {
					return err
				}
				results = append(results, image)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return results, err
}
