package badger

import (
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/storage"
)

// upsertChunkSize bounds the number of reviews written per transaction.
const upsertChunkSize = 256

// ReviewRepository implements storage.ReviewRepository for BadgerDB.
type ReviewRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.ReviewRepository = (*ReviewRepository)(nil)

// NewReviewRepository creates a new ReviewRepository.
func NewReviewRepository(backend *Backend) (*ReviewRepository, error) {
	idSeq, err := backend.GetSequence(reviewIDSeq)
	if err != nil {
		return nil, err
	}

	return &ReviewRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *ReviewRepository) Close() error {
	return r.idSeq.Release()
}

// UpsertReviews inserts new reviews and refreshes existing ones in place.
// Large batches are committed in chunks; each chunk is atomic.
func (r *ReviewRepository) UpsertReviews(ctx context.Context, reviews ...*core.Review) (storage.UpsertResult, error) {
	var result storage.UpsertResult
	for _, review := range reviews {
		if err := core.ValidateReview(review); err != nil {
			return result, err
		}
	}

	for chunk := range slices.Chunk(reviews, upsertChunkSize) {
		var chunkResult storage.UpsertResult
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			now := time.Now().UTC()
			for _, review := range chunk {
				extKey := makeReviewExternalKey(review.ProductID, review.ExternalID)
				existingID, err := readValue(tx, extKey, unmarshalIDPtr)
				if err != nil {
					return err
				}

				if existingID == nil {
					id, err := nextID(r.idSeq)
					if err != nil {
						return err
					}
					review.Id = core.ID(id)
					review.CreatedAt = now
					if err := tx.Set(extKey, storage.MarshalID(review.Id)); err != nil {
						return err
					}
					if err := tx.Set(makeReviewProductKey(review.ProductID, review.Id), nil); err != nil {
						return err
					}
					chunkResult.Inserted++
				} else {
					old, err := readValue(tx, makeReviewKey(*existingID), storage.UnmarshalReview)
					if err != nil {
						return err
					}
					if old == nil {
						return storage.ErrNotFound
					}
					review.Id = old.Id
					review.CreatedAt = old.CreatedAt
					review.IndexRef = old.IndexRef
					review.ContentHash = old.ContentHash
					chunkResult.Updated++
				}
				review.UpdatedAt = now

				value, err := storage.MarshalReview(review)
				if err != nil {
					return err
				}
				if err := tx.Set(makeReviewKey(review.Id), value); err != nil {
					return err
				}
			}
			return tx.Commit()
		}, true)
		if err != nil {
			return result, err
		}
		result.Inserted += chunkResult.Inserted
		result.Updated += chunkResult.Updated
	}

	return result, nil
}

// SetIndexState updates index bookkeeping without touching other fields.
func (r *ReviewRepository) SetIndexState(ctx context.Context, states ...storage.IndexState) error {
	for chunk := range slices.Chunk(states, upsertChunkSize) {
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			for _, state := range chunk {
				key := makeReviewKey(state.ReviewID)
				review, err := readValue(tx, key, storage.UnmarshalReview)
				if err != nil {
					return err
				}
				if review == nil {
					return storage.ErrNotFound
				}
				review.IndexRef = state.IndexRef
				review.ContentHash = state.ContentHash

				value, err := storage.MarshalReview(review)
				if err != nil {
					return err
				}
				if err := tx.Set(key, value); err != nil {
					return err
				}
			}
			return tx.Commit()
		}, true)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetReview retrieves a single review by ID.
func (r *ReviewRepository) GetReview(ctx context.Context, id core.ID) (*core.Review, error) {
	var result *core.Review
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readValue(tx, makeReviewKey(id), storage.UnmarshalReview)
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

// GetReviews retrieves multiple reviews by their IDs.
func (r *ReviewRepository) GetReviews(ctx context.Context, ids ...core.ID) ([]*core.Review, error) {
	results := make([]*core.Review, 0, len(ids))
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			review, err := readValue(tx, makeReviewKey(id), storage.UnmarshalReview)
			if err != nil {
				return err
			}
			if review != nil {
				results = append(results, review)
			}
		}
		return nil
	}, false)
	return results, err
}

// GetReviewsByProduct returns the reviews of a product ordered by position, then ID.
func (r *ReviewRepository) GetReviewsByProduct(ctx context.Context, productID core.ID) ([]*core.Review, error) {
	var results []*core.Review
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makePartialReviewProductKey(productID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			id := idFromKeySuffix(iter.Item().Key())
			review, err := readValue(tx, makeReviewKey(id), storage.UnmarshalReview)
			if err != nil {
				return err
			}
			if review != nil {
				results = append(results, review)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b *core.Review) int {
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		return compareIDs(a.Id, b.Id)
	})
	return results, nil
}

// GetReviewsBySentiment returns up to limit reviews with the given label, ordered by ID.
func (r *ReviewRepository) GetReviewsBySentiment(ctx context.Context, label core.SentimentLabel, limit int) ([]*core.Review, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	var results []*core.Review
	err := r.scanReviews(func(review *core.Review) (bool, error) {
		if review.Sentiment != nil && review.Sentiment.Label == label {
			results = append(results, review)
		}
		return len(results) < limit, nil
	})
	return results, err
}

// ForEachReview calls fn with batches of reviews in ascending ID order.
func (r *ReviewRepository) ForEachReview(ctx context.Context, batchSize int, fn func([]*core.Review) error) error {
	if batchSize <= 0 {
		return storage.ErrInvalidQuery
	}

	batch := make([]*core.Review, 0, batchSize)
	err := r.scanReviews(func(review *core.Review) (bool, error) {
		batch = append(batch, review)
		if len(batch) < batchSize {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := fn(batch); err != nil {
			return false, err
		}
		batch = make([]*core.Review, 0, batchSize)
		return true, nil
	})
	if err != nil {
		return err
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// CountReviews returns the total number of stored reviews.
func (r *ReviewRepository) CountReviews(ctx context.Context) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(reviewPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// scanReviews visits every review in ID order until visit returns false or an error.
func (r *ReviewRepository) scanReviews(visit func(*core.Review) (bool, error)) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(reviewPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var review *core.Review
			err := iter.Item().Value(func(val []byte) error {
				var err error
				review, err = storage.UnmarshalReview(val)
				return err
			})
			if err != nil {
				return err
			}
			more, err := visit(review)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	}, false)
}

func compareIDs(a, b core.ID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
