package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/storage"
)

var reviewColumns = []string{
	"id", "product_id", "external_id", "title", "body", "rating", "author",
	"posted_at", "verified", "position", "sentiment", "images",
	"content_hash", "index_ref", "created_at", "updated_at",
}

// ReviewRepository implements storage.ReviewRepository for PostgreSQL.
type ReviewRepository struct {
	db *sql.DB
}

var _ storage.ReviewRepository = (*ReviewRepository)(nil)

func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Close is a no-op; the pool is owned by Repositories.
func (r *ReviewRepository) Close() error {
	return nil
}

// UpsertReviews inserts or refreshes every review in one transaction.
// index_ref and content_hash are never overwritten by an upsert.
func (r *ReviewRepository) UpsertReviews(ctx context.Context, reviews ...*core.Review) (storage.UpsertResult, error) {
	var result storage.UpsertResult
	for _, review := range reviews {
		if err := core.ValidateReview(review); err != nil {
			return result, err
		}
	}
	if len(reviews) == 0 {
		return result, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, review := range reviews {
		query, args, err := upsertReviewQuery(review, now)
		if err != nil {
			return storage.UpsertResult{}, err
		}

		var (
			id, indexRef, contentHash int64
			createdAt                 time.Time
			inserted                  bool
		)
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id, &createdAt, &indexRef, &contentHash, &inserted)
		if err != nil {
			return storage.UpsertResult{}, fmt.Errorf("upsert review %s: %w", review.ExternalID, err)
		}

		review.Id = fromDB(id)
		review.CreatedAt = createdAt.UTC()
		review.UpdatedAt = now
		review.IndexRef = fromDB(indexRef)
		review.ContentHash = fromDB(contentHash)
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.UpsertResult{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func upsertReviewQuery(review *core.Review, now time.Time) (string, []any, error) {
	sentiment, label, err := encodeSentiment(review.Sentiment)
	if err != nil {
		return "", nil, err
	}
	images, err := encodeJSON(review.Images)
	if err != nil {
		return "", nil, err
	}

	return psql.Insert("reviews").
		Columns("product_id", "external_id", "title", "body", "rating", "author", "posted_at",
			"verified", "position", "sentiment_label", "sentiment", "images", "created_at", "updated_at").
		Values(toDB(review.ProductID), review.ExternalID, review.Title, review.Body, review.Rating,
			review.Author, nullTime(review.PostedAt), review.Verified, review.Position,
			label, sentiment, images, now, now).
		Suffix(`ON CONFLICT (product_id, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			rating = EXCLUDED.rating,
			author = EXCLUDED.author,
			posted_at = EXCLUDED.posted_at,
			verified = EXCLUDED.verified,
			position = EXCLUDED.position,
			sentiment_label = EXCLUDED.sentiment_label,
			sentiment = EXCLUDED.sentiment,
			images = EXCLUDED.images,
			updated_at = EXCLUDED.updated_at
			RETURNING id, created_at, index_ref, content_hash, (xmax = 0) AS inserted`).
		ToSql()
}

// SetIndexState updates index bookkeeping in one transaction.
func (r *ReviewRepository) SetIndexState(ctx context.Context, states ...storage.IndexState) error {
	if len(states) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, state := range states {
		query, args, err := psql.Update("reviews").
			Set("index_ref", toDB(state.IndexRef)).
			Set("content_hash", toDB(state.ContentHash)).
			Where(sq.Eq{"id": toDB(state.ReviewID)}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build index state update: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("set index state: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return storage.ErrNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetReview retrieves a single review by ID.
func (r *ReviewRepository) GetReview(ctx context.Context, id core.ID) (*core.Review, error) {
	query, args, err := psql.Select(reviewColumns...).From("reviews").Where(sq.Eq{"id": toDB(id)}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build review query: %w", err)
	}
	review, err := scanReview(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	return review, nil
}

// GetReviews retrieves the reviews that exist among ids, in the order of ids.
func (r *ReviewRepository) GetReviews(ctx context.Context, ids ...core.ID) ([]*core.Review, error) {
	if len(ids) == 0 {
		return []*core.Review{}, nil
	}
	dbIDs := make([]int64, len(ids))
	for i, id := range ids {
		dbIDs[i] = toDB(id)
	}
	found, err := r.query(ctx, psql.Select(reviewColumns...).From("reviews").Where(sq.Eq{"id": dbIDs}))
	if err != nil {
		return nil, err
	}

	byID := make(map[core.ID]*core.Review, len(found))
	for _, review := range found {
		byID[review.Id] = review
	}
	results := make([]*core.Review, 0, len(found))
	for _, id := range ids {
		if review, ok := byID[id]; ok {
			results = append(results, review)
		}
	}
	return results, nil
}

// GetReviewsByProduct returns the reviews of a product ordered by position, then ID.
func (r *ReviewRepository) GetReviewsByProduct(ctx context.Context, productID core.ID) ([]*core.Review, error) {
	return r.query(ctx, psql.Select(reviewColumns...).From("reviews").
		Where(sq.Eq{"product_id": toDB(productID)}).
		OrderBy("position", "id"))
}

// GetReviewsBySentiment returns up to limit reviews with the given label, ordered by ID.
func (r *ReviewRepository) GetReviewsBySentiment(ctx context.Context, label core.SentimentLabel, limit int) ([]*core.Review, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	return r.query(ctx, psql.Select(reviewColumns...).From("reviews").
		Where(sq.Eq{"sentiment_label": string(label)}).
		OrderBy("id").
		Limit(uint64(limit)))
}

// ForEachReview pages through reviews by ID with keyset pagination.
func (r *ReviewRepository) ForEachReview(ctx context.Context, batchSize int, fn func([]*core.Review) error) error {
	if batchSize <= 0 {
		return storage.ErrInvalidQuery
	}

	var after int64
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		builder := psql.Select(reviewColumns...).From("reviews").OrderBy("id").Limit(uint64(batchSize))
		if !first {
			builder = builder.Where(sq.Gt{"id": after})
		}
		batch, err := r.query(ctx, builder)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		after = toDB(batch[len(batch)-1].Id)
		first = false
	}
}

// CountReviews returns the total number of stored reviews.
func (r *ReviewRepository) CountReviews(ctx context.Context) (int, error) {
	query, args, err := psql.Select("COUNT(*)").From("reviews").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return count, nil
}

func (r *ReviewRepository) query(ctx context.Context, builder sq.SelectBuilder) ([]*core.Review, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build review query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*core.Review
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return reviews, nil
}

func scanReview(row scanner) (*core.Review, error) {
	var (
		rv                              core.Review
		id, productID, contentHash, ref int64
		postedAt                        sql.NullTime
		sentimentJSON, imagesJSON       []byte
	)
	err := row.Scan(&id, &productID, &rv.ExternalID, &rv.Title, &rv.Body, &rv.Rating, &rv.Author,
		&postedAt, &rv.Verified, &rv.Position, &sentimentJSON, &imagesJSON,
		&contentHash, &ref, &rv.CreatedAt, &rv.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rv.Id = fromDB(id)
	rv.ProductID = fromDB(productID)
	rv.ContentHash = fromDB(contentHash)
	rv.IndexRef = fromDB(ref)
	rv.PostedAt = timeOf(postedAt)
	rv.CreatedAt = rv.CreatedAt.UTC()
	rv.UpdatedAt = rv.UpdatedAt.UTC()

	if len(sentimentJSON) > 0 {
		var s core.Sentiment
		if err := json.Unmarshal(sentimentJSON, &s); err != nil {
			return nil, fmt.Errorf("%w: sentiment: %w", storage.ErrSerializationFailed, err)
		}
		rv.Sentiment = &s
	}
	if len(imagesJSON) > 0 {
		if err := json.Unmarshal(imagesJSON, &rv.Images); err != nil {
			return nil, fmt.Errorf("%w: images: %w", storage.ErrSerializationFailed, err)
		}
	}
	return &rv, nil
}

// encodeSentiment returns the JSONB document and the indexed label column.
func encodeSentiment(s *core.Sentiment) (any, any, error) {
	if s == nil {
		return nil, nil, nil
	}
	data, err := encodeJSON(s)
	if err != nil {
		return nil, nil, err
	}
	return data, string(s.Label), nil
}

func encodeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	if string(data) == "null" {
		return nil, nil
	}
	return string(data), nil
}
