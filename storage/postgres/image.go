package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/storage"
)

var imageColumns = []string{
	"product_id", "external_id", "review_id", "original_url", "storage_key",
	"storage_url", "content_type", "size", "created_at",
}

// ImageRepository implements storage.ImageRepository for PostgreSQL.
type ImageRepository struct {
	db *sql.DB
}

var _ storage.ImageRepository = (*ImageRepository)(nil)

func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// Close is a no-op; the pool is owned by Repositories.
func (r *ImageRepository) Close() error {
	return nil
}

// AddImage inserts the image unless (ProductID, ExternalID) exists, in which
// case the stored row is returned unchanged.
func (r *ImageRepository) AddImage(ctx context.Context, image *core.ReviewImage) (*core.ReviewImage, bool, error) {
	if image.ProductID == 0 || image.ExternalID == "" {
		return nil, false, storage.ErrInvalidQuery
	}
	if image.CreatedAt.IsZero() {
		image.CreatedAt = time.Now().UTC()
	}

	query, args, err := psql.Insert("review_images").
		Columns(imageColumns...).
		Values(toDB(image.ProductID), image.ExternalID, toDB(image.ReviewID), image.OriginalURL,
			image.StorageKey, image.StorageURL, image.ContentType, image.Size, image.CreatedAt).
		Suffix("ON CONFLICT (product_id, external_id) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build image insert: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("add image: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return image, true, nil
	}

	stored, err := r.GetImage(ctx, image.ProductID, image.ExternalID)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

// GetImage retrieves an image by its dedup key.
func (r *ImageRepository) GetImage(ctx context.Context, productID core.ID, externalID string) (*core.ReviewImage, error) {
	query, args, err := psql.Select(imageColumns...).From("review_images").
		Where(sq.Eq{"product_id": toDB(productID), "external_id": externalID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build image query: %w", err)
	}
	image, err := scanImage(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return image, nil
}

// GetImagesByProduct returns all images of a product ordered by external ID.
func (r *ImageRepository) GetImagesByProduct(ctx context.Context, productID core.ID) ([]*core.ReviewImage, error) {
	query, args, err := psql.Select(imageColumns...).From("review_images").
		Where(sq.Eq{"product_id": toDB(productID)}).
		OrderBy("external_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build image query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []*core.ReviewImage
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, image)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return images, nil
}

func scanImage(row scanner) (*core.ReviewImage, error) {
	var (
		img                 core.ReviewImage
		productID, reviewID int64
	)
	err := row.Scan(&productID, &img.ExternalID, &reviewID, &img.OriginalURL, &img.StorageKey,
		&img.StorageURL, &img.ContentType, &img.Size, &img.CreatedAt)
	if err != nil {
		return nil, err
	}
	img.ProductID = fromDB(productID)
	img.ReviewID = fromDB(reviewID)
	img.CreatedAt = img.CreatedAt.UTC()
	return &img, nil
}
