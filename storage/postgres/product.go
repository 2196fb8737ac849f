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

var productColumns = []string{
	"id", "source", "external_id", "url", "slug", "name",
	"last_scraped_at", "created_at", "updated_at",
}

// ProductRepository implements storage.ProductRepository for PostgreSQL.
type ProductRepository struct {
	db *sql.DB
}

var _ storage.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Close is a no-op; the pool is owned by Repositories.
func (r *ProductRepository) Close() error {
	return nil
}

// UpsertProduct inserts or refreshes the product matching (Source, ExternalID).
func (r *ProductRepository) UpsertProduct(ctx context.Context, product *core.Product) (*core.Product, bool, error) {
	if err := core.ValidateProduct(product); err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	query, args, err := psql.Insert("products").
		Columns("source", "external_id", "url", "slug", "name", "last_scraped_at", "created_at", "updated_at").
		Values(product.Source, product.ExternalID, product.URL, product.Slug, product.Name,
			nullTime(product.LastScrapedAt), now, now).
		Suffix(`ON CONFLICT (source, external_id) DO UPDATE SET
			url = EXCLUDED.url,
			slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			last_scraped_at = EXCLUDED.last_scraped_at,
			updated_at = EXCLUDED.updated_at
			RETURNING id, created_at, (xmax = 0) AS inserted`).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build product upsert: %w", err)
	}

	var (
		id        int64
		createdAt time.Time
		inserted  bool
	)
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id, &createdAt, &inserted); err != nil {
		return nil, false, fmt.Errorf("upsert product: %w", err)
	}

	product.Id = fromDB(id)
	product.CreatedAt = createdAt.UTC()
	product.UpdatedAt = now
	return product, inserted, nil
}

// GetProduct retrieves a product by ID.
func (r *ProductRepository) GetProduct(ctx context.Context, id core.ID) (*core.Product, error) {
	return r.getOne(ctx, psql.Select(productColumns...).From("products").Where(sq.Eq{"id": toDB(id)}))
}

// FindProduct retrieves a product by its natural key.
func (r *ProductRepository) FindProduct(ctx context.Context, source, externalID string) (*core.Product, error) {
	return r.getOne(ctx, psql.Select(productColumns...).From("products").
		Where(sq.Eq{"source": source, "external_id": externalID}))
}

func (r *ProductRepository) getOne(ctx context.Context, builder sq.SelectBuilder) (*core.Product, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build product query: %w", err)
	}
	product, err := scanProduct(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

// ListProducts returns all products ordered by ID.
func (r *ProductRepository) ListProducts(ctx context.Context) ([]*core.Product, error) {
	query, args, err := psql.Select(productColumns...).From("products").OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build product list: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*core.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return products, nil
}

func scanProduct(row scanner) (*core.Product, error) {
	var (
		p           core.Product
		id          int64
		lastScraped sql.NullTime
	)
	err := row.Scan(&id, &p.Source, &p.ExternalID, &p.URL, &p.Slug, &p.Name,
		&lastScraped, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Id = fromDB(id)
	p.LastScrapedAt = timeOf(lastScraped)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
