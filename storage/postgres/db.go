// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package postgres provides PostgreSQL-backed product, review and image
// repositories. Queries are built with squirrel and run through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/poiesic/reviewmill/core"
)

// ErrDSNRequired is returned when no connection string is configured.
var ErrDSNRequired = errors.New("postgres dsn is required")

const pingTimeout = 10 * time.Second

// Schema creates the tables the repositories expect. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS products (
	id              BIGSERIAL PRIMARY KEY,
	source          TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	url             TEXT NOT NULL,
	slug            TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	last_scraped_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (source, external_id)
);

CREATE TABLE IF NOT EXISTS reviews (
	id              BIGSERIAL PRIMARY KEY,
	product_id      BIGINT NOT NULL REFERENCES products (id),
	external_id     TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL DEFAULT '',
	rating          SMALLINT NOT NULL,
	author          TEXT NOT NULL DEFAULT '',
	posted_at       TIMESTAMPTZ,
	verified        BOOLEAN NOT NULL DEFAULT FALSE,
	position        INTEGER NOT NULL DEFAULT 0,
	sentiment_label TEXT,
	sentiment       JSONB,
	images          JSONB,
	content_hash    BIGINT NOT NULL DEFAULT 0,
	index_ref       BIGINT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (product_id, external_id)
);

CREATE INDEX IF NOT EXISTS reviews_sentiment_label_idx ON reviews (sentiment_label, id);

CREATE TABLE IF NOT EXISTS review_images (
	product_id   BIGINT NOT NULL REFERENCES products (id),
	external_id  TEXT NOT NULL,
	review_id    BIGINT NOT NULL,
	original_url TEXT NOT NULL,
	storage_key  TEXT NOT NULL,
	storage_url  TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size         BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (product_id, external_id)
);
`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Open connects through the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Repositories bundles the repositories sharing one connection pool.
type Repositories struct {
	DB       *sql.DB
	Products *ProductRepository
	Reviews  *ReviewRepository
	Images   *ImageRepository
}

// NewRepositories creates every repository over db.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		DB:       db,
		Products: NewProductRepository(db),
		Reviews:  NewReviewRepository(db),
		Images:   NewImageRepository(db),
	}
}

// Close closes the connection pool.
func (r *Repositories) Close() error {
	return r.DB.Close()
}

// IDs are stored as BIGINT. Content hashes use the full 64 bits, so the
// conversion reinterprets the bits rather than range-checking.
func toDB(id core.ID) int64 {
	return int64(id)
}

func fromDB(v int64) core.ID {
	return core.ID(v)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func timeOf(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

type scanner interface {
	Scan(dest ...any) error
}
