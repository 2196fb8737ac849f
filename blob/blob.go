// Package blob stores opaque objects: archived raw pages, review images and
// shipped operational logs. Keys are slash-separated paths.
package blob

import (
	"context"
	"errors"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store is an object store addressed by key.
type Store interface {
	// Put writes data under key, replacing any existing object, and returns its URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get returns the object stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	// URL returns the public address of key without checking that it exists.
	URL(key string) string
}
