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

package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/storage"
)

// PageCache implements storage.PageCache for BadgerDB.
// Entries are kept past their TTL; freshness is judged by the fetcher.
type PageCache struct {
	backend *Backend
}

var _ storage.PageCache = (*PageCache)(nil)

// NewPageCache creates a new PageCache.
func NewPageCache(backend *Backend) *PageCache {
	return &PageCache{backend: backend}
}

// GetEntry returns the entry for (slug, bucket), or nil, nil on a miss.
func (c *PageCache) GetEntry(ctx context.Context, slug, bucket string) (*core.CacheEntry, error) {
	var entry *core.CacheEntry
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		entry, err = readValue(tx, makePageCacheKey(slug, bucket), storage.UnmarshalCacheEntry)
		return err
	}, false)
	return entry, err
}

// PutEntry overwrites the entry for (entry.Slug, entry.Bucket).
// ttl is not applied as a key expiry so that stale entries stay inspectable.
func (c *PageCache) PutEntry(ctx context.Context, entry *core.CacheEntry, ttl time.Duration) error {
	value, err := storage.MarshalCacheEntry(entry)
	if err != nil {
		return err
	}
	return c.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makePageCacheKey(entry.Slug, entry.Bucket), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
