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

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/storage"
	goredis "github.com/redis/go-redis/v9"
)

// PageCache implements storage.PageCache on Redis.
type PageCache struct {
	client *goredis.Client
	prefix string
}

var _ storage.PageCache = (*PageCache)(nil)

// NewPageCache wraps an existing client. prefix defaults to "reviewmill".
func NewPageCache(client *goredis.Client, prefix string) *PageCache {
	if prefix == "" {
		prefix = "reviewmill"
	}
	return &PageCache{client: client, prefix: prefix}
}

func (c *PageCache) key(slug, bucket string) string {
	return fmt.Sprintf("%s:pcache:%s:%s", c.prefix, slug, bucket)
}

// GetEntry returns the entry for (slug, bucket), or nil, nil on a miss.
func (c *PageCache) GetEntry(ctx context.Context, slug, bucket string) (*core.CacheEntry, error) {
	data, err := c.client.Get(ctx, c.key(slug, bucket)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return storage.UnmarshalCacheEntry(data)
}

// PutEntry overwrites the entry and lets Redis expire it after ttl.
func (c *PageCache) PutEntry(ctx context.Context, entry *core.CacheEntry, ttl time.Duration) error {
	data, err := storage.MarshalCacheEntry(entry)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(entry.Slug, entry.Bucket), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *PageCache) Close() error {
	return c.client.Close()
}
