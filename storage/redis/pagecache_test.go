package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/poiesic/reviewmill/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*PageCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client, err := NewClient(Config{Address: server.Addr()})
	require.NoError(t, err)
	cache := NewPageCache(client, "")
	t.Cleanup(func() { cache.Close() })
	return cache, server
}

func TestNewClient_EmptyAddress(t *testing.T) {
	client, err := NewClient(Config{})
	require.ErrorIs(t, err, ErrEmptyAddress)
	assert.Nil(t, client)
}

func TestPageCache_PutGet(t *testing.T) {
	cache, server := newTestCache(t)
	ctx := context.Background()

	entry, err := cache.GetEntry(ctx, "coasters", "20250704")
	require.NoError(t, err)
	assert.Nil(t, entry)

	created := time.Date(2025, 7, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, cache.PutEntry(ctx, &core.CacheEntry{
		Slug:      "coasters",
		Bucket:    "20250704",
		URL:       "https://example.com/coasters",
		PageKeys:  []string{"html/a.html", "html/a_reviews_0.json"},
		Pages:     []core.PageDescriptor{{Kind: core.PageKindProduct}, {Kind: core.PageKindReviews}},
		CreatedAt: created,
	}, 24*time.Hour))

	assert.True(t, server.Exists("reviewmill:pcache:coasters:20250704"))
	assert.Equal(t, 24*time.Hour, server.TTL("reviewmill:pcache:coasters:20250704"))

	entry, err = cache.GetEntry(ctx, "coasters", "20250704")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "https://example.com/coasters", entry.URL)
	assert.Len(t, entry.PageKeys, 2)
	assert.True(t, created.Equal(entry.CreatedAt))
}

func TestPageCache_Expiry(t *testing.T) {
	cache, server := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.PutEntry(ctx, &core.CacheEntry{Slug: "s", Bucket: "b", CreatedAt: time.Now()}, time.Hour))
	server.FastForward(time.Hour + time.Second)

	entry, err := cache.GetEntry(ctx, "s", "b")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestPageCache_ServerError(t *testing.T) {
	cache, server := newTestCache(t)
	server.SetError("LOADING server is loading")

	_, err := cache.GetEntry(context.Background(), "s", "b")
	require.Error(t, err)
}
