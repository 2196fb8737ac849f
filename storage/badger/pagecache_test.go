package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageCache_MissPutGet(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	entry, err := repos.PageCache.GetEntry(ctx, "coasters", "20260301")
	require.NoError(t, err)
	assert.Nil(t, entry)

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repos.PageCache.PutEntry(ctx, &core.CacheEntry{
		Slug: "coasters", Bucket: "20260301", PageKeys: []string{"k1"}, CreatedAt: created,
	}, 24*time.Hour))

	entry, err = repos.PageCache.GetEntry(ctx, "coasters", "20260301")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []string{"k1"}, entry.PageKeys)

	require.NoError(t, repos.PageCache.PutEntry(ctx, &core.CacheEntry{
		Slug: "coasters", Bucket: "20260301", PageKeys: []string{"k2"}, CreatedAt: created.Add(time.Hour),
	}, 24*time.Hour))
	entry, err = repos.PageCache.GetEntry(ctx, "coasters", "20260301")
	require.NoError(t, err)
	assert.Equal(t, []string{"k2"}, entry.PageKeys)
}

func TestSnapshotStore(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()

	_, err := repos.Snapshots.LoadSnapshot(ctx, "index")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, repos.Snapshots.SaveSnapshot(ctx, "index", []byte("v1")))
	require.NoError(t, repos.Snapshots.SaveSnapshot(ctx, "index", []byte("v2")))

	data, err := repos.Snapshots.LoadSnapshot(ctx, "index")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}
