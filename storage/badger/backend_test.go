package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := OpenBackend(file, false)
	require.Error(t, err)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())
}

func TestRepositories_PersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	repos, err := NewRepositories(backend)
	require.NoError(t, err)

	product, _, err := repos.Products.UpsertProduct(ctx, &core.Product{Source: "vistaprint", ExternalID: "coasters"})
	require.NoError(t, err)
	require.NoError(t, repos.Close())
	require.NoError(t, backend.Close())

	backend, err = OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()
	repos, err = NewRepositories(backend)
	require.NoError(t, err)
	defer repos.Close()

	found, err := repos.Products.GetProduct(ctx, product.Id)
	require.NoError(t, err)
	assert.Equal(t, "coasters", found.ExternalID)

	second, created, err := repos.Products.UpsertProduct(ctx, &core.Product{Source: "vistaprint", ExternalID: "bottle"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, product.Id, second.Id, "sequence must not reuse IDs after reopen")
}

func TestWithTx_ClosedBackend(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	cache := NewPageCache(backend)
	_, err = cache.GetEntry(context.Background(), "a", "b")
	require.ErrorIs(t, err, storage.ErrStorageClosed)
}
