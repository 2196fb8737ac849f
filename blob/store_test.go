package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeImplementations(t *testing.T) map[string]Store {
	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
	}
}

func TestStoreContract(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			exists, err := store.Exists(ctx, "images/p/one.jpg")
			require.NoError(t, err)
			assert.False(t, exists)

			_, err = store.Get(ctx, "images/p/one.jpg")
			require.ErrorIs(t, err, ErrNotFound)

			url, err := store.Put(ctx, "images/p/one.jpg", []byte("jpeg"), "image/jpeg")
			require.NoError(t, err)
			assert.Equal(t, store.URL("images/p/one.jpg"), url)

			_, err = store.Put(ctx, "images/p/two.png", []byte("png"), "image/png")
			require.NoError(t, err)
			_, err = store.Put(ctx, "html/x.html", []byte("<html>"), "text/html")
			require.NoError(t, err)

			exists, err = store.Exists(ctx, "images/p/one.jpg")
			require.NoError(t, err)
			assert.True(t, exists)

			data, err := store.Get(ctx, "images/p/one.jpg")
			require.NoError(t, err)
			assert.Equal(t, []byte("jpeg"), data)

			keys, err := store.List(ctx, ImagePrefix("p"))
			require.NoError(t, err)
			assert.Equal(t, []string{"images/p/one.jpg", "images/p/two.png"}, keys)

			_, err = store.Put(ctx, "images/p/one.jpg", []byte("jpeg2"), "image/jpeg")
			require.NoError(t, err)
			data, err = store.Get(ctx, "images/p/one.jpg")
			require.NoError(t, err)
			assert.Equal(t, []byte("jpeg2"), data)

			require.NoError(t, store.Delete(ctx, "images/p/one.jpg"))
			require.NoError(t, store.Delete(ctx, "images/p/one.jpg"))
			exists, err = store.Exists(ctx, "images/p/one.jpg")
			require.NoError(t, err)
			assert.False(t, exists)

			_, err = store.Put(ctx, "../escape", []byte("x"), "")
			require.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestMemoryStore_CopiesData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	data := []byte("abc")

	_, err := store.Put(ctx, "k", data, "")
	require.NoError(t, err)
	data[0] = 'z'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
	assert.Equal(t, 1, store.Len())
}

func TestGetAll(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	keys := []string{"a", "b", "c"}
	for _, k := range keys {
		_, err := store.Put(ctx, k, []byte("v-"+k), "")
		require.NoError(t, err)
	}

	results, err := GetAll(ctx, store, keys)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("v-a"), []byte("v-b"), []byte("v-c")}, results)

	_, err = GetAll(ctx, store, []string{"a", "missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}
