package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves path-style object requests for a single bucket.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/" + f.bucket + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, prefix)

	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "reviews", objects: make(map[string][]byte)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store, err := NewS3Store(context.Background(), S3Config{
		Bucket:       "reviews",
		Region:       "us-east-1",
		AccessKey:    "test",
		SecretKey:    "test",
		Endpoint:     server.URL,
		UsePathStyle: true,
	})
	require.NoError(t, err)
	return store, fake
}

func TestNewS3Store_RequiresBucketAndRegion(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{Region: "us-east-1"})
	require.ErrorIs(t, err, ErrBucketRequired)

	_, err = NewS3Store(context.Background(), S3Config{Bucket: "b"})
	require.ErrorIs(t, err, ErrRegionRequired)
}

func TestS3Store_RoundTrip(t *testing.T) {
	store, fake := newTestS3Store(t)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "images/p/a.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	url, err := store.Put(ctx, "images/p/a.jpg", []byte("image-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, "/reviews/images/p/a.jpg"), url)
	assert.Equal(t, []byte("image-bytes"), fake.objects["images/p/a.jpg"])

	exists, err = store.Exists(ctx, "images/p/a.jpg")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, "images/p/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)

	_, err = store.Get(ctx, "images/p/missing.jpg")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "images/p/a.jpg"))
	assert.Empty(t, fake.objects)
}

func TestS3Store_DefaultURL(t *testing.T) {
	store, err := NewS3Store(context.Background(), S3Config{Bucket: "b", Region: "eu-west-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com/images/x.jpg", store.URL("images/x.jpg"))
}
