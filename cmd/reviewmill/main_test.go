package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/poiesic/reviewmill"
	"github.com/poiesic/reviewmill/ai/mock"
	"github.com/poiesic/reviewmill/blob"
	"github.com/poiesic/reviewmill/config"
	"github.com/poiesic/reviewmill/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const productHTML = `<html><head>
<meta name="pageName" content="paperCoasters:ProductPage">
</head><body>
<div class="swan-site-main"><div class="swan-grid-container"><h1>Paper Coasters</h1></div></div>
<div id="reviews-container"></div>
</body></html>`

func newStorefront(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/photo-gifts/paper-coasters", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, productHTML)
	})
	mux.HandleFunc("/api/en-us/paperCoasters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"pagination":{"currentPageNumber":1,"pagesTotal":1},"reviews":[
			{"id":"a","header":"Lovely","comments":"great coasters, arrived quickly","nickname":"Pat","rating":5,"authorSubmissionDate":"Jul 4, 2025"},
			{"id":"b","header":"Meh","comments":"colors were fine","nickname":"Sam","rating":3,"authorSubmissionDate":"Jul 5, 2025"},
			{"id":"c","header":"Bad","comments":"terrible print, corners broken","nickname":"Lee","rating":1,"authorSubmissionDate":"Jul 6, 2025"}]}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// writeConfig points the CLI at a fresh database and the storefront.
func writeConfig(t *testing.T, server *httptest.Server, extra string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(config.PathEnv, "")

	cfg := fmt.Sprintf(`
storage:
  path: %s
blob:
  driver: file
  root: %s
fetch:
  base_url: %s
  api_url: %s/api
  page_size: 10
  min_delay: 0s
retry:
  max_attempts: 2
  backoff_base: 1ms
  max_delay: 1ms
  per_attempt_timeout: 2s
%s`, filepath.Join(dir, "db"), filepath.Join(dir, "blobs"), server.URL, server.URL, extra)
	path := filepath.Join(dir, "reviewmill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp(reviewmill.WithProvider(mock.NewMockProvider()))
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"reviewmill", "--config", configPath}, args...))
	return out.String(), err
}

func TestScrapeThenQuery(t *testing.T) {
	server := newStorefront(t)
	cfgPath := writeConfig(t, server, "")

	out, err := run(t, cfgPath, "scrape", server.URL+"/photo-gifts/paper-coasters")
	require.NoError(t, err)
	assert.Contains(t, out, "State: COMPLETE")
	assert.Contains(t, out, "Reviews: 3")

	out, err = run(t, cfgPath, "products")
	require.NoError(t, err)
	fields := strings.Split(strings.TrimSpace(out), "\t")
	require.Len(t, fields, 3)
	assert.Equal(t, "Paper Coasters", fields[1])
	_, err = strconv.ParseUint(fields[0], 10, 64)
	require.NoError(t, err)
	id := fields[0]

	out, err = run(t, cfgPath, "stats", id)
	require.NoError(t, err)
	assert.Contains(t, out, `"review_count": 3`)
	assert.Contains(t, out, `"average_rating": 3`)

	out, err = run(t, cfgPath, "product", id)
	require.NoError(t, err)
	assert.Contains(t, out, `"external_id": "paperCoasters"`)

	out, err = run(t, cfgPath, "sentiment", "negative")
	require.NoError(t, err)
	assert.Contains(t, out, "terrible print")
	assert.NotContains(t, out, "great coasters")

	out, err = run(t, cfgPath, "search", "-k", "1", "Lovely\ngreat", "coasters,", "arrived", "quickly")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 hits")
	assert.Contains(t, out, "great coasters")

	out, err = run(t, cfgPath, "index", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Index is consistent")

	out, err = run(t, cfgPath, "index", "rebuild")
	require.NoError(t, err)
	assert.Contains(t, out, "3 reviews, 3 indexed")

	out, err = run(t, cfgPath, "index", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"total_vectors": 3`)
}

func TestCommandErrors(t *testing.T) {
	server := newStorefront(t)
	cfgPath := writeConfig(t, server, "")

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"product without id", []string{"product"}, core.ErrValidation},
		{"product with bad id", []string{"product", "abc"}, core.ErrValidation},
		{"unknown mode", []string{"scrape", "--mode", "bogus", "http://example.com/x"}, core.ErrInvalidMode},
		{"scrape without url", []string{"scrape"}, core.ErrValidation},
		{"unknown sentiment", []string{"sentiment", "furious"}, core.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, cfgPath, tt.args...)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("invalid log level", func(t *testing.T) {
		_, err := run(t, cfgPath, "--log-level", "loud", "products")
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}

func TestShipsLogsToBlobStore(t *testing.T) {
	server := newStorefront(t)
	cfgPath := writeConfig(t, server, "logging:\n  ship: true\n")

	_, err := run(t, cfgPath, "products")
	require.NoError(t, err)

	store, err := blob.NewFileStore("blobs")
	require.NoError(t, err)
	keys, err := store.List(context.Background(), "logs/")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	data, err := store.Get(context.Background(), keys[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "component=index")
}

func TestGlobalFlags(t *testing.T) {
	app := newApp()
	var names []string
	for _, flag := range app.Flags {
		names = append(names, flag.Names()[0])
	}
	assert.ElementsMatch(t, []string{"config", "log-level", "log-format", "db"}, names)

	for _, flag := range app.Flags {
		if f, ok := flag.(*cli.StringFlag); ok {
			assert.Empty(t, f.Value, f.Name)
		}
	}
}
