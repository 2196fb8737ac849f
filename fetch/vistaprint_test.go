package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/poiesic/reviewmill/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productHTML = `<!doctype html>
<html><head>
<title>Paper Coasters | Vistaprint</title>
<meta name="pageName" content="paperCoasters:ProductPage">
</head><body>
<div class="swan-site-main"><div class="swan-grid-container"><h1> Paper Coasters </h1></div></div>
<div id="reviews-container"></div>
</body></html>`

const searchHTML = `<html><body>
<div class="product-tile-container"><a data-cy="link-to-product-page-from-name" href="/photo-gifts/paper-coasters">Coasters</a></div>
<div class="product-tile-container"><a data-cy="link-to-product-page-from-name" href="/drinkware/bottle">Bottle</a></div>
<div class="product-tile-container"><a data-cy="link-to-product-page-from-name" href="/photo-gifts/paper-coasters">Dup</a></div>
<div class="product-tile-container"><a data-cy="other" href="/ignored">Ignored</a></div>
</body></html>`

func newVistaprintServer(t *testing.T, pagesTotal int) (*httptest.Server, *[]*http.Request) {
	t.Helper()
	var requests []*http.Request
	mux := http.NewServeMux()
	mux.HandleFunc("/photo-gifts/paper-coasters", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, productHTML)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r)
		fmt.Fprint(w, searchHTML)
	})
	mux.HandleFunc("/api/en-us/paperCoasters", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r)
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		startFrom, _ := strconv.Atoi(r.URL.Query().Get("startFrom"))
		current := startFrom/pageSize + 1
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"pagination":{"currentPageNumber":%d,"pagesTotal":%d},"reviews":[{"id":%d}]}`, current, pagesTotal, startFrom)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &requests
}

func newTestVistaprint(t *testing.T, server *httptest.Server) *VistaprintSource {
	t.Helper()
	source, err := NewVistaprintSource(
		WithHTTPClient(server.Client()),
		WithBaseURL(server.URL),
		WithAPIURL(server.URL+"/api"),
		WithPageSize(10),
	)
	require.NoError(t, err)
	return source
}

func TestVistaprint_ProductPageAndFeedKey(t *testing.T) {
	server, requests := newVistaprintServer(t, 1)
	source := newTestVistaprint(t, server)

	page, err := source.FetchProductPage(context.Background(), server.URL+"/photo-gifts/paper-coasters")
	require.NoError(t, err)
	assert.Equal(t, core.PageKindProduct, page.Kind)
	assert.Contains(t, page.ContentType, "text/html")
	assert.Contains(t, (*requests)[0].Header.Get("User-Agent"), "Chrome/138")

	key, err := source.FeedKey(page)
	require.NoError(t, err)
	assert.Equal(t, "paperCoasters", key)
}

func TestVistaprint_FeedKeyWithoutReviewSection(t *testing.T) {
	source, err := NewVistaprintSource()
	require.NoError(t, err)

	key, err := source.FeedKey(core.RawPage{Body: []byte(`<html><meta name="pageName" content="x:y"></html>`)})
	require.NoError(t, err)
	assert.Empty(t, key)

	_, err = source.FeedKey(core.RawPage{Body: []byte(`<html><div id="reviews-details"></div></html>`)})
	assert.ErrorIs(t, err, ErrNoFeedKey)
}

func TestVistaprint_ReviewPagination(t *testing.T) {
	server, requests := newVistaprintServer(t, 3)
	source := newTestVistaprint(t, server)
	ctx := context.Background()

	for n, wantNext := range []bool{true, true, false} {
		page, hasNext, err := source.FetchReviewPage(ctx, "paperCoasters", n)
		require.NoError(t, err)
		assert.Equal(t, n, page.Number)
		assert.Equal(t, core.PageKindReviews, page.Kind)
		assert.Equal(t, wantNext, hasNext, "page %d", n)
	}

	last := (*requests)[len(*requests)-1]
	assert.Equal(t, "20", last.URL.Query().Get("startFrom"))
	assert.Equal(t, "Newest", last.URL.Query().Get("sortBy"))
	assert.Equal(t, "10", last.URL.Query().Get("pageSize"))
}

func TestVistaprint_StatusError(t *testing.T) {
	server, _ := newVistaprintServer(t, 1)
	source := newTestVistaprint(t, server)

	_, err := source.FetchProductPage(context.Background(), server.URL+"/gone")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.False(t, IsRetryable(err))
}

func TestVistaprint_TransportError(t *testing.T) {
	server, _ := newVistaprintServer(t, 1)
	source := newTestVistaprint(t, server)
	server.Close()

	_, err := source.FetchProductPage(context.Background(), server.URL+"/photo-gifts/paper-coasters")
	require.ErrorIs(t, err, core.ErrNetwork)
	assert.True(t, IsRetryable(err))
}

func TestVistaprint_OversizedPageIsRejected(t *testing.T) {
	server, _ := newVistaprintServer(t, 1)
	source, err := NewVistaprintSource(
		WithHTTPClient(server.Client()),
		WithBaseURL(server.URL),
		WithMaxBodyBytes(64),
	)
	require.NoError(t, err)

	_, err = source.FetchProductPage(context.Background(), server.URL+"/photo-gifts/paper-coasters")
	require.ErrorIs(t, err, ErrPageTooLarge)
	assert.False(t, IsRetryable(err))

	source, err = NewVistaprintSource(WithHTTPClient(server.Client()), WithMaxBodyBytes(int64(len(productHTML))))
	require.NoError(t, err)
	page, err := source.FetchProductPage(context.Background(), server.URL+"/photo-gifts/paper-coasters")
	require.NoError(t, err)
	assert.Equal(t, productHTML, string(page.Body))
}

func TestVistaprint_Search(t *testing.T) {
	server, requests := newVistaprintServer(t, 1)
	source := newTestVistaprint(t, server)

	links, err := source.Search(context.Background(), "food storage")
	require.NoError(t, err)
	assert.Equal(t, []string{
		server.URL + "/photo-gifts/paper-coasters",
		server.URL + "/drinkware/bottle",
	}, links)
	assert.Equal(t, "food storage", (*requests)[0].URL.Query().Get("query"))
}

func TestHasNextPage(t *testing.T) {
	assert.True(t, HasNextPage([]byte(`{"pagination":{"currentPageNumber":1,"pagesTotal":2}}`)))
	assert.False(t, HasNextPage([]byte(`{"pagination":{"currentPageNumber":2,"pagesTotal":2}}`)))
	assert.False(t, HasNextPage([]byte(`{"reviews":[]}`)))
	assert.False(t, HasNextPage([]byte(`not json`)))
}

func TestWithPageSize_Invalid(t *testing.T) {
	_, err := NewVistaprintSource(WithPageSize(0))
	assert.ErrorIs(t, err, core.ErrInvalidLimit)
}
