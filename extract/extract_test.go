package extract

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/reviewmill/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "https://www.vistaprint.com/photo-gifts/paper-coasters"

const productHTML = `<html><head>
<title>Paper Coasters | Vistaprint</title>
<meta name="pageName" content="paperCoasters:ProductPage">
</head><body>
<div class="swan-site-main"><div class="swan-grid-container"><h1>Paper Coasters</h1></div></div>
</body></html>`

func productRawPage(body string) core.RawPage {
	return core.RawPage{Kind: core.PageKindProduct, URL: testURL, Body: []byte(body)}
}

func reviewPage(n int, body string) core.RawPage {
	return core.RawPage{Kind: core.PageKindReviews, Number: n, Body: []byte(body)}
}

func reviewsJSON(items ...string) string {
	return `{"pagination":{"currentPageNumber":1,"pagesTotal":1},"reviews":[` + strings.Join(items, ",") + `]}`
}

func reviewItem(id any, rating any, comments string) string {
	title := "Title " + strings.Trim(fmt.Sprint(id), `"`)
	return fmt.Sprintf(`{"id":%v,"header":%q,"comments":%q,"nickname":"Pat","rating":%v,"isVerifiedBuyer":true,"authorSubmissionDate":"Jul 4, 2025"}`,
		id, title, comments, rating)
}

func TestExtract_ProductAndReviews(t *testing.T) {
	e := New("vistaprint", nil)
	pages := []core.RawPage{
		productRawPage(productHTML),
		reviewPage(0, reviewsJSON(reviewItem(101, 5, "Great coasters"), reviewItem(`"102"`, 4, "Solid"))),
	}

	out, err := e.Extract(testURL, pages)
	require.NoError(t, err)

	assert.Equal(t, "vistaprint", out.Product.Source)
	assert.Equal(t, "paperCoasters", out.Product.ExternalID)
	assert.Equal(t, "Paper Coasters", out.Product.Name)
	assert.Equal(t, "paper-coasters", out.Product.Slug)
	assert.Empty(t, out.Anomalies)

	require.Len(t, out.Reviews, 2)
	first := out.Reviews[0]
	assert.Equal(t, "101", first.ExternalID)
	assert.Equal(t, "Title 101", first.Title)
	assert.Equal(t, "Great coasters", first.Body)
	assert.Equal(t, "Pat", first.Author)
	assert.Equal(t, 5, first.Rating)
	assert.True(t, first.Verified)
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC), first.PostedAt)
	assert.Equal(t, "102", out.Reviews[1].ExternalID)
	assert.Equal(t, 2, out.Reviews[1].Position)
}

func TestExtract_Deterministic(t *testing.T) {
	e := New("vistaprint", nil)
	pages := []core.RawPage{
		productRawPage(productHTML),
		reviewPage(1, reviewsJSON(reviewItem(3, 9, "c"), `"junk"`)),
		reviewPage(0, reviewsJSON(reviewItem(1, 5, "a"), reviewItem(2, 0, "b"))),
	}

	first, err := e.Extract(testURL, pages)
	require.NoError(t, err)
	for range 5 {
		again, err := e.Extract(testURL, pages)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	ids := make([]string, len(first.Reviews))
	for i, r := range first.Reviews {
		ids[i] = r.ExternalID
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids, "reviews follow page order regardless of input order")
}

func TestExtract_Defaults(t *testing.T) {
	e := New("vistaprint", nil)
	out, err := e.Extract(testURL, []core.RawPage{
		productRawPage(`<html><body>no name here</body></html>`),
		reviewPage(0, reviewsJSON(`{"id":"7","comments":"Only text","rating":3}`)),
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultProductName, out.Product.Name)
	assert.Equal(t, "paper-coasters", out.Product.ExternalID, "falls back to the slug without a feed key")
	require.Len(t, out.Reviews, 1)
	r := out.Reviews[0]
	assert.Equal(t, "", r.Title)
	assert.Equal(t, DefaultAuthor, r.Author)
	assert.False(t, r.Verified)
	assert.True(t, r.PostedAt.IsZero())
	assert.Empty(t, r.Images)
	assert.Empty(t, out.Anomalies)
}

func TestExtract_TitleFallback(t *testing.T) {
	e := New("vistaprint", nil)
	out, err := e.Extract(testURL, []core.RawPage{productRawPage(`<html><head><title> Mugs </title></head></html>`)})
	require.NoError(t, err)
	assert.Equal(t, "Mugs", out.Product.Name)
}

func TestExtract_MalformedItemsAreSkipped(t *testing.T) {
	e := New("vistaprint", nil)
	out, err := e.Extract(testURL, []core.RawPage{
		productRawPage(productHTML),
		reviewPage(0, reviewsJSON(
			`42`,
			`{"header":"no id","rating":5}`,
			`{"id":"empty","rating":5}`,
			reviewItem(1, 5, "kept"),
			reviewItem(1, 4, "duplicate"),
		)),
	})
	require.NoError(t, err)

	require.Len(t, out.Reviews, 1)
	assert.Equal(t, "kept", out.Reviews[0].Body)
	assert.Equal(t, 4, out.Reviews[0].Position, "positions count every feed item")

	require.Len(t, out.Anomalies, 4)
	for _, a := range out.Anomalies {
		assert.Equal(t, core.AnomalyParse, a.Kind)
		assert.Equal(t, 0, a.Page)
	}
	assert.Equal(t, "empty", out.Anomalies[2].ExternalID)
	assert.Equal(t, "1", out.Anomalies[3].ExternalID)
}

func TestExtract_RatingClamp(t *testing.T) {
	e := New("vistaprint", nil)
	out, err := e.Extract(testURL, []core.RawPage{
		productRawPage(productHTML),
		reviewPage(0, reviewsJSON(
			reviewItem(1, 7, "high"),
			reviewItem(2, -1, "low"),
			reviewItem(3, `"five"`, "string rating"),
			`{"id":4,"comments":"missing"}`,
			reviewItem(5, 4.6, "fractional"),
		)),
	})
	require.NoError(t, err)
	require.Len(t, out.Reviews, 5)

	ratings := []int{}
	for _, r := range out.Reviews {
		ratings = append(ratings, r.Rating)
		require.NoError(t, core.ValidateReview(&core.Review{ProductID: 1, ExternalID: r.ExternalID, Rating: r.Rating}))
	}
	assert.Equal(t, []int{5, 1, 1, 1, 5}, ratings)

	require.Len(t, out.Anomalies, 4)
	for _, a := range out.Anomalies {
		assert.Equal(t, core.AnomalyRating, a.Kind)
	}
	assert.Equal(t, "rating 7 clamped to 5", out.Anomalies[0].Detail)
	assert.Equal(t, "missing rating clamped to 1", out.Anomalies[3].Detail)
}

func TestExtract_RatingOutsideIntRange(t *testing.T) {
	e := New("vistaprint", nil)
	out, err := e.Extract(testURL, []core.RawPage{
		productRawPage(productHTML),
		reviewPage(0, reviewsJSON(
			reviewItem(1, "1e20", "huge"),
			reviewItem(2, "-1e20", "tiny"),
		)),
	})
	require.NoError(t, err)
	require.Len(t, out.Reviews, 2)
	assert.Equal(t, 5, out.Reviews[0].Rating)
	assert.Equal(t, 1, out.Reviews[1].Rating)

	require.Len(t, out.Anomalies, 2)
	assert.Equal(t, "rating 1e+20 clamped to 5", out.Anomalies[0].Detail)
	assert.Equal(t, "rating -1e+20 clamped to 1", out.Anomalies[1].Detail)
}

func TestExtract_BadDateKeepsReview(t *testing.T) {
	e := New("vistaprint", nil)
	out, err := e.Extract(testURL, []core.RawPage{
		productRawPage(productHTML),
		reviewPage(0, reviewsJSON(`{"id":1,"comments":"ok","rating":5,"authorSubmissionDate":"2025-07-04"}`)),
	})
	require.NoError(t, err)
	require.Len(t, out.Reviews, 1)
	assert.True(t, out.Reviews[0].PostedAt.IsZero())
	require.Len(t, out.Anomalies, 1)
	assert.Equal(t, core.AnomalyParse, out.Anomalies[0].Kind)
	assert.Equal(t, "1", out.Anomalies[0].ExternalID)
}

func TestExtract_Images(t *testing.T) {
	e := New("vistaprint", nil)
	out, err := e.Extract(testURL, []core.RawPage{
		productRawPage(productHTML),
		reviewPage(0, reviewsJSON(`{"id":1,"comments":"pics","rating":5,"images":[
			{"id":"img-9","src":"https://cdn.example.com/a/photo.jpg"},
			{"src":"https://cdn.example.com/a/IMG_0042.png?w=200"},
			{"src":""},
			{"id":"no-src"},
			{"id":"gallery/7 x","src":"https://cdn.example.com/z.jpg"}
		]}`)),
	})
	require.NoError(t, err)
	require.Len(t, out.Reviews, 1)
	assert.Equal(t, []core.ImageRef{
		{ExternalID: "img-9", URL: "https://cdn.example.com/a/photo.jpg"},
		{ExternalID: "IMG_0042", URL: "https://cdn.example.com/a/IMG_0042.png?w=200"},
		{ExternalID: "gallery-7-x", URL: "https://cdn.example.com/z.jpg"},
	}, out.Reviews[0].Images)
}

func TestExtract_UndecodablePageDoesNotStopOthers(t *testing.T) {
	e := New("vistaprint", nil)
	out, err := e.Extract(testURL, []core.RawPage{
		productRawPage(productHTML),
		reviewPage(0, `{not json`),
		reviewPage(1, reviewsJSON(reviewItem(1, 5, "fine"))),
		reviewPage(2, `{"reviews":"nope"}`),
	})
	require.NoError(t, err)
	assert.Len(t, out.Reviews, 1)
	require.Len(t, out.Anomalies, 2)
	assert.Equal(t, 0, out.Anomalies[0].Page)
	assert.Equal(t, 2, out.Anomalies[1].Page)
}

func TestExtract_NoUsablePages(t *testing.T) {
	e := New("vistaprint", nil)

	_, err := e.Extract(testURL, nil)
	assert.ErrorIs(t, err, ErrNoUsablePages)

	out, err := e.Extract(testURL, []core.RawPage{productRawPage("   "), reviewPage(0, "garbage")})
	assert.ErrorIs(t, err, ErrNoUsablePages)
	assert.Len(t, out.Anomalies, 2)
}

func TestImageExternalID(t *testing.T) {
	assert.Equal(t, "photo", ImageExternalID("https://cdn.example.com/photo.jpeg"))
	assert.Equal(t, "a-b", ImageExternalID("https://cdn.example.com/a%20b.jpg"))

	hashed := ImageExternalID("https://cdn.example.com/")
	assert.Len(t, hashed, 16)
	assert.Equal(t, hashed, ImageExternalID("https://cdn.example.com/"))
}
