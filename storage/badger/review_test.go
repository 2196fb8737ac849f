package badger

import (
	"context"
	"fmt"
	"testing"

	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedProduct(t *testing.T, repos *Repositories, ext string) *core.Product {
	t.Helper()
	product, _, err := repos.Products.UpsertProduct(context.Background(), &core.Product{Source: "vistaprint", ExternalID: ext})
	require.NoError(t, err)
	return product
}

func makeReviews(productID core.ID, n int) []*core.Review {
	reviews := make([]*core.Review, n)
	for i := range reviews {
		reviews[i] = &core.Review{
			ProductID:  productID,
			ExternalID: fmt.Sprintf("rv-%03d", i),
			Body:       fmt.Sprintf("review body %d", i),
			Rating:     1 + i%5,
			Position:   i + 1,
		}
	}
	return reviews
}

func TestUpsertReviews_NoDuplicates(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	product := seedProduct(t, repos, "coasters")

	first := makeReviews(product.Id, 5)
	res, err := repos.Reviews.UpsertReviews(ctx, first...)
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Inserted: 5}, res)

	require.NoError(t, repos.Reviews.SetIndexState(ctx, storage.IndexState{
		ReviewID: first[0].Id, IndexRef: first[0].Id, ContentHash: 99,
	}))

	second := makeReviews(product.Id, 5)
	second[0].Body = "edited body"
	second[0].Sentiment = &core.Sentiment{Label: core.SentimentNegative, Source: core.SourceFallback}
	res, err = repos.Reviews.UpsertReviews(ctx, second...)
	require.NoError(t, err)
	assert.Equal(t, storage.UpsertResult{Updated: 5}, res)

	for i := range first {
		assert.Equal(t, first[i].Id, second[i].Id)
	}
	assert.Equal(t, first[0].Id, second[0].IndexRef, "index bookkeeping must survive an upsert")
	assert.Equal(t, core.ID(99), second[0].ContentHash)

	count, err := repos.Reviews.CountReviews(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	stored, err := repos.Reviews.GetReview(ctx, first[0].Id)
	require.NoError(t, err)
	assert.Equal(t, "edited body", stored.Body)
	require.NotNil(t, stored.Sentiment)
	assert.Equal(t, core.SentimentNegative, stored.Sentiment.Label)
}

func TestUpsertReviews_SameExternalIDDifferentProducts(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	a := seedProduct(t, repos, "a")
	b := seedProduct(t, repos, "b")

	res, err := repos.Reviews.UpsertReviews(ctx,
		&core.Review{ProductID: a.Id, ExternalID: "shared", Rating: 5},
		&core.Review{ProductID: b.Id, ExternalID: "shared", Rating: 4},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
}

func TestUpsertReviews_ChunkedBatch(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	product := seedProduct(t, repos, "big")

	reviews := makeReviews(product.Id, upsertChunkSize*2+7)
	res, err := repos.Reviews.UpsertReviews(ctx, reviews...)
	require.NoError(t, err)
	assert.Equal(t, len(reviews), res.Inserted)

	byProduct, err := repos.Reviews.GetReviewsByProduct(ctx, product.Id)
	require.NoError(t, err)
	require.Len(t, byProduct, len(reviews))
	for i := 1; i < len(byProduct); i++ {
		assert.Less(t, byProduct[i-1].Position, byProduct[i].Position)
	}
}

func TestUpsertReviews_Invalid(t *testing.T) {
	repos := newTestRepositories(t)

	_, err := repos.Reviews.UpsertReviews(context.Background(), &core.Review{ExternalID: "x", Rating: 3})
	require.ErrorIs(t, err, core.ErrInvalidReview)
}

func TestSetIndexState_NotFound(t *testing.T) {
	repos := newTestRepositories(t)

	err := repos.Reviews.SetIndexState(context.Background(), storage.IndexState{ReviewID: 12345, IndexRef: 12345})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetReviews_SkipsMissing(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	product := seedProduct(t, repos, "p")
	reviews := makeReviews(product.Id, 2)
	_, err := repos.Reviews.UpsertReviews(ctx, reviews...)
	require.NoError(t, err)

	got, err := repos.Reviews.GetReviews(ctx, reviews[0].Id, 9999, reviews[1].Id)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = repos.Reviews.GetReview(ctx, 9999)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetReviewsBySentiment(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	product := seedProduct(t, repos, "p")
	reviews := makeReviews(product.Id, 6)
	for i, r := range reviews {
		label := core.SentimentPositive
		if i%2 == 1 {
			label = core.SentimentNegative
		}
		r.Sentiment = &core.Sentiment{Label: label, Source: core.SourcePrimary}
	}
	_, err := repos.Reviews.UpsertReviews(ctx, reviews...)
	require.NoError(t, err)

	negatives, err := repos.Reviews.GetReviewsBySentiment(ctx, core.SentimentNegative, 10)
	require.NoError(t, err)
	assert.Len(t, negatives, 3)

	limited, err := repos.Reviews.GetReviewsBySentiment(ctx, core.SentimentPositive, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = repos.Reviews.GetReviewsBySentiment(ctx, core.SentimentPositive, 0)
	require.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestForEachReview_Batches(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	product := seedProduct(t, repos, "p")
	_, err := repos.Reviews.UpsertReviews(ctx, makeReviews(product.Id, 10)...)
	require.NoError(t, err)

	var sizes []int
	var last core.ID
	err = repos.Reviews.ForEachReview(ctx, 4, func(batch []*core.Review) error {
		sizes = append(sizes, len(batch))
		for _, r := range batch {
			assert.Greater(t, r.Id, last)
			last = r.Id
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 2}, sizes)
}

func TestForEachReview_StopsOnError(t *testing.T) {
	repos := newTestRepositories(t)
	ctx := context.Background()
	product := seedProduct(t, repos, "p")
	_, err := repos.Reviews.UpsertReviews(ctx, makeReviews(product.Id, 10)...)
	require.NoError(t, err)

	boom := fmt.Errorf("boom")
	calls := 0
	err = repos.Reviews.ForEachReview(ctx, 3, func([]*core.Review) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
