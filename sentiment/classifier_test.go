package sentiment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/reviewmill/ai"
	"github.com/poiesic/reviewmill/ai/mock"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/metrics"
	"github.com/poiesic/reviewmill/retry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		PerAttemptTimeout: 50 * time.Millisecond,
	}
}

func newTestClassifier(t *testing.T, primary ai.SentimentClassifier, opts ...Option) *Classifier {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(fastPolicy())}, opts...)
	c, err := New(primary, opts...)
	require.NoError(t, err)
	return c
}

func TestNewOptions(t *testing.T) {
	_, err := New(nil, WithConcurrency(0))
	assert.ErrorIs(t, err, ErrInvalidConcurrency)

	_, err = New(nil, WithRetryPolicy(retry.Policy{}))
	assert.ErrorIs(t, err, retry.ErrInvalidMaxAttempts)
}

func TestClassifyPrimary(t *testing.T) {
	m := metrics.New()
	primary := mock.NewMockClassifier()
	c := newTestClassifier(t, primary, WithMetrics(m))

	got := c.Classify(context.Background(), "I love these coasters")

	assert.Equal(t, core.SentimentPositive, got.Label)
	assert.Equal(t, core.SourcePrimary, got.Source)
	assert.Equal(t, 0.9, got.Confidence)
	assert.False(t, IsFallback(got))
	assert.Equal(t, 1, primary.CallCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Classifications.WithLabelValues("primary")))
}

func TestClassifyFallsBack(t *testing.T) {
	t.Run("transport error retried then fallback", func(t *testing.T) {
		primary := mock.NewMockClassifier()
		primary.ClassifyFunc = func(ctx context.Context, text string) (ai.Classification, error) {
			return ai.Classification{}, fmt.Errorf("%w: connection refused", core.ErrNetwork)
		}
		c := newTestClassifier(t, primary)

		got := c.Classify(context.Background(), "Great product")

		assert.True(t, IsFallback(got))
		assert.Equal(t, core.SentimentPositive, got.Label)
		assert.Equal(t, FallbackConfidence, got.Confidence)
		assert.Equal(t, 3, primary.CallCount())
	})

	t.Run("invalid response is not retried", func(t *testing.T) {
		primary := mock.NewMockClassifier()
		primary.ClassifyFunc = func(ctx context.Context, text string) (ai.Classification, error) {
			return ai.Classification{}, fmt.Errorf("%w: not json", ai.ErrInvalidResponse)
		}
		c := newTestClassifier(t, primary)

		got := c.Classify(context.Background(), "Great product")

		assert.True(t, IsFallback(got))
		assert.Equal(t, 1, primary.CallCount())
	})

	t.Run("timeout", func(t *testing.T) {
		primary := mock.NewMockClassifier()
		primary.ClassifyFunc = func(ctx context.Context, text string) (ai.Classification, error) {
			<-ctx.Done()
			return ai.Classification{}, ctx.Err()
		}
		c := newTestClassifier(t, primary)

		start := time.Now()
		got := c.Classify(context.Background(), "awful")

		assert.True(t, IsFallback(got))
		assert.Equal(t, core.SentimentNegative, got.Label)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("out of range answer", func(t *testing.T) {
		primary := mock.NewMockClassifier()
		primary.ClassifyFunc = func(ctx context.Context, text string) (ai.Classification, error) {
			return ai.Classification{Label: "positive", Confidence: 3}, nil
		}
		c := newTestClassifier(t, primary)

		assert.True(t, IsFallback(c.Classify(context.Background(), "fine")))
	})

	t.Run("no primary", func(t *testing.T) {
		c := newTestClassifier(t, nil)
		got := c.Classify(context.Background(), "horrible")
		assert.True(t, IsFallback(got))
		assert.Equal(t, core.SentimentNegative, got.Label)
	})

	t.Run("canceled context", func(t *testing.T) {
		primary := mock.NewMockClassifier()
		c := newTestClassifier(t, primary)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.True(t, IsFallback(c.Classify(ctx, "love it")))
		assert.Equal(t, 0, primary.CallCount())
	})
}

func TestClassifyEmptyText(t *testing.T) {
	primary := mock.NewMockClassifier()
	c := newTestClassifier(t, primary)

	got := c.Classify(context.Background(), "   ")

	assert.Equal(t, core.SentimentNeutral, got.Label)
	assert.True(t, IsFallback(got))
	assert.Equal(t, 0, primary.CallCount())
}

func TestClassifyBatch(t *testing.T) {
	t.Run("order and isolation", func(t *testing.T) {
		primary := mock.NewMockClassifier()
		primary.ClassifyFunc = func(ctx context.Context, text string) (ai.Classification, error) {
			if text == "bad one" {
				return ai.Classification{}, errors.New("service unavailable")
			}
			return ai.Classification{Label: "neutral", Confidence: 0.8, Reasoning: text}, nil
		}
		c := newTestClassifier(t, primary)

		texts := []string{"first", "bad one", "third", "fourth"}
		got := c.ClassifyBatch(context.Background(), texts)

		require.Len(t, got, 4)
		assert.Equal(t, "first", got[0].Reasoning)
		assert.True(t, IsFallback(got[1]))
		assert.Equal(t, core.SentimentNegative, got[1].Label)
		assert.Equal(t, "third", got[2].Reasoning)
		assert.Equal(t, "fourth", got[3].Reasoning)
		assert.Equal(t, core.SourcePrimary, got[3].Source)
	})

	t.Run("concurrency bound", func(t *testing.T) {
		var inflight, peak atomic.Int32
		primary := mock.NewMockClassifier()
		primary.ClassifyFunc = func(ctx context.Context, text string) (ai.Classification, error) {
			n := inflight.Add(1)
			defer inflight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return ai.Classification{Label: "neutral", Confidence: 0.5}, nil
		}
		c := newTestClassifier(t, primary, WithConcurrency(2))

		texts := make([]string, 12)
		for i := range texts {
			texts[i] = fmt.Sprintf("review %d", i)
		}
		got := c.ClassifyBatch(context.Background(), texts)

		assert.Len(t, got, 12)
		assert.LessOrEqual(t, peak.Load(), int32(2))
		assert.Equal(t, 12, primary.CallCount())
	})

	t.Run("service down for every call", func(t *testing.T) {
		primary := mock.NewMockClassifier()
		primary.ClassifyFunc = func(ctx context.Context, text string) (ai.Classification, error) {
			return ai.Classification{}, core.ErrNetwork
		}
		c := newTestClassifier(t, primary)

		got := c.ClassifyBatch(context.Background(), []string{"love", "hate", "meh", ""})
		for _, s := range got {
			assert.True(t, s.Label.Valid())
			assert.Equal(t, core.SourceFallback, s.Source)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		c := newTestClassifier(t, nil)
		assert.Empty(t, c.ClassifyBatch(context.Background(), nil))
	})
}
