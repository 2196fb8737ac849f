// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sentiment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/poiesic/reviewmill/ai"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/metrics"
	"github.com/poiesic/reviewmill/retry"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds parallel primary calls in ClassifyBatch.
const DefaultConcurrency = 4

var (
	// ErrInvalidConcurrency is returned when the batch concurrency is not positive.
	ErrInvalidConcurrency = errors.New("concurrency must be greater than 0")
)

// Classifier assigns a sentiment to review text. It never fails: when the
// primary service is missing, slow or returns garbage the lexicon is used.
type Classifier struct {
	primary     ai.SentimentClassifier
	policy      retry.Policy
	concurrency int64
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier) error

// WithRetryPolicy sets the policy for primary calls. Errors wrapping
// ai.ErrInvalidResponse are not retried unless the policy says otherwise.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Classifier) error {
		if p.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		if p.Retryable == nil {
			p.Retryable = retryable
		}
		c.policy = p
		return nil
	}
}

// WithConcurrency bounds how many texts ClassifyBatch sends to the primary service at once.
func WithConcurrency(n int) Option {
	return func(c *Classifier) error {
		if n <= 0 {
			return ErrInvalidConcurrency
		}
		c.concurrency = int64(n)
		return nil
	}
}

// WithMetrics records classification outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Classifier) error {
		c.metrics = m
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) error {
		c.logger = logger
		return nil
	}
}

// New creates a Classifier. A nil primary classifies everything with the lexicon.
func New(primary ai.SentimentClassifier, opts ...Option) (*Classifier, error) {
	policy := retry.DefaultPolicy()
	policy.Retryable = retryable

	c := &Classifier{
		primary:     primary,
		policy:      policy,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "sentiment")
	return c, nil
}

// Classify returns the primary service's sentiment for text, or the lexicon
// result when the primary path fails for any reason.
func (c *Classifier) Classify(ctx context.Context, text string) core.Sentiment {
	if strings.TrimSpace(text) == "" || c.primary == nil {
		return c.fallback(text, nil)
	}

	var result ai.Classification
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		r, err := c.primary.Classify(ctx, text)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err == nil {
		err = result.Validate()
	}
	if err != nil {
		return c.fallback(text, err)
	}

	c.metrics.RecordClassification(string(core.SourcePrimary))
	return core.Sentiment{
		Label:      core.SentimentLabel(result.Label),
		Confidence: result.Confidence,
		Score:      result.Score,
		Reasoning:  result.Reasoning,
		Source:     core.SourcePrimary,
	}
}

// ClassifyBatch classifies each text independently and returns results in
// input order. At most the configured concurrency of primary calls run at once.
func (c *Classifier) ClassifyBatch(ctx context.Context, texts []string) []core.Sentiment {
	out := make([]core.Sentiment, len(texts))
	sem := semaphore.NewWeighted(c.concurrency)

	var wg sync.WaitGroup
	for i, text := range texts {
		if err := sem.Acquire(ctx, 1); err != nil {
			out[i] = c.fallback(text, err)
			continue
		}
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			defer sem.Release(1)
			out[i] = c.Classify(ctx, text)
		}(i, text)
	}
	wg.Wait()
	return out
}

func (c *Classifier) fallback(text string, cause error) core.Sentiment {
	if cause != nil {
		c.logger.Warn("primary classification failed, using lexicon", "err", cause)
	}
	c.metrics.RecordClassification(string(core.SourceFallback))
	return Fallback(text)
}

func retryable(err error) bool {
	return !errors.Is(err, ai.ErrInvalidResponse)
}

// IsFallback reports whether s came from the lexicon.
func IsFallback(s core.Sentiment) bool {
	return s.Source == core.SourceFallback
}
