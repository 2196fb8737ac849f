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

package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/poiesic/reviewmill/ai"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/metrics"
	"github.com/poiesic/reviewmill/retry"
	"github.com/poiesic/reviewmill/storage"
)

const (
	// DefaultSnapshotName is the snapshot store key of the persisted index.
	DefaultSnapshotName = "vector-index"
	// DefaultBatchSize is the number of reviews embedded per rebuild batch.
	DefaultBatchSize = 64
	// Type names the index implementation in statistics.
	Type = "flat-ip"
)

// snapshot is an immutable view of the index. Writers build a new snapshot
// and publish it with one atomic store.
type snapshot struct {
	ids     []core.ID // slot -> review id
	vectors [][]float32
	slots   map[core.ID]int
}

func emptySnapshot() *snapshot {
	return &snapshot{slots: make(map[core.ID]int)}
}

func (s *snapshot) clone() *snapshot {
	return &snapshot{
		ids:     slices.Clone(s.ids),
		vectors: slices.Clone(s.vectors),
		slots:   maps.Clone(s.slots),
	}
}

func (s *snapshot) put(id core.ID, vector []float32) {
	if slot, ok := s.slots[id]; ok {
		s.vectors[slot] = vector
		return
	}
	s.slots[id] = len(s.ids)
	s.ids = append(s.ids, id)
	s.vectors = append(s.vectors, vector)
}

// Entry is one vector to add.
type Entry struct {
	ReviewID core.ID
	Vector   []float32
}

// Index is an in-process flat inner-product index over unit vectors with
// exactly one entry per review.
type Index struct {
	embedder  ai.Embedder
	snapshots storage.SnapshotStore
	dimension int
	name      string
	policy    retry.Policy
	batchSize int

	progress       io.Writer
	reportInterval int

	current       atomic.Pointer[snapshot]
	writeMu       sync.Mutex
	rebuildNeeded atomic.Bool

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures an Index.
type Option func(*Index) error

// WithDimension sets the required vector length. Default is ai.DefaultDimension.
func WithDimension(dim int) Option {
	return func(ix *Index) error {
		if dim <= 0 {
			return ErrInvalidDimension
		}
		ix.dimension = dim
		return nil
	}
}

// WithSnapshotName sets the key used in the snapshot store.
func WithSnapshotName(name string) Option {
	return func(ix *Index) error {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty snapshot name", core.ErrValidation)
		}
		ix.name = name
		return nil
	}
}

// WithRetryPolicy sets the policy wrapped around embedding calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(ix *Index) error {
		if p.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		if p.Retryable == nil {
			p.Retryable = retryable
		}
		ix.policy = p
		return nil
	}
}

// WithBatchSize sets the rebuild batch size.
func WithBatchSize(n int) Option {
	return func(ix *Index) error {
		if n <= 0 {
			return ErrInvalidBatchSize
		}
		ix.batchSize = n
		return nil
	}
}

// WithProgress reports rebuild progress to w every interval reviews.
func WithProgress(w io.Writer, interval int) Option {
	return func(ix *Index) error {
		ix.progress = w
		ix.reportInterval = max(interval, 1)
		return nil
	}
}

// WithMetrics records index size.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Index) error {
		ix.metrics = m
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) error {
		ix.logger = logger
		return nil
	}
}

// New creates an empty Index. Call Load to restore a persisted snapshot.
func New(embedder ai.Embedder, snapshots storage.SnapshotStore, opts ...Option) (*Index, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if snapshots == nil {
		return nil, ErrSnapshotStoreRequired
	}

	policy := retry.DefaultPolicy()
	policy.Retryable = retryable
	ix := &Index{
		embedder:       embedder,
		snapshots:      snapshots,
		dimension:      ai.DefaultDimension,
		name:           DefaultSnapshotName,
		policy:         policy,
		batchSize:      DefaultBatchSize,
		reportInterval: 100,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(ix); err != nil {
			return nil, err
		}
	}
	ix.logger = ix.logger.With("component", "index")
	ix.current.Store(emptySnapshot())
	return ix, nil
}

func retryable(err error) bool {
	return !errors.Is(err, ErrDimensionMismatch)
}

// Dimension returns the required vector length.
func (ix *Index) Dimension() int {
	return ix.dimension
}

// Len returns the number of indexed reviews.
func (ix *Index) Len() int {
	return len(ix.current.Load().ids)
}

// Contains reports whether reviewID has an entry.
func (ix *Index) Contains(reviewID core.ID) bool {
	_, ok := ix.current.Load().slots[reviewID]
	return ok
}

// IDs returns the indexed review ids in ascending order.
func (ix *Index) IDs() []core.ID {
	ids := slices.Clone(ix.current.Load().ids)
	slices.Sort(ids)
	return ids
}

// RebuildNeeded reports whether the index is known to be unusable until rebuilt.
func (ix *Index) RebuildNeeded() bool {
	return ix.rebuildNeeded.Load()
}

// MarkRebuildNeeded flags the index for a rebuild.
func (ix *Index) MarkRebuildNeeded() {
	ix.rebuildNeeded.Store(true)
}

// Embed returns the embedding of text, retried under the index policy.
// The result has the configured dimension and is not normalized.
func (ix *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := ix.policy.Do(ctx, func(ctx context.Context) error {
		v, err := ix.embedder.EmbedText(ctx, text)
		if err != nil {
			return err
		}
		if err := ix.checkDimension(v); err != nil {
			return err
		}
		vector = v
		return nil
	})
	return vector, err
}

func (ix *Index) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := ix.policy.Do(ctx, func(ctx context.Context) error {
		vs, err := ix.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if len(vs) != len(texts) {
			return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(vs))
		}
		for _, v := range vs {
			if err := ix.checkDimension(v); err != nil {
				return err
			}
		}
		vectors = vs
		return nil
	})
	return vectors, err
}

func (ix *Index) checkDimension(v []float32) error {
	if len(v) != ix.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, ix.dimension, len(v))
	}
	return nil
}

// Add embeds text and stores it as the entry for reviewID, replacing any previous one.
func (ix *Index) Add(ctx context.Context, reviewID core.ID, text string) error {
	vector, err := ix.Embed(ctx, text)
	if err != nil {
		return err
	}
	return ix.AddVector(reviewID, vector)
}

// AddVector stores vector as the entry for reviewID, replacing any previous one.
func (ix *Index) AddVector(reviewID core.ID, vector []float32) error {
	return ix.AddVectors(Entry{ReviewID: reviewID, Vector: vector})
}

// AddVectors stores several entries and publishes them together.
func (ix *Index) AddVectors(entries ...Entry) error {
	for _, e := range entries {
		if e.ReviewID == 0 {
			return fmt.Errorf("%w: review id is zero", core.ErrValidation)
		}
		if err := ix.checkDimension(e.Vector); err != nil {
			return err
		}
	}
	if len(entries) == 0 {
		return nil
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	next := ix.current.Load().clone()
	for _, e := range entries {
		next.put(e.ReviewID, NormalizeVector(e.Vector))
	}
	ix.current.Store(next)
	ix.metrics.SetIndexVectors(len(next.ids))
	return nil
}

// Search embeds query and returns the k nearest reviews.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]core.SearchHit, error) {
	if err := core.ValidateSearch(query, k); err != nil {
		return nil, err
	}
	vector, err := ix.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return ix.SearchVector(vector, k)
}

// SearchVector returns the k entries with the highest inner product with the
// normalized vector, ties broken by ascending review id.
func (ix *Index) SearchVector(vector []float32, k int) ([]core.SearchHit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, core.ErrInvalidLimit)
	}
	if err := ix.checkDimension(vector); err != nil {
		return nil, err
	}
	query := NormalizeVector(vector)

	snap := ix.current.Load()
	hits := make([]core.SearchHit, len(snap.ids))
	for slot, id := range snap.ids {
		hits[slot] = core.SearchHit{ReviewID: id, Score: dotProduct(query, snap.vectors[slot])}
	}
	slices.SortFunc(hits, func(a, b core.SearchHit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ReviewID, b.ReviewID)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
