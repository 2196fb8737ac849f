package index

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/storage"
)

// ReviewSource is the canonical review store as seen by the index.
type ReviewSource interface {
	CountReviews(ctx context.Context) (int, error)
	ForEachReview(ctx context.Context, batchSize int, fn func([]*core.Review) error) error
	SetIndexState(ctx context.Context, states ...storage.IndexState) error
}

// RebuildStats summarizes a completed rebuild.
type RebuildStats struct {
	Reviews int
	Indexed int
	Skipped int
	Elapsed time.Duration
}

// Rebuild re-embeds every review in source into a private snapshot and
// publishes it with one atomic store, so readers see either the old index or
// the complete new one. Review index references are then rewritten to match.
// Writers are blocked for the duration. An error before the swap keeps the
// current index. If rewriting the references fails after the swap, the new
// index stays published and is flagged with RebuildNeeded.
func (ix *Index) Rebuild(ctx context.Context, source ReviewSource) (RebuildStats, error) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	total, err := source.CountReviews(ctx)
	if err != nil {
		return RebuildStats{}, fmt.Errorf("failed to count reviews: %w", err)
	}
	ix.logger.Info("starting index rebuild", "reviews", total, "batchSize", ix.batchSize)

	tracker := NewProgressTracker(ix.progress, total, ix.reportInterval)
	tracker.Start()

	next := emptySnapshot()
	states := make([]storage.IndexState, 0, total)
	stats := RebuildStats{}

	err = source.ForEachReview(ctx, ix.batchSize, func(reviews []*core.Review) error {
		texts := make([]string, 0, len(reviews))
		batch := make([]*core.Review, 0, len(reviews))
		for _, r := range reviews {
			stats.Reviews++
			if r.Text() == "" {
				stats.Skipped++
				states = append(states, storage.IndexState{ReviewID: r.Id})
				continue
			}
			texts = append(texts, r.Text())
			batch = append(batch, r)
		}

		if len(texts) > 0 {
			vectors, err := ix.embedBatch(ctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed batch: %w", err)
			}
			for i, r := range batch {
				next.put(r.Id, NormalizeVector(vectors[i]))
				states = append(states, storage.IndexState{
					ReviewID:    r.Id,
					IndexRef:    r.Id,
					ContentHash: core.IDFromContent(texts[i]),
				})
			}
		}

		tracker.Increment(len(reviews))
		return nil
	})
	if err != nil {
		return RebuildStats{}, err
	}

	ix.current.Store(next)
	ix.rebuildNeeded.Store(false)
	ix.metrics.SetIndexVectors(len(next.ids))
	tracker.Finish()

	for chunk := range slices.Chunk(states, ix.batchSize) {
		if err := source.SetIndexState(ctx, chunk...); err != nil {
			ix.MarkRebuildNeeded()
			return RebuildStats{}, fmt.Errorf("failed to update index references: %w", err)
		}
	}

	stats.Indexed = len(next.ids)
	stats.Elapsed = tracker.Elapsed()
	ix.logger.Info("index rebuild complete",
		"reviews", stats.Reviews,
		"indexed", stats.Indexed,
		"skipped", stats.Skipped,
		"elapsed", stats.Elapsed.Round(time.Millisecond))
	return stats, nil
}

// CheckConsistency compares the index with the review references in source.
// Returns a *ConsistencyError when they disagree.
func (ix *Index) CheckConsistency(ctx context.Context, source ReviewSource) error {
	snap := ix.current.Load()
	seen := make(map[core.ID]struct{}, len(snap.ids))
	cerr := &ConsistencyError{}

	err := source.ForEachReview(ctx, ix.batchSize, func(reviews []*core.Review) error {
		for _, r := range reviews {
			_, inIndex := snap.slots[r.Id]
			switch {
			case r.Indexed() && !inIndex:
				cerr.Missing = append(cerr.Missing, r.Id)
			case r.Indexed():
				seen[r.Id] = struct{}{}
				if r.ContentHash != core.IDFromContent(r.Text()) {
					cerr.Stale = append(cerr.Stale, r.Id)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range snap.ids {
		if _, ok := seen[id]; !ok {
			cerr.Orphaned = append(cerr.Orphaned, id)
		}
	}
	slices.Sort(cerr.Orphaned)

	if len(cerr.Missing)+len(cerr.Orphaned)+len(cerr.Stale) == 0 {
		return nil
	}
	ix.logger.Warn("index inconsistent with store",
		"missing", len(cerr.Missing), "orphaned", len(cerr.Orphaned), "stale", len(cerr.Stale))
	return cerr
}
