package blob

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const maxConcurrentReads = 8

// GetAll reads keys concurrently and returns their contents in key order.
// The first failure cancels the remaining reads.
func GetAll(ctx context.Context, store Store, keys []string) ([][]byte, error) {
	results := make([][]byte, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for i, key := range keys {
		g.Go(func() error {
			data, err := store.Get(gctx, key)
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
