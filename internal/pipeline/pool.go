package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// forEach runs fn for indexes [0, count) with at most workers goroutines.
// Cancellation stops the dispatch of new units; units already dispatched run
// to completion on a detached context so half-written files are not left
// behind by a mid-transfer kill. Returns the context error when dispatch was
// cut short.
func forEach(ctx context.Context, workers, count int, fn func(ctx context.Context, i int)) error {
	if workers < 1 {
		workers = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)

	inflight := context.WithoutCancel(ctx)
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(inflight, i)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}
