package http

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Parallel runs calls concurrently under ctx and waits for all of them. The first error cancels
// the context handed to the remaining calls and is returned. Every call shares the request store
// of ctx, so downstream fields captured by one call are visible once Parallel returns.
func Parallel(ctx context.Context, calls ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, call := range calls {
		g.Go(func() error {
			return call(gctx)
		})
	}
	return g.Wait()
}
