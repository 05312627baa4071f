package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunParallel drives one session per image concurrently until keepGoing
// returns false for it, MaxTicks is reached or ctx ends. The first failure
// cancels the others and is returned. keepGoing must be safe for
// concurrent use, and so must the engine's frontend.
func (e *Engine) RunParallel(ctx context.Context, images [][]byte, keepGoing func() bool) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, image := range images {
		g.Go(func() error {
			s, err := e.Run(ctx, image, keepGoing)
			if err != nil {
				return fmt.Errorf("guest %d: %w", i, err)
			}
			return s.Close(ctx)
		})
	}
	return g.Wait()
}
