package characterize

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/charlib/internal/harness"
	"github.com/roach88/charlib/internal/spice"
)

// Scheduler dispatches the trials of one harness over its sweep points.
// Run returns after every dispatched trial has finished; the first error
// cancels the trials that have not started yet.
type Scheduler interface {
	Name() string
	Run(ctx context.Context, keys []harness.SweepKey, fn func(ctx context.Context, key harness.SweepKey) error) error
}

// NewScheduler picks the dispatch policy for a run. Trials fan out only
// when the simulator supports concurrent instances and multithreading is
// enabled.
func NewScheduler(caps spice.Capabilities, multithreaded bool) Scheduler {
	if multithreaded && caps.ConcurrentInstances {
		return Parallel{}
	}
	return Sequential{}
}

// Parallel runs one goroutine per sweep point and joins them.
type Parallel struct{}

// Name implements Scheduler.
func (Parallel) Name() string { return "parallel" }

// Run implements Scheduler.
func (Parallel) Run(ctx context.Context, keys []harness.SweepKey, fn func(ctx context.Context, key harness.SweepKey) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, key)
		})
	}
	return g.Wait()
}

// Sequential runs sweep points one at a time in order.
type Sequential struct{}

// Name implements Scheduler.
func (Sequential) Name() string { return "sequential" }

// Run implements Scheduler.
func (Sequential) Run(ctx context.Context, keys []harness.SweepKey, fn func(ctx context.Context, key harness.SweepKey) error) error {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
