// Package worker runs independent tasks on a bounded set of goroutines.
package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Pool executes batches of independent tasks with an optional concurrency bound.
// A Pool holds no goroutines between calls and is safe for concurrent use.
type Pool struct {
	size int
}

// PoolConfig holds configuration for a pool
type PoolConfig struct {
	Size int // Max concurrent tasks per batch; <= 0 means one goroutine per task
}

// NewPool creates a new pool
func NewPool(cfg PoolConfig) *Pool {
	return &Pool{size: cfg.Size}
}

// Size returns the configured bound
func (p *Pool) Size() int {
	return p.size
}

// Map runs fn for every i in [0, n) and returns one error slot per task.
// Tasks are isolated: a failing or panicking task does not cancel the others.
func (p *Pool) Map(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}

	var g errgroup.Group
	if p.size > 0 {
		g.SetLimit(p.size)
	}

	for i := 0; i < n; i++ {
		g.Go(func() error {
			errs[i] = p.runOne(ctx, i, fn)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (p *Pool) runOne(ctx context.Context, i int, fn func(ctx context.Context, i int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %d panicked: %v", i, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, i)
}
