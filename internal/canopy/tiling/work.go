package tiling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrAborted is returned by Pool.Run when Abort stopped the run before
// every unit was processed.
var ErrAborted = errors.New("tiling: run aborted")

// WorkCounter hands out unit indices 0..total-1, each exactly once.
type WorkCounter struct {
	mu    sync.Mutex
	next  int
	total int
}

// NewWorkCounter returns a counter over total units.
func NewWorkCounter(total int) *WorkCounter {
	return &WorkCounter{total: total}
}

// Claim returns the next unclaimed index, or false when none remain.
func (c *WorkCounter) Claim() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= c.total {
		return 0, false
	}
	i := c.next
	c.next++
	return i, true
}

// Pool runs units of work on a fixed number of workers.
type Pool struct {
	workers int
	aborted atomic.Bool
}

// NewPool returns a pool of n workers (at least one).
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{workers: n}
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// Abort asks running workers to stop after their current unit.
func (p *Pool) Abort() { p.aborted.Store(true) }

// Aborted reports whether Abort has been called since the last Reset.
func (p *Pool) Aborted() bool { return p.aborted.Load() }

// Reset clears a pending abort so the pool can run again.
func (p *Pool) Reset() { p.aborted.Store(false) }

// Run processes units 0..units-1 with fn and returns when every worker
// has stopped. Abort requests and context cancellation are polled between
// units, so a unit that has started always completes. The first error
// returned by fn stops the remaining workers the same way.
func (p *Pool) Run(ctx context.Context, units int, fn func(ctx context.Context, unit int) error) error {
	counter := NewWorkCounter(units)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < p.workers; w++ {
		g.Go(func() error {
			for {
				if p.Aborted() {
					return ErrAborted
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				unit, ok := counter.Claim()
				if !ok {
					return nil
				}
				if err := fn(gctx, unit); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
