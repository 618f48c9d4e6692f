// Package workerpool bounds how many blocking filesystem operations may run
// concurrently, so the HTTP/WebSocket connection-handling goroutines never
// pile up more syscalls in flight than the configured worker count. Grounded
// on spec.md §5's "bounded worker pool (default 100 workers)" language and
// implemented on top of golang.org/x/sync/semaphore rather than a hand-rolled
// channel-based gate.
package workerpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent execution of blocking work to a fixed size.
type Pool struct {
	sem *semaphore.Weighted
}

// New returns a Pool that allows at most size concurrent Do calls to run
// their function bodies at once.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do acquires a slot, runs fn, and releases the slot. If ctx is canceled
// while waiting for a slot, Do returns ctx.Err() without running fn.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Do1 is Do for functions that also return a value.
func Do1[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	return result, err
}
