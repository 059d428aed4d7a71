package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// ErrWorkerPanic marks a unit of work that panicked. The panic is contained
// to that unit; sibling units keep running.
var ErrWorkerPanic = errors.New("pipeline: worker panic")

// WorkerPool runs fn over a slice of units with bounded concurrency.
type WorkerPool[T any] struct {
	workers int
	fn      func(context.Context, T) error
}

// NewWorkerPool builds a pool of workers running fn. workers < 1 means one.
func NewWorkerPool[T any](workers int, fn func(context.Context, T) error) *WorkerPool[T] {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool[T]{workers: workers, fn: fn}
}

// Run dispatches items until they are exhausted or ctx is done, then waits for
// every dispatched unit. The result holds one error per item: nil on success,
// the unit's error, an ErrWorkerPanic wrap, or ctx.Err() for items never
// dispatched.
func (p *WorkerPool[T]) Run(ctx context.Context, items []T) []error {
	errs := make([]error, len(items))
	if len(items) == 0 {
		return errs
	}

	workers := p.workers
	if workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				errs[idx] = p.runOne(ctx, items[idx])
			}
		}()
	}

dispatch:
	for i := range items {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(items); j++ {
				errs[j] = err
			}
			break
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(items); j++ {
				errs[j] = ctx.Err()
			}
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	return errs
}

func (p *WorkerPool[T]) runOne(ctx context.Context, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrWorkerPanic, r, debug.Stack())
		}
	}()
	return p.fn(ctx, item)
}
