// Package limiter bounds how many operations run at once.
package limiter

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Limiter admits at most Width operations concurrently. Waiting operations
// are admitted in submission order as slots free.
type Limiter struct {
	sem   *semaphore.Weighted
	width int
}

// New returns a Limiter of the given width (minimum 1).
func New(width int) *Limiter {
	if width < 1 {
		width = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(width)), width: width}
}

// Width returns the admission width.
func (l *Limiter) Width() int {
	return l.width
}

// Run executes ops under the limiter and returns one error per op, in
// submission order. A failing or panicking op never cancels its siblings.
// If ctx ends while ops are still queued, those ops report ctx.Err().
func (l *Limiter) Run(ctx context.Context, ops []func(context.Context) error) []error {
	errs := make([]error, len(ops))
	var wg sync.WaitGroup
	for i, op := range ops {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(ops); j++ {
				errs[j] = err
			}
			break
		}
		wg.Add(1)
		go func(i int, op func(context.Context) error) {
			defer wg.Done()
			defer l.sem.Release(1)
			errs[i] = guard(ctx, op)
		}(i, op)
	}
	wg.Wait()
	return errs
}

func guard(ctx context.Context, op func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

// Result pairs an output with the error produced for one input.
type Result[T any] struct {
	Value T
	Err   error
}

// Map applies fn to every input through l and returns results aligned with
// inputs.
func Map[In, Out any](ctx context.Context, l *Limiter, inputs []In, fn func(context.Context, In) (Out, error)) []Result[Out] {
	results := make([]Result[Out], len(inputs))
	ops := make([]func(context.Context) error, len(inputs))
	for i, in := range inputs {
		ops[i] = func(ctx context.Context) error {
			out, err := fn(ctx, in)
			results[i].Value = out
			return err
		}
	}
	for i, err := range l.Run(ctx, ops) {
		results[i].Err = err
	}
	return results
}
