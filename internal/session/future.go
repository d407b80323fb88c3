package session

import (
	"context"
	"sync"
)

// future is a single-fire value slot. The first complete wins; later calls
// are no-ops so duplicate handshake frames never race.
type future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

func (f *future[T]) complete(val T) {
	f.once.Do(func() {
		f.val = val
		close(f.done)
	})
}

// wait blocks until the value arrives or ctx ends. On cancellation the
// returned error is context.Cause(ctx), so a deliberate halt surfaces as its
// own sentinel instead of a plain deadline error.
func (f *future[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, nil
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	}
}
