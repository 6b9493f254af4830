// Package task provides the async machinery behind derived snapshot
// materialization: a small future primitive, a bounded worker pool, and a
// deduplicating result cache keyed by derived snapshot ID.
package task

import "context"

// Future is a single-assignment result observed by any number of callers.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// NewFuture returns an incomplete future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future already holding the given result.
func Completed[T any](value T, err error) *Future[T] {
	f := NewFuture[T]()
	f.complete(value, err)
	return f
}

// complete assigns the result. Completing twice panics, a future is
// assigned exactly once by its producer.
func (f *Future[T]) complete(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done returns a channel closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Value blocks until the result is available or the context ends. A
// context timeout detaches the caller without cancelling the computation.
func (f *Future[T]) Value(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Map returns a future holding fn applied to the source result. Errors
// pass through without invoking fn.
func Map[T, U any](source *Future[T], fn func(T) (U, error)) *Future[U] {
	result := NewFuture[U]()
	go func() {
		<-source.done
		if source.err != nil {
			var zero U
			result.complete(zero, source.err)
			return
		}
		result.complete(fn(source.value))
	}()
	return result
}

// Combine returns a future holding fn applied to both source results. The
// first error encountered passes through without invoking fn.
func Combine[A, B, C any](a *Future[A], b *Future[B], fn func(A, B) (C, error)) *Future[C] {
	result := NewFuture[C]()
	go func() {
		<-a.done
		<-b.done
		var zero C
		if a.err != nil {
			result.complete(zero, a.err)
			return
		}
		if b.err != nil {
			result.complete(zero, b.err)
			return
		}
		result.complete(fn(a.value, b.value))
	}()
	return result
}
