package tool

import (
	"context"
	"reflect"
)

// Promise is the result of an asynchronously completing tool. A tool
// returning *Promise[T] (optionally with an error) is awaited by the Runtime
// under the invocation context.
type Promise[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Async runs fn on its own goroutine and returns a promise of its result.
// A panic inside fn settles the promise with an error.
func Async[T any](fn func() (T, error)) *Promise[T] {
	p := &Promise[T]{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		defer func() {
			if r := recover(); r != nil {
				p.err = panicError(r)
			}
		}()
		p.val, p.err = fn()
	}()
	return p
}

// Resolved returns an already settled promise.
func Resolved[T any](v T, err error) *Promise[T] {
	p := &Promise[T]{done: make(chan struct{}), val: v, err: err}
	close(p.done)
	return p
}

// Await blocks until the promise settles or ctx is done.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (p *Promise[T]) await(ctx context.Context) (any, error) {
	return p.Await(ctx)
}

// awaiter is implemented by every *Promise instantiation.
type awaiter interface {
	await(ctx context.Context) (any, error)
}

var awaiterType = reflect.TypeOf((*awaiter)(nil)).Elem()
