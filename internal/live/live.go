// Package live implements subscriptions that keep delivering the current value of
// something as it changes: queries re-run when the tables they read are written,
// settable variables, and combinations of those.
package live

import (
	"context"
	"sync"
)

// Source is anything that can be subscribed to.
type Source[T any] interface {
	// Subscribe starts delivering values until ctx is done or the
	// subscription is closed.
	Subscribe(ctx context.Context) *Subscription[T]
}

// Subscription delivers the values of a [Source].
type Subscription[T any] struct {
	c      chan T
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// emitFunc hands a value to the subscriber. It reports false once the
// subscription has ended and the producer should stop.
type emitFunc[T any] func(T) bool

// start runs produce in its own goroutine and wires its output to a new subscription.
//
// produce returns nil when it stopped because ctx was done, or the error that ended it.
func start[T any](ctx context.Context, produce func(ctx context.Context, emit emitFunc[T]) error) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		c:      make(chan T),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	emit := func(v T) bool {
		select {
		case s.c <- v:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(s.done)
		defer close(s.c)
		defer cancel()

		err := produce(ctx, emit)
		if err != nil && ctx.Err() == nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()

	return s
}

// C returns the channel values are delivered on. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.c
}

// Done is closed once the producer has stopped and released its resources.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the subscription, or nil if it was closed by the subscriber.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Close ends the subscription and waits for its producer to stop. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.cancel()
	<-s.done
}

// Next blocks for the next value. It returns false when the subscription has ended
// or ctx is done first.
func (s *Subscription[T]) Next(ctx context.Context) (T, bool) {
	select {
	case v, ok := <-s.c:
		return v, ok
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// Func adapts a function to a [Source].
type Func[T any] func(ctx context.Context, emit func(T) bool) error

// Subscribe implements [Source].
func (f Func[T]) Subscribe(ctx context.Context) *Subscription[T] {
	return start(ctx, func(ctx context.Context, emit emitFunc[T]) error {
		return f(ctx, emit)
	})
}

// Map transforms every value of src with fn.
func Map[T, R any](src Source[T], fn func(T) R) Source[R] {
	return Func[R](func(ctx context.Context, emit func(R) bool) error {
		sub := src.Subscribe(ctx)
		defer sub.Close()

		for v := range sub.C() {
			if !emit(fn(v)) {
				return nil
			}
		}

		return sub.Err()
	})
}

// Each calls fn with every value of src before passing it on.
func Each[T any](src Source[T], fn func(T)) Source[T] {
	return Map(src, func(v T) T {
		fn(v)
		return v
	})
}
