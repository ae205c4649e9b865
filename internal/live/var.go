package live

import (
	"context"
	"sync"
)

// Var holds a value that can be set and subscribed to. Subscribers get the
// current value first, then the value after each Set.
type Var[T any] struct {
	mu      sync.Mutex
	v       T
	changed chan struct{}
}

func NewVar[T any](initial T) *Var[T] {
	return &Var[T]{
		v:       initial,
		changed: make(chan struct{}),
	}
}

// Get returns the current value.
func (v *Var[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.v
}

// Set stores x and wakes every subscriber.
func (v *Var[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.v = x
	close(v.changed)
	v.changed = make(chan struct{})
}

// Update applies fn to the current value atomically.
func (v *Var[T]) Update(fn func(T) T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.v = fn(v.v)
	close(v.changed)
	v.changed = make(chan struct{})
}

func (v *Var[T]) snapshot() (T, <-chan struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.v, v.changed
}

// Subscribe implements [Source].
func (v *Var[T]) Subscribe(ctx context.Context) *Subscription[T] {
	return start(ctx, func(ctx context.Context, emit emitFunc[T]) error {
		for {
			x, changed := v.snapshot()
			if !emit(x) {
				return nil
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return nil
			}
		}
	})
}
