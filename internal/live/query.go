package live

import (
	"context"
	"sync"
)

// Bus notifies watchers of committed writes, keyed by table name.
//
// A Bus belongs to one store; there is no process-wide instance.
type Bus struct {
	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
}

type watcher struct {
	// Buffered by one: pending invalidations collapse into a single signal.
	c chan struct{}
}

func NewBus() *Bus {
	return &Bus{
		watchers: make(map[string]map[*watcher]struct{}),
	}
}

// Publish signals every watcher of any of tables. It never blocks.
func (b *Bus) Publish(tables ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	notified := make(map[*watcher]struct{})
	for _, table := range tables {
		for w := range b.watchers[table] {
			if _, ok := notified[w]; ok {
				continue
			}
			notified[w] = struct{}{}

			select {
			case w.c <- struct{}{}:
			default:
			}
		}
	}
}

// watch registers interest in tables. The returned func unregisters.
func (b *Bus) watch(tables []string) (<-chan struct{}, func()) {
	w := &watcher{c: make(chan struct{}, 1)}

	b.mu.Lock()
	for _, table := range tables {
		set, ok := b.watchers[table]
		if !ok {
			set = make(map[*watcher]struct{})
			b.watchers[table] = set
		}
		set[w] = struct{}{}
	}
	b.mu.Unlock()

	return w.c, func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for _, table := range tables {
			delete(b.watchers[table], w)
			if len(b.watchers[table]) == 0 {
				delete(b.watchers, table)
			}
		}
	}
}

// Watchers returns how many subscriptions are registered on table.
func (b *Bus) Watchers(table string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.watchers[table])
}

// Query is a live query: it emits the result of fetch, then fetches and emits again
// whenever a commit touches one of its tables.
type Query[T any] struct {
	bus    *Bus
	tables []string
	fetch  func(ctx context.Context) (T, error)
}

// NewQuery builds a query over tables. fetch must read only from those tables.
func NewQuery[T any](bus *Bus, fetch func(ctx context.Context) (T, error), tables ...string) *Query[T] {
	return &Query[T]{
		bus:    bus,
		tables: tables,
		fetch:  fetch,
	}
}

// Tables returns the tables whose changes re-run the query.
func (q *Query[T]) Tables() []string {
	return q.tables
}

// Get runs the query once.
func (q *Query[T]) Get(ctx context.Context) (T, error) {
	return q.fetch(ctx)
}

// Subscribe implements [Source].
func (q *Query[T]) Subscribe(ctx context.Context) *Subscription[T] {
	return start(ctx, func(ctx context.Context, emit emitFunc[T]) error {
		// Watch before the first read so a commit landing in between is not missed.
		changed, unwatch := q.bus.watch(q.tables)
		defer unwatch()

		for {
			v, err := q.fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if !emit(v) {
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
