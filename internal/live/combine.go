package live

import (
	"context"
	"sync"
)

// CombineLatest subscribes to every source and emits the latest value of each, in
// source order, every time any one of them emits.
//
// Nothing is emitted until every source has emitted once. The first source to fail
// fails the combination. The combination completes when every source has completed,
// or when a source completes without ever emitting.
func CombineLatest[T any](srcs ...Source[T]) Source[[]T] {
	return Func[[]T](func(ctx context.Context, emit func([]T) bool) error {
		n := len(srcs)
		if n == 0 {
			return nil
		}

		ctx, cancel := context.WithCancel(ctx)

		type update struct {
			i int
			v T
		}
		type end struct {
			i   int
			err error
		}
		var (
			updates = make(chan update)
			ends    = make(chan end, n)
			subs    = make([]*Subscription[T], n)
			wg      sync.WaitGroup
		)
		for i, src := range srcs {
			subs[i] = src.Subscribe(ctx)
		}
		defer func() {
			cancel()
			for _, sub := range subs {
				sub.Close()
			}
			wg.Wait()
		}()

		for i, sub := range subs {
			wg.Add(1)
			go func() {
				defer wg.Done()

				for v := range sub.C() {
					select {
					case updates <- update{i: i, v: v}:
					case <-ctx.Done():
						return
					}
				}
				ends <- end{i: i, err: sub.Err()}
			}()
		}

		var (
			latest = make([]T, n)
			seen   = make([]bool, n)
			ready  = 0
			ended  = 0
		)
		for {
			select {
			case u := <-updates:
				latest[u.i] = u.v
				if !seen[u.i] {
					seen[u.i] = true
					ready++
				}
				if ready < n {
					continue
				}

				out := make([]T, n)
				copy(out, latest)
				if !emit(out) {
					return nil
				}
			case e := <-ends:
				if e.err != nil {
					return e.err
				}
				ended++
				if !seen[e.i] || ended == n {
					return nil
				}
			case <-ctx.Done():
				return nil
			}
		}
	})
}

func erase[T any](src Source[T]) Source[any] {
	return Map(src, func(v T) any { return v })
}

func as[T any](v any) T {
	t, _ := v.(T)
	return t
}

// Combine2 is [CombineLatest] over two sources of different types.
func Combine2[A, B, R any](a Source[A], b Source[B], fn func(A, B) R) Source[R] {
	return Map(CombineLatest(erase(a), erase(b)), func(vs []any) R {
		return fn(as[A](vs[0]), as[B](vs[1]))
	})
}

// Combine3 is [CombineLatest] over three sources of different types.
func Combine3[A, B, C, R any](a Source[A], b Source[B], c Source[C], fn func(A, B, C) R) Source[R] {
	return Map(CombineLatest(erase(a), erase(b), erase(c)), func(vs []any) R {
		return fn(as[A](vs[0]), as[B](vs[1]), as[C](vs[2]))
	})
}

// Combine4 is [CombineLatest] over four sources of different types.
func Combine4[A, B, C, D, R any](a Source[A], b Source[B], c Source[C], d Source[D], fn func(A, B, C, D) R) Source[R] {
	return Map(CombineLatest(erase(a), erase(b), erase(c), erase(d)), func(vs []any) R {
		return fn(as[A](vs[0]), as[B](vs[1]), as[C](vs[2]), as[D](vs[3]))
	})
}
