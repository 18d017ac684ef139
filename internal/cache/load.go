package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader wraps a cache with per-key single-flight so concurrent misses for
// the same key share one fetch.
type Loader[V any] struct {
	c     *Cache[V]
	group singleflight.Group
}

func NewLoader[V any](c *Cache[V]) *Loader[V] {
	return &Loader[V]{c: c}
}

func (l *Loader[V]) Cache() *Cache[V] { return l.c }

// Load returns the cached value for key or calls fetch, caching its result
// for ttl. Errors are returned to every waiter and never cached. The fetch
// outlives a cancelled waiter; bound it with a client timeout.
func (l *Loader[V]) Load(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := l.c.Get(key); ok {
		return v, nil
	}
	ch := l.group.DoChan(key, func() (any, error) {
		// a concurrent flight may have just filled it
		if v, ok := l.c.Get(key); ok {
			return v, nil
		}
		v, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return v, err
		}
		l.c.Set(key, v, ttl)
		return v, nil
	})
	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		v, _ := res.Val.(V)
		return v, res.Err
	}
}

// Load is a typed helper over an untyped shared cache.
func Load[T any](ctx context.Context, l *Loader[any], key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	v, err := l.Load(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		// key collision between kinds; refetch without caching
		return fetch(ctx)
	}
	return t, nil
}
