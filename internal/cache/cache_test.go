package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGetExpiresAtDeadline(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[string](WithClock(clk.Now))
	c.Set("k", "v", 10*time.Second)

	clk.Advance(9 * time.Second)
	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	// now == expiresAt counts as expired
	clk.Advance(time.Second)
	_, ok = c.Get("k")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestSetOverwritesAndResetsExpiry(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[int](WithClock(clk.Now))
	c.Set("k", 1, 5*time.Second)
	clk.Advance(4 * time.Second)
	c.Set("k", 2, 5*time.Second)
	clk.Advance(4 * time.Second)

	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestDeleteClearStats(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[int](WithClock(clk.Now))
	c.Set("b", 2, time.Minute)
	c.Set("a", 1, time.Minute)

	_, _ = c.Get("a")
	_, _ = c.Get("missing")
	c.Delete("b")

	st := c.Stats()
	require.Equal(t, 1, st.Size)
	require.Equal(t, []string{"a"}, st.Keys)
	require.EqualValues(t, 1, st.Hits)
	require.EqualValues(t, 1, st.Misses)

	c.Clear()
	require.Equal(t, 0, c.Stats().Size)
}

func TestMaxEntriesEvictsExpiredThenEarliest(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[int](WithClock(clk.Now), WithMaxEntries(2))
	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	clk.Advance(2 * time.Second)

	// "short" is expired and goes first
	c.Set("mid", 3, time.Minute)
	require.Equal(t, 2, c.Len())
	_, ok := c.Get("long")
	require.True(t, ok)

	// no expired entries left: earliest expiry ("mid") is evicted
	c.Set("newest", 4, 30*time.Minute)
	_, ok = c.Get("mid")
	require.False(t, ok)
	_, ok = c.Get("newest")
	require.True(t, ok)
	require.EqualValues(t, 2, c.Stats().Evictions)
}

func TestLoaderSharesConcurrentFetches(t *testing.T) {
	t.Parallel()

	l := NewLoader(New[string]())
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]string, 8)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := l.Load(context.Background(), "k", time.Minute, func(context.Context) (string, error) {
				calls.Add(1)
				<-release
				return "value", nil
			})
			results[i], errs[i] = v, err
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for i, v := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "value", v)
	}
}

func TestLoaderDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	l := NewLoader(New[any]())
	boom := errors.New("boom")
	n := 0
	fetch := func(context.Context) (int, error) {
		n++
		if n == 1 {
			return 0, boom
		}
		return n, nil
	}

	_, err := Load(context.Background(), l, "k", time.Minute, fetch)
	require.ErrorIs(t, err, boom)

	v, err := Load(context.Background(), l, "k", time.Minute, fetch)
	require.NoError(t, err)
	require.Equal(t, 2, v)

	v, err = Load(context.Background(), l, "k", time.Minute, fetch)
	require.NoError(t, err)
	require.Equal(t, 2, v, "served from cache")
}

func TestKeysAreCaseInsensitive(t *testing.T) {
	t.Parallel()

	require.Equal(t, StandingKey("EU", "Foo", "Bar"), StandingKey("eu", "foo", "bar"))
	require.Equal(t, "matches:eu:foo:bar:competitive", MatchesKey("eu", "Foo", "BAR", "competitive"))
	require.NotEqual(t, MatchKey("eu", "x"), MatchKey("na", "x"))
	require.Equal(t, "mmrHistory:eu:a:b", StandingHistoryKey("eu", "a", "b"))
	require.Equal(t, "account:a:b", AccountKey("A", "B"))
}
