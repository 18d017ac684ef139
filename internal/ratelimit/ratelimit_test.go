package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestFixedWindowAdmitsLimitThenRejects(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := NewFixedWindow(5, time.Minute, WithClock(clk.Now))

	for i := 0; i < 5; i++ {
		require.True(t, l.Check("u1").Allowed, "call %d", i+1)
		clk.Advance(time.Second)
	}
	d := l.Check("u1")
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, d.RetryAfter, time.Minute)
	require.Equal(t, 55, d.RetryAfterSeconds())

	// other identifiers are independent
	require.True(t, l.Check("u2").Allowed)
}

func TestFixedWindowResetsAfterWindow(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := NewFixedWindow(2, time.Minute, WithClock(clk.Now))
	require.True(t, l.Check("g").Allowed)
	require.True(t, l.Check("g").Allowed)
	require.False(t, l.Check("g").Allowed)

	// exactly at resetAt the window still holds
	clk.Advance(time.Minute)
	require.False(t, l.Check("g").Allowed)

	clk.Advance(time.Millisecond)
	require.True(t, l.Check("g").Allowed)
}

func TestFixedWindowPrunesStaleKeys(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := NewFixedWindow(1, time.Second, WithClock(clk.Now), WithPruneAbove(3))
	for _, id := range []string{"a", "b", "c"} {
		l.Check(id)
	}
	clk.Advance(2 * time.Second)
	l.Check("d")
	require.Equal(t, 1, l.Tracked())
}

func TestSlidingLog(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := NewSlidingLog(2, 10*time.Second, WithClock(clk.Now))

	require.True(t, l.Check("c").Allowed)
	clk.Advance(4 * time.Second)
	require.True(t, l.Check("c").Allowed)
	clk.Advance(time.Second)

	d := l.Check("c")
	require.False(t, d.Allowed)
	require.Equal(t, 5*time.Second, d.RetryAfter)

	// first event slides out
	clk.Advance(5 * time.Second)
	require.True(t, l.Check("c").Allowed)
	require.False(t, l.Check("c").Allowed)
}

func TestGuardChecksActorBeforeGroup(t *testing.T) {
	t.Parallel()

	clk := newClock()
	actor := NewFixedWindow(1, time.Minute, WithClock(clk.Now))
	group := NewFixedWindow(2, time.Minute, WithClock(clk.Now))
	g := NewGuard(actor, group)

	require.True(t, g.Check("alice", "chat").Allowed)

	v := g.Check("alice", "chat")
	require.False(t, v.Allowed)
	require.Equal(t, ScopeActor, v.Scope)
	require.Contains(t, v.Message(), "You're using commands too quickly")

	// alice's rejection did not spend group budget
	require.True(t, g.Check("bob", "chat").Allowed)

	v = g.Check("carol", "chat")
	require.False(t, v.Allowed)
	require.Equal(t, ScopeGroup, v.Scope)
	require.Contains(t, v.Message(), "This group is using commands too quickly")
}

func TestGuardPrivateChatSkipsGroup(t *testing.T) {
	t.Parallel()

	g := NewGuard(NewFixedWindow(5, time.Minute), NewFixedWindow(1, time.Minute))
	for i := 0; i < 3; i++ {
		require.True(t, g.Check("u", "").Allowed)
	}
}
