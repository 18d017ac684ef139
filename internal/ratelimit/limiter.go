// Package ratelimit admits or rejects keyed events against a per-key budget.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Decision is the outcome of one Check.
type Decision struct {
	Allowed bool
	// RetryAfter is set on rejection: the time until the current window resets.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1 on reject.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// Checker admits events for an identifier.
type Checker interface {
	Check(id string) Decision
}

type Option func(*options)

type options struct {
	now        func() time.Time
	pruneAbove int
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithPruneAbove sets how many tracked keys trigger a sweep of stale windows.
func WithPruneAbove(n int) Option { return func(o *options) { o.pruneAbove = n } }

func buildOptions(opts []Option) options {
	o := options{now: time.Now, pruneAbove: 1024}
	for _, fn := range opts {
		fn(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

type window struct {
	count   int
	resetAt time.Time
}

// FixedWindow allows Limit events per identifier per Window. A window starts
// on the first event after the previous one lapsed.
type FixedWindow struct {
	limit  int
	window time.Duration

	mu         sync.Mutex
	windows    map[string]*window
	now        func() time.Time
	pruneAbove int
}

func NewFixedWindow(limit int, win time.Duration, opts ...Option) *FixedWindow {
	o := buildOptions(opts)
	if limit < 1 {
		limit = 1
	}
	return &FixedWindow{
		limit:      limit,
		window:     win,
		windows:    map[string]*window{},
		now:        o.now,
		pruneAbove: o.pruneAbove,
	}
}

func (l *FixedWindow) Limit() int            { return l.limit }
func (l *FixedWindow) Window() time.Duration { return l.window }

func (l *FixedWindow) Check(id string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[id]
	if !ok || now.After(w.resetAt) {
		if len(l.windows) >= l.pruneAbove {
			l.pruneLocked(now)
		}
		l.windows[id] = &window{count: 1, resetAt: now.Add(l.window)}
		return Decision{Allowed: true}
	}
	if w.count >= l.limit {
		return Decision{RetryAfter: w.resetAt.Sub(now)}
	}
	w.count++
	return Decision{Allowed: true}
}

// Reset forgets the window for id.
func (l *FixedWindow) Reset(id string) {
	l.mu.Lock()
	delete(l.windows, id)
	l.mu.Unlock()
}

// Tracked reports how many identifiers currently hold a window.
func (l *FixedWindow) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *FixedWindow) pruneLocked(now time.Time) {
	for k, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
