package ratelimit

import (
	"sync"
	"time"
)

// SlidingLog allows Limit events per identifier in any trailing Window. It
// keeps one timestamp per admitted event.
type SlidingLog struct {
	limit  int
	window time.Duration

	mu         sync.Mutex
	logs       map[string][]time.Time
	now        func() time.Time
	pruneAbove int
}

func NewSlidingLog(limit int, window time.Duration, opts ...Option) *SlidingLog {
	o := buildOptions(opts)
	if limit < 1 {
		limit = 1
	}
	return &SlidingLog{
		limit:      limit,
		window:     window,
		logs:       map[string][]time.Time{},
		now:        o.now,
		pruneAbove: o.pruneAbove,
	}
}

func (l *SlidingLog) Check(id string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.logs) >= l.pruneAbove {
		l.pruneLocked(now)
	}
	recent := trim(l.logs[id], now, l.window)
	if len(recent) >= l.limit {
		l.logs[id] = recent
		// the oldest event leaves the window first
		return Decision{RetryAfter: recent[0].Add(l.window).Sub(now)}
	}
	l.logs[id] = append(recent, now)
	return Decision{Allowed: true}
}

func (l *SlidingLog) pruneLocked(now time.Time) {
	for k, ts := range l.logs {
		if rest := trim(ts, now, l.window); len(rest) == 0 {
			delete(l.logs, k)
		} else {
			l.logs[k] = rest
		}
	}
}

// trim drops timestamps at or before now-window. ts is sorted ascending.
func trim(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := now.Add(-window)
	i := 0
	for i < len(ts) && !ts[i].After(cut) {
		i++
	}
	return ts[i:]
}
