package origin

import (
	"context"
	"strconv"
	"time"

	"rankbot/internal/cache"
)

// TTLs sets how long each kind of response stays cached.
type TTLs struct {
	Account  time.Duration
	Standing time.Duration
	Matches  time.Duration
	Match    time.Duration
	History  time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Account:  10 * time.Minute,
		Standing: 10 * time.Minute,
		Matches:  2 * time.Minute,
		Match:    30 * time.Minute,
		History:  5 * time.Minute,
	}
}

// Cached serves API calls from a shared TTL cache, collapsing concurrent
// misses for the same key into one upstream call. Errors are not cached.
type Cached struct {
	api    API
	loader *cache.Loader[any]
	ttl    TTLs
}

func NewCached(api API, loader *cache.Loader[any], ttl TTLs) *Cached {
	def := DefaultTTLs()
	if ttl.Account <= 0 {
		ttl.Account = def.Account
	}
	if ttl.Standing <= 0 {
		ttl.Standing = def.Standing
	}
	if ttl.Matches <= 0 {
		ttl.Matches = def.Matches
	}
	if ttl.Match <= 0 {
		ttl.Match = def.Match
	}
	if ttl.History <= 0 {
		ttl.History = def.History
	}
	return &Cached{api: api, loader: loader, ttl: ttl}
}

func (c *Cached) GetAccount(ctx context.Context, name, tag string) (Account, error) {
	return cache.Load(ctx, c.loader, cache.AccountKey(name, tag), c.ttl.Account,
		func(ctx context.Context) (Account, error) { return c.api.GetAccount(ctx, name, tag) })
}

func (c *Cached) GetStanding(ctx context.Context, region, name, tag string) (Standing, error) {
	return cache.Load(ctx, c.loader, cache.StandingKey(region, name, tag), c.ttl.Standing,
		func(ctx context.Context) (Standing, error) { return c.api.GetStanding(ctx, region, name, tag) })
}

// GetRecentMatches caches per (identity, mode, count).
func (c *Cached) GetRecentMatches(ctx context.Context, region, name, tag string, count int, mode string) ([]Match, error) {
	key := cache.MatchesKey(region, name, tag, mode) + ":" + strconv.Itoa(count)
	return cache.Load(ctx, c.loader, key, c.ttl.Matches,
		func(ctx context.Context) ([]Match, error) {
			return c.api.GetRecentMatches(ctx, region, name, tag, count, mode)
		})
}

func (c *Cached) GetMatch(ctx context.Context, region, id string) (Match, error) {
	return cache.Load(ctx, c.loader, cache.MatchKey(region, id), c.ttl.Match,
		func(ctx context.Context) (Match, error) { return c.api.GetMatch(ctx, region, id) })
}

func (c *Cached) GetStandingHistory(ctx context.Context, region, name, tag string) ([]StandingChange, error) {
	return cache.Load(ctx, c.loader, cache.StandingHistoryKey(region, name, tag), c.ttl.History,
		func(ctx context.Context) ([]StandingChange, error) {
			return c.api.GetStandingHistory(ctx, region, name, tag)
		})
}
