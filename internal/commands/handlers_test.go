package commands

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rankbot/internal/origin"
	"rankbot/internal/storage"
	kit "rankbot/internal/transport"
	logx "rankbot/pkg/logx"
)

type fakeOrigin struct {
	accounts map[string]origin.Account
	standing map[string]origin.Standing
	matches  map[string][]origin.Match
	history  map[string][]origin.StandingChange
	matchErr error
}

func key(name, tag string) string { return strings.ToLower(name + "#" + tag) }

func (f *fakeOrigin) GetAccount(_ context.Context, name, tag string) (origin.Account, error) {
	a, ok := f.accounts[key(name, tag)]
	if !ok {
		return origin.Account{}, origin.ErrNotFound
	}
	return a, nil
}

func (f *fakeOrigin) GetStanding(_ context.Context, _, name, tag string) (origin.Standing, error) {
	s, ok := f.standing[key(name, tag)]
	if !ok {
		return origin.Standing{}, origin.ErrNotFound
	}
	return s, nil
}

func (f *fakeOrigin) GetRecentMatches(_ context.Context, _, name, tag string, count int, _ string) ([]origin.Match, error) {
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	ms := f.matches[key(name, tag)]
	if len(ms) > count {
		ms = ms[:count]
	}
	return ms, nil
}

func (f *fakeOrigin) GetMatch(_ context.Context, _, id string) (origin.Match, error) {
	for _, ms := range f.matches {
		for _, m := range ms {
			if m.ID == id {
				return m, nil
			}
		}
	}
	return origin.Match{}, origin.ErrNotFound
}

func (f *fakeOrigin) GetStandingHistory(_ context.Context, _, name, tag string) ([]origin.StandingChange, error) {
	return f.history[key(name, tag)], nil
}

func compMatch(id, name, tag string, won bool) origin.Match {
	return origin.Match{
		ID:   id,
		Map:  "Bind",
		Mode: "Competitive",
		Players: []origin.MatchPlayer{
			{Name: name, Tag: tag, Team: "red", Agent: "Jett", Kills: 20, Deaths: 10, Assists: 5, Score: 4000},
		},
		Teams: map[string]origin.TeamResult{
			"red":  {Won: won, RoundsWon: 13, RoundsLost: 7},
			"blue": {Won: !won, RoundsWon: 7, RoundsLost: 13},
		},
	}
}

type fixture struct {
	h     *Handlers
	store storage.Store
	org   *fakeOrigin
	fs    *fakeSender
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	org := &fakeOrigin{
		accounts: map[string]origin.Account{
			"foo#euw": {PUUID: "p-foo", Name: "Foo", Tag: "EUW", Region: "eu", Level: 120},
			"bar#na1": {PUUID: "p-bar", Name: "Bar", Tag: "NA1", Region: "na"},
		},
		standing: map[string]origin.Standing{},
		matches:  map[string][]origin.Match{},
		history:  map[string][]origin.StandingChange{},
	}
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	h := NewHandlers(Deps{Origin: org, Store: store}, logx.Nop())
	now := time.Unix(1_700_000_000, 0).UTC()
	h.now = func() time.Time { return now }
	return &fixture{h: h, store: store, org: org, fs: &fakeSender{}, now: now}
}

func (f *fixture) req(from int64, group bool, args ...string) *Request {
	msg := kit.Message{ChatID: from, FromID: from, Text: "/cmd"}
	if group {
		msg = groupMsg(from, "/cmd")
	}
	return &Request{Msg: msg, Chat: msg.Reply(), FromID: from, Args: args, Sender: f.fs, Logger: logx.Nop()}
}

func (f *fixture) last() string {
	texts := f.fs.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func TestLinkValidatesAndTracksGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.req(1, true, "foo#euw")
	req.Msg.FromName = "Alice"
	require.NoError(t, f.h.link(ctx, req))
	require.Contains(t, f.last(), "Account linked")
	require.Contains(t, f.last(), "Foo#EUW")

	l, ok, err := f.store.GetLink(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Foo", l.Name)
	require.Equal(t, "eu", l.Region)
	require.Equal(t, "p-foo", l.PUUID)
	require.Equal(t, "Alice", l.DisplayName)
	require.Equal(t, []int64{-100}, l.GroupIDs)
}

func TestLinkUnknownAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.h.link(ctx, f.req(1, true, "ghost#000")))
	require.Contains(t, f.last(), "Account not found")
	_, ok, err := f.store.GetLink(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRelinkOtherAccountResetsMarkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.h.link(ctx, f.req(1, true, "foo#euw")))
	require.NoError(t, f.store.SetLastActivity(ctx, -100, 1, "m1"))

	// same account again keeps the marker
	require.NoError(t, f.h.link(ctx, f.req(1, true, "Foo#EUW")))
	_, ok, err := f.store.GetLastActivity(ctx, -100, 1)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.h.link(ctx, f.req(1, false, "bar#na1")))
	_, ok, err = f.store.GetLastActivity(ctx, -100, 1)
	require.NoError(t, err)
	require.False(t, ok)

	l, _, err := f.store.GetLink(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Bar#NA1", l.Identity())
	require.Equal(t, "na", l.Region)
	require.Equal(t, []int64{-100}, l.GroupIDs, "groups survive a relink")
}

func TestParseLinkArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		args              []string
		name, tag, region string
		wantErr           bool
	}{
		{args: []string{"Foo#EUW"}, name: "Foo", tag: "EUW"},
		{args: []string{"Foo#EUW", "EU"}, name: "Foo", tag: "EUW", region: "eu"},
		{args: []string{"Cool", "Name#1234", "na"}, name: "Cool Name", tag: "1234", region: "na"},
		{args: []string{"NoTag"}, wantErr: true},
		{args: []string{"#EUW"}, wantErr: true},
		{args: []string{"Foo#"}, wantErr: true},
		{args: nil, wantErr: true},
	}
	for _, tt := range tests {
		name, tag, region, err := parseLinkArgs(tt.args)
		if tt.wantErr {
			require.Error(t, err, tt.args)
			continue
		}
		require.NoError(t, err, tt.args)
		require.Equal(t, []string{tt.name, tt.tag, tt.region}, []string{name, tag, region})
	}
}

func TestUnlink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.h.unlink(ctx, f.req(1, true)))
	require.Contains(t, f.last(), "haven't linked")

	require.NoError(t, f.h.link(ctx, f.req(1, true, "foo#euw")))
	require.NoError(t, f.h.unlink(ctx, f.req(1, true)))
	require.Contains(t, f.last(), "Unlinked")
	_, ok, err := f.store.GetLink(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetupHereOffModules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.h.setup(ctx, f.req(1, true, "here")))
	g, ok, err := f.store.GetGroup(ctx, -100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(-100), g.MatchChatID)
	require.Equal(t, 7, g.MatchThreadID)
	require.True(t, g.PollingEnabled())

	require.NoError(t, f.h.setup(ctx, f.req(1, true, "modules", "leaderboard")))
	g, _, err = f.store.GetGroup(ctx, -100)
	require.NoError(t, err)
	require.Equal(t, []string{"leaderboard"}, g.Modules)
	require.False(t, g.PollingEnabled())

	require.NoError(t, f.h.setup(ctx, f.req(1, true, "modules", "bogus")))
	require.Contains(t, f.last(), "unknown module")

	require.NoError(t, f.h.setup(ctx, f.req(1, true, "modules", "all")))
	require.NoError(t, f.h.setup(ctx, f.req(1, true, "off")))
	g, _, err = f.store.GetGroup(ctx, -100)
	require.NoError(t, err)
	require.Empty(t, g.Modules)
	require.False(t, g.PollingEnabled())

	require.NoError(t, f.h.setup(ctx, f.req(1, true, "show")))
	require.Contains(t, f.last(), "Group setup")
}

func TestHistoryRendersAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.h.link(ctx, f.req(1, true, "foo#euw")))

	f.org.matches["foo#euw"] = []origin.Match{
		compMatch("m2", "Foo", "EUW", true),
		compMatch("m1", "Foo", "EUW", false),
	}
	f.org.history["foo#euw"] = []origin.StandingChange{{MatchID: "m2", Change: 21}}

	require.NoError(t, f.h.history(ctx, f.req(1, true, "2")))
	out := f.last()
	require.Contains(t, out, "🟢")
	require.Contains(t, out, "+21 RR")
	require.Contains(t, out, "🔴")

	recs, err := f.store.RecentMatches(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	require.NoError(t, f.h.history(ctx, f.req(1, true, "11")))
	require.Contains(t, f.last(), "between 1 and 10")
}

func TestHistoryFallsBackToStoredMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.h.link(ctx, f.req(1, true, "foo#euw")))

	rc := 12
	require.NoError(t, f.store.UpsertMatch(ctx, storage.MatchRecord{
		MatchID: "m9", UserID: 1, PlayerName: "Foo", PlayerTag: "EUW", Region: "eu",
		Map: "Lotus", Agent: "Omen", Result: "Victory", Kills: 1, Deaths: 2, Assists: 3,
		TeamRoundsWon: 13, EnemyRoundsWon: 11, RatingChange: &rc, RecordedAt: f.now,
	}))
	f.org.matchErr = &origin.StatusError{Code: 503, Endpoint: "matches"}

	require.NoError(t, f.h.history(ctx, f.req(1, true)))
	require.Contains(t, f.last(), "Lotus")
	require.Contains(t, f.last(), "+12 RR")

	// nothing stored for another user: the provider error surfaces
	require.NoError(t, f.h.link(ctx, f.req(2, true, "bar#na1")))
	err := f.h.history(ctx, f.req(2, true))
	require.True(t, origin.IsTransient(err))
}

func TestMatchByIndexAndID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.h.link(ctx, f.req(1, true, "foo#euw")))
	f.org.matches["foo#euw"] = []origin.Match{compMatch("m2", "Foo", "EUW", true)}

	require.NoError(t, f.h.match(ctx, f.req(1, true)))
	require.Contains(t, f.last(), "Victory")
	require.Contains(t, f.last(), "ACS: 200")

	require.NoError(t, f.h.match(ctx, f.req(1, true, "3")))
	require.Contains(t, f.last(), "Only 1 recent matches")

	require.NoError(t, f.h.match(ctx, f.req(1, true, "m2")))
	require.Contains(t, f.last(), "m2")

	err := f.h.match(ctx, f.req(1, true, "missing"))
	require.True(t, errors.Is(err, origin.ErrNotFound))
}

func TestProfileShowsRankAndForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.h.link(ctx, f.req(1, true, "foo#euw")))
	f.org.standing["foo#euw"] = origin.Standing{Tier: 18, TierName: "Diamond 1", RR: 42, LastChange: -17}
	f.org.matches["foo#euw"] = []origin.Match{
		compMatch("m3", "Foo", "EUW", true),
		compMatch("m2", "Foo", "EUW", true),
		compMatch("m1", "Foo", "EUW", false),
		compMatch("m0", "Other", "X", true),
	}

	require.NoError(t, f.h.profile(ctx, f.req(1, true)))
	out := f.last()
	require.Contains(t, out, "Diamond 1 • 42 RR")
	require.Contains(t, out, "-17 RR")
	require.Contains(t, out, "2W 1L (66%) over 3 matches")
}

func TestProgressRowsSortByDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	links := []storage.Link{
		{UserID: 1, Name: "Foo", Tag: "EUW", Region: "eu"},
		{UserID: 2, Name: "Bar", Tag: "NA1", Region: "na"},
		{UserID: 3, Name: "Baz", Tag: "KR", Region: "kr"},
	}
	f.org.history["foo#euw"] = []origin.StandingChange{
		{Change: 20, Date: f.now.Add(-time.Hour)},
		{Change: -5, Date: f.now.Add(-2 * time.Hour)},
		{Change: 99, Date: f.now.Add(-48 * time.Hour)},
	}
	f.org.history["bar#na1"] = []origin.StandingChange{{Change: 30, Date: f.now.Add(-time.Minute)}}
	f.org.standing["bar#na1"] = origin.Standing{Tier: 12, TierName: "Gold 3", RR: 10}

	rows := f.h.ProgressRows(ctx, logx.Nop(), links, 24*time.Hour)
	require.Len(t, rows, 3)
	require.Equal(t, "Bar#NA1", rows[0].Link.Identity())
	require.Equal(t, 30, rows[0].Delta)
	require.Equal(t, "Gold 3", rows[0].TierName)
	require.Equal(t, "Foo#EUW", rows[1].Link.Identity())
	require.Equal(t, 15, rows[1].Delta)
	require.Equal(t, 2, rows[1].Games)
	require.Equal(t, 0, rows[2].Delta)

	text := renderProgress("📈", "Daily gains", "Last 24h", rows)
	require.Contains(t, text, "1. <b>Bar#NA1</b> • +30 RR (1 games) • Gold 3")
}

func TestDailyRespectsLeaderboardModule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.h.daily(ctx, f.req(1, false)))
	require.Contains(t, f.last(), "only works inside a group")

	require.NoError(t, f.h.daily(ctx, f.req(1, true)))
	require.Contains(t, f.last(), "No one in this group is linked")

	require.NoError(t, f.store.PutGroup(ctx, storage.GroupConfig{GroupID: -100, Modules: []string{storage.ModuleMatchPosts}}))
	require.NoError(t, f.h.weekly(ctx, f.req(1, true)))
	require.Contains(t, f.last(), "leaderboard module is disabled")
}
