package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	logx "rankbot/pkg/logx"
)

func drivers(t *testing.T) map[string]func() Store {
	dir := t.TempDir()
	open := func(driver, name string) func() Store {
		return func() Store {
			s, err := Open(Config{Driver: driver, Path: filepath.Join(dir, name)}, logx.Nop())
			require.NoError(t, err)
			return s
		}
	}
	return map[string]func() Store{
		"memory": func() Store { return NewMemory() },
		"file":   open("file", "state.json"),
		"sqlite": open("sqlite", "state.db"),
	}
}

func TestStoreLinks(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()
			defer s.Close()

			require.NoError(t, s.PutLink(ctx, Link{UserID: 2, Name: "Bar", Tag: "EUW", Region: "eu", GroupIDs: []int64{-100}}))
			require.NoError(t, s.PutLink(ctx, Link{UserID: 1, Name: "Foo", Tag: "EUW", Region: "eu", PUUID: "p1", GroupIDs: []int64{-100, -200}}))
			require.NoError(t, s.PutLink(ctx, Link{UserID: 3, Name: "Baz", Tag: "NA1", Region: "na"}))

			l, ok, err := s.GetLink(ctx, 1)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "Foo#EUW", l.Identity())
			require.Equal(t, "p1", l.PUUID)
			require.Equal(t, []int64{-200, -100}, l.GroupIDs)

			in100, err := s.ListLinks(ctx, -100)
			require.NoError(t, err)
			require.Len(t, in100, 2)
			require.EqualValues(t, 1, in100[0].UserID)
			require.EqualValues(t, 2, in100[1].UserID)

			all, err := s.AllLinks(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)

			require.NoError(t, s.SetLastActivity(ctx, -100, 1, "m1"))
			require.NoError(t, s.DeleteLink(ctx, 1))
			_, ok, err = s.GetLink(ctx, 1)
			require.NoError(t, err)
			require.False(t, ok)
			_, ok, err = s.GetLastActivity(ctx, -100, 1)
			require.NoError(t, err)
			require.False(t, ok, "markers go with the link")
		})
	}
}

func TestStoreGroupsAndMarkers(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()
			defer s.Close()

			require.NoError(t, s.PutGroup(ctx, GroupConfig{GroupID: -2, MatchChatID: -2, MatchThreadID: 7}))
			require.NoError(t, s.PutGroup(ctx, GroupConfig{GroupID: -1}))
			require.NoError(t, s.PutGroup(ctx, GroupConfig{GroupID: -3, MatchChatID: -3, Modules: []string{"leaderboard"}}))

			polling, err := s.ListPollingGroups(ctx)
			require.NoError(t, err)
			require.Len(t, polling, 1)
			require.EqualValues(t, -2, polling[0].GroupID)
			require.Equal(t, 7, polling[0].MatchThreadID)

			groups, err := s.ListGroups(ctx)
			require.NoError(t, err)
			require.Len(t, groups, 3)

			g, ok, err := s.GetGroup(ctx, -3)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []string{"leaderboard"}, g.Modules)

			_, ok, err = s.GetLastActivity(ctx, -2, 9)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.SetLastActivity(ctx, -2, 9, "a"))
			require.NoError(t, s.SetLastActivity(ctx, -2, 9, "b"))
			id, ok, err := s.GetLastActivity(ctx, -2, 9)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "b", id)

			ms, err := s.ListMarkers(ctx)
			require.NoError(t, err)
			require.Len(t, ms, 1)
		})
	}
}

func TestStoreHistoryDedupsByMatchAndUser(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()
			defer s.Close()

			delta := -12
			require.NoError(t, s.UpsertMatch(ctx, MatchRecord{MatchID: "m1", UserID: 1, PlayerName: "Foo", PlayerTag: "EUW", Region: "eu", Result: "Victory", Kills: 20}))
			require.NoError(t, s.UpsertMatch(ctx, MatchRecord{MatchID: "m1", UserID: 1, PlayerName: "Foo", PlayerTag: "EUW", Region: "eu", Result: "Defeat"}))
			require.NoError(t, s.UpsertMatch(ctx, MatchRecord{MatchID: "m2", UserID: 1, PlayerName: "Foo", PlayerTag: "EUW", Region: "eu", Result: "Defeat", RatingChange: &delta}))
			require.NoError(t, s.UpsertMatch(ctx, MatchRecord{MatchID: "m1", UserID: 2, PlayerName: "Bar", PlayerTag: "EUW", Region: "eu", Result: "Victory"}))

			recs, err := s.RecentMatches(ctx, 1, 10)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			require.Equal(t, "m2", recs[0].MatchID)
			require.NotNil(t, recs[0].RatingChange)
			require.Equal(t, -12, *recs[0].RatingChange)
			require.Equal(t, "Victory", recs[1].Result, "first record wins")
			require.Nil(t, recs[1].RatingChange)

			recs, err = s.RecentMatches(ctx, 1, 1)
			require.NoError(t, err)
			require.Len(t, recs, 1)
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.json")

	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.PutLink(ctx, Link{UserID: 1, Name: "Foo", Tag: "EUW", Region: "eu", GroupIDs: []int64{-5}}))
	require.NoError(t, s.SetLastActivity(ctx, -5, 1, "m9"))

	// compacted snapshot
	fs := s.(*fileStore)
	fs.mu.Lock()
	require.NoError(t, fs.compactLocked())
	fs.mu.Unlock()

	// journal on top of the snapshot, without Close
	require.NoError(t, s.SetLastActivity(ctx, -5, 1, "m10"))
	fs.mu.Lock()
	require.NoError(t, fs.journal.Close())
	fs.journal = nil
	fs.mu.Unlock()

	s2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer s2.Close()

	l, ok, err := s2.GetLink(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []int64{-5}, l.GroupIDs)

	id, ok, err := s2.GetLastActivity(ctx, -5, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "m10", id)
}

func TestClosedStoreErrors(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.SetLastActivity(context.Background(), 1, 1, "x"), ErrClosed)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}

func TestGroupPollingEnabled(t *testing.T) {
	require.False(t, GroupConfig{GroupID: 1}.PollingEnabled())
	require.True(t, GroupConfig{MatchChatID: 1}.PollingEnabled())
	require.True(t, GroupConfig{MatchChatID: 1, Modules: []string{"Match_Posts"}}.PollingEnabled())
	require.False(t, GroupConfig{MatchChatID: 1, Modules: []string{"leaderboard"}}.PollingEnabled())
}
