package poller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rankbot/internal/origin"
)

func TestSummarize(t *testing.T) {
	m := origin.Match{
		ID: "m1",
		Players: []origin.MatchPlayer{
			{Name: "Foo", Tag: "EUW", Team: "blue", Kills: 3, Deaths: 4, Assists: 5},
		},
		Teams: map[string]origin.TeamResult{"blue": {Won: false, RoundsWon: 9}},
	}

	s, ok := Summarize(m, "foo", "euw")
	require.True(t, ok)
	require.Equal(t, ResultDefeat, s.Result())
	require.Equal(t, "9:?", s.Score())
	require.Equal(t, "3/4/5", s.KDA())
	require.Equal(t, "Unknown map", s.Map)
	require.Equal(t, "Unknown mode", s.Mode)
	require.Equal(t, "Unknown", s.Agent)

	_, ok = Summarize(m, "bar", "euw")
	require.False(t, ok)

	m.Players[0].Team = "red"
	_, ok = Summarize(m, "Foo", "EUW")
	require.False(t, ok, "team missing")
}

func TestRenderEscapesAndShowsDisplayName(t *testing.T) {
	delta := -7
	s := Summary{Player: "A<b>#1", Map: "Bind", Mode: "Competitive", Agent: "Jett", TeamRounds: 5, EnemyRounds: 13, EnemyKnown: true, RatingChange: &delta}
	out := Render(s, "Ann")
	require.Contains(t, out, "Ann (A&lt;b&gt;#1) — Defeat • -7 RR")
	require.Contains(t, out, "<b>Bind</b> • Competitive • 5:13")
	require.Contains(t, out, "K/D/A: 0/0/0")
}
