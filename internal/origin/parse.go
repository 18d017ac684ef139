package origin

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// first returns the first existing path in r.
func first(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func parseAccount(d gjson.Result) Account {
	return Account{
		PUUID:  d.Get("puuid").String(),
		Name:   d.Get("name").String(),
		Tag:    d.Get("tag").String(),
		Region: strings.ToLower(d.Get("region").String()),
		Level:  int(d.Get("account_level").Int()),
	}
}

// parseStanding accepts both the nested current_data shape and a flat one.
func parseStanding(d gjson.Result) Standing {
	tierName := first(d, "current_data.currenttierpatched", "currenttierpatched").String()
	if tierName == "" {
		tierName = "Unranked"
	}
	return Standing{
		Tier:       int(first(d, "current_data.currenttier", "currenttier").Int()),
		TierName:   tierName,
		RR:         int(first(d, "current_data.ranking_in_tier", "ranking_in_tier").Int()),
		Elo:        int(first(d, "current_data.elo", "elo").Int()),
		LastChange: int(first(d, "current_data.mmr_change_to_last_game", "mmr_change_to_last_game").Int()),
	}
}

func parseStandingHistory(d gjson.Result) []StandingChange {
	arr := d.Array()
	out := make([]StandingChange, 0, len(arr))
	for _, e := range arr {
		out = append(out, StandingChange{
			MatchID: e.Get("match_id").String(),
			Change:  int(e.Get("mmr_change_to_last_game").Int()),
			Elo:     int(e.Get("elo").Int()),
			Tier:    e.Get("currenttierpatched").String(),
			Map:     first(e, "map.name", "map").String(),
			Date:    parseDate(e),
		})
	}
	return out
}

func parseDate(e gjson.Result) time.Time {
	if raw := e.Get("date_raw"); raw.Exists() && raw.Int() > 0 {
		return time.Unix(raw.Int(), 0).UTC()
	}
	s := e.Get("date").String()
	for _, layout := range []string{time.RFC3339, "Monday, January 2, 2006 3:04 PM"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseMatch normalizes the list shape (players.all_players, teams.red) and
// the single-match shape (players[], teams[] with team_id).
func parseMatch(d gjson.Result) Match {
	m := Match{
		ID:    first(d, "metadata.matchid", "metadata.match_id").String(),
		Map:   first(d, "metadata.map.name", "metadata.map").String(),
		Mode:  first(d, "metadata.mode", "metadata.queue.name").String(),
		Teams: map[string]TeamResult{},
	}
	if ts := d.Get("metadata.game_start"); ts.Exists() && ts.Int() > 0 {
		m.StartedAt = time.Unix(ts.Int(), 0).UTC()
	} else if t, err := time.Parse(time.RFC3339, d.Get("metadata.started_at").String()); err == nil {
		m.StartedAt = t.UTC()
	}

	players := d.Get("players.all_players")
	if !players.IsArray() {
		players = d.Get("players")
	}
	for _, p := range players.Array() {
		m.Players = append(m.Players, MatchPlayer{
			PUUID:   p.Get("puuid").String(),
			Name:    p.Get("name").String(),
			Tag:     p.Get("tag").String(),
			Team:    strings.ToLower(first(p, "team", "team_id").String()),
			Agent:   first(p, "character", "agent.name").String(),
			Kills:   int(p.Get("stats.kills").Int()),
			Deaths:  int(p.Get("stats.deaths").Int()),
			Assists: int(p.Get("stats.assists").Int()),
			Score:   int(p.Get("stats.score").Int()),
		})
	}

	teams := d.Get("teams")
	if teams.IsArray() {
		for _, t := range teams.Array() {
			m.Teams[strings.ToLower(t.Get("team_id").String())] = TeamResult{
				Won:        t.Get("won").Bool(),
				RoundsWon:  int(t.Get("rounds.won").Int()),
				RoundsLost: int(t.Get("rounds.lost").Int()),
			}
		}
	} else {
		teams.ForEach(func(k, t gjson.Result) bool {
			m.Teams[strings.ToLower(k.String())] = TeamResult{
				Won:        t.Get("has_won").Bool(),
				RoundsWon:  int(t.Get("rounds_won").Int()),
				RoundsLost: int(t.Get("rounds_lost").Int()),
			}
			return true
		})
	}
	return m
}
