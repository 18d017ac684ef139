package origin

import (
	"context"
	"strings"
	"time"
)

// API is the subset of the provider the bot depends on. Client talks to the
// network; Cached layers the shared TTL cache on top.
type API interface {
	GetAccount(ctx context.Context, name, tag string) (Account, error)
	GetStanding(ctx context.Context, region, name, tag string) (Standing, error)
	// GetRecentMatches returns up to count matches, most recent first. A
	// non-empty mode keeps only matches of that mode.
	GetRecentMatches(ctx context.Context, region, name, tag string, count int, mode string) ([]Match, error)
	GetMatch(ctx context.Context, region, id string) (Match, error)
	// GetStandingHistory returns rating changes, newest first. Unknown
	// players yield an empty slice.
	GetStandingHistory(ctx context.Context, region, name, tag string) ([]StandingChange, error)
}

type Account struct {
	PUUID  string `json:"puuid"`
	Name   string `json:"name"`
	Tag    string `json:"tag"`
	Region string `json:"region"`
	Level  int    `json:"level"`
}

// Standing is a player's current competitive rank.
type Standing struct {
	Tier     int    `json:"tier"`
	TierName string `json:"tier_name"`
	RR       int    `json:"rr"`
	Elo      int    `json:"elo"`
	// LastChange is the rating delta of the latest ranked game.
	LastChange int `json:"last_change"`
}

func (s Standing) Ranked() bool { return s.Tier > 0 }

// StandingChange is one entry of the rating history.
type StandingChange struct {
	MatchID string    `json:"match_id"`
	Change  int       `json:"change"`
	Elo     int       `json:"elo"`
	Tier    string    `json:"tier"`
	Map     string    `json:"map,omitempty"`
	Date    time.Time `json:"date"`
}

type Match struct {
	ID        string                `json:"id"`
	Map       string                `json:"map"`
	Mode      string                `json:"mode"`
	StartedAt time.Time             `json:"started_at"`
	Players   []MatchPlayer         `json:"players"`
	Teams     map[string]TeamResult `json:"teams"`
}

type MatchPlayer struct {
	PUUID   string `json:"puuid"`
	Name    string `json:"name"`
	Tag     string `json:"tag"`
	Team    string `json:"team"`
	Agent   string `json:"agent"`
	Kills   int    `json:"kills"`
	Deaths  int    `json:"deaths"`
	Assists int    `json:"assists"`
	Score   int    `json:"score"`
}

type TeamResult struct {
	Won        bool `json:"won"`
	RoundsWon  int  `json:"rounds_won"`
	RoundsLost int  `json:"rounds_lost"`
}

// Player finds a participant by Riot identity, ignoring case.
func (m Match) Player(name, tag string) (MatchPlayer, bool) {
	for _, p := range m.Players {
		if strings.EqualFold(p.Name, name) && strings.EqualFold(p.Tag, tag) {
			return p, true
		}
	}
	return MatchPlayer{}, false
}

// Team returns the result for a team key ("red", "blue").
func (m Match) Team(key string) (TeamResult, bool) {
	t, ok := m.Teams[strings.ToLower(key)]
	return t, ok
}

// EnemyTeam maps red to blue and back.
func EnemyTeam(key string) string {
	if strings.EqualFold(key, "red") {
		return "blue"
	}
	return "red"
}
