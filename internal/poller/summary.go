package poller

import (
	"fmt"
	"time"

	"rankbot/internal/origin"
)

const (
	ResultVictory = "Victory"
	ResultDefeat  = "Defeat"
)

// Summary is one player's view of a match. It is built per cycle and never
// stored as-is.
type Summary struct {
	MatchID     string
	Player      string // name#tag
	Map         string
	Mode        string
	Agent       string
	Won         bool
	Kills       int
	Deaths      int
	Assists     int
	CombatScore int
	TeamRounds  int
	EnemyRounds int
	EnemyKnown  bool
	StartedAt   time.Time

	// RatingChange is the standing delta for this match, if known.
	RatingChange *int
}

func (s Summary) Result() string {
	if s.Won {
		return ResultVictory
	}
	return ResultDefeat
}

func (s Summary) Score() string {
	if !s.EnemyKnown {
		return fmt.Sprintf("%d:?", s.TeamRounds)
	}
	return fmt.Sprintf("%d:%d", s.TeamRounds, s.EnemyRounds)
}

// KDA is the headline stat line.
func (s Summary) KDA() string {
	return fmt.Sprintf("%d/%d/%d", s.Kills, s.Deaths, s.Assists)
}

// Summarize builds the summary for name#tag. It reports false when the
// player or their team is missing from the record.
func Summarize(m origin.Match, name, tag string) (Summary, bool) {
	p, ok := m.Player(name, tag)
	if !ok {
		return Summary{}, false
	}
	team, ok := m.Team(p.Team)
	if !ok {
		return Summary{}, false
	}
	enemy, enemyOK := m.Team(origin.EnemyTeam(p.Team))

	s := Summary{
		MatchID:     m.ID,
		Player:      name + "#" + tag,
		Map:         orDefault(m.Map, "Unknown map"),
		Mode:        orDefault(m.Mode, "Unknown mode"),
		Agent:       orDefault(p.Agent, "Unknown"),
		Won:         team.Won,
		Kills:       p.Kills,
		Deaths:      p.Deaths,
		Assists:     p.Assists,
		CombatScore: p.Score,
		TeamRounds:  team.RoundsWon,
		EnemyKnown:  enemyOK,
		StartedAt:   m.StartedAt,
	}
	if enemyOK {
		s.EnemyRounds = enemy.RoundsWon
	}
	return s, true
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
