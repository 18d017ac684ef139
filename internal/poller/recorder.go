package poller

import (
	"context"
	"time"

	"rankbot/internal/eventbus"
	"rankbot/internal/storage"
	logx "rankbot/pkg/logx"
)

// Recorder turns delivered match posts into history rows. It runs off the
// event bus so a slow store never delays a cycle.
type Recorder struct {
	bus   eventbus.Bus
	store storage.HistoryStore
	log   logx.Logger
}

func NewRecorder(bus eventbus.Bus, store storage.HistoryStore, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{bus: bus, store: store, log: log}
}

// Run consumes events until ctx ends.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(64, eventbus.TypeNotified)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			n, ok := ev.Data.(NotifiedEvent)
			if !ok || !n.Sent {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := r.store.UpsertMatch(wctx, RecordFor(n, ev.Time))
			cancel()
			if err != nil {
				r.log.Warn("match history upsert failed", logx.String("match_id", n.Summary.MatchID), logx.Err(err))
			}
		}
	}
}

// RecordFor maps a posted summary to its history row.
func RecordFor(n NotifiedEvent, at time.Time) storage.MatchRecord {
	s := n.Summary
	rec := storage.MatchRecord{
		MatchID:       s.MatchID,
		UserID:        n.Link.UserID,
		PUUID:         n.Link.PUUID,
		PlayerName:    n.Link.Name,
		PlayerTag:     n.Link.Tag,
		Region:        n.Link.Region,
		Agent:         s.Agent,
		Map:           s.Map,
		Mode:          s.Mode,
		Result:        s.Result(),
		Kills:         s.Kills,
		Deaths:        s.Deaths,
		Assists:       s.Assists,
		Score:         s.CombatScore,
		TeamRoundsWon: s.TeamRounds,
		RecordedAt:    at.UTC(),
	}
	if s.EnemyKnown {
		rec.EnemyRoundsWon = s.EnemyRounds
	}
	if s.RatingChange != nil {
		v := *s.RatingChange
		rec.RatingChange = &v
	}
	return rec
}
