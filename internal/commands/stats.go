package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"rankbot/internal/origin"
	"rankbot/internal/poller"
	"rankbot/internal/storage"
	logx "rankbot/pkg/logx"
	"rankbot/pkg/tgui"
)

const (
	defaultHistory = 5
	maxHistory     = 10
	formWindow     = 10
)

func (h *Handlers) profile(ctx context.Context, req *Request) error {
	l, ok, err := h.linked(ctx, req)
	if !ok || err != nil {
		return err
	}
	st, err := h.origin.GetStanding(ctx, l.Region, l.Name, l.Tag)
	if err != nil {
		return err
	}

	b := tgui.New().Title("📊", l.Identity())
	if st.Ranked() {
		b.KV("Rank", tgui.Esc(fmt.Sprintf("%s • %d RR", st.TierName, st.RR)))
		b.KV("Last game", tgui.Esc(tgui.Signed(st.LastChange)+" RR"))
	} else {
		b.KV("Rank", tgui.Esc("Unranked"))
	}

	matches, err := h.origin.GetRecentMatches(ctx, l.Region, l.Name, l.Tag, formWindow, h.mode)
	if err != nil {
		req.Logger.Warn("recent matches unavailable", logx.Err(err))
		return req.Reply(ctx, b.String())
	}
	wins, played := 0, 0
	for _, m := range matches {
		s, ok := poller.Summarize(m, l.Name, l.Tag)
		if !ok {
			continue
		}
		played++
		if s.Won {
			wins++
		}
	}
	if played > 0 {
		b.KV("Recent", tgui.Esc(fmt.Sprintf("%dW %dL (%d%%) over %d matches",
			wins, played-wins, wins*100/played, played)))
	}
	return req.Reply(ctx, b.String())
}

func (h *Handlers) history(ctx context.Context, req *Request) error {
	n := defaultHistory
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v < 1 || v > maxHistory {
			return req.Reply(ctx, fmt.Sprintf("Count must be between 1 and %d.", maxHistory))
		}
		n = v
	}
	l, ok, err := h.linked(ctx, req)
	if !ok || err != nil {
		return err
	}

	matches, err := h.origin.GetRecentMatches(ctx, l.Region, l.Name, l.Tag, n, h.mode)
	if err != nil {
		// fall back to what we posted before
		recs, serr := h.store.RecentMatches(ctx, l.UserID, n)
		if serr != nil || len(recs) == 0 {
			return err
		}
		req.Logger.Warn("serving stored history", logx.Err(err))
		return req.Reply(ctx, renderRecords(l.Identity(), recs))
	}

	changes := h.changesByMatch(ctx, req, l)
	b := tgui.New().Title("📜", l.Identity()+" • last "+strconv.Itoa(n))
	shown := 0
	for _, m := range matches {
		if shown == n {
			break
		}
		s, ok := poller.Summarize(m, l.Name, l.Tag)
		if !ok {
			continue
		}
		if d, ok := changes[s.MatchID]; ok {
			s.RatingChange = &d
		}
		shown++
		b.Line(historyLine(shown, s))
		h.record(ctx, req, l, s)
	}
	if shown == 0 {
		return req.Reply(ctx, "No recent "+tgui.Esc(h.mode).String()+" matches found.")
	}
	return req.Reply(ctx, b.String())
}

func (h *Handlers) match(ctx context.Context, req *Request) error {
	l, ok, err := h.linked(ctx, req)
	if !ok || err != nil {
		return err
	}

	var m origin.Match
	arg := "1"
	if len(req.Args) > 0 {
		arg = req.Args[0]
	}
	if idx, convErr := strconv.Atoi(arg); convErr == nil {
		if idx < 1 || idx > maxHistory {
			return req.Reply(ctx, fmt.Sprintf("Index must be between 1 and %d.", maxHistory))
		}
		matches, err := h.origin.GetRecentMatches(ctx, l.Region, l.Name, l.Tag, maxHistory, h.mode)
		if err != nil {
			return err
		}
		if idx > len(matches) {
			return req.Reply(ctx, fmt.Sprintf("Only %d recent matches available.", len(matches)))
		}
		m = matches[idx-1]
	} else {
		m, err = h.origin.GetMatch(ctx, l.Region, arg)
		if err != nil {
			return err
		}
	}

	s, ok := poller.Summarize(m, l.Name, l.Tag)
	if !ok {
		return req.Reply(ctx, "Could not find your stats in this match.")
	}
	if d, ok := h.changesByMatch(ctx, req, l)[s.MatchID]; ok {
		s.RatingChange = &d
	}
	h.record(ctx, req, l, s)

	text := poller.Render(s, "")
	rounds := s.TeamRounds
	if s.EnemyKnown {
		rounds += s.EnemyRounds
	}
	if rounds > 0 {
		text += "\n" + tgui.Esc(fmt.Sprintf("ACS: %d • Rounds: %d", s.CombatScore/rounds, rounds)).String()
	}
	text += "\n" + tgui.Code(s.MatchID).String()
	return req.Reply(ctx, text)
}

// changesByMatch maps match id to rating delta. Failures yield an empty map.
func (h *Handlers) changesByMatch(ctx context.Context, req *Request, l storage.Link) map[string]int {
	out := map[string]int{}
	hist, err := h.origin.GetStandingHistory(ctx, l.Region, l.Name, l.Tag)
	if err != nil {
		req.Logger.Debug("standing history unavailable", logx.Err(err))
		return out
	}
	for _, e := range hist {
		if e.MatchID != "" {
			out[e.MatchID] = e.Change
		}
	}
	return out
}

// record stores a viewed match for later lookups; failures are only logged.
func (h *Handlers) record(ctx context.Context, req *Request, l storage.Link, s poller.Summary) {
	rec := poller.RecordFor(poller.NotifiedEvent{Link: l, Summary: s}, h.now())
	if err := h.store.UpsertMatch(ctx, rec); err != nil {
		req.Logger.Debug("match history upsert failed", logx.String("match_id", s.MatchID), logx.Err(err))
	}
}

func historyLine(i int, s poller.Summary) tgui.H {
	icon := "🟢"
	if !s.Won {
		icon = "🔴"
	}
	parts := []tgui.H{
		tgui.Esc(fmt.Sprintf("%d. %s", i, icon)),
		tgui.B(s.Map),
		tgui.Esc(s.Agent),
		tgui.Esc(s.Score()),
		tgui.Esc(s.KDA()),
	}
	if s.RatingChange != nil {
		parts = append(parts, tgui.Esc(tgui.Signed(*s.RatingChange)+" RR"))
	}
	return tgui.JoinH(" • ", parts...)
}

func renderRecords(identity string, recs []storage.MatchRecord) string {
	b := tgui.New().Title("📜", identity+" • stored history")
	for i, r := range recs {
		s := poller.Summary{
			MatchID:     r.MatchID,
			Map:         r.Map,
			Agent:       r.Agent,
			Won:         strings.EqualFold(r.Result, poller.ResultVictory),
			Kills:       r.Kills,
			Deaths:      r.Deaths,
			Assists:     r.Assists,
			TeamRounds:  r.TeamRoundsWon,
			EnemyRounds: r.EnemyRoundsWon,
			EnemyKnown:  true,
		}
		s.RatingChange = r.RatingChange
		b.Line(historyLine(i+1, s))
	}
	b.Line(tgui.I("The match data provider is unavailable; showing posted matches."))
	return b.String()
}
