package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rankbot/internal/storage"
	logx "rankbot/pkg/logx"
	"rankbot/pkg/tgui"
)

const progressWorkers = 3

// ProgressRow is one player's rating movement over a window.
type ProgressRow struct {
	Link     storage.Link
	TierName string
	RR       int
	Delta    int
	Games    int
}

func (h *Handlers) daily(ctx context.Context, req *Request) error {
	return h.progress(ctx, req, "📈", "Daily gains", "Last 24h", 24*time.Hour)
}

func (h *Handlers) weekly(ctx context.Context, req *Request) error {
	return h.progress(ctx, req, "🏆", "Weekly leaderboard", "Last 7 days", 7*24*time.Hour)
}

func (h *Handlers) progress(ctx context.Context, req *Request, emoji, title, span string, window time.Duration) error {
	if !req.Msg.IsGroup {
		return req.Reply(ctx, "This command only works inside a group.")
	}
	g, found, err := h.store.GetGroup(ctx, req.Msg.ChatID)
	if err != nil {
		return err
	}
	if found && !g.HasModule(ModuleLeaderboard) {
		return req.Reply(ctx, "The leaderboard module is disabled in this group.")
	}

	links, err := h.store.ListLinks(ctx, req.Msg.ChatID)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return req.Reply(ctx, "No one in this group is linked yet. Use /link first.")
	}

	rows := h.ProgressRows(ctx, req.Logger, links, window)
	if len(rows) == 0 {
		return req.Reply(ctx, "Could not load rating history right now. Try again later.")
	}
	return req.Reply(ctx, renderProgress(emoji, title, span, rows))
}

// ProgressRows sums rating changes newer than window for each link, best
// first. Links whose history cannot be fetched are left out.
func (h *Handlers) ProgressRows(ctx context.Context, log logx.Logger, links []storage.Link, window time.Duration) []ProgressRow {
	cutoff := h.now().Add(-window)

	var (
		mu   sync.Mutex
		rows = make([]ProgressRow, 0, len(links))
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(progressWorkers)
	for _, l := range links {
		eg.Go(func() error {
			hist, err := h.origin.GetStandingHistory(ectx, l.Region, l.Name, l.Tag)
			if err != nil {
				log.Debug("standing history unavailable", logx.String("identity", l.Identity()), logx.Err(err))
				return nil
			}
			row := ProgressRow{Link: l}
			for _, e := range hist {
				if e.Date.IsZero() || e.Date.Before(cutoff) {
					continue
				}
				row.Delta += e.Change
				row.Games++
			}
			if st, err := h.origin.GetStanding(ectx, l.Region, l.Name, l.Tag); err == nil {
				row.TierName, row.RR = st.TierName, st.RR
			}
			mu.Lock()
			rows = append(rows, row)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Delta != rows[j].Delta {
			return rows[i].Delta > rows[j].Delta
		}
		return strings.ToLower(rows[i].Link.Identity()) < strings.ToLower(rows[j].Link.Identity())
	})
	return rows
}

func renderProgress(emoji, title, span string, rows []ProgressRow) string {
	b := tgui.New().Title(emoji, title).Line(tgui.I(span))
	for i, r := range rows {
		who := r.Link.Identity()
		if r.Link.DisplayName != "" {
			who = r.Link.DisplayName + " (" + who + ")"
		}
		parts := []tgui.H{
			tgui.Esc(fmt.Sprintf("%d.", i+1)),
			tgui.B(who),
			tgui.Esc(fmt.Sprintf("%s RR (%d games)", tgui.Signed(r.Delta), r.Games)),
		}
		if r.TierName != "" {
			parts = append(parts, tgui.Esc(r.TierName))
		}
		b.Line(tgui.JoinH(" ", parts[:2]...) + " • " + tgui.JoinH(" • ", parts[2:]...))
	}
	return b.String()
}
