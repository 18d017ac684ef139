package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"rankbot/internal/app"
	"rankbot/internal/config"
	"rankbot/internal/storage"
	logx "rankbot/pkg/logx"
)

var bindingsCmd = &cobra.Command{
	Use:   "bindings",
	Short: "Print groups, linked players and poll markers from storage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewManager(cfgPath).Load()
		if err != nil {
			return err
		}
		store, err := app.OpenStorage(cfg, logx.NewConsole("warn"))
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		return printBindings(ctx, cmd.OutOrStdout(), store)
	},
}

func printBindings(ctx context.Context, w io.Writer, store storage.Store) error {
	groups, err := store.ListGroups(ctx)
	if err != nil {
		return err
	}
	links, err := store.AllLinks(ctx)
	if err != nil {
		return err
	}
	markers, err := store.ListMarkers(ctx)
	if err != nil {
		return err
	}

	gt := newTable(w, "Groups")
	gt.AppendHeader(table.Row{"Group", "Destination", "Modules", "Polling"})
	for _, g := range groups {
		dest := "-"
		if g.MatchChatID != 0 {
			dest = fmt.Sprintf("%d/%d", g.MatchChatID, g.MatchThreadID)
		}
		mods := "all"
		if len(g.Modules) > 0 {
			mods = strings.Join(g.Modules, ",")
		}
		gt.AppendRow(table.Row{g.GroupID, dest, mods, g.PollingEnabled()})
	}
	gt.AppendFooter(table.Row{"", "", "Total", len(groups)})
	gt.Render()

	lt := newTable(w, "Links")
	lt.AppendHeader(table.Row{"User", "Riot ID", "Region", "Groups", "Updated"})
	for _, l := range links {
		gids := make([]string, 0, len(l.GroupIDs))
		for _, id := range l.GroupIDs {
			gids = append(gids, fmt.Sprint(id))
		}
		lt.AppendRow(table.Row{l.UserID, l.Identity(), l.Region, strings.Join(gids, ","), fmtTime(l.UpdatedAt)})
	}
	lt.AppendFooter(table.Row{"", "", "", "Total", len(links)})
	lt.Render()

	mt := newTable(w, "Markers")
	mt.AppendHeader(table.Row{"Group", "User", "Last match", "Updated"})
	for _, m := range markers {
		mt.AppendRow(table.Row{m.GroupID, m.UserID, m.MatchID, fmtTime(m.UpdatedAt)})
	}
	mt.Render()
	return nil
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	return t
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
