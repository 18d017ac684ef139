package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"rankbot/internal/origin"
	"rankbot/internal/storage"
	logx "rankbot/pkg/logx"
	"rankbot/pkg/tgui"
)

// ModuleLeaderboard gates /daily, /weekly and /leaderboard in a group.
const ModuleLeaderboard = "leaderboard"

// Modules lists the names /setup modules accepts.
var Modules = []string{storage.ModuleMatchPosts, ModuleLeaderboard}

// Store is the persistence the handlers need.
type Store interface {
	storage.LinkStore
	storage.GroupStore
	storage.HistoryStore
}

type Deps struct {
	Origin origin.API
	Store  Store
	// Mode filters match lists; defaults to competitive.
	Mode string
}

// Handlers implements the chat commands.
type Handlers struct {
	origin origin.API
	store  Store
	mode   string
	log    logx.Logger
	now    func() time.Time
}

func NewHandlers(deps Deps, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	mode := deps.Mode
	if mode == "" {
		mode = "competitive"
	}
	return &Handlers{origin: deps.Origin, store: deps.Store, mode: mode, log: log, now: time.Now}
}

// Commands returns the command table.
func (h *Handlers) Commands() []Command {
	return []Command{
		{Name: "ping", Description: "check the bot is alive", Usage: "/ping", NoLimit: true, Handle: h.ping},
		{Name: "link", Description: "link your Riot account", Usage: "/link name#tag [region]", Handle: h.link},
		{Name: "unlink", Description: "remove your linked account", Usage: "/unlink", Handle: h.unlink},
		{Name: "profile", Aliases: []string{"rank"}, Description: "show rank and recent form", Usage: "/profile", Handle: h.profile},
		{Name: "history", Description: "recent competitive matches", Usage: "/history [1-10]", Handle: h.history},
		{Name: "match", Description: "details for one match", Usage: "/match [index|match id]", Handle: h.match},
		{Name: "setup", Description: "configure match posts for this group", Usage: "/setup show|here|off|modules <list>", Access: AccessGroupAdmin, Handle: h.setup},
		{Name: "daily", Description: "RR gains over the last 24h", Usage: "/daily", Handle: h.daily},
		{Name: "weekly", Aliases: []string{"leaderboard"}, Description: "RR gains over the last 7 days", Usage: "/weekly", Handle: h.weekly},
	}
}

func (h *Handlers) ping(ctx context.Context, req *Request) error {
	lag := ""
	if !req.Msg.Date.IsZero() {
		lag = fmt.Sprintf(" (%s)", h.now().Sub(req.Msg.Date).Round(time.Millisecond))
	}
	return req.Reply(ctx, "🏓 pong"+tgui.Esc(lag).String())
}

func (h *Handlers) link(ctx context.Context, req *Request) error {
	name, tag, region, err := parseLinkArgs(req.Args)
	if err != nil {
		return req.Reply(ctx, tgui.New().
			Text("Usage: /link name#tag [region]").
			Line(tgui.Esc("Regions: "+strings.Join(Regions, ", "))).
			String())
	}

	acc, err := h.origin.GetAccount(ctx, name, tag)
	if origin.IsNotFound(err) {
		return req.Reply(ctx, "❌ Account not found. Please check your name and tag.")
	}
	if err != nil {
		return err
	}
	if region == "" {
		region = strings.ToLower(acc.Region)
	}
	if !isRegion(region) {
		return req.Reply(ctx, "Could not detect your region. Add it explicitly: /link name#tag eu")
	}
	if acc.Name != "" && acc.Tag != "" {
		name, tag = acc.Name, acc.Tag
	}

	prev, found, err := h.store.GetLink(ctx, req.FromID)
	if err != nil {
		return err
	}
	l := storage.Link{
		UserID:      req.FromID,
		Name:        name,
		Tag:         tag,
		Region:      region,
		PUUID:       acc.PUUID,
		DisplayName: req.Msg.FromName,
	}
	if found {
		l.GroupIDs = prev.GroupIDs
		if !strings.EqualFold(prev.Identity(), l.Identity()) || prev.Region != region {
			// a different account starts from a fresh baseline
			if err := h.store.DeleteLink(ctx, req.FromID); err != nil {
				return err
			}
		}
	}
	if req.Msg.IsGroup {
		l = l.WithGroup(req.Msg.ChatID)
	}
	if err := h.store.PutLink(ctx, l); err != nil {
		return err
	}
	req.Logger.Info("account linked", logx.String("identity", l.Identity()), logx.String("region", region))

	b := tgui.New().
		Title("✅", "Account linked").
		KV("Riot ID", tgui.Esc(l.Identity())).
		KV("Region", tgui.Esc(strings.ToUpper(region)))
	if acc.Level > 0 {
		b.KV("Level", tgui.Esc(fmt.Sprint(acc.Level)))
	}
	if !req.Msg.IsGroup {
		b.Blank().Text("Run /link in a group too, so new matches get posted there.")
	}
	return req.Reply(ctx, b.String())
}

func (h *Handlers) unlink(ctx context.Context, req *Request) error {
	l, found, err := h.store.GetLink(ctx, req.FromID)
	if err != nil {
		return err
	}
	if !found {
		return req.Reply(ctx, "You haven't linked an account yet.")
	}
	if err := h.store.DeleteLink(ctx, req.FromID); err != nil {
		return err
	}
	return req.Reply(ctx, "🗑 Unlinked "+tgui.B(l.Identity()).String()+".")
}

// linked loads the caller's link, answering when there is none.
func (h *Handlers) linked(ctx context.Context, req *Request) (storage.Link, bool, error) {
	l, found, err := h.store.GetLink(ctx, req.FromID)
	if err != nil {
		return storage.Link{}, false, err
	}
	if !found {
		return storage.Link{}, false, req.Reply(ctx, "You haven't linked your account yet. Use /link name#tag to get started.")
	}
	return l, true, nil
}

func (h *Handlers) setup(ctx context.Context, req *Request) error {
	groupID := req.Msg.ChatID
	g, found, err := h.store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !found {
		g = storage.GroupConfig{GroupID: groupID}
	}

	sub := "show"
	if len(req.Args) > 0 {
		sub = strings.ToLower(req.Args[0])
	}
	switch sub {
	case "show":
		return h.setupShow(ctx, req, g)
	case "here":
		g.MatchChatID = req.Chat.ChatID
		g.MatchThreadID = req.Chat.ThreadID
		if !g.HasModule(storage.ModuleMatchPosts) {
			g.Modules = append(g.Modules, storage.ModuleMatchPosts)
		}
		if err := h.store.PutGroup(ctx, g); err != nil {
			return err
		}
		return req.Reply(ctx, "✅ Match posts will go to this chat.")
	case "off":
		g.MatchChatID = 0
		g.MatchThreadID = 0
		if err := h.store.PutGroup(ctx, g); err != nil {
			return err
		}
		return req.Reply(ctx, "🔕 Match posts are off for this group.")
	case "modules":
		mods, err := parseModules(req.Args[1:])
		if err != nil {
			return req.Reply(ctx, tgui.Esc(err.Error()).String())
		}
		g.Modules = mods
		if err := h.store.PutGroup(ctx, g); err != nil {
			return err
		}
		if len(mods) == 0 {
			return req.Reply(ctx, "✅ All modules enabled.")
		}
		return req.Reply(ctx, "✅ Modules: "+tgui.Code(strings.Join(mods, ", ")).String())
	default:
		return req.Reply(ctx, "Usage: /setup show|here|off|modules &lt;list&gt;")
	}
}

func (h *Handlers) setupShow(ctx context.Context, req *Request, g storage.GroupConfig) error {
	links, err := h.store.ListLinks(ctx, g.GroupID)
	if err != nil {
		return err
	}
	dest := tgui.Esc("Not set")
	if g.MatchChatID != 0 {
		d := fmt.Sprintf("chat %d", g.MatchChatID)
		if g.MatchThreadID != 0 {
			d += fmt.Sprintf(" • topic %d", g.MatchThreadID)
		}
		dest = tgui.Esc(d)
	}
	mods := tgui.Esc("all")
	if len(g.Modules) > 0 {
		mods = tgui.Code(strings.Join(g.Modules, ", "))
	}
	status := "off"
	if g.PollingEnabled() {
		status = "on"
	}
	return req.Reply(ctx, tgui.New().
		Title("⚙️", "Group setup").
		KV("Match posts", tgui.Esc(status)).
		KV("Destination", dest).
		KV("Modules", mods).
		KV("Linked players", tgui.Esc(fmt.Sprint(len(links)))).
		String())
}

// parseModules accepts names separated by spaces or commas. "all" clears
// the list.
func parseModules(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		for _, m := range strings.Split(a, ",") {
			m = strings.ToLower(strings.TrimSpace(m))
			if m == "" {
				continue
			}
			if m == "all" {
				return nil, nil
			}
			if !slices.Contains(Modules, m) {
				return nil, fmt.Errorf("unknown module %q (known: %s)", m, strings.Join(Modules, ", "))
			}
			if !slices.Contains(out, m) {
				out = append(out, m)
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("usage: /setup modules match_posts,leaderboard | all")
	}
	return out, nil
}
