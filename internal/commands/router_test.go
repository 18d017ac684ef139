package commands

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rankbot/internal/origin"
	"rankbot/internal/ratelimit"
	kit "rankbot/internal/transport"
	logx "rankbot/pkg/logx"
)

type sentMsg struct {
	To   kit.ChatTarget
	Text string
}

type fakeSender struct {
	mu     sync.Mutex
	msgs   []sentMsg
	admins map[int64]bool
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sentMsg{To: to, Text: text})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(f.msgs)}, nil
}

func (f *fakeSender) IsChatAdmin(_ context.Context, _ int64, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[userID], nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeSender) waitFor(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.texts()) >= n }, 2*time.Second, 5*time.Millisecond)
	return f.texts()
}

func startRouter(t *testing.T, r *Router) chan<- kit.Message {
	t.Helper()
	in := make(chan kit.Message, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, in)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return in
}

func echoCommand() Command {
	return Command{
		Name: "echo",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "echo:"+strings.Join(req.Args, " "))
		},
	}
}

func groupMsg(from int64, text string) kit.Message {
	return kit.Message{ChatID: -100, ThreadID: 7, FromID: from, Text: text, IsGroup: true}
}

func TestRouterDispatchesAndStripsBotSuffix(t *testing.T) {
	fs := &fakeSender{}
	r := NewRouter(Config{Workers: 1, Username: "rankbot"}, fs, nil, logx.Nop())
	r.Register(echoCommand())
	in := startRouter(t, r)

	in <- groupMsg(1, "/echo@otherbot ignored")
	in <- groupMsg(1, "just chatting")
	in <- groupMsg(1, `/ECHO@RankBot a "b c"`)

	got := fs.waitFor(t, 1)
	require.Equal(t, []string{"echo:a b c"}, got)

	fs.mu.Lock()
	require.Equal(t, kit.ChatTarget{ChatID: -100, ThreadID: 7}, fs.msgs[0].To)
	fs.mu.Unlock()
}

func TestRouterDropsStaleCommands(t *testing.T) {
	fs := &fakeSender{}
	now := time.Unix(1_700_000_000, 0)
	r := NewRouter(Config{Workers: 1, MaxAge: 30 * time.Second}, fs, nil, logx.Nop())
	r.now = func() time.Time { return now }
	r.Register(echoCommand())
	in := startRouter(t, r)

	old := groupMsg(1, "/echo old")
	old.Date = now.Add(-time.Minute)
	fresh := groupMsg(1, "/echo fresh")
	fresh.Date = now.Add(-time.Second)
	in <- old
	in <- fresh

	require.Equal(t, []string{"echo:fresh"}, fs.waitFor(t, 1))
	stale, _ := r.Stats()
	require.EqualValues(t, 1, stale)
}

func TestRouterRateLimitSparesPing(t *testing.T) {
	fs := &fakeSender{}
	guard := ratelimit.NewGuard(ratelimit.NewFixedWindow(1, time.Minute), ratelimit.NewFixedWindow(10, time.Minute))
	r := NewRouter(Config{Workers: 1}, fs, guard, logx.Nop())
	r.Register(echoCommand(), Command{
		Name:    "ping",
		NoLimit: true,
		Handle:  func(ctx context.Context, req *Request) error { return req.Reply(ctx, "pong") },
	})
	in := startRouter(t, r)

	in <- groupMsg(1, "/echo one")
	in <- groupMsg(1, "/echo two")
	in <- groupMsg(1, "/ping")

	got := fs.waitFor(t, 3)
	require.Equal(t, "echo:one", got[0])
	require.Contains(t, got[1], "⏳ You&#39;re using commands too quickly")
	require.Equal(t, "pong", got[2])
}

func TestRouterGroupAdminAccess(t *testing.T) {
	fs := &fakeSender{admins: map[int64]bool{2: true}}
	r := NewRouter(Config{Workers: 1}, fs, nil, logx.Nop())
	r.SetOwners([]int64{9})
	r.Register(Command{
		Name:   "setup",
		Access: AccessGroupAdmin,
		Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "ok") },
	})
	in := startRouter(t, r)

	in <- kit.Message{ChatID: 1, FromID: 1, Text: "/setup"}
	in <- groupMsg(1, "/setup")
	in <- groupMsg(2, "/setup")
	in <- groupMsg(9, "/setup")

	got := fs.waitFor(t, 4)
	require.Contains(t, got[0], "only works inside a group")
	require.Contains(t, got[1], "Only group admins")
	require.Equal(t, "ok", got[2])
	require.Equal(t, "ok", got[3])
}

func TestRouterRepliesWithMappedErrors(t *testing.T) {
	fs := &fakeSender{}
	r := NewRouter(Config{Workers: 1}, fs, nil, logx.Nop())
	r.Register(
		Command{Name: "auth", Handle: func(context.Context, *Request) error { return origin.ErrUnauthorized }},
		Command{Name: "boom", Handle: func(context.Context, *Request) error { panic("boom") }},
	)
	in := startRouter(t, r)

	in <- groupMsg(1, "/auth")
	in <- groupMsg(1, "/boom")

	got := fs.waitFor(t, 2)
	require.Contains(t, got[0], "API key")
	require.Contains(t, got[1], "Something went wrong")
}

func TestRouterUnknownCommand(t *testing.T) {
	fs := &fakeSender{}
	r := NewRouter(Config{Workers: 1}, fs, nil, logx.Nop())
	r.Register(echoCommand())
	in := startRouter(t, r)

	in <- groupMsg(1, "/nope")
	in <- kit.Message{ChatID: 5, FromID: 5, Text: "/nope"}

	got := fs.waitFor(t, 1)
	require.Len(t, got, 1)
	require.Contains(t, got[0], "Unknown command")
}

func TestHelpAndMenuListCommands(t *testing.T) {
	t.Parallel()

	r := NewRouter(Config{}, &fakeSender{}, nil, logx.Nop())
	h := NewHandlers(Deps{}, logx.Nop())
	r.Register(h.Commands()...)

	help := r.HelpText()
	require.Contains(t, help, "/link name#tag [region]")
	require.Contains(t, help, "🔒")

	names := map[string]bool{}
	for _, c := range r.MenuCommands() {
		names[c.Command] = true
	}
	for _, want := range []string{"help", "ping", "link", "setup", "daily", "weekly"} {
		require.True(t, names[want], want)
	}
	_, ok := r.lookup("leaderboard")
	require.True(t, ok)
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"/link", "Cool Name#EUW", "eu"}, tokenize(`/link "Cool Name#EUW" eu`))
	require.Equal(t, []string{"a b", "c"}, tokenize(`a\ b   c`))
	require.Nil(t, tokenize("   "))
}
