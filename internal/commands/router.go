package commands

import (
	"context"
	"errors"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"rankbot/internal/origin"
	"rankbot/internal/ratelimit"
	rtsup "rankbot/internal/runtime/supervisor"
	kit "rankbot/internal/transport"
	logx "rankbot/pkg/logx"
	"rankbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessGroupAdmin requires a group chat and a chat admin (or bot owner).
	AccessGroupAdmin
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// NoLimit skips the command guard.
	NoLimit bool
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Msg     kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
	Sender  kit.Sender
}

// Reply sends HTML to the chat and thread the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, kit.HTML)
	return err
}

type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	// MaxAge drops commands older than this. 0 keeps everything.
	MaxAge time.Duration
	// Username is the bot's @username. When set, "/cmd@other" is ignored.
	Username string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	return c
}

// Router parses inbound messages into commands and runs them on a bounded
// worker pool.
type Router struct {
	cfg    Config
	log    logx.Logger
	sender kit.Sender
	guard  *ratelimit.Guard
	now    func() time.Time

	mu     sync.RWMutex
	cmds   map[string]*Command
	list   []Command
	owners []int64

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs  chan func()
	stale atomic.Uint64
	busy  atomic.Uint64
}

func NewRouter(cfg Config, sender kit.Sender, guard *ratelimit.Guard, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Router{
		cfg:    cfg,
		log:    log,
		sender: sender,
		guard:  guard,
		now:    time.Now,
		cmds:   map[string]*Command{},
		jobs:   make(chan func(), cfg.QueueSize),
	}
}

// SetOwners updates the bot owner list.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []int64 {
	r.mu.RLock()
	cp := append([]int64(nil), r.owners...)
	r.mu.RUnlock()
	return cp
}

// Register replaces the command set. /help is always added.
func (r *Router) Register(cmds ...Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "show available commands",
		Usage:       "/help",
		NoLimit:     true,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.HelpText())
		},
	})

	table := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		table[name] = &cc
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			if _, exists := table[a]; !exists {
				table[a] = &cc
			}
		}
		list = append(list, cc)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	r.mu.Lock()
	r.cmds = table
	r.list = list
	r.mu.Unlock()
}

func (r *Router) lookup(word string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cmds[word]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// HelpText lists registered commands.
func (r *Router) HelpText() string {
	r.mu.RLock()
	list := append([]Command(nil), r.list...)
	r.mu.RUnlock()

	b := tgui.New().Title("🤖", "Commands")
	for _, c := range list {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		line := tgui.Code(usage)
		if c.Description != "" {
			line += " " + tgui.Esc("- "+c.Description)
		}
		if c.Access != AccessEveryone {
			line += " 🔒"
		}
		b.Line(line)
	}
	return b.String()
}

// MenuCommands is the command list published to the chat client.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.list))
	for _, c := range r.list {
		desc := c.Description
		if desc == "" {
			desc = c.Name
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: tgui.TruncRunes(desc, 256)})
	}
	return out
}

// Supervisor returns the worker supervisor while Run is active.
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setSupervisor(sup *rtsup.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// Stats reports commands dropped as stale and rejected as busy.
func (r *Router) Stats() (stale, busy uint64) { return r.stale.Load(), r.busy.Load() }

// tryEnqueue is safe against a closed jobs channel.
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// Run consumes messages until ctx ends or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan kit.Message) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "commands.router"))),
		rtsup.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	r.log.Info("command dispatcher started", logx.Int("workers", r.cfg.Workers), logx.Int("job_queue_cap", cap(r.jobs)))

	if up, ok := r.sender.(kit.CommandMenuUpdater); ok {
		menu := r.MenuCommands()
		sup.Go("telegram.menu.update", func(c context.Context) error {
			mctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Warn("command menu update failed", logx.Err(err))
			}
			return nil
		})
	}

	for i := 0; i < r.cfg.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		r.setSupervisor(sup, false)
		close(r.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			r.route(ctx, msg)
		}
	}
}

func (r *Router) route(root context.Context, msg kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenize(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		target := word[i+1:]
		word = word[:i]
		if r.cfg.Username != "" && !strings.EqualFold(target, r.cfg.Username) {
			return
		}
	}
	if word == "" {
		return
	}

	if r.cfg.MaxAge > 0 && !msg.Date.IsZero() {
		if age := r.now().Sub(msg.Date); age > r.cfg.MaxAge {
			r.stale.Add(1)
			r.log.Debug("stale command dropped",
				logx.String("cmd", word),
				logx.Int64("chat_id", msg.ChatID),
				logx.Duration("age", age),
			)
			return
		}
	}

	to := msg.Reply()
	cmd, ok := r.lookup(word)
	if !ok {
		// stay quiet in groups, the command may belong to another bot
		if !msg.IsGroup {
			_, _ = r.sender.SendText(root, to, "Unknown command. Try /help", nil)
		}
		return
	}

	rid := xid.New().String()
	req := &Request{
		Msg:     msg,
		Chat:    to,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    parts[1:],
		ReqID:   rid,
		Sender:  r.sender,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	mws := []Middleware{MWPanicRecover(r.log), MWRequestLog(r.log)}
	if !cmd.NoLimit {
		mws = append(mws, MWRateLimit(r.guard))
	}
	mws = append(mws, r.mwAccess(cmd.Access), MWTimeout(timeout))
	final := Chain(cmd.Handle, mws...)

	if !r.tryEnqueue(func() {
		if err := final(root, req); err != nil {
			_ = req.Reply(root, "⚠️ "+tgui.Esc(userMessage(err)).String())
		}
	}) {
		r.busy.Add(1)
		_, _ = r.sender.SendText(root, to, "busy, try again", nil)
	}
}

func (r *Router) mwAccess(a Access) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			switch a {
			case AccessOwnerOnly:
				if !isOwner(req.FromID, r.ownersSnapshot()) {
					return req.Reply(ctx, "⛔ Only bot owners can use this command.")
				}
			case AccessGroupAdmin:
				if !req.Msg.IsGroup {
					return req.Reply(ctx, "This command only works inside a group.")
				}
				if !r.isGroupAdmin(ctx, req) {
					return req.Reply(ctx, "⛔ Only group admins can use this command.")
				}
			}
			return next(ctx, req)
		}
	}
}

func (r *Router) isGroupAdmin(ctx context.Context, req *Request) bool {
	if isOwner(req.FromID, r.ownersSnapshot()) {
		return true
	}
	ac, ok := r.sender.(kit.ChatAdminChecker)
	if !ok {
		return false
	}
	admin, err := ac.IsChatAdmin(ctx, req.Msg.ChatID, req.FromID)
	if err != nil {
		req.Logger.Warn("admin check failed", logx.Err(err))
		return false
	}
	return admin
}

// userMessage maps a handler error to the text shown in chat.
func userMessage(err error) string {
	switch {
	case errors.Is(err, origin.ErrUnauthorized):
		return "The match data provider rejected our API key. Ask the bot owner to check it."
	case origin.IsNotFound(err):
		return "Player or match not found."
	case errors.Is(err, context.DeadlineExceeded):
		return "That took too long. Please try again."
	case origin.IsTransient(err):
		return "The match data provider is unavailable right now. Try again later."
	default:
		return "Something went wrong. Please try again."
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
