package poller

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"rankbot/internal/eventbus"
	"rankbot/internal/origin"
	"rankbot/internal/ratelimit"
	"rankbot/internal/storage"
	kit "rankbot/internal/transport"
	logx "rankbot/pkg/logx"
)

// Origin is the subset of origin.API the engine reads.
type Origin interface {
	GetRecentMatches(ctx context.Context, region, name, tag string, count int, mode string) ([]origin.Match, error)
	GetStandingHistory(ctx context.Context, region, name, tag string) ([]origin.StandingChange, error)
}

// Bindings enumerates what to poll.
type Bindings interface {
	ListPollingGroups(ctx context.Context) ([]storage.GroupConfig, error)
	ListLinks(ctx context.Context, groupID int64) ([]storage.Link, error)
}

type Markers interface {
	GetLastActivity(ctx context.Context, groupID, userID int64) (string, bool, error)
	SetLastActivity(ctx context.Context, groupID, userID int64, matchID string) error
}

// Sink delivers a rendered post.
type Sink interface {
	Send(ctx context.Context, to kit.ChatTarget, text string) error
}

type Config struct {
	Interval   time.Duration
	StartDelay time.Duration
	Workers    int
	MatchCount int
	Mode       string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StartDelay < 0 {
		c.StartDelay = 0
	}
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.MatchCount <= 0 {
		c.MatchCount = 3
	}
	if c.Mode == "" {
		c.Mode = "competitive"
	}
	return c
}

type Deps struct {
	Origin   Origin
	Bindings Bindings
	Markers  Markers
	Limiter  ratelimit.Checker // destination limiter
	Sink     Sink
	Bus      eventbus.Bus // optional
}

// CycleReport summarizes one cycle. Counts are per binding.
type CycleReport struct {
	ID         string        `json:"id"`
	Skipped    bool          `json:"skipped,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Groups     int           `json:"groups"`
	Bindings   int           `json:"bindings"`
	Baselines  int           `json:"baselines"`
	Unchanged  int           `json:"unchanged"`
	Notified   int           `json:"notified"`
	SendFailed int           `json:"send_failed"`
	Dropped    int           `json:"dropped"`
	NoSummary  int           `json:"no_summary"`
	Errors     int           `json:"errors"`
	Err        string        `json:"err,omitempty"`
}

// Stats are cumulative since start.
type Stats struct {
	Cycles     uint64       `json:"cycles"`
	Overlaps   uint64       `json:"overlaps"`
	Notified   uint64       `json:"notified"`
	SendFailed uint64       `json:"send_failed"`
	Dropped    uint64       `json:"dropped"`
	Errors     uint64       `json:"errors"`
	Last       *CycleReport `json:"last,omitempty"`
}

// NotifiedEvent is published after each post attempt.
type NotifiedEvent struct {
	CycleID string
	GroupID int64
	Link    storage.Link
	Target  kit.ChatTarget
	Summary Summary
	Sent    bool
}

type outcome int

const (
	outBaseline outcome = iota
	outUnchanged
	outNotified
	outSendFailed
	outDropped
	outNoSummary
	outError
	numOutcomes
)

type Engine struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time

	running atomic.Bool

	mu    sync.Mutex
	stats Stats
}

func New(cfg Config, deps Deps, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg.withDefaults(), deps: deps, log: log, now: time.Now}
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	if st.Last != nil {
		last := *st.Last
		st.Last = &last
	}
	return st
}

// Running reports whether a cycle is in flight.
func (e *Engine) Running() bool { return e.running.Load() }

// Run waits StartDelay, runs a cycle, then runs one every Interval until ctx
// ends. In-flight cycles finish before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	t := time.NewTimer(e.cfg.StartDelay)
	select {
	case <-ctx.Done():
		t.Stop()
		return nil
	case <-t.C:
	}
	e.RunCycle(ctx)

	cl := cronLogger{log: e.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	c.Schedule(cron.Every(e.cfg.Interval), cron.FuncJob(func() { e.RunCycle(ctx) }))
	c.Start()
	e.log.Info("poller scheduled", logx.Duration("interval", e.cfg.Interval), logx.Int("workers", e.cfg.Workers))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

type work struct {
	group storage.GroupConfig
	link  storage.Link
}

// RunCycle runs one poll cycle. It returns a report with Skipped set if
// another cycle is in flight.
func (e *Engine) RunCycle(ctx context.Context) (rep CycleReport) {
	if !e.running.CompareAndSwap(false, true) {
		e.mu.Lock()
		e.stats.Overlaps++
		e.mu.Unlock()
		e.log.Debug("poll cycle already running; skipped")
		return CycleReport{Skipped: true, StartedAt: e.now()}
	}
	defer e.running.Store(false)

	rep = CycleReport{ID: xid.New().String(), StartedAt: e.now()}
	log := e.log.With(logx.String("cycle", rep.ID))
	defer func() {
		rep.Duration = e.now().Sub(rep.StartedAt)
		e.finish(rep)
		log.Info("poll cycle finished",
			logx.Int("groups", rep.Groups),
			logx.Int("bindings", rep.Bindings),
			logx.Int("notified", rep.Notified),
			logx.Int("dropped", rep.Dropped),
			logx.Int("errors", rep.Errors),
			logx.Duration("took", rep.Duration))
	}()

	groups, err := e.deps.Bindings.ListPollingGroups(ctx)
	if err != nil {
		log.Error("list polling groups failed", logx.Err(err))
		rep.Err = err.Error()
		return rep
	}
	var items []work
	for _, g := range groups {
		links, err := e.deps.Bindings.ListLinks(ctx, g.GroupID)
		if err != nil {
			log.Warn("list group links failed", logx.Int64("group_id", g.GroupID), logx.Err(err))
			continue
		}
		rep.Groups++
		for _, l := range links {
			if l.Name == "" || l.Tag == "" || l.Region == "" || l.UserID == 0 {
				continue
			}
			items = append(items, work{group: g, link: l})
		}
	}
	rep.Bindings = len(items)
	if len(items) == 0 {
		return rep
	}

	var (
		cursor atomic.Int64
		counts [numOutcomes]atomic.Int64
		g      errgroup.Group
	)
	for w := 0; w < min(e.cfg.Workers, len(items)); w++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				i := int(cursor.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				counts[e.processSafe(ctx, log, rep.ID, items[i])].Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.Baselines = int(counts[outBaseline].Load())
	rep.Unchanged = int(counts[outUnchanged].Load())
	rep.Notified = int(counts[outNotified].Load())
	rep.SendFailed = int(counts[outSendFailed].Load())
	rep.Dropped = int(counts[outDropped].Load())
	rep.NoSummary = int(counts[outNoSummary].Load())
	rep.Errors = int(counts[outError].Load())
	return rep
}

func (e *Engine) finish(rep CycleReport) {
	e.mu.Lock()
	e.stats.Cycles++
	e.stats.Notified += uint64(rep.Notified)
	e.stats.SendFailed += uint64(rep.SendFailed)
	e.stats.Dropped += uint64(rep.Dropped)
	e.stats.Errors += uint64(rep.Errors)
	e.stats.Last = &rep
	e.mu.Unlock()
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeCycleFinished, Data: rep})
	}
}

func (e *Engine) processSafe(ctx context.Context, log logx.Logger, cycleID string, w work) (out outcome) {
	log = log.With(
		logx.Int64("group_id", w.group.GroupID),
		logx.Int64("user_id", w.link.UserID),
		logx.String("player", w.link.Identity()))
	defer func() {
		if r := recover(); r != nil {
			log.Error("binding panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			out = outError
		}
	}()
	return e.process(ctx, log, cycleID, w)
}

func (e *Engine) process(ctx context.Context, log logx.Logger, cycleID string, w work) outcome {
	l := w.link
	matches, err := e.deps.Origin.GetRecentMatches(ctx, l.Region, l.Name, l.Tag, e.cfg.MatchCount, e.cfg.Mode)
	if err != nil {
		switch {
		case origin.IsNotFound(err):
			log.Debug("player not found upstream", logx.Err(err))
		default:
			log.Warn("match fetch failed", logx.Bool("transient", origin.IsTransient(err)), logx.Err(err))
		}
		return outError
	}
	if len(matches) == 0 || matches[0].ID == "" {
		return outUnchanged
	}
	latest := matches[0]

	last, seen, err := e.deps.Markers.GetLastActivity(ctx, w.group.GroupID, l.UserID)
	if err != nil {
		log.Warn("marker read failed; skipping", logx.Err(err))
		return outError
	}
	if !seen {
		e.advance(ctx, log, w, latest.ID)
		log.Debug("baseline stored", logx.String("match_id", latest.ID))
		return outBaseline
	}
	if last == latest.ID {
		return outUnchanged
	}

	sum, ok := Summarize(latest, l.Name, l.Tag)
	if !ok {
		log.Debug("player missing from match record", logx.String("match_id", latest.ID))
		e.advance(ctx, log, w, latest.ID)
		return outNoSummary
	}
	if delta, ok := e.ratingChange(ctx, log, l, latest.ID); ok {
		sum.RatingChange = &delta
	}

	target := kit.ChatTarget{ChatID: w.group.MatchChatID, ThreadID: w.group.MatchThreadID}
	if d := e.deps.Limiter.Check(DestinationKey(target)); !d.Allowed {
		log.Warn("destination post limit reached; dropping match post",
			logx.Int64("chat_id", target.ChatID), logx.Duration("retry_after", d.RetryAfter))
		e.advance(ctx, log, w, latest.ID)
		e.publish(eventbus.TypeDropped, NotifiedEvent{CycleID: cycleID, GroupID: w.group.GroupID, Link: l, Target: target, Summary: sum})
		return outDropped
	}

	err = e.deps.Sink.Send(ctx, target, Render(sum, l.DisplayName))
	e.advance(ctx, log, w, latest.ID)
	e.publish(eventbus.TypeNotified, NotifiedEvent{
		CycleID: cycleID, GroupID: w.group.GroupID, Link: l, Target: target, Summary: sum, Sent: err == nil,
	})
	if err != nil {
		log.Warn("match post failed", logx.Int64("chat_id", target.ChatID), logx.Err(err))
		return outSendFailed
	}
	log.Info("match posted", logx.String("match_id", latest.ID), logx.String("result", sum.Result()))
	return outNotified
}

// advance writes the marker; failure is logged only.
func (e *Engine) advance(ctx context.Context, log logx.Logger, w work, matchID string) {
	if err := e.deps.Markers.SetLastActivity(ctx, w.group.GroupID, w.link.UserID, matchID); err != nil {
		log.Warn("marker write failed", logx.String("match_id", matchID), logx.Err(err))
	}
}

func (e *Engine) ratingChange(ctx context.Context, log logx.Logger, l storage.Link, matchID string) (int, bool) {
	hist, err := e.deps.Origin.GetStandingHistory(ctx, l.Region, l.Name, l.Tag)
	if err != nil {
		log.Debug("standing history unavailable", logx.Err(err))
		return 0, false
	}
	for _, h := range hist {
		if h.MatchID == matchID {
			return h.Change, true
		}
	}
	return 0, false
}

func (e *Engine) publish(typ string, ev NotifiedEvent) {
	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

// DestinationKey identifies a destination for the limiter.
func DestinationKey(t kit.ChatTarget) string {
	return fmt.Sprintf("%d:%d", t.ChatID, t.ThreadID)
}

// cronLogger routes cron's own logging into logx.
type cronLogger struct{ log logx.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
