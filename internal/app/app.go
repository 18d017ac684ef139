package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rankbot/internal/cache"
	"rankbot/internal/commands"
	"rankbot/internal/config"
	"rankbot/internal/eventbus"
	"rankbot/internal/notifier"
	"rankbot/internal/origin"
	"rankbot/internal/poller"
	"rankbot/internal/ratelimit"
	rtsup "rankbot/internal/runtime/supervisor"
	"rankbot/internal/status"
	"rankbot/internal/storage"
	kit "rankbot/internal/transport"
	telegram "rankbot/internal/transport/telegram/adapter"
	logx "rankbot/pkg/logx"
	"rankbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  *telegram.Adapter
	loader   *cache.Loader[any]
	sink     *notifier.Sink
	engine   *poller.Engine
	recorder *poller.Recorder
	router   *commands.Router
	status   *status.Server

	pollerOn bool
	updates  chan kit.Message
	started  time.Time
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// chat records queued before the sender exists are dropped
	logs, log := logx.New(mapLogConfig(cfg), nil)

	fail := func(err error) (*App, error) {
		_ = logs.Close()
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return fail(err)
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fail(err)
	}

	nc, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	sink := notifier.New(nc, ad, log.With(logx.String("comp", "notifier")))
	logs.SetSender(sink.LogSender())

	store, err := OpenStorage(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fail(err)
	}
	fail = func(err error) (*App, error) {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	timeout, err := mapOriginTimeout(cfg)
	if err != nil {
		return fail(err)
	}
	ttl, err := mapTTLs(cfg)
	if err != nil {
		return fail(err)
	}
	client := origin.NewClient(strings.TrimSpace(cfg.Origin.BaseURL), cfg.Origin.APIKey, timeout)
	if ua := strings.TrimSpace(cfg.Origin.UserAgent); ua != "" {
		client.UserAgent = ua
	}
	if client.APIKey == "" {
		log.Warn("origin api key is empty; requests will likely be rejected", logx.String("env", config.EnvOriginAPIKey))
	}
	loader := cache.NewLoader(cache.New[any](cache.WithMaxEntries(mapCacheMaxEntries(cfg))))
	api := origin.NewCached(client, loader, ttl)

	lims, err := mapLimiters(cfg)
	if err != nil {
		return fail(err)
	}
	pc, err := mapPollerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	bus := eventbus.New()
	engine := poller.New(pc, poller.Deps{
		Origin:   api,
		Bindings: store,
		Markers:  store,
		Limiter:  lims.destination,
		Sink:     sink,
		Bus:      bus,
	}, log.With(logx.String("comp", "poller")))

	cc, err := mapCommandsConfig(cfg)
	if err != nil {
		return fail(err)
	}
	cc.Username = ad.Username()
	router := commands.NewRouter(cc, ad, ratelimit.NewGuard(lims.actor, lims.group), log.With(logx.String("comp", "commands")))
	router.SetOwners(cfg.Telegram.OwnerUserIDs)
	handlers := commands.NewHandlers(commands.Deps{Origin: api, Store: store, Mode: pc.Mode}, log.With(logx.String("comp", "commands")))
	router.Register(handlers.Commands()...)

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		bus:      bus,
		store:    store,
		adapter:  ad,
		loader:   loader,
		sink:     sink,
		engine:   engine,
		recorder: poller.NewRecorder(bus, store, log.With(logx.String("comp", "history"))),
		router:   router,
		pollerOn: cfg.PollerEnabled(),
		updates:  make(chan kit.Message, 256),
	}
	if cfg.Status.Enabled {
		a.status = status.New(mapStatusConfig(cfg), a.Stats, a.health, log.With(logx.String("comp", "status")))
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.started = time.Now()

	// validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := mapLimiters(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("commands", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go("history.recorder", a.recorder.Run)
	if a.pollerOn {
		a.sup.Go("poller", a.engine.Run)
	} else {
		a.log.Info("poller disabled by config")
	}
	if a.status != nil {
		// an ops endpoint failing to bind must not take the bot down
		a.sup.GoRestart("status", a.status.Run, rtsup.WithRestartBackoff(time.Second, time.Minute))
	}

	cfgCh := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(cfgCh)
		prev := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-cfgCh:
				if !ok {
					return
				}
				a.applyConfig(prev, next)
				prev = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog disabled", logx.Err(err))
		}
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}
	_, _ = systemd.Status(fmt.Sprintf("polling=%t", a.pollerOn))

	a.log.Info("app started",
		logx.String("bot", a.adapter.Username()),
		logx.Bool("poller", a.pollerOn),
		logx.Bool("status", a.status != nil),
	)
	return nil
}

// applyConfig applies the live-reloadable sections. Everything else waits for a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections := config.ChangedSections(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if s == "logging" {
			a.logs.Apply(mapLogConfig(next))
		}
	}
	fields := []logx.Field{logx.String("changed", strings.Join(sections, ","))}
	if config.RequiresRestart(sections) {
		a.log.Warn("config reloaded; some changes need a restart", fields...)
		return
	}
	a.log.Info("config reloaded", fields...)
}

// Stats is the document served by the status server.
func (a *App) Stats() any {
	stale, busy := a.router.Stats()
	out := map[string]any{
		"uptime":   time.Since(a.started).Truncate(time.Second).String(),
		"poller":   a.engine.Stats(),
		"notifier": a.sink.Stats(),
		"cache":    a.loader.Cache().Stats(),
		"commands": map[string]uint64{"stale": stale, "busy": busy},
		"events":   map[string]uint64{"dropped": a.bus.Dropped()},
		"logs":     map[string]uint64{"dropped": a.logs.Dropped()},
		"recent":   a.sink.History(),
	}
	if a.sup != nil {
		out["tasks"] = a.sup.Snapshot()
	}
	if sup := a.router.Supervisor(); sup != nil {
		out["command_workers"] = sup.Snapshot()
	}
	return out
}

func (a *App) health(ctx context.Context) error {
	if _, err := a.store.ListGroups(ctx); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if a.sup != nil && a.sup.Err() != nil {
		return a.sup.Err()
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// never extend the caller's deadline
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max <= 0 {
				a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
				return
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// cancels router, poller, recorder, status and config watchers
	step("supervisor", 4*time.Second, a.sup.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
