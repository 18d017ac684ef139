package app

import (
	"fmt"
	"strings"
	"time"

	"rankbot/internal/cache"
	"rankbot/internal/commands"
	"rankbot/internal/config"
	"rankbot/internal/notifier"
	"rankbot/internal/origin"
	"rankbot/internal/poller"
	"rankbot/internal/ratelimit"
	"rankbot/internal/status"
	"rankbot/internal/storage"
	logx "rankbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled && cfg.Telegram.LogChatID != 0,
			ChatID:     cfg.Telegram.LogChatID,
			ThreadID:   cfg.Logging.Chat.ThreadID,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			path = "./data/rankbot.journal"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// OpenStorage opens the store selected by storage.*.
func OpenStorage(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

// mapCacheMaxEntries treats an unset bound as the default.
func mapCacheMaxEntries(cfg *config.Config) int {
	if cfg.Cache.MaxEntries <= 0 {
		return cache.DefaultMaxEntries
	}
	return cfg.Cache.MaxEntries
}

func mapOriginTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("origin.timeout", cfg.Origin.Timeout, 10*time.Second)
}

func mapTTLs(cfg *config.Config) (origin.TTLs, error) {
	def := origin.DefaultTTLs()
	var (
		ttl origin.TTLs
		err error
	)
	fields := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"cache.account_ttl", cfg.Cache.AccountTTL, def.Account, &ttl.Account},
		{"cache.standing_ttl", cfg.Cache.StandingTTL, def.Standing, &ttl.Standing},
		{"cache.matches_ttl", cfg.Cache.MatchesTTL, def.Matches, &ttl.Matches},
		{"cache.match_ttl", cfg.Cache.MatchTTL, def.Match, &ttl.Match},
		{"cache.history_ttl", cfg.Cache.HistoryTTL, def.History, &ttl.History},
	}
	for _, f := range fields {
		if *f.dst, err = config.ParseDurationOrDefault(f.path, f.raw, f.def); err != nil {
			return origin.TTLs{}, err
		}
	}
	return ttl, nil
}

// limiters holds the three rate limiters built from limits.*.
type limiters struct {
	actor       ratelimit.Checker
	group       ratelimit.Checker
	destination ratelimit.Checker
}

func mapLimiters(cfg *config.Config) (limiters, error) {
	var out limiters

	n, w, err := config.ParseRateLimit("limits.actor", cfg.Limits.Actor, 5, time.Minute)
	if err != nil {
		return out, err
	}
	out.actor = ratelimit.NewFixedWindow(n, w)

	n, w, err = config.ParseRateLimit("limits.group", cfg.Limits.Group, 20, time.Minute)
	if err != nil {
		return out, err
	}
	out.group = ratelimit.NewFixedWindow(n, w)

	n, w, err = config.ParseRateLimit("limits.destination", cfg.Limits.Destination, 5, time.Minute)
	if err != nil {
		return out, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Limits.DestinationAlgorithm)) {
	case "", "fixed":
		out.destination = ratelimit.NewFixedWindow(n, w)
	case "sliding":
		out.destination = ratelimit.NewSlidingLog(n, w)
	default:
		return out, fmt.Errorf("limits.destination_algorithm: unknown %q", cfg.Limits.DestinationAlgorithm)
	}
	return out, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	base, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("notifier.send_timeout", nc.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   timeout,
	}, nil
}

func mapPollerConfig(cfg *config.Config) (poller.Config, error) {
	pc := cfg.Poller
	interval, err := config.ParseDurationOrDefault("poller.interval", pc.Interval, 5*time.Minute)
	if err != nil {
		return poller.Config{}, err
	}
	delay, err := config.ParseDurationOrDefault("poller.start_delay", pc.StartDelay, 15*time.Second)
	if err != nil {
		return poller.Config{}, err
	}
	return poller.Config{
		Interval:   interval,
		StartDelay: delay,
		Workers:    pc.Workers,
		MatchCount: pc.MatchCount,
		Mode:       strings.TrimSpace(pc.Mode),
	}, nil
}

func mapCommandsConfig(cfg *config.Config) (commands.Config, error) {
	cc := cfg.Commands
	timeout, err := config.ParseDurationOrDefault("commands.timeout", cc.Timeout, 20*time.Second)
	if err != nil {
		return commands.Config{}, err
	}
	maxAge, err := config.ParseDurationOrDefault("commands.max_age", cc.MaxAge, 30*time.Second)
	if err != nil {
		return commands.Config{}, err
	}
	return commands.Config{
		Workers:   cc.Workers,
		QueueSize: cc.QueueSize,
		Timeout:   timeout,
		MaxAge:    maxAge,
	}, nil
}

func mapStatusConfig(cfg *config.Config) status.Config {
	return status.Config{
		Addr:  strings.TrimSpace(cfg.Status.Addr),
		Token: strings.TrimSpace(cfg.Status.Token),
		Pprof: cfg.Status.Pprof,
	}
}
