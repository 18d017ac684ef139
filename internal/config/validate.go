package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate checks a decoded config. It reports every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token: required (or set %s)", EnvTelegramToken))
	}
	if cfg.Logging.Chat.Enabled && cfg.Telegram.LogChatID == 0 {
		add(errors.New("logging.chat.enabled requires telegram.log_chat_id"))
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout":    cfg.Telegram.PollTimeout,
		"origin.timeout":           cfg.Origin.Timeout,
		"cache.account_ttl":        cfg.Cache.AccountTTL,
		"cache.standing_ttl":       cfg.Cache.StandingTTL,
		"cache.matches_ttl":        cfg.Cache.MatchesTTL,
		"cache.match_ttl":          cfg.Cache.MatchTTL,
		"cache.history_ttl":        cfg.Cache.HistoryTTL,
		"poller.interval":          cfg.Poller.Interval,
		"poller.start_delay":       cfg.Poller.StartDelay,
		"notifier.retry_base":      cfg.Notifier.RetryBase,
		"notifier.retry_max_delay": cfg.Notifier.RetryMaxDelay,
		"notifier.send_timeout":    cfg.Notifier.SendTimeout,
		"commands.timeout":         cfg.Commands.Timeout,
		"commands.max_age":         cfg.Commands.MaxAge,
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	for path, rl := range map[string]RateLimit{
		"limits.actor":       cfg.Limits.Actor,
		"limits.group":       cfg.Limits.Group,
		"limits.destination": cfg.Limits.Destination,
	} {
		_, _, err := ParseRateLimit(path, rl, 1, 1)
		add(err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Limits.DestinationAlgorithm)) {
	case "", "fixed", "sliding":
	default:
		add(fmt.Errorf("limits.destination_algorithm: unknown %q (want fixed|sliding)", cfg.Limits.DestinationAlgorithm))
	}
	if cfg.Poller.Workers < 0 || cfg.Poller.MatchCount < 0 || cfg.Cache.MaxEntries < 0 {
		add(errors.New("poller.workers, poller.match_count and cache.max_entries must be >= 0"))
	}
	if cfg.Notifier.RetryMax < 0 {
		add(errors.New("notifier.retry_max: must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "memory", "file", "sqlite", "sqlite3":
	default:
		add(fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
	}

	if cfg.Status.Enabled {
		add(validateStatusAddr(cfg.Status))
	}
	return errors.Join(errs...)
}

func validateStatusAddr(sc StatusConfig) error {
	addr := strings.TrimSpace(sc.Addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("status.addr: %w", err)
	}
	if isLoopback(host) || strings.TrimSpace(sc.Token) != "" {
		return nil
	}
	return fmt.Errorf("status.addr %q is not loopback; set status.token", addr)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
