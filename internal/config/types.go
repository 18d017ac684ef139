package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "2m"); empty or zero means "use the default".
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Origin   OriginConfig   `json:"origin"`
	Cache    CacheConfig    `json:"cache"`
	Poller   PollerConfig   `json:"poller"`
	Limits   LimitsConfig   `json:"limits"`
	Notifier NotifierConfig `json:"notifier"`
	Commands CommandsConfig `json:"commands"`
	Storage  StorageConfig  `json:"storage"`
	Status   StatusConfig   `json:"status,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied through RANKBOT_TELEGRAM_TOKEN.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChatID receives log records when logging.chat.enabled is set.
	LogChatID   int64  `json:"log_chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// OriginConfig points at the match data provider.
//
// Defaults:
//   - base_url: https://api.henrikdev.xyz
//   - timeout: 10s
type OriginConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	// APIKey may be left empty and supplied through HENRIK_API_KEY.
	APIKey    string `json:"api_key,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// CacheConfig sets the shared response cache bound and per-kind TTLs.
type CacheConfig struct {
	MaxEntries  int    `json:"max_entries,omitempty"`
	AccountTTL  string `json:"account_ttl,omitempty"`
	StandingTTL string `json:"standing_ttl,omitempty"`
	MatchesTTL  string `json:"matches_ttl,omitempty"`
	MatchTTL    string `json:"match_ttl,omitempty"`
	HistoryTTL  string `json:"history_ttl,omitempty"`
}

// PollerConfig controls the background match poller.
//
// Enabled is a pointer so an omitted key keeps the poller on.
type PollerConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	Interval   string `json:"interval,omitempty"`
	StartDelay string `json:"start_delay,omitempty"`
	Workers    int    `json:"workers,omitempty"`
	MatchCount int    `json:"match_count,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

type RateLimit struct {
	Limit  int    `json:"limit"`
	Window string `json:"window"`
}

type LimitsConfig struct {
	Actor       RateLimit `json:"actor"`
	Group       RateLimit `json:"group"`
	Destination RateLimit `json:"destination"`
	// DestinationAlgorithm is "fixed" (default) or "sliding".
	DestinationAlgorithm string `json:"destination_algorithm,omitempty"`
}

// NotifierConfig controls delivery of match posts.
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout"`
}

type CommandsConfig struct {
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	// MaxAge drops commands older than this when they reach the router.
	MaxAge string `json:"max_age,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/rankbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// StatusConfig controls the optional ops HTTP server.
//
// Prefer a loopback addr. A non-loopback addr requires a token.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

// PollerEnabled reports the effective poller switch.
func (c *Config) PollerEnabled() bool {
	return c.Poller.Enabled == nil || *c.Poller.Enabled
}
