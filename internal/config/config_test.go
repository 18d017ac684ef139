package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [1, 2]
  poll_timeout: 10s
logging:
  level: debug
  console: true
origin:
  timeout: 5s
poller:
  interval: 2m
  workers: 3
limits:
  actor: { limit: 5, window: 1m }
  destination: { limit: 5, window: 1m }
  destination_algorithm: sliding
storage:
  driver: sqlite
  path: ./data/rankbot.db
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, []int64{1, 2}, cfg.Telegram.OwnerUserIDs)
	require.Equal(t, 3, cfg.Poller.Workers)
	require.Equal(t, "sliding", cfg.Limits.DestinationAlgorithm)
	require.True(t, cfg.PollerEnabled())
	require.NoError(t, Validate(cfg))
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()

	_, err := Decode("config.json", []byte(`{"telegram":{"token":"x"},"bogus":1}`))
	require.Error(t, err)

	_, err = Decode("config.json", []byte(`{"telegram":{"token":"x"}} {}`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErr: true},
		{name: "bad duration", mutate: func(c *Config) { c.Poller.Interval = "soon" }, wantErr: true},
		{name: "negative limit", mutate: func(c *Config) { c.Limits.Group.Limit = -1 }, wantErr: true},
		{name: "unknown algorithm", mutate: func(c *Config) { c.Limits.DestinationAlgorithm = "leaky" }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, wantErr: true},
		{name: "public status without token", mutate: func(c *Config) {
			c.Status = StatusConfig{Enabled: true, Addr: "0.0.0.0:8080"}
		}, wantErr: true},
		{name: "loopback status", mutate: func(c *Config) {
			c.Status = StatusConfig{Enabled: true, Addr: "127.0.0.1:8080"}
		}},
		{name: "chat logging without chat", mutate: func(c *Config) { c.Logging.Chat.Enabled = true }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Telegram: TelegramConfig{Token: "t"}}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseRateLimitDefaults(t *testing.T) {
	t.Parallel()

	limit, window, err := ParseRateLimit("limits.actor", RateLimit{}, 5, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 5, limit)
	require.Equal(t, time.Minute, window)

	limit, window, err = ParseRateLimit("limits.actor", RateLimit{Limit: 2, Window: "10s"}, 5, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, limit)
	require.Equal(t, 10*time.Second, window)
}

func TestChangedSections(t *testing.T) {
	t.Parallel()

	a := &Config{Logging: LoggingConfig{Level: "info"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}}
	require.Equal(t, []string{"logging"}, ChangedSections(a, b))
	require.False(t, RequiresRestart(ChangedSections(a, b)))

	b.Poller.Interval = "1m"
	require.True(t, RequiresRestart(ChangedSections(a, b)))
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"t"},"logging":{"level":"info"}}`), 0o600))

	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"telegram":{"token":"t"},"logging":{"level":"debug"}}`), 0o600)
		select {
		case cfg := <-ch:
			return cfg.Logging.Level == "debug"
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, "debug", m.Get().Logging.Level)
}
