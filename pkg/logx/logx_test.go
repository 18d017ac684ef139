package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatChatRecord(t *testing.T) {
	t.Parallel()

	got := formatChatRecord([]byte(`{"level":"warn","time":"x","message":"fetch failed","comp":"poller","err":"boom"}`))
	require.Equal(t, "[WARN] fetch failed\n- comp=poller\n- err=boom", got)

	raw := formatChatRecord([]byte("  not json \n"))
	require.Equal(t, "not json", raw)
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	require.True(t, l.IsZero())
	l.Info("nothing happens", String("k", "v"))
	require.False(t, Nop().IsZero())
}

func TestWriterLoggerCarriesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "test"))
	l.Debug("hello", Int("n", 3))

	out := buf.String()
	require.Contains(t, out, `"comp":"test"`)
	require.Contains(t, out, `"n":3`)
	require.Contains(t, out, `"message":"hello"`)
}

func TestChatSinkRespectsMinLevel(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
	)
	send := func(_ context.Context, chatID int64, _ int, text string) error {
		mu.Lock()
		defer mu.Unlock()
		if chatID == 42 {
			sent = append(sent, text)
		}
		return nil
	}

	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, ChatID: 42, MinLevel: "warn", RatePerSec: 10},
	}, send)
	defer svc.Close()

	log.Info("quiet")
	log.Warn("loud")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, strings.HasPrefix(sent[0], "[WARN] loud"))
}
