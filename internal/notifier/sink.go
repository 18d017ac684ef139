package notifier

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	kit "rankbot/internal/transport"
	logx "rankbot/pkg/logx"
)

var ErrNoSender = errors.New("notifier has no sender")

type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

type HistoryItem struct {
	At       time.Time      `json:"at"`
	Target   kit.ChatTarget `json:"target"`
	Text     string         `json:"text"`
	Attempts int            `json:"attempts"`
}

type Stats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

const historySize = 20

// Sink is safe for concurrent use.
type Sink struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sender  kit.Sender
	log     logx.Logger

	sent   atomic.Uint64
	failed atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sink{sender: sender, log: log}
	s.Apply(cfg)
	return s
}

func (s *Sink) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.mu.Lock()
	s.cfg = cfg
	// burst = rate so short spikes don't block
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (s *Sink) SetSender(sender kit.Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// Send delivers text as HTML and returns the last error once retries are
// exhausted.
func (s *Sink) Send(ctx context.Context, to kit.ChatTarget, text string) error {
	return s.SendWith(ctx, to, text, kit.HTML)
}

func (s *Sink) SendWith(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil {
		return ErrNoSender
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := sender.SendText(callCtx, to, text, opt)
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.record(HistoryItem{At: time.Now(), Target: to, Text: text, Attempts: attempt})
			return nil
		}
		lastErr = err
		s.log.Debug("send failed", logx.Int64("chat_id", to.ChatID), logx.Int("attempt", attempt), logx.Int("max", attempts), logx.Err(err))
		if attempt == attempts || ctx.Err() != nil || !retryable(err) {
			break
		}

		delay := retryDelay(cfg, attempt)
		if ra, ok := floodRetryAfter(err); ok && ra > 0 {
			delay = ra
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			s.failed.Add(1)
			return ctx.Err()
		}
	}
	s.failed.Add(1)
	return lastErr
}

// retryable reports whether a failed send certainly did not reach Telegram.
// Timeouts and unknown errors may have delivered the message and are final.
func retryable(err error) bool {
	if _, ok := floodRetryAfter(err); ok {
		return true
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500
	}
	var op *net.OpError
	if errors.As(err, &op) && op.Op == "dial" {
		return true
	}
	var dns *net.DNSError
	return errors.As(err, &dns)
}

// floodRetryAfter reads Telegram's 429 hint from either error form.
func floodRetryAfter(err error) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return time.Duration(flood.RetryAfter) * time.Second, true
	}
	var pflood *tele.FloodError
	if errors.As(err, &pflood) && pflood != nil {
		return time.Duration(pflood.RetryAfter) * time.Second, true
	}
	return 0, false
}

// LogSender adapts the sink to the chat log sink signature.
func (s *Sink) LogSender() logx.SendFunc {
	return func(ctx context.Context, chatID int64, threadID int, text string) error {
		return s.SendWith(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
	}
}

func (s *Sink) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load()}
}

func (s *Sink) record(it HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, it)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}

// History returns recent deliveries, newest last.
func (s *Sink) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// retryDelay is base * 2^(attempt-1), capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	j := 0.7 + rand.Float64()*0.6
	return time.Duration(float64(d) * j)
}
