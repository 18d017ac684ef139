package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative duration; "" yields 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ParseRateLimit resolves a limit/window pair, applying defaults to zero values.
func ParseRateLimit(path string, rl RateLimit, defLimit int, defWindow time.Duration) (int, time.Duration, error) {
	if rl.Limit < 0 {
		return 0, 0, fmt.Errorf("%s.limit: must be >= 0", path)
	}
	limit := rl.Limit
	if limit == 0 {
		limit = defLimit
	}
	window, err := ParseDurationOrDefault(path+".window", rl.Window, defWindow)
	if err != nil {
		return 0, 0, err
	}
	return limit, window, nil
}
