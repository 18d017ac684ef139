package origin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

var (
	// ErrNotFound is returned for HTTP 404: the player, match or history
	// does not exist upstream.
	ErrNotFound = errors.New("origin: not found")
	// ErrUnauthorized means the API key was rejected by both auth styles.
	ErrUnauthorized = errors.New("origin: unauthorized (check HENRIK_API_KEY)")
)

// StatusError is a non-2xx response other than 401/404.
type StatusError struct {
	Code       int
	Endpoint   string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("origin: %s: http %d (retry after %s)", e.Endpoint, e.Code, e.RetryAfter)
	}
	return fmt.Sprintf("origin: %s: http %d", e.Endpoint, e.Code)
}

// Transient reports whether retrying later may succeed.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// IsTransient reports whether err is a rate limit, a server error, or a
// network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	retry := resp.Header.Get("Retry-After")
	if retry == "" {
		return 0
	}
	if d, err := time.ParseDuration(retry + "s"); err == nil {
		return d
	}
	if at, err := http.ParseTime(retry); err == nil {
		return time.Until(at)
	}
	return 0
}
