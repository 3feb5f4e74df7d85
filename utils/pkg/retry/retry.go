package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy holds retry configuration shared by callers that need bounded
// exponential backoff. Delay before attempt n (zero-based) is
// BaseDelay * BackoffFactor^(n-1), capped at MaxDelay, with jitter.
type Policy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		BaseDelay:     500 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      10 * time.Second,
	}
}

func (p *Policy) Validate() error {
	if p.MaxRetries < 1 {
		return errors.New("max retries must be at least 1")
	}
	if p.BaseDelay <= 0 {
		return errors.New("base delay must be greater than 0")
	}
	if p.BackoffFactor < 1 {
		return errors.New("backoff factor must be at least 1")
	}
	return nil
}

// Backoff returns the pre-attempt delay for a zero-based retry index,
// jittered into [0.5, 1.0] of the exponential value to spread out retries.
func (p Policy) Backoff(retry int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < retry; i++ {
		d *= p.BackoffFactor
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(d * jitter)
}

// Do executes fn with bounded exponential backoff, sleeping on the given
// clock so callers can test the policy without real timers. The last error
// is returned once attempts are exhausted; non-retryable errors return
// immediately.
func Do(ctx context.Context, clock clockwork.Clock, p Policy, fn func() error) error {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(p.Backoff(attempt - 1)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.MaxRetries, lastErr)
}

// IsRetryable reports whether an error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context cancellation is not retryable.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	type hasStatusCode interface {
		StatusCode() int
	}
	var sc hasStatusCode
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection closed",
		"connection reset",
		"connection refused",
		"broken pipe",
		"eof",
		"timeout",
		"timed out",
		"temporary failure",
		"service unavailable",
		"rate limit",
		"too many requests",
		"blockhash not found",
		"node is behind",
		"quote unavailable",
		"no route found",
		"price impact too high",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
