// Package retry runs chain calls with bounded exponential backoff. It respects
// context cancellation and lets callers decide which failures are transient.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including initial attempt)
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff

	// OnRetry, when set, is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig provides the defaults used for RPC submission.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     4 * time.Second,
	Multiplier:   2.0,
}

// IsRetryable determines if an error should trigger a retry.
type IsRetryable func(error) bool

// ErrMaxAttempts is wrapped around the last error once every attempt failed.
var ErrMaxAttempts = errors.New("max retries exceeded")

// WithRetry calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. fn receives the zero-based attempt number.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func(ctx context.Context, attempt int) (T, error),
) (T, error) {
	var zero T
	var lastErr error

	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := config.InitialDelay

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("context cancelled after %d attempts: %w", attempt, lastErr)
			}
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled after %d attempts: %w", attempt+1, lastErr)
		}

		if config.Multiplier > 0 {
			delay = time.Duration(float64(delay) * config.Multiplier)
		}
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return zero, fmt.Errorf("%w: %w", ErrMaxAttempts, lastErr)
}

// Always retries every error.
func Always(error) bool { return true }

// IsTransient reports whether err looks like a network or node availability
// failure rather than a rejection of the request itself.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"eof",
	"timeout",
	"too many requests",
	"429",
	"502",
	"503",
	"504",
	"node is behind",
	"blockhash not found",
}
