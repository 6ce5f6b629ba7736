package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig tunes [Retry]. The zero value is invalid; use [DefaultRetry]
// as a starting point.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first. Must be ≥ 1.
	Attempts int

	// InitialBackoff is the delay before the second attempt. Each subsequent
	// delay doubles, capped at MaxBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the per-attempt delay. Zero means no cap.
	MaxBackoff time.Duration
}

// DefaultRetry is a conservative three-attempt policy.
var DefaultRetry = RetryConfig{
	Attempts:       3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// Retry runs fn up to cfg.Attempts times with exponential backoff between
// attempts. It returns nil on the first success, ctx.Err() if the context is
// cancelled while waiting, and the last error once attempts are exhausted.
//
// Retry is the single retry helper for the codebase; callers must not wrap
// their own sleep loops around provider calls.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.Attempts < 1 {
		return fmt.Errorf("resilience retry: attempts must be >= 1, got %d", cfg.Attempts)
	}

	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return fmt.Errorf("resilience retry: %d attempts exhausted: %w", cfg.Attempts, lastErr)
}
