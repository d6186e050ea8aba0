package utils

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig shapes an exponential backoff schedule
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction of each delay randomised in both directions.
	Jitter float64
}

// DefaultBackoff is used for retrying reconciliation units and queue jobs
var DefaultBackoff = BackoffConfig{
	Initial:    500 * time.Millisecond,
	Max:        30 * time.Second,
	Multiplier: 2,
	Jitter:     0.2,
}

// Delay returns the wait before the given retry attempt (1-based)
func (b BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := b.Initial.Seconds() * math.Pow(b.Multiplier, float64(attempt-1))
	seconds = math.Min(seconds, b.Max.Seconds())

	if b.Jitter > 0 {
		jitter := seconds * b.Jitter
		seconds = seconds - jitter + (rand.Float64() * jitter * 2)
	}

	return time.Duration(seconds * float64(time.Second))
}

// Retry calls fn until it succeeds, maxAttempts is reached, retryable
// reports false for its error, or ctx is cancelled. It returns the number of
// attempts made and the last error.
func Retry(ctx context.Context, maxAttempts int, backoff BackoffConfig, retryable func(error) bool, fn func(ctx context.Context) error) (int, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if retryable != nil && !retryable(err) {
			return attempt, err
		}
		if attempt == maxAttempts {
			return attempt, err
		}

		timer := time.NewTimer(backoff.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return maxAttempts, err
}
