// Package retry runs an operation under a bounded attempt policy.
package retry

import (
	"context"
	"time"
)

// Backoff returns the delay before the attempt that follows attempt n (0-based).
type Backoff func(n int) time.Duration

// Fixed waits d between every attempt.
func Fixed(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Exponential doubles base after each attempt: base, 2*base, 4*base...
func Exponential(base time.Duration) Backoff {
	return func(n int) time.Duration { return base << n }
}

// Policy bounds how often an operation runs and how long to wait in between.
// Sleep defaults to a context-aware timer and can be replaced in tests.
type Policy struct {
	Attempts int
	Backoff  Backoff
	Sleep    func(ctx context.Context, d time.Duration) error

	// OnRetry is called with the failed attempt number and its error before
	// sleeping.
	OnRetry func(n int, err error)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds or the attempts are exhausted and returns the
// number of attempts made together with the last error.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, int, error) {
	attempts := max(p.Attempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var zero T
	var lastErr error
	for i := 0; i < attempts; i++ {
		result, err := fn(ctx)
		if err == nil {
			return result, i + 1, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(i+1, err)
		}
		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(i)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, i + 1, err
		}
	}
	return zero, attempts, lastErr
}
