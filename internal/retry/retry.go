// Package retry runs an operation a bounded number of times with a fixed pause between tries.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// OnRetry, when set, is called before each pause with the 1-based attempt that just failed.
	OnRetry func(attempt int, err error)
}

// Do calls fn until it succeeds, returns an error retryable rejects, or MaxAttempts calls have
// been made. The last error is returned unchanged. Context cancellation stops the loop and
// returns the context error.
func Do[T any](ctx context.Context, p Policy, retryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = time.Nanosecond
	}

	backoff := goretry.WithMaxRetries(uint64(attempts-1), goretry.NewConstant(delay))

	var (
		result  T
		attempt int
	)
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			result = v
			return nil
		}
		if retryable == nil || !retryable(err) {
			return err
		}
		if attempt < attempts && p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		return goretry.RetryableError(err)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
