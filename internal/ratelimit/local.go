package ratelimit

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/ratelimit"
)

const defaultLocalRate = 20

var _ RateLimiter = (*LocalLimiter)(nil)

// LocalLimiter paces calls inside one process, one leaky bucket per key.
type LocalLimiter struct {
	rate int

	mu      sync.Mutex
	buckets map[string]ratelimit.Limiter
}

func NewLocalLimiter(perSecond int) *LocalLimiter {
	if perSecond <= 0 {
		perSecond = defaultLocalRate
	}
	return &LocalLimiter{rate: perSecond, buckets: make(map[string]ratelimit.Limiter)}
}

// Allow always admits the call; the local limiter only ever delays.
func (l *LocalLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Wait blocks until the bucket for key releases a slot. Take itself is not cancelable,
// so ctx is only checked before and after.
func (l *LocalLimiter) Wait(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.bucket(key).Take()
	return ctx.Err()
}

func (l *LocalLimiter) bucket(key string) ratelimit.Limiter {
	normalized := strings.ToLower(strings.TrimSpace(key))

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[normalized]
	if !ok {
		b = ratelimit.New(l.rate, ratelimit.WithoutSlack)
		l.buckets[normalized] = b
	}
	return b
}
