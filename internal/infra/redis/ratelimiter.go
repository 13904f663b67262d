package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/certanchor/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 20
	ledgerKeyPrefix          = "certanchor:ledger:ratelimit"
	backoffStep              = 10 * time.Millisecond
	backoffMax               = 100 * time.Millisecond
	windowSeconds            = 1
)

// Fixed one-second window counter shared by every process talking to the same ledger account.
var windowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*LedgerRateLimiter)(nil)

// LedgerRateLimiter caps ledger calls per operation per second across all API replicas.
type LedgerRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewLedgerRateLimiter(client *goredis.Client, limitPerSec int) (*LedgerRateLimiter, error) {
	return newLedgerRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newLedgerRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*LedgerRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &LedgerRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *LedgerRateLimiter) Allow(ctx context.Context, operation string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	op := strings.ToLower(strings.TrimSpace(operation))
	if op == "" {
		return false, fmt.Errorf("operation is required")
	}

	key := fmt.Sprintf("%s:%s:%d", ledgerKeyPrefix, op, r.now().UTC().Unix())
	allowed, err := windowScript.Run(ctx, r.client, []string{key}, r.limitPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate ledger rate limit: %w", err)
	}

	return allowed == 1, nil
}

// Wait polls Allow with a growing pause until the window admits the call or ctx ends.
func (r *LedgerRateLimiter) Wait(ctx context.Context, operation string) error {
	pause := backoffStep
	for {
		allowed, err := r.Allow(ctx, operation)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, pause); err != nil {
			return err
		}
		pause = min(pause+backoffStep, backoffMax)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
