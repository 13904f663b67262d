package ratelimit

import "context"

// RateLimiter paces outbound ledger calls per operation key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
