package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestLedgerRateLimiterWindow(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newLedgerRateLimiter(rdb, 2, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newLedgerRateLimiter() error = %v", err)
	}

	for i, want := range []bool{true, true, false} {
		allowed, err := limiter.Allow(context.Background(), "verify_certificate_by_id")
		if err != nil {
			t.Fatalf("Allow() call %d error = %v", i+1, err)
		}
		if allowed != want {
			t.Fatalf("Allow() call %d = %v, want %v", i+1, allowed, want)
		}
	}

	now = now.Add(time.Second)
	allowed, err := limiter.Allow(context.Background(), "verify_certificate_by_id")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("next window should admit the call")
	}
}

func TestLedgerRateLimiterKeysPerOperation(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newLedgerRateLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newLedgerRateLimiter() error = %v", err)
	}

	if allowed, _ := limiter.Allow(context.Background(), "issue_batch"); !allowed {
		t.Fatal("issue_batch should be admitted")
	}
	if allowed, _ := limiter.Allow(context.Background(), "Grant_Role "); !allowed {
		t.Fatal("grant_role has its own window")
	}
	if allowed, _ := limiter.Allow(context.Background(), "issue_batch"); allowed {
		t.Fatal("issue_batch window should be exhausted")
	}

	if !mr.Exists("certanchor:ledger:ratelimit:grant_role:1700000100") {
		t.Fatal("expected normalized per-operation window key")
	}
}

func TestLedgerRateLimiterRejectsEmptyOperation(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)
	limiter, err := NewLedgerRateLimiter(rdb, 5)
	if err != nil {
		t.Fatalf("NewLedgerRateLimiter() error = %v", err)
	}

	if _, err := limiter.Allow(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty operation")
	}
}

func TestLedgerRateLimiterWaitSleepsUntilNextWindow(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_200, 0)
	var pauses []time.Duration
	limiter, err := newLedgerRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			pauses = append(pauses, d)
			if len(pauses) == 2 {
				now = now.Add(time.Second)
			}
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newLedgerRateLimiter() error = %v", err)
	}

	if err := limiter.Wait(context.Background(), "get_certificate_status"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if err := limiter.Wait(context.Background(), "get_certificate_status"); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if len(pauses) != 2 || pauses[0] != backoffStep || pauses[1] != 2*backoffStep {
		t.Fatalf("pauses = %v, want growing backoff", pauses)
	}
}

func TestLedgerRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_300, 0)
	limiter, err := newLedgerRateLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newLedgerRateLimiter() error = %v", err)
	}

	if err := limiter.Wait(context.Background(), "issue_certificate"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "issue_certificate"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func newTestRedisClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb, mr
}
