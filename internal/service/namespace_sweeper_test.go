package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/certanchor/internal/domain"
	"github.com/kursadbilgin/certanchor/internal/jobqueue"
	"go.uber.org/zap"
)

type fakeCleaner struct {
	cleaned   []string
	cleanupFn func(ctx context.Context, namespace string) error
}

func (f *fakeCleaner) Cleanup(ctx context.Context, namespace string) error {
	f.cleaned = append(f.cleaned, namespace)
	if f.cleanupFn != nil {
		return f.cleanupFn(ctx, namespace)
	}
	return nil
}

func TestNewNamespaceSweeperValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewNamespaceSweeper(nil, &fakeCleaner{}, 0, time.Hour, 0, nil); err == nil {
		t.Fatal("expected error without batch repository")
	}
	if _, err := NewNamespaceSweeper(&fakeBatchRepo{}, nil, 0, time.Hour, 0, nil); err == nil {
		t.Fatal("expected error without queue")
	}
	if _, err := NewNamespaceSweeper(&fakeBatchRepo{}, &fakeCleaner{}, 0, 0, 0, nil); err == nil {
		t.Fatal("expected error without stale threshold")
	}
}

func TestNamespaceSweeperRejectsStaleBatches(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	batches := &fakeBatchRepo{
		listStaleFn: func(ctx context.Context, olderThan time.Time, limit int) ([]domain.BatchSubmission, error) {
			if !olderThan.Equal(now.Add(-30*time.Minute)) || limit != 100 {
				t.Fatalf("ListStale(%v, %d)", olderThan, limit)
			}
			return []domain.BatchSubmission{{ID: "tok-1"}, {ID: "tok-2"}}, nil
		},
	}
	cleaner := &fakeCleaner{}
	s, err := NewNamespaceSweeper(batches, cleaner, time.Minute, 30*time.Minute, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewNamespaceSweeper() error = %v", err)
	}
	s.now = func() time.Time { return now }

	if err := s.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if len(cleaner.cleaned) != 2 || cleaner.cleaned[0] != jobqueue.Namespace("tok-1") {
		t.Fatalf("cleaned = %v", cleaner.cleaned)
	}
	if batches.completed["tok-2"] != domain.BatchStatusRejected || batches.reasons["tok-2"] != abandonedReason {
		t.Fatalf("tok-2 = %s %q, want abandoned rejection", batches.completed["tok-2"], batches.reasons["tok-2"])
	}
}

func TestNamespaceSweeperContinuesAfterCleanupError(t *testing.T) {
	t.Parallel()

	batches := &fakeBatchRepo{
		listStaleFn: func(ctx context.Context, olderThan time.Time, limit int) ([]domain.BatchSubmission, error) {
			return []domain.BatchSubmission{{ID: "tok-bad"}, {ID: "tok-good"}}, nil
		},
	}
	cleaner := &fakeCleaner{
		cleanupFn: func(ctx context.Context, namespace string) error {
			if namespace == jobqueue.Namespace("tok-bad") {
				return errors.New("redis down")
			}
			return nil
		},
	}
	s, _ := NewNamespaceSweeper(batches, cleaner, time.Minute, time.Minute, 10, nil)

	if err := s.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if _, ok := batches.completed["tok-bad"]; ok {
		t.Fatal("batch whose namespace survived must stay processing")
	}
	if batches.completed["tok-good"] != domain.BatchStatusRejected {
		t.Fatal("second batch should still be swept")
	}
}

func TestNamespaceSweeperIgnoresSettledBatch(t *testing.T) {
	t.Parallel()

	batches := &fakeBatchRepo{
		listStaleFn: func(ctx context.Context, olderThan time.Time, limit int) ([]domain.BatchSubmission, error) {
			return []domain.BatchSubmission{{ID: "tok-raced"}}, nil
		},
		completeFn: func(ctx context.Context, id string, status domain.BatchStatus, reason *string) error {
			return domain.ErrConflict
		},
	}
	s, _ := NewNamespaceSweeper(batches, &fakeCleaner{}, time.Minute, time.Minute, 10, nil)

	if err := s.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
}

func TestNamespaceSweeperListError(t *testing.T) {
	t.Parallel()

	batches := &fakeBatchRepo{
		listStaleFn: func(ctx context.Context, olderThan time.Time, limit int) ([]domain.BatchSubmission, error) {
			return nil, errors.New("db unavailable")
		},
	}
	s, _ := NewNamespaceSweeper(batches, &fakeCleaner{}, time.Minute, time.Minute, 10, nil)

	if err := s.sweep(context.Background()); err == nil {
		t.Fatal("expected sweep() error")
	}
}

func TestNamespaceSweeperStartReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, _ := NewNamespaceSweeper(&fakeBatchRepo{}, &fakeCleaner{}, time.Second, time.Minute, 10, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}
