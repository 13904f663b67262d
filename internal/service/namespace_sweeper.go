package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/certanchor/internal/domain"
	"github.com/kursadbilgin/certanchor/internal/jobqueue"
	"github.com/kursadbilgin/certanchor/internal/observability"
	"github.com/kursadbilgin/certanchor/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = time.Minute
	defaultSweepLimit    = 100
	abandonedReason      = "abandoned: batch did not settle before the sweep deadline"
)

// NamespaceCleaner removes every key of one queue namespace.
type NamespaceCleaner interface {
	Cleanup(ctx context.Context, namespace string) error
}

// NamespaceSweeper rejects submissions stuck in PROCESSING, typically left behind by a crashed
// process, and purges their queue namespaces.
type NamespaceSweeper struct {
	batches    repository.BatchRepository
	queue      NamespaceCleaner
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	staleAfter time.Duration
	limit      int
	now        func() time.Time
}

func NewNamespaceSweeper(
	batches repository.BatchRepository,
	queue NamespaceCleaner,
	interval time.Duration,
	staleAfter time.Duration,
	limit int,
	logger *zap.Logger,
) (*NamespaceSweeper, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if staleAfter <= 0 {
		return nil, fmt.Errorf("stale threshold must be positive")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NamespaceSweeper{
		batches:    batches,
		queue:      queue,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		limit:      limit,
		now:        time.Now,
	}, nil
}

func (s *NamespaceSweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *NamespaceSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("namespace sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("namespace sweeper sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *NamespaceSweeper) sweep(ctx context.Context) error {
	stale, err := s.batches.ListStale(ctx, s.now().Add(-s.staleAfter), s.limit)
	if err != nil {
		return fmt.Errorf("failed to list stale batches: %w", err)
	}

	for i := range stale {
		batch := stale[i]
		namespace := jobqueue.Namespace(batch.ID)

		if err := s.queue.Cleanup(ctx, namespace); err != nil {
			s.logger.Error("failed to purge stale namespace",
				zap.String("batchToken", batch.ID),
				zap.Error(err),
			)
			continue
		}

		reason := abandonedReason
		err := s.batches.Complete(ctx, batch.ID, domain.BatchStatusRejected, &reason)
		if errors.Is(err, domain.ErrConflict) {
			// Settled between the listing and now.
			continue
		}
		if err != nil {
			s.logger.Error("failed to reject stale batch",
				zap.String("batchToken", batch.ID),
				zap.Error(err),
			)
			continue
		}

		s.logger.Warn("stale batch rejected",
			zap.String("batchToken", batch.ID),
			zap.Time("createdAt", batch.CreatedAt),
		)
		if s.metrics != nil {
			s.metrics.IncNamespaceSwept()
		}
	}

	return nil
}
