package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/certanchor/internal/domain"
	"github.com/kursadbilgin/certanchor/internal/jobqueue"
	"github.com/kursadbilgin/certanchor/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const cleanupTimeout = 30 * time.Second

// Plan sizes the chunks of one batch and the worker pool that drains them.
type Plan struct {
	ChunkSize   int
	Concurrency int
}

// PlanFor scales chunk size and worker count with the number of records.
func PlanFor(n int) Plan {
	switch {
	case n <= 500:
		return Plan{ChunkSize: 50, Concurrency: 2}
	case n <= 2000:
		return Plan{ChunkSize: 100, Concurrency: 4}
	case n <= 10000:
		return Plan{ChunkSize: 250, Concurrency: 8}
	default:
		return Plan{ChunkSize: 500, Concurrency: 16}
	}
}

func (p Plan) normalized(n int) Plan {
	if p.ChunkSize <= 0 || p.Concurrency <= 0 {
		fallback := PlanFor(n)
		if p.ChunkSize <= 0 {
			p.ChunkSize = fallback.ChunkSize
		}
		if p.Concurrency <= 0 {
			p.Concurrency = fallback.Concurrency
		}
	}
	return p
}

// ChunkCount is the number of chunks n records split into.
func (p Plan) ChunkCount(n int) int {
	p = p.normalized(n)
	return (n + p.ChunkSize - 1) / p.ChunkSize
}

// BatchContext carries everything scoped to one submission through the pipeline.
type BatchContext struct {
	Token        string
	Namespace    string
	IssuerID     string
	TotalRecords int
	Plan         Plan
	Logger       *zap.Logger
}

func NewBatchContext(token, issuerID string, totalRecords int, plan Plan, logger *zap.Logger) BatchContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return BatchContext{
		Token:        token,
		Namespace:    jobqueue.Namespace(token),
		IssuerID:     issuerID,
		TotalRecords: totalRecords,
		Plan:         plan.normalized(totalRecords),
		Logger:       batchLogger(logger, token, issuerID),
	}
}

func batchLogger(logger *zap.Logger, token, issuerID string) *zap.Logger {
	return observability.WithContextLogger(logger, observability.WithBatch(context.Background(), token, issuerID))
}

// DispatchOutcome is the single verdict over every chunk of a batch.
type DispatchOutcome struct {
	Succeeded  bool
	ChunkCount int
	// Results are in chunk order.
	Results []jobqueue.Result
	// FirstFailure is the earliest failure to complete, nil on success.
	FirstFailure *jobqueue.Result
}

// ChunkHandler processes one chunk job of the batch described by bc.
type ChunkHandler interface {
	HandleChunk(ctx context.Context, bc BatchContext, job jobqueue.Job) (jobqueue.Result, error)
}

type Dispatcher struct {
	queue   jobqueue.Queue
	handler ChunkHandler
	logger  *zap.Logger
}

func NewDispatcher(queue jobqueue.Queue, handler ChunkHandler, logger *zap.Logger) (*Dispatcher, error) {
	if queue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("chunk handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		queue:   queue,
		handler: handler,
		logger:  logger,
	}, nil
}

// Dispatch splits records into ordered chunks, runs them through the queue namespace of bc
// and waits until every chunk is terminal. The first chunk to fail cancels the rest. The
// namespace is cleaned up exactly once before Dispatch returns.
func (d *Dispatcher) Dispatch(ctx context.Context, bc BatchContext, records []domain.CandidateRecord) (DispatchOutcome, error) {
	if bc.Namespace == "" {
		bc.Namespace = jobqueue.Namespace(bc.Token)
	}
	if bc.Logger == nil {
		bc.Logger = batchLogger(d.logger, bc.Token, bc.IssuerID)
	}
	bc.Plan = bc.Plan.normalized(len(records))
	if _, ok := observability.BatchScopeFromContext(ctx); !ok {
		ctx = observability.WithBatch(ctx, bc.Token, bc.IssuerID)
	}

	defer d.cleanup(ctx, bc)

	chunks := Split(records, bc.Plan.ChunkSize)
	handles := make([]jobqueue.Handle, 0, len(chunks))
	for i, chunk := range chunks {
		h, err := d.queue.Enqueue(ctx, bc.Namespace, jobqueue.Job{
			ChunkIndex: i,
			BatchToken: bc.Token,
			Records:    chunk,
		})
		if err != nil {
			return DispatchOutcome{}, fmt.Errorf("failed to enqueue chunk %d: %w", i, err)
		}
		handles = append(handles, h)
	}

	bc.Logger.Info("batch dispatched",
		zap.Int("records", len(records)),
		zap.Int("chunks", len(chunks)),
		zap.Int("chunkSize", bc.Plan.ChunkSize),
		zap.Int("concurrency", bc.Plan.Concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	workCtx, abort := context.WithCancel(gctx)
	defer abort()

	var once sync.Once
	handle := func(ctx context.Context, job jobqueue.Job) (jobqueue.Result, error) {
		ctx = observability.WithChunk(ctx, job.ChunkIndex)
		result, err := d.handler.HandleChunk(ctx, bc, job)
		if err != nil && ctx.Err() == nil && job.LastAttempt() {
			result, err = jobqueue.ExhaustedResult(job, err), nil
		}
		if err == nil && result.Failed() {
			once.Do(func() {
				bc.Logger.Warn("chunk failed, canceling batch",
					zap.Int("chunk", job.ChunkIndex),
					zap.String("reason", result.Message),
				)
				abort()
			})
		}
		return result, err
	}

	g.Go(func() error {
		return d.queue.Process(workCtx, bc.Namespace, bc.Plan.Concurrency, handle)
	})

	var results []jobqueue.Result
	g.Go(func() error {
		var err error
		results, err = d.queue.AwaitAll(gctx, handles)
		return err
	})

	if err := g.Wait(); err != nil {
		return DispatchOutcome{}, fmt.Errorf("batch %s did not settle: %w", bc.Token, err)
	}

	outcome := DispatchOutcome{
		Succeeded:  true,
		ChunkCount: len(chunks),
		Results:    results,
	}
	if first := FirstFailure(results); first != nil {
		outcome.Succeeded = false
		outcome.FirstFailure = first
	}
	return outcome, nil
}

func (d *Dispatcher) cleanup(ctx context.Context, bc BatchContext) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := d.queue.Cleanup(cleanupCtx, bc.Namespace); err != nil {
		bc.Logger.Error("failed to clean up batch namespace",
			zap.String("namespace", bc.Namespace),
			zap.Error(err),
		)
	}
}

// Split cuts records into ordered, non-overlapping chunks of at most size records.
func Split(records []domain.CandidateRecord, size int) [][]domain.CandidateRecord {
	if size <= 0 {
		size = max(len(records), 1)
	}
	chunks := make([][]domain.CandidateRecord, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

// FirstFailure picks the failed result that completed first. Cancellation results only count
// when nothing failed on its own.
func FirstFailure(results []jobqueue.Result) *jobqueue.Result {
	var failed, canceled []jobqueue.Result
	for _, r := range results {
		switch {
		case !r.Failed():
		case r.Canceled():
			canceled = append(canceled, r)
		default:
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		failed = canceled
	}
	if len(failed) == 0 {
		return nil
	}

	sort.SliceStable(failed, func(i, j int) bool {
		if failed[i].FinishedAt.Equal(failed[j].FinishedAt) {
			return failed[i].ChunkIndex < failed[j].ChunkIndex
		}
		return failed[i].FinishedAt.Before(failed[j].FinishedAt)
	})
	first := failed[0]
	return &first
}
