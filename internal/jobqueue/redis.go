package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/certanchor/internal/observability"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultAttempts     = 2
	defaultPollInterval = 50 * time.Millisecond
	scanCount           = 100
	workerPool          = "chunks"
)

var _ Queue = (*RedisQueue)(nil)

// RedisQueue keeps each namespace under these keys:
//
//	<ns>:wait      list of job ids not yet taken
//	<ns>:active    list of job ids a worker holds
//	<ns>:job:<id>  job payload
//	<ns>:attempts  hash of attempt counters
//	<ns>:results   hash of terminal results
type RedisQueue struct {
	client       *goredis.Client
	attempts     int
	pollInterval time.Duration
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

func NewRedisQueue(client *goredis.Client, attempts int, pollInterval time.Duration, logger *zap.Logger) (*RedisQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisQueue{
		client:       client,
		attempts:     attempts,
		pollInterval: pollInterval,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (q *RedisQueue) SetMetrics(metrics *observability.Metrics) {
	if q == nil {
		return
	}
	q.metrics = metrics
}

func (q *RedisQueue) Enqueue(ctx context.Context, namespace string, job Job) (Handle, error) {
	if strings.TrimSpace(namespace) == "" {
		return Handle{}, fmt.Errorf("namespace is required")
	}
	if job.ID == "" {
		job.ID = JobID(job.ChunkIndex)
	}
	if job.AttemptsAllowed <= 0 {
		job.AttemptsAllowed = q.attempts
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, jobKey(namespace, job.ID), payload, 0)
		pipe.LPush(ctx, waitKey(namespace), job.ID)
		return nil
	})
	if err != nil {
		return Handle{}, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	return Handle{Namespace: namespace, JobID: job.ID, ChunkIndex: job.ChunkIndex}, nil
}

func (q *RedisQueue) Process(ctx context.Context, namespace string, concurrency int, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			return q.work(gctx, namespace, workerID, handler)
		})
	}
	err := g.Wait()

	if ctx.Err() != nil {
		if drainErr := q.drain(context.WithoutCancel(ctx), namespace); drainErr != nil {
			q.logger.Error("failed to drain canceled jobs",
				zap.String("namespace", namespace),
				zap.Error(drainErr),
			)
		}
		return nil
	}
	return err
}

func (q *RedisQueue) work(ctx context.Context, namespace string, workerID int, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		id, err := q.client.RPopLPush(ctx, waitKey(namespace), activeKey(namespace)).Result()
		if errors.Is(err, goredis.Nil) {
			done, err := q.settled(ctx, namespace)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("worker %d: %w", workerID, err)
			}
			if done {
				return nil
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d failed to take job: %w", workerID, err)
		}

		if err := q.runJob(ctx, namespace, id, handler); err != nil {
			return fmt.Errorf("worker %d: %w", workerID, err)
		}
	}
}

// settled reports whether the namespace has no job left to take. While a sibling still holds
// a job that may be requeued, it waits one poll interval and reports false.
func (q *RedisQueue) settled(ctx context.Context, namespace string) (bool, error) {
	held, err := q.client.LLen(ctx, activeKey(namespace)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to count active jobs: %w", err)
	}
	if held == 0 {
		return true, nil
	}

	timer := time.NewTimer(q.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func (q *RedisQueue) runJob(ctx context.Context, namespace, id string, handler Handler) error {
	// Bookkeeping must land even when the batch is being canceled.
	store := context.WithoutCancel(ctx)

	job, err := q.loadJob(store, namespace, id)
	if err != nil {
		return q.finish(store, namespace, id, Result{
			JobID:   id,
			Status:  StatusFailed,
			Message: "malformed job payload",
			Details: []string{err.Error()},
		})
	}

	attempt, err := q.client.HIncrBy(store, attemptsKey(namespace), id, 1).Result()
	if err != nil {
		return fmt.Errorf("failed to count attempt for job %s: %w", id, err)
	}

	if q.metrics != nil {
		q.metrics.IncWorkerInFlight(workerPool)
		defer q.metrics.DecWorkerInFlight(workerPool)
	}

	job.Attempt = int(attempt)
	result, handlerErr := handler(ctx, job)
	switch {
	case handlerErr == nil:
	case ctx.Err() != nil:
		result = Result{Status: StatusFailed, Message: CanceledMessage}
	case !job.LastAttempt():
		observability.WithContextLogger(q.logger, observability.WithChunk(ctx, job.ChunkIndex)).Warn("chunk failed, requeueing",
			zap.String("namespace", namespace),
			zap.String("jobId", id),
			zap.Int64("attempt", attempt),
			zap.Error(handlerErr),
		)
		return q.requeue(store, namespace, id)
	default:
		result = ExhaustedResult(job, handlerErr)
	}

	result.JobID = id
	result.ChunkIndex = job.ChunkIndex
	result.Attempts = int(attempt)
	return q.finish(store, namespace, id, result)
}

func (q *RedisQueue) loadJob(ctx context.Context, namespace, id string) (Job, error) {
	raw, err := q.client.Get(ctx, jobKey(namespace, id)).Bytes()
	if err != nil {
		return Job{}, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return job, nil
}

func (q *RedisQueue) requeue(ctx context.Context, namespace, id string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LRem(ctx, activeKey(namespace), 1, id)
		pipe.LPush(ctx, waitKey(namespace), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) finish(ctx context.Context, namespace, id string, result Result) error {
	if result.FinishedAt.IsZero() {
		result.FinishedAt = q.now().UTC()
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result for job %s: %w", id, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, resultsKey(namespace), id, payload)
		pipe.LRem(ctx, activeKey(namespace), 1, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store result for job %s: %w", id, err)
	}

	if q.metrics != nil {
		q.metrics.IncChunk(strings.ToLower(string(result.Status)))
	}
	return nil
}

// drain records every job that never reached a terminal state as canceled.
func (q *RedisQueue) drain(ctx context.Context, namespace string) error {
	var ids []string
	for _, key := range []string{waitKey(namespace), activeKey(namespace)} {
		pending, err := q.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", key, err)
		}
		ids = append(ids, pending...)
	}

	for _, id := range ids {
		done, err := q.client.HExists(ctx, resultsKey(namespace), id).Result()
		if err != nil {
			return fmt.Errorf("failed to check result for job %s: %w", id, err)
		}
		if done {
			continue
		}

		result := Result{JobID: id, Status: StatusFailed, Message: CanceledMessage}
		if job, err := q.loadJob(ctx, namespace, id); err == nil {
			result.ChunkIndex = job.ChunkIndex
		}
		if err := q.finish(ctx, namespace, id, result); err != nil {
			return err
		}
	}

	return q.client.Del(ctx, waitKey(namespace)).Err()
}

func (q *RedisQueue) AwaitAll(ctx context.Context, handles []Handle) ([]Result, error) {
	results := make([]Result, len(handles))
	pending := make(map[int]struct{}, len(handles))
	for i := range handles {
		pending[i] = struct{}{}
	}

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		if err := q.collect(ctx, handles, pending, results); err != nil {
			return nil, err
		}
		if len(pending) == 0 {
			return results, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("awaiting %d of %d jobs: %w", len(pending), len(handles), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (q *RedisQueue) collect(ctx context.Context, handles []Handle, pending map[int]struct{}, results []Result) error {
	byNamespace := make(map[string][]int)
	for i := range pending {
		ns := handles[i].Namespace
		byNamespace[ns] = append(byNamespace[ns], i)
	}

	for ns, indexes := range byNamespace {
		ids := make([]string, len(indexes))
		for j, i := range indexes {
			ids[j] = handles[i].JobID
		}

		values, err := q.client.HMGet(ctx, resultsKey(ns), ids...).Result()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("awaiting jobs: %w", ctx.Err())
			}
			return fmt.Errorf("failed to read results for %s: %w", ns, err)
		}

		for j, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var result Result
			if err := json.Unmarshal([]byte(raw), &result); err != nil {
				return fmt.Errorf("failed to decode result for job %s: %w", ids[j], err)
			}
			results[indexes[j]] = result
			delete(pending, indexes[j])
		}
	}
	return nil
}

func (q *RedisQueue) Cleanup(ctx context.Context, namespace string) error {
	if strings.TrimSpace(namespace) == "" {
		return fmt.Errorf("namespace is required")
	}

	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := q.client.Scan(ctx, cursor, namespace+":*", scanCount).Result()
		if err != nil {
			return fmt.Errorf("failed to scan namespace %s: %w", namespace, err)
		}
		if len(keys) > 0 {
			if err := q.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete namespace %s: %w", namespace, err)
			}
			removed += len(keys)
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	q.logger.Debug("queue namespace removed",
		zap.String("namespace", namespace),
		zap.Int("keys", removed),
	)
	return nil
}

func waitKey(ns string) string { return ns + ":wait" }
func activeKey(ns string) string { return ns + ":active" }
func attemptsKey(ns string) string { return ns + ":attempts" }
func resultsKey(ns string) string { return ns + ":results" }
func jobKey(ns, id string) string { return ns + ":job:" + id }
