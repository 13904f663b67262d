// Package jobqueue runs batch chunks through a persistent queue, one isolated namespace per batch.
package jobqueue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/certanchor/internal/domain"
)

const namespacePrefix = "certanchor:batch:"

// JobStatus is the terminal state a chunk reports.
type JobStatus string

const (
	StatusSuccess JobStatus = "SUCCESS"
	StatusFailed  JobStatus = "FAILED"
)

// CanceledMessage is the result message for jobs stopped by batch cancellation.
const CanceledMessage = "canceled"

// Job is one chunk of a batch submission.
type Job struct {
	ID              string                   `json:"id"`
	ChunkIndex      int                      `json:"chunkIndex"`
	BatchToken      string                   `json:"batchToken"`
	Records         []domain.CandidateRecord `json:"records"`
	AttemptsAllowed int                      `json:"attemptsAllowed"`

	// Attempt is the 1-based delivery count, set by the queue before the handler runs.
	Attempt int `json:"-"`
}

// Result is the structured outcome a worker stores for a job.
type Result struct {
	JobID      string    `json:"jobId"`
	ChunkIndex int       `json:"chunkIndex"`
	Status     JobStatus `json:"status"`
	Message    string    `json:"message,omitempty"`
	Details    []string  `json:"details,omitempty"`
	Attempts   int       `json:"attempts"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (r Result) Failed() bool {
	return r.Status != StatusSuccess
}

// Canceled reports whether the job was stopped by batch cancellation rather than failing on its own.
func (r Result) Canceled() bool {
	return r.Status == StatusFailed && r.Message == CanceledMessage
}

// LastAttempt reports whether a handler error on this delivery will be terminal.
func (j Job) LastAttempt() bool {
	return j.Attempt >= j.AttemptsAllowed
}

// ExhaustedResult is the terminal result of a job whose handler failed on every attempt.
func ExhaustedResult(job Job, err error) Result {
	return Result{
		Status:  StatusFailed,
		Message: fmt.Sprintf("chunk %d failed after %d attempts", job.ChunkIndex, job.Attempt),
		Details: []string{err.Error()},
	}
}

// Handle identifies an enqueued job inside its namespace.
type Handle struct {
	Namespace  string
	JobID      string
	ChunkIndex int
}

// Handler processes one job. A returned Result is terminal. A returned error is treated as a
// transient worker failure and the job is retried while attempts remain.
type Handler func(ctx context.Context, job Job) (Result, error)

type Queue interface {
	Enqueue(ctx context.Context, namespace string, job Job) (Handle, error)
	// Process runs workers over the namespace until it is empty or ctx ends. Jobs still
	// waiting when ctx ends are recorded as failed with CanceledMessage.
	Process(ctx context.Context, namespace string, concurrency int, handler Handler) error
	// AwaitAll blocks until every handle has a result and returns them in handle order.
	AwaitAll(ctx context.Context, handles []Handle) ([]Result, error)
	// Cleanup removes every key of the namespace. Calling it again is a no-op.
	Cleanup(ctx context.Context, namespace string) error
}

// Namespace derives the queue namespace owned by one batch submission.
func Namespace(batchToken string) string {
	return namespacePrefix + strings.TrimSpace(batchToken)
}

// JobID is the default id for the chunk at index.
func JobID(chunkIndex int) string {
	return fmt.Sprintf("chunk-%d", chunkIndex)
}
