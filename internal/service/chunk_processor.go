package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/certanchor/internal/domain"
	"github.com/kursadbilgin/certanchor/internal/jobqueue"
	"github.com/kursadbilgin/certanchor/internal/validation"
	"go.uber.org/zap"
)

// CertificateLookup is the read side of the certificate store that workers consult.
type CertificateLookup interface {
	Exists(ctx context.Context, certificateNumber string) (bool, error)
}

// ChunkProcessor re-validates a chunk at processing time. Records are checked in submission
// order and the first violation fails the whole chunk.
type ChunkProcessor struct {
	validator *validation.Validator
	store     CertificateLookup
}

func NewChunkProcessor(validator *validation.Validator, store CertificateLookup) (*ChunkProcessor, error) {
	if store == nil {
		return nil, fmt.Errorf("certificate store is required")
	}
	if validator == nil {
		validator = validation.NewValidator(nil)
	}

	return &ChunkProcessor{
		validator: validator,
		store:     store,
	}, nil
}

// HandleChunk returns a FAILED result for business violations. Store errors come back as
// errors so the queue may retry the chunk.
func (p *ChunkProcessor) HandleChunk(ctx context.Context, bc BatchContext, job jobqueue.Job) (jobqueue.Result, error) {
	logger := bc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if check := p.validator.Check(job.Records); !check.OK {
		return jobqueue.Result{
			Status:  jobqueue.StatusFailed,
			Message: check.Failures[0].Message,
			Details: check.Messages(),
		}, nil
	}

	for _, record := range job.Records {
		if err := ctx.Err(); err != nil {
			return jobqueue.Result{}, err
		}

		id := strings.TrimSpace(record.Identifier)
		exists, err := p.store.Exists(ctx, id)
		if err != nil {
			return jobqueue.Result{}, fmt.Errorf("row %d: failed to check identifier %q: %w", record.Row, id, err)
		}
		if exists {
			failure := validation.ExistingIdentifierFailure(record.Row, id)
			logger.Info("identifier appeared while batch was in flight",
				zap.Int("chunk", job.ChunkIndex),
				zap.Int("row", record.Row),
				zap.String("identifier", id),
			)
			return jobqueue.Result{
				Status:  jobqueue.StatusFailed,
				Message: failure.Message,
				Details: []string{fmt.Sprintf("%s: %s", domain.ErrDuplicate, failure.Message)},
			}, nil
		}
	}

	return jobqueue.Result{
		Status:  jobqueue.StatusSuccess,
		Message: fmt.Sprintf("%d records verified", len(job.Records)),
	}, nil
}
