package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/certanchor/internal/domain"
	"github.com/kursadbilgin/certanchor/internal/ledger"
	"github.com/kursadbilgin/certanchor/internal/merkle"
	"github.com/kursadbilgin/certanchor/internal/observability"
	"github.com/kursadbilgin/certanchor/internal/repository"
	"github.com/kursadbilgin/certanchor/internal/validation"
	"go.uber.org/zap"
)

const (
	defaultBatchTimeout = 10 * time.Minute
	bookkeepingTimeout  = 10 * time.Second
)

// BatchDispatcher runs validated records through the chunk pipeline.
type BatchDispatcher interface {
	Dispatch(ctx context.Context, bc BatchContext, records []domain.CandidateRecord) (DispatchOutcome, error)
}

// BatchAnchor writes a Merkle root to the ledger.
type BatchAnchor interface {
	IssueBatch(ctx context.Context, root [32]byte) (ledger.Receipt, error)
}

type BatchServiceConfig struct {
	// Timeout bounds one submission from dispatch to verdict.
	Timeout time.Duration
	// Plan overrides PlanFor when both fields are positive.
	Plan Plan
}

// SubmitOutcome is what a caller learns about one submission.
type SubmitOutcome struct {
	Accepted   bool
	BatchToken string
	Reason     string
	Details    []string
	Failures   []validation.Failure
	BatchIndex *uint64
	TxHash     string
}

type BatchService struct {
	validator    *validation.Validator
	dispatcher   BatchDispatcher
	batches      repository.BatchRepository
	certificates repository.CertificateRepository
	anchor       BatchAnchor
	cfg          BatchServiceConfig
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time
	newToken     func() string
}

// NewBatchService wires the submission pipeline. A nil anchor accepts batches without issuing
// them on the ledger.
func NewBatchService(
	validator *validation.Validator,
	dispatcher BatchDispatcher,
	batches repository.BatchRepository,
	certificates repository.CertificateRepository,
	anchor BatchAnchor,
	cfg BatchServiceConfig,
	logger *zap.Logger,
) (*BatchService, error) {
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if anchor != nil && certificates == nil {
		return nil, fmt.Errorf("certificate repository is required for anchoring")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultBatchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		validator:    validator,
		dispatcher:   dispatcher,
		batches:      batches,
		certificates: certificates,
		anchor:       anchor,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
		newToken:     uuid.NewString,
	}, nil
}

func (s *BatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Submit validates the records, runs them through the chunk pipeline and, when an anchor is
// configured, issues the batch on the ledger. The batch succeeds or fails as a whole. The
// returned error is reserved for infrastructure failures.
func (s *BatchService) Submit(ctx context.Context, issuerID string, records []domain.CandidateRecord) (SubmitOutcome, error) {
	issuerID = strings.TrimSpace(issuerID)
	if issuerID == "" {
		return SubmitOutcome{}, fmt.Errorf("%w: issuer id is required", domain.ErrValidation)
	}

	records = append([]domain.CandidateRecord(nil), records...)
	domain.NumberRows(records)

	check, err := s.validator.Validate(ctx, records)
	if err != nil {
		return SubmitOutcome{}, err
	}
	if !check.OK {
		s.countBatch(domain.BatchStatusRejected)
		return SubmitOutcome{
			Reason:   check.Failures[0].Message,
			Details:  check.Messages(),
			Failures: check.Failures,
		}, nil
	}

	plan := PlanFor(len(records))
	if s.cfg.Plan.ChunkSize > 0 && s.cfg.Plan.Concurrency > 0 {
		plan = s.cfg.Plan
	}

	token := s.newToken()
	ctx = observability.WithBatch(ctx, token, issuerID)
	logger := observability.WithContextLogger(s.logger, ctx)
	bc := NewBatchContext(token, issuerID, len(records), plan, s.logger)

	submission := &domain.BatchSubmission{
		ID:         token,
		IssuerID:   issuerID,
		TotalCount: len(records),
		ChunkCount: plan.ChunkCount(len(records)),
		Status:     domain.BatchStatusProcessing,
	}
	if err := s.batches.Create(ctx, submission); err != nil {
		return SubmitOutcome{}, fmt.Errorf("failed to record batch submission: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	dispatched, err := s.dispatcher.Dispatch(runCtx, bc, records)
	if err != nil {
		s.complete(ctx, token, domain.BatchStatusRejected, err.Error())
		return SubmitOutcome{BatchToken: token}, err
	}
	if !dispatched.Succeeded {
		first := dispatched.FirstFailure
		details := first.Details
		if len(details) == 0 {
			details = []string{first.Message}
		}
		s.complete(ctx, token, domain.BatchStatusRejected, first.Message)
		logger.Info("batch rejected",
			zap.Int("chunk", first.ChunkIndex),
			zap.String("reason", first.Message),
		)
		return SubmitOutcome{
			BatchToken: token,
			Reason:     first.Message,
			Details:    details,
		}, nil
	}

	outcome := SubmitOutcome{Accepted: true, BatchToken: token}
	if s.anchor != nil {
		anchored, err := s.anchorBatch(runCtx, issuerID, records)
		if err != nil {
			var pending *ledger.PendingError
			if errors.As(err, &pending) {
				reason := fmt.Sprintf("ledger anchoring unconfirmed, reconcile tx %s", pending.TxHash)
				s.complete(ctx, token, domain.BatchStatusRejected, reason)
				logger.Error("batch root broadcast but not confirmed",
					zap.String("txHash", pending.TxHash),
					zap.Error(err),
				)
				return SubmitOutcome{BatchToken: token, Reason: reason, TxHash: pending.TxHash}, err
			}

			reason := fmt.Sprintf("ledger anchoring failed: %v", err)
			s.complete(ctx, token, domain.BatchStatusRejected, reason)
			logger.Warn("batch anchoring failed", zap.Error(err))

			var business *ledger.BusinessError
			if errors.As(err, &business) || errors.Is(err, domain.ErrDuplicate) {
				return SubmitOutcome{BatchToken: token, Reason: reason, Details: []string{err.Error()}}, nil
			}
			return SubmitOutcome{BatchToken: token, Reason: reason}, err
		}
		outcome.BatchIndex = &anchored.BatchIndex
		outcome.TxHash = anchored.TxHash
	}

	s.complete(ctx, token, domain.BatchStatusAccepted, "")
	logger.Info("batch accepted",
		zap.Int("records", len(records)),
		zap.Int("chunks", dispatched.ChunkCount),
	)
	return outcome, nil
}

// anchorBatch issues the Merkle root of records and stores each certificate with its proof.
func (s *BatchService) anchorBatch(ctx context.Context, issuerID string, records []domain.CandidateRecord) (ledger.Receipt, error) {
	leaves := make([]merkle.Hash, len(records))
	for i, r := range records {
		leaves[i] = CertificateLeaf(issuerID, r)
	}
	root, err := merkle.Root(leaves)
	if err != nil {
		return ledger.Receipt{}, err
	}

	receipt, err := s.anchor.IssueBatch(ctx, root)
	if err != nil {
		return ledger.Receipt{}, err
	}

	certificates := make([]*domain.Certificate, len(records))
	for i, r := range records {
		proof, err := merkle.Proof(leaves, i)
		if err != nil {
			return ledger.Receipt{}, err
		}
		batchIndex := receipt.BatchIndex
		certificates[i] = &domain.Certificate{
			CertificateNumber: strings.TrimSpace(r.Identifier),
			IssuerID:          issuerID,
			HolderName:        strings.TrimSpace(r.HolderName),
			CourseName:        strings.TrimSpace(r.DocumentLabel),
			GrantDate:         strings.TrimSpace(r.GrantDate),
			ExpirationDate:    strings.TrimSpace(r.ExpirationDate),
			Status:            domain.StatusIssued,
			CertificateHash:   merkle.FormatHash(leaves[i]),
			TransactionHash:   receipt.TxHash,
			BatchID:           &batchIndex,
			ProofHash:         merkle.FormatHashes(proof),
			EncodedProof:      merkle.FormatHash(merkle.EncodeProof(leaves[i], proof)),
		}
	}

	if err := s.certificates.CreateBatch(context.WithoutCancel(ctx), certificates); err != nil {
		return ledger.Receipt{}, fmt.Errorf("batch %d anchored but not stored: %w", receipt.BatchIndex, err)
	}
	return receipt, nil
}

func (s *BatchService) complete(ctx context.Context, token string, status domain.BatchStatus, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	if err := s.batches.Complete(ctx, token, status, reasonPtr); err != nil {
		observability.WithContextLogger(s.logger, ctx).Error("failed to record batch verdict",
			zap.String("status", status.String()),
			zap.Error(err),
		)
	}
	s.countBatch(status)
}

func (s *BatchService) countBatch(status domain.BatchStatus) {
	if s.metrics != nil {
		s.metrics.IncBatch(status.String())
	}
}

// CertificateLeaf is the Merkle leaf committing to one certificate's content.
func CertificateLeaf(issuerID string, r domain.CandidateRecord) merkle.Hash {
	parts := []string{
		strings.TrimSpace(issuerID),
		strings.TrimSpace(r.Identifier),
		strings.TrimSpace(r.HolderName),
		strings.TrimSpace(r.DocumentLabel),
		strings.TrimSpace(r.GrantDate),
		strings.TrimSpace(r.ExpirationDate),
	}

	keys := make([]string, 0, len(r.CustomFields))
	for k := range r.CustomFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+r.CustomFields[k])
	}

	return merkle.HashLeaf([]byte(strings.Join(parts, "\x1f")))
}
