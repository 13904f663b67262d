package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/certanchor/internal/domain"
	"github.com/kursadbilgin/certanchor/internal/ledger"
	"github.com/kursadbilgin/certanchor/internal/merkle"
	"github.com/kursadbilgin/certanchor/internal/observability"
	"go.uber.org/zap"
)

const defaultRecordTimeout = 5 * time.Second

// CertificateStore is the read side of the certificate store the resolver consults.
type CertificateStore interface {
	Get(ctx context.Context, certificateNumber string) (*domain.Certificate, error)
}

// LedgerVerifier answers verification questions from the ledger.
type LedgerVerifier interface {
	VerifySingle(ctx context.Context, id string) (ledger.Verification, error)
	VerifyBatch(ctx context.Context, batchIndex uint64, dataHash [32]byte, proof [][32]byte, encodedProof [32]byte) (ledger.Verification, error)
}

// VerificationRecorder receives a log entry for every successful verification.
type VerificationRecorder interface {
	Record(ctx context.Context, log domain.VerificationLog) error
}

// Resolution is the single verdict for one identifier plus the fields shown to the caller.
type Resolution struct {
	CertificateNumber string
	Outcome           domain.Outcome
	IssuerID          string
	HolderName        string
	CourseName        string
	GrantDate         string
	ExpirationDate    string
	TransactionHash   string
	BatchIndex        *uint64
	// Anomaly is set when the store and the ledger disagree. It wraps domain.ErrAmbiguousState.
	Anomaly error
}

type Resolver struct {
	store    CertificateStore
	ledger   LedgerVerifier
	recorder VerificationRecorder
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	newID    func() string

	recordTimeout time.Duration
	pending       sync.WaitGroup
}

// NewResolver builds a resolver. A nil recorder disables verification logs.
func NewResolver(store CertificateStore, verifier LedgerVerifier, recorder VerificationRecorder, logger *zap.Logger) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("certificate store is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("ledger verifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		store:         store,
		ledger:        verifier,
		recorder:      recorder,
		logger:        logger,
		now:           time.Now,
		newID:         uuid.NewString,
		recordTimeout: defaultRecordTimeout,
	}, nil
}

func (r *Resolver) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Fold combines the stored certificate with the ledger outcome. A nil stored certificate means
// the store has no record. Ledger revocation and expiry win whatever the store says; after
// that a stored revocation rejects on its own.
func Fold(stored *domain.Certificate, fromLedger domain.Outcome) (domain.Outcome, error) {
	if stored == nil {
		if fromLedger == domain.OutcomeValid {
			return domain.OutcomeValid, nil
		}
		return domain.OutcomeNotFound, nil
	}

	switch fromLedger {
	case domain.OutcomeRevoked, domain.OutcomeExpired:
		return fromLedger, nil
	}
	if stored.Status == domain.StatusRevoked {
		return domain.OutcomeRevoked, nil
	}
	if fromLedger == domain.OutcomeValid && stored.Status.IsActive() {
		return domain.OutcomeValid, nil
	}
	return domain.OutcomeNotFound, fmt.Errorf("%w: %s is %s in the store but %s on the ledger",
		domain.ErrAmbiguousState, stored.CertificateNumber, stored.Status, fromLedger)
}

// Resolve returns exactly one outcome for id, or an error wrapping
// ledger.ErrServiceUnavailable when the ledger cannot be reached.
func (r *Resolver) Resolve(ctx context.Context, id string) (Resolution, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Resolution{}, fmt.Errorf("%w: certificate id is required", domain.ErrValidation)
	}

	stored, err := r.store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		stored, err = nil, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load certificate %s: %w", id, err)
	}

	res, err := r.resolve(ctx, id, stored)
	if err != nil {
		return Resolution{}, err
	}

	if res.Anomaly != nil {
		r.logger.Warn("certificate state disagrees with ledger",
			zap.String("certificateNumber", id),
			zap.Error(res.Anomaly),
		)
	}
	if r.metrics != nil {
		r.metrics.IncVerification(res.Outcome.String())
	}
	if res.Outcome == domain.OutcomeValid {
		r.record(ctx, res)
	}
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, id string, stored *domain.Certificate) (Resolution, error) {
	if stored == nil {
		v, err := r.ledger.VerifySingle(ctx, id)
		if err != nil {
			return Resolution{}, err
		}
		outcome, _ := Fold(nil, v.Outcome)
		res := Resolution{CertificateNumber: id, Outcome: outcome}
		if outcome == domain.OutcomeValid {
			res.IssuerID = v.Info.IssuerID
			res.CourseName = v.Info.Course
			if v.Info.ExpiresAt > 0 {
				res.ExpirationDate = time.Unix(int64(v.Info.ExpiresAt), 0).UTC().Format(domain.DateLayout)
			}
		}
		return res, nil
	}

	res := Resolution{
		CertificateNumber: stored.CertificateNumber,
		IssuerID:          stored.IssuerID,
		HolderName:        stored.HolderName,
		CourseName:        stored.CourseName,
		GrantDate:         stored.GrantDate,
		ExpirationDate:    stored.ExpirationDate,
		TransactionHash:   stored.TransactionHash,
		BatchIndex:        stored.BatchID,
	}

	if stored.Status == domain.StatusRevoked {
		res.Outcome = domain.OutcomeRevoked
		return res, nil
	}

	var (
		v   ledger.Verification
		err error
	)
	if stored.IsBatch() {
		v, err = r.verifyBatch(ctx, stored)
		if errors.Is(err, merkle.ErrMalformedHash) {
			res.Outcome = domain.OutcomeNotFound
			res.Anomaly = fmt.Errorf("%w: stored proof for %s is malformed: %v", domain.ErrAmbiguousState, id, err)
			return res, nil
		}
	} else {
		v, err = r.ledger.VerifySingle(ctx, id)
	}
	if err != nil {
		return Resolution{}, err
	}

	res.Outcome, res.Anomaly = Fold(stored, v.Outcome)
	return res, nil
}

func (r *Resolver) verifyBatch(ctx context.Context, stored *domain.Certificate) (ledger.Verification, error) {
	leaf, err := merkle.ParseHash(stored.CertificateHash)
	if err != nil {
		return ledger.Verification{}, err
	}
	proof, err := merkle.ParseHashes(stored.ProofHash)
	if err != nil {
		return ledger.Verification{}, err
	}
	encoded, err := merkle.ParseHash(stored.EncodedProof)
	if err != nil {
		return ledger.Verification{}, err
	}
	return r.ledger.VerifyBatch(ctx, *stored.BatchID, leaf, proof, encoded)
}

// record hands the log entry to the recorder without blocking the caller. Failures are
// logged only.
func (r *Resolver) record(ctx context.Context, res Resolution) {
	if r.recorder == nil {
		return
	}

	entry := domain.VerificationLog{
		ID:                r.newID(),
		CertificateNumber: res.CertificateNumber,
		IssuerID:          res.IssuerID,
		CourseName:        res.CourseName,
		Outcome:           res.Outcome,
		VerifiedAt:        r.now().UTC(),
	}

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()

		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.recordTimeout)
		defer cancel()

		if err := r.recorder.Record(recordCtx, entry); err != nil {
			r.logger.Error("failed to record verification",
				zap.String("certificateNumber", entry.CertificateNumber),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every pending verification log has been handed off.
func (r *Resolver) Wait() {
	r.pending.Wait()
}
