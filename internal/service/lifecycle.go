package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/certanchor/internal/domain"
	"github.com/kursadbilgin/certanchor/internal/ledger"
	"github.com/kursadbilgin/certanchor/internal/merkle"
	"github.com/kursadbilgin/certanchor/internal/repository"
	"go.uber.org/zap"
)

// StatusWriter pushes certificate status changes to the ledger.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, id string, status ledger.StatusCode) (ledger.Receipt, error)
	UpdateBatchStatus(ctx context.Context, encodedProof [32]byte, status ledger.StatusCode) (ledger.Receipt, error)
}

// Lifecycle moves issued certificates between statuses. The ledger is updated first and the
// store follows, so a failed ledger write leaves the store untouched.
type Lifecycle struct {
	certificates repository.CertificateRepository
	ledger       StatusWriter
	logger       *zap.Logger
}

func NewLifecycle(certificates repository.CertificateRepository, writer StatusWriter, logger *zap.Logger) (*Lifecycle, error) {
	if certificates == nil {
		return nil, fmt.Errorf("certificate repository is required")
	}
	if writer == nil {
		return nil, fmt.Errorf("ledger status writer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Lifecycle{
		certificates: certificates,
		ledger:       writer,
		logger:       logger,
	}, nil
}

func (l *Lifecycle) Renew(ctx context.Context, id string) (ledger.Receipt, error) {
	return l.transition(ctx, id, domain.StatusRenewed)
}

func (l *Lifecycle) Revoke(ctx context.Context, id string) (ledger.Receipt, error) {
	return l.transition(ctx, id, domain.StatusRevoked)
}

func (l *Lifecycle) Reactivate(ctx context.Context, id string) (ledger.Receipt, error) {
	return l.transition(ctx, id, domain.StatusReactivated)
}

func (l *Lifecycle) transition(ctx context.Context, id string, to domain.Status) (ledger.Receipt, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ledger.Receipt{}, fmt.Errorf("%w: certificate id is required", domain.ErrValidation)
	}

	cert, err := l.certificates.Get(ctx, id)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("failed to load certificate %s: %w", id, err)
	}
	if !domain.CanTransition(cert.Status, to) {
		return ledger.Receipt{}, fmt.Errorf("%w: certificate %s cannot move from %s to %s",
			domain.ErrConflict, id, cert.Status, to)
	}

	code := ledger.StatusFromDomain(to)
	var receipt ledger.Receipt
	if cert.IsBatch() {
		encoded, parseErr := merkle.ParseHash(cert.EncodedProof)
		if parseErr != nil {
			return ledger.Receipt{}, fmt.Errorf("%w: certificate %s has a malformed proof: %v",
				domain.ErrAmbiguousState, id, parseErr)
		}
		receipt, err = l.ledger.UpdateBatchStatus(ctx, encoded, code)
	} else {
		receipt, err = l.ledger.UpdateStatus(ctx, id, code)
	}
	if err != nil {
		return ledger.Receipt{}, err
	}

	if err := l.certificates.UpdateStatus(context.WithoutCancel(ctx), id, to); err != nil {
		l.logger.Error("ledger status changed but store update failed",
			zap.String("certificateNumber", id),
			zap.String("status", to.String()),
			zap.String("txHash", receipt.TxHash),
			zap.Error(err),
		)
		return receipt, fmt.Errorf("failed to store status %s for %s: %w", to, id, err)
	}

	l.logger.Info("certificate status changed",
		zap.String("certificateNumber", id),
		zap.String("from", cert.Status.String()),
		zap.String("to", to.String()),
		zap.String("txHash", receipt.TxHash),
	)
	return receipt, nil
}
