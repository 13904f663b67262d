// Package ledger talks to the certificate registry contract with bounded retries.
package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// StatusCode is the certificate status as the contract reports it.
type StatusCode uint8

const (
	StatusUnknown     StatusCode = 0
	StatusIssued      StatusCode = 1
	StatusRenewed     StatusCode = 2
	StatusRevoked     StatusCode = 3
	StatusReactivated StatusCode = 4
	StatusExpired     StatusCode = 5
)

func (c StatusCode) String() string {
	switch c {
	case StatusIssued:
		return "issued"
	case StatusRenewed:
		return "renewed"
	case StatusRevoked:
		return "revoked"
	case StatusReactivated:
		return "reactivated"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// CertificateInfo is what the contract returns for a single-certificate lookup.
type CertificateInfo struct {
	Valid     bool
	IssuerID  string
	Course    string
	ExpiresAt uint64
}

// MinedTx is a write transaction after it was included in a block.
type MinedTx struct {
	TxHash string
	// BatchIndex is set when the transaction emitted BatchIssued.
	BatchIndex  uint64
	BatchIssued bool
}

// Contract is the narrow surface of the registry contract this service uses.
// Write methods broadcast the transaction and return its hash without waiting for a block.
// A broadcast whose delivery is unknown comes back as *PendingError.
type Contract interface {
	VerifyCertificateByID(ctx context.Context, id string) (CertificateInfo, error)
	GetCertificateStatus(ctx context.Context, id string) (StatusCode, error)
	VerifyBatchCertification(ctx context.Context, batchIndex uint64, leaf [32]byte, proof [][32]byte) (bool, error)
	VerifyCertificateInBatch(ctx context.Context, encodedProof [32]byte) (StatusCode, error)

	IssueCertificate(ctx context.Context, id string, certHash [32]byte, expiresAt uint64) (string, error)
	IssueBatch(ctx context.Context, root [32]byte) (string, error)
	UpdateCertificateStatus(ctx context.Context, id string, status StatusCode) (string, error)
	UpdateBatchCertificateStatus(ctx context.Context, encodedProof [32]byte, status StatusCode) (string, error)
	GrantRole(ctx context.Context, role [32]byte, account common.Address) (string, error)

	// WaitMined blocks until txHash is mined. A reverted transaction is a *BusinessError.
	WaitMined(ctx context.Context, txHash string) (MinedTx, error)
}
