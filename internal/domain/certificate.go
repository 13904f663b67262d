package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of an issued certificate.
type Status int

const (
	StatusIssued      Status = 1
	StatusRenewed     Status = 2
	StatusRevoked     Status = 3
	StatusReactivated Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusIssued:
		return "ISSUED"
	case StatusRenewed:
		return "RENEWED"
	case StatusRevoked:
		return "REVOKED"
	case StatusReactivated:
		return "REACTIVATED"
	}
	return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
}

func (s Status) IsValid() bool {
	switch s {
	case StatusIssued, StatusRenewed, StatusRevoked, StatusReactivated:
		return true
	}
	return false
}

// IsActive reports whether the status allows a certificate to verify as valid.
func (s Status) IsActive() bool {
	return s.IsValid() && s != StatusRevoked
}

func ParseStatusFromString(s string) (Status, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	for _, st := range []Status{StatusIssued, StatusRenewed, StatusRevoked, StatusReactivated} {
		if st.String() == normalized {
			return st, nil
		}
	}
	if n, err := strconv.Atoi(normalized); err == nil && Status(n).IsValid() {
		return Status(n), nil
	}
	return 0, fmt.Errorf("%w: invalid certificate status %q", ErrValidation, s)
}

var allowedTransitions = map[Status][]Status{
	StatusIssued:      {StatusRenewed, StatusRevoked},
	StatusRenewed:     {StatusRenewed, StatusRevoked},
	StatusRevoked:     {StatusReactivated},
	StatusReactivated: {StatusRenewed, StatusRevoked},
}

// CanTransition reports whether a certificate may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Certificate is an issued certificate as held by the durable store.
type Certificate struct {
	CertificateNumber string
	IssuerID          string
	HolderName        string
	CourseName        string
	GrantDate         string
	ExpirationDate    string
	Status            Status
	CertificateHash   string
	TransactionHash   string

	// Batch-only fields. BatchID is the ledger batch index.
	BatchID      *uint64
	ProofHash    []string
	EncodedProof string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsBatch reports whether the certificate was issued as part of a Merkle batch.
func (c *Certificate) IsBatch() bool {
	return c != nil && c.BatchID != nil
}
