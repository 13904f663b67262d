package domain

import (
	"strconv"
	"time"
)

// Outcome is the four-way verification verdict shared by the ledger client and the resolver.
type Outcome int

const (
	OutcomeNotFound Outcome = 0
	OutcomeValid    Outcome = 1
	OutcomeExpired  Outcome = 2
	OutcomeRevoked  Outcome = 3
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "NOT_FOUND"
	case OutcomeValid:
		return "VALID"
	case OutcomeExpired:
		return "EXPIRED"
	case OutcomeRevoked:
		return "REVOKED"
	}
	return "UNKNOWN(" + strconv.Itoa(int(o)) + ")"
}

func (o Outcome) IsValid() bool {
	return o >= OutcomeNotFound && o <= OutcomeRevoked
}

// VerificationLog records a successful verification for issuer reporting.
type VerificationLog struct {
	ID                string
	CertificateNumber string
	IssuerID          string
	CourseName        string
	Outcome           Outcome
	VerifiedAt        time.Time
}
