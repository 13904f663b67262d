package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/certanchor/internal/domain"
)

// VerificationMessage is the broker payload for one verification log entry.
type VerificationMessage struct {
	ID                string    `json:"id"`
	CertificateNumber string    `json:"certificateNumber"`
	IssuerID          string    `json:"issuerId,omitempty"`
	CourseName        string    `json:"courseName,omitempty"`
	Outcome           string    `json:"outcome"`
	VerifiedAt        time.Time `json:"verifiedAt"`
}

func MessageFromLog(l domain.VerificationLog) VerificationMessage {
	return VerificationMessage{
		ID:                l.ID,
		CertificateNumber: l.CertificateNumber,
		IssuerID:          l.IssuerID,
		CourseName:        l.CourseName,
		Outcome:           l.Outcome.String(),
		VerifiedAt:        l.VerifiedAt.UTC(),
	}
}

func (m VerificationMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(m.CertificateNumber) == "" {
		return fmt.Errorf("certificateNumber is required")
	}
	if _, err := parseOutcome(m.Outcome); err != nil {
		return err
	}
	if m.VerifiedAt.IsZero() {
		return fmt.Errorf("verifiedAt is required")
	}
	return nil
}

// ToLog converts a validated message back into a log entry.
func (m VerificationMessage) ToLog() (domain.VerificationLog, error) {
	if err := m.Validate(); err != nil {
		return domain.VerificationLog{}, err
	}
	outcome, _ := parseOutcome(m.Outcome)
	return domain.VerificationLog{
		ID:                m.ID,
		CertificateNumber: m.CertificateNumber,
		IssuerID:          m.IssuerID,
		CourseName:        m.CourseName,
		Outcome:           outcome,
		VerifiedAt:        m.VerifiedAt.UTC(),
	}, nil
}

func parseOutcome(s string) (domain.Outcome, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	for _, o := range []domain.Outcome{domain.OutcomeNotFound, domain.OutcomeValid, domain.OutcomeExpired, domain.OutcomeRevoked} {
		if o.String() == normalized {
			return o, nil
		}
	}
	return 0, fmt.Errorf("invalid outcome %q", s)
}
