package repository

import (
	"reflect"
	"testing"
	"time"

	"github.com/kursadbilgin/certanchor/internal/domain"
)

func TestCertificateModelRoundTripKeepsBatchFields(t *testing.T) {
	t.Parallel()

	batchID := uint64(7)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &domain.Certificate{
		CertificateNumber: "CERT000001",
		IssuerID:          "issuer-1",
		HolderName:        "Ada Lovelace",
		CourseName:        "Analytical Engines",
		GrantDate:         "01/01/2024",
		ExpirationDate:    domain.NoExpiration,
		Status:            domain.StatusIssued,
		CertificateHash:   "0xabc",
		TransactionHash:   "0xdef",
		BatchID:           &batchID,
		ProofHash:         []string{"0x01", "0x02"},
		EncodedProof:      "0x03",
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	out := certificateModelToDomain(certificateModelFromDomain(in))
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
	if !out.IsBatch() {
		t.Fatal("batch certificate lost its batch id")
	}
}

func TestModelConvertersHandleNil(t *testing.T) {
	t.Parallel()

	if certificateModelFromDomain(nil) != nil || certificateModelToDomain(nil) != nil {
		t.Fatal("certificate converters should pass nil through")
	}
	if batchSubmissionModelFromDomain(nil) != nil || batchSubmissionModelToDomain(nil) != nil {
		t.Fatal("batch converters should pass nil through")
	}
	if verificationLogModelFromDomain(nil) != nil || verificationLogModelToDomain(nil) != nil {
		t.Fatal("verification log converters should pass nil through")
	}
}

func TestBatchSubmissionModelKeepsReason(t *testing.T) {
	t.Parallel()

	reason := "row 3: identifier already exists"
	in := &domain.BatchSubmission{ID: "tok", Status: domain.BatchStatusRejected, Reason: &reason}
	out := batchSubmissionModelToDomain(batchSubmissionModelFromDomain(in))
	if out.Reason == nil || *out.Reason != reason {
		t.Fatalf("reason = %v, want %q", out.Reason, reason)
	}
}

func TestTableNames(t *testing.T) {
	t.Parallel()

	if got := (CertificateModel{}).TableName(); got != "certificates" {
		t.Fatalf("certificates table = %q", got)
	}
	if got := (BatchSubmissionModel{}).TableName(); got != "batch_submissions" {
		t.Fatalf("batch table = %q", got)
	}
	if got := (VerificationLogModel{}).TableName(); got != "verification_logs" {
		t.Fatalf("log table = %q", got)
	}
}
