package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSimulatedCertificateLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sim := NewSimulated()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sim.now = func() time.Time { return now }

	expiresAt := uint64(now.Add(24 * time.Hour).Unix())
	if _, err := sim.IssueCertificate(ctx, "CERT000001", [32]byte{1}, expiresAt); err != nil {
		t.Fatalf("IssueCertificate() error = %v", err)
	}
	if _, err := sim.IssueCertificate(ctx, "CERT000001", [32]byte{1}, expiresAt); !errors.Is(err, errSimAlreadyIssued) {
		t.Fatalf("second IssueCertificate() error = %v, want already issued", err)
	}

	info, _ := sim.VerifyCertificateByID(ctx, "CERT000001")
	status, _ := sim.GetCertificateStatus(ctx, "CERT000001")
	if got := MapSingle(info.Valid, status); got.String() != "VALID" {
		t.Fatalf("fresh certificate = %s, want VALID", got)
	}

	now = now.Add(48 * time.Hour)
	info, _ = sim.VerifyCertificateByID(ctx, "CERT000001")
	status, _ = sim.GetCertificateStatus(ctx, "CERT000001")
	if got := MapSingle(info.Valid, status); got.String() != "EXPIRED" {
		t.Fatalf("past expiry = %s, want EXPIRED", got)
	}

	if _, err := sim.UpdateCertificateStatus(ctx, "CERT000001", StatusRevoked); err != nil {
		t.Fatalf("UpdateCertificateStatus() error = %v", err)
	}
	status, _ = sim.GetCertificateStatus(ctx, "CERT000001")
	if status != StatusRevoked {
		t.Fatalf("status = %s, want revoked", status)
	}

	if _, err := sim.UpdateCertificateStatus(ctx, "CERT999999", StatusRevoked); !errors.Is(err, errSimUnknownCert) {
		t.Fatalf("UpdateCertificateStatus(unknown) error = %v, want not found", err)
	}
}

func TestSimulatedUnknownBatchIndex(t *testing.T) {
	t.Parallel()

	ok, err := NewSimulated().VerifyBatchCertification(context.Background(), 7, [32]byte{1}, nil)
	if err != nil {
		t.Fatalf("VerifyBatchCertification() error = %v", err)
	}
	if ok {
		t.Fatal("unknown batch index should not verify")
	}
}

func TestSimulatedTxHashesAreUnique(t *testing.T) {
	t.Parallel()

	sim := NewSimulated()
	first, _ := sim.IssueBatch(context.Background(), [32]byte{1})
	second, _ := sim.IssueBatch(context.Background(), [32]byte{2})
	if first == second {
		t.Fatal("transaction hashes should differ")
	}
}

func TestSimulatedWaitMinedReportsBatchIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sim := NewSimulated()
	if _, err := sim.IssueBatch(ctx, [32]byte{1}); err != nil {
		t.Fatalf("IssueBatch() error = %v", err)
	}
	hash, err := sim.IssueBatch(ctx, [32]byte{2})
	if err != nil {
		t.Fatalf("IssueBatch() error = %v", err)
	}

	mined, err := sim.WaitMined(ctx, hash)
	if err != nil {
		t.Fatalf("WaitMined() error = %v", err)
	}
	if !mined.BatchIssued || mined.BatchIndex != 1 || mined.TxHash != hash {
		t.Fatalf("mined = %+v, want batch 1 for %s", mined, hash)
	}

	if _, err := sim.WaitMined(ctx, "0xdeadbeef"); !errors.Is(err, errSimUnknownTx) {
		t.Fatalf("WaitMined(unknown) error = %v, want unknown tx", err)
	}
}
