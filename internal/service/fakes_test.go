package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/certanchor/internal/domain"
	"github.com/kursadbilgin/certanchor/internal/ledger"
)

func validRecords(n int) []domain.CandidateRecord {
	records := make([]domain.CandidateRecord, n)
	for i := range records {
		records[i] = domain.CandidateRecord{
			Row:            i + 1,
			Identifier:     fmt.Sprintf("CERT%06d", i+1),
			HolderName:     "Ada Lovelace",
			DocumentLabel:  "Go Fundamentals",
			GrantDate:      "01/15/2024",
			ExpirationDate: domain.NoExpiration,
		}
	}
	return records
}

// memoryCertificateRepo keeps certificates in a map. Fn fields override the map behaviour.
type memoryCertificateRepo struct {
	mu    sync.Mutex
	certs map[string]*domain.Certificate

	existsFn       func(ctx context.Context, id string) (bool, error)
	getFn          func(ctx context.Context, id string) (*domain.Certificate, error)
	createBatchFn  func(ctx context.Context, certificates []*domain.Certificate) error
	updateStatusFn func(ctx context.Context, id string, status domain.Status) error
}

func newMemoryCertificateRepo(certs ...*domain.Certificate) *memoryCertificateRepo {
	repo := &memoryCertificateRepo{certs: make(map[string]*domain.Certificate)}
	for _, c := range certs {
		repo.certs[c.CertificateNumber] = c
	}
	return repo
}

func (r *memoryCertificateRepo) Create(ctx context.Context, c *domain.Certificate) error {
	return r.CreateBatch(ctx, []*domain.Certificate{c})
}

func (r *memoryCertificateRepo) CreateBatch(ctx context.Context, certificates []*domain.Certificate) error {
	if r.createBatchFn != nil {
		return r.createBatchFn(ctx, certificates)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range certificates {
		if _, ok := r.certs[c.CertificateNumber]; ok {
			return domain.ErrDuplicate
		}
	}
	for _, c := range certificates {
		cp := *c
		r.certs[c.CertificateNumber] = &cp
	}
	return nil
}

func (r *memoryCertificateRepo) Get(ctx context.Context, id string) (*domain.Certificate, error) {
	if r.getFn != nil {
		return r.getFn(ctx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.certs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memoryCertificateRepo) Exists(ctx context.Context, id string) (bool, error) {
	if r.existsFn != nil {
		return r.existsFn(ctx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.certs[id]
	return ok, nil
}

func (r *memoryCertificateRepo) ExistingIdentifiers(ctx context.Context, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	for _, id := range ids {
		ok, err := r.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			existing[id] = true
		}
	}
	return existing, nil
}

func (r *memoryCertificateRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	if r.updateStatusFn != nil {
		return r.updateStatusFn(ctx, id, status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.certs[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	return nil
}

type fakeBatchRepo struct {
	mu        sync.Mutex
	created   []domain.BatchSubmission
	completed map[string]domain.BatchStatus
	reasons   map[string]string

	createFn    func(ctx context.Context, b *domain.BatchSubmission) error
	completeFn  func(ctx context.Context, id string, status domain.BatchStatus, reason *string) error
	listStaleFn func(ctx context.Context, olderThan time.Time, limit int) ([]domain.BatchSubmission, error)
}

func (f *fakeBatchRepo) Create(ctx context.Context, b *domain.BatchSubmission) error {
	if f.createFn != nil {
		return f.createFn(ctx, b)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *b)
	return nil
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.BatchSubmission, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeBatchRepo) Complete(ctx context.Context, id string, status domain.BatchStatus, reason *string) error {
	if f.completeFn != nil {
		return f.completeFn(ctx, id, status, reason)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed == nil {
		f.completed = make(map[string]domain.BatchStatus)
		f.reasons = make(map[string]string)
	}
	f.completed[id] = status
	if reason != nil {
		f.reasons[id] = *reason
	}
	return nil
}

func (f *fakeBatchRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.BatchSubmission, error) {
	if f.listStaleFn != nil {
		return f.listStaleFn(ctx, olderThan, limit)
	}
	return nil, nil
}

type fakeLedger struct {
	mu                sync.Mutex
	singleCalls       int
	batchCalls        int
	updateStatuses    []ledger.StatusCode
	batchUpdateCalls  int
	verifySingleFn    func(ctx context.Context, id string) (ledger.Verification, error)
	verifyBatchFn     func(ctx context.Context, batchIndex uint64, leaf [32]byte, proof [][32]byte, encoded [32]byte) (ledger.Verification, error)
	updateStatusFn    func(ctx context.Context, id string, status ledger.StatusCode) (ledger.Receipt, error)
	updateBatchStatus func(ctx context.Context, encoded [32]byte, status ledger.StatusCode) (ledger.Receipt, error)
}

func (f *fakeLedger) VerifySingle(ctx context.Context, id string) (ledger.Verification, error) {
	f.mu.Lock()
	f.singleCalls++
	f.mu.Unlock()
	if f.verifySingleFn != nil {
		return f.verifySingleFn(ctx, id)
	}
	return ledger.Verification{Outcome: domain.OutcomeNotFound}, nil
}

func (f *fakeLedger) VerifyBatch(ctx context.Context, batchIndex uint64, leaf [32]byte, proof [][32]byte, encoded [32]byte) (ledger.Verification, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()
	if f.verifyBatchFn != nil {
		return f.verifyBatchFn(ctx, batchIndex, leaf, proof, encoded)
	}
	return ledger.Verification{Outcome: domain.OutcomeNotFound}, nil
}

func (f *fakeLedger) UpdateStatus(ctx context.Context, id string, status ledger.StatusCode) (ledger.Receipt, error) {
	f.mu.Lock()
	f.updateStatuses = append(f.updateStatuses, status)
	f.mu.Unlock()
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, status)
	}
	return ledger.Receipt{TxHash: "0xstatus"}, nil
}

func (f *fakeLedger) UpdateBatchStatus(ctx context.Context, encoded [32]byte, status ledger.StatusCode) (ledger.Receipt, error) {
	f.mu.Lock()
	f.batchUpdateCalls++
	f.mu.Unlock()
	if f.updateBatchStatus != nil {
		return f.updateBatchStatus(ctx, encoded, status)
	}
	return ledger.Receipt{TxHash: "0xbatchstatus"}, nil
}
