package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kursadbilgin/certanchor/internal/merkle"
)

var (
	errSimAlreadyIssued = errors.New("execution reverted: certificate already issued")
	errSimUnknownCert   = errors.New("execution reverted: certificate not found")
	errSimUnknownTx     = errors.New("transaction not found")
)

type simCertificate struct {
	hash      [32]byte
	expiresAt uint64
	status    StatusCode
}

// Simulated is an in-memory registry contract for local runs and tests. It applies the same
// sorted-pair Merkle check the deployed contract does.
type Simulated struct {
	mu sync.Mutex

	certificates map[string]*simCertificate
	roots        []merkle.Hash
	leafStatus   map[[32]byte]StatusCode
	roles        map[[32]byte]map[common.Address]bool
	mined        map[string]MinedTx
	txCount      uint64

	now func() time.Time
}

func NewSimulated() *Simulated {
	return &Simulated{
		certificates: make(map[string]*simCertificate),
		leafStatus:   make(map[[32]byte]StatusCode),
		roles:        make(map[[32]byte]map[common.Address]bool),
		mined:        make(map[string]MinedTx),
		now:          time.Now,
	}
}

func (s *Simulated) VerifyCertificateByID(ctx context.Context, id string) (CertificateInfo, error) {
	if err := ctx.Err(); err != nil {
		return CertificateInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, ok := s.certificates[id]
	if !ok {
		return CertificateInfo{}, nil
	}
	status := s.effectiveStatus(cert)
	return CertificateInfo{
		Valid:     status != StatusRevoked && status != StatusExpired,
		ExpiresAt: cert.expiresAt,
	}, nil
}

func (s *Simulated) GetCertificateStatus(ctx context.Context, id string) (StatusCode, error) {
	if err := ctx.Err(); err != nil {
		return StatusUnknown, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, ok := s.certificates[id]
	if !ok {
		return StatusUnknown, nil
	}
	return s.effectiveStatus(cert), nil
}

func (s *Simulated) VerifyBatchCertification(ctx context.Context, batchIndex uint64, leaf [32]byte, proof [][32]byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if batchIndex >= uint64(len(s.roots)) {
		return false, nil
	}
	return merkle.Verify(s.roots[batchIndex], leaf, proof), nil
}

func (s *Simulated) VerifyCertificateInBatch(ctx context.Context, encodedProof [32]byte) (StatusCode, error) {
	if err := ctx.Err(); err != nil {
		return StatusUnknown, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.leafStatus[encodedProof], nil
}

func (s *Simulated) IssueCertificate(ctx context.Context, id string, certHash [32]byte, expiresAt uint64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.certificates[id]; exists {
		return "", errSimAlreadyIssued
	}
	s.certificates[id] = &simCertificate{hash: certHash, expiresAt: expiresAt, status: StatusIssued}
	return s.nextTxHash(), nil
}

func (s *Simulated) IssueBatch(ctx context.Context, root [32]byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roots = append(s.roots, root)
	hash := s.nextTxHash()
	s.mined[hash] = MinedTx{TxHash: hash, BatchIndex: uint64(len(s.roots) - 1), BatchIssued: true}
	return hash, nil
}

func (s *Simulated) UpdateCertificateStatus(ctx context.Context, id string, status StatusCode) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, ok := s.certificates[id]
	if !ok {
		return "", errSimUnknownCert
	}
	cert.status = status
	return s.nextTxHash(), nil
}

func (s *Simulated) UpdateBatchCertificateStatus(ctx context.Context, encodedProof [32]byte, status StatusCode) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leafStatus[encodedProof] = status
	return s.nextTxHash(), nil
}

func (s *Simulated) GrantRole(ctx context.Context, role [32]byte, account common.Address) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.roles[role] == nil {
		s.roles[role] = make(map[common.Address]bool)
	}
	s.roles[role][account] = true
	return s.nextTxHash(), nil
}

// WaitMined returns at once: every simulated write is mined when it is sent.
func (s *Simulated) WaitMined(ctx context.Context, txHash string) (MinedTx, error) {
	if err := ctx.Err(); err != nil {
		return MinedTx{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mined, ok := s.mined[txHash]
	if !ok {
		return MinedTx{}, errSimUnknownTx
	}
	return mined, nil
}

// HasRole reports whether account was granted role.
func (s *Simulated) HasRole(role [32]byte, account common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles[role][account]
}

func (s *Simulated) effectiveStatus(cert *simCertificate) StatusCode {
	if cert.status == StatusRevoked {
		return StatusRevoked
	}
	if cert.expiresAt != 0 && uint64(s.now().Unix()) >= cert.expiresAt {
		return StatusExpired
	}
	return cert.status
}

// nextTxHash allocates a hash and marks it mined. Callers hold s.mu.
func (s *Simulated) nextTxHash() string {
	s.txCount++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], s.txCount)
	hash := common.BytesToHash(crypto.Keccak256([]byte("certanchor-sim"), buf[:])).Hex()
	s.mined[hash] = MinedTx{TxHash: hash}
	return hash
}
