package repository

import (
	"time"

	"github.com/kursadbilgin/certanchor/internal/domain"
)

// CertificateModel is the persistence model for the certificates table.
type CertificateModel struct {
	CertificateNumber string        `gorm:"type:varchar(50);primaryKey"`
	IssuerID          string        `gorm:"type:varchar(64);not null"`
	HolderName        string        `gorm:"type:varchar(100);not null"`
	CourseName        string        `gorm:"type:varchar(150);not null"`
	GrantDate         string        `gorm:"type:varchar(10)"`
	ExpirationDate    string        `gorm:"type:varchar(10)"`
	Status            domain.Status `gorm:"type:smallint;not null"`
	CertificateHash   string        `gorm:"type:varchar(66);not null"`
	TransactionHash   string        `gorm:"type:varchar(66)"`
	BatchID           *uint64       `gorm:"type:bigint"`
	ProofHash         []string      `gorm:"type:jsonb;serializer:json"`
	EncodedProof      string        `gorm:"type:varchar(66)"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (CertificateModel) TableName() string {
	return "certificates"
}

// BatchSubmissionModel is the persistence model for batch_submissions.
type BatchSubmissionModel struct {
	ID         string             `gorm:"type:uuid;primaryKey"`
	IssuerID   string             `gorm:"type:varchar(64);not null"`
	TotalCount int                `gorm:"not null"`
	ChunkCount int                `gorm:"not null"`
	Status     domain.BatchStatus `gorm:"type:varchar(20);not null"`
	Reason     *string            `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (BatchSubmissionModel) TableName() string {
	return "batch_submissions"
}

// VerificationLogModel is the persistence model for verification_logs.
type VerificationLogModel struct {
	ID                string         `gorm:"type:uuid;primaryKey"`
	CertificateNumber string         `gorm:"type:varchar(50);not null"`
	IssuerID          string         `gorm:"type:varchar(64);not null"`
	CourseName        string         `gorm:"type:varchar(150)"`
	Outcome           domain.Outcome `gorm:"type:smallint;not null"`
	VerifiedAt        time.Time      `gorm:"type:timestamptz;not null"`
}

func (VerificationLogModel) TableName() string {
	return "verification_logs"
}

func certificateModelFromDomain(c *domain.Certificate) *CertificateModel {
	if c == nil {
		return nil
	}

	return &CertificateModel{
		CertificateNumber: c.CertificateNumber,
		IssuerID:          c.IssuerID,
		HolderName:        c.HolderName,
		CourseName:        c.CourseName,
		GrantDate:         c.GrantDate,
		ExpirationDate:    c.ExpirationDate,
		Status:            c.Status,
		CertificateHash:   c.CertificateHash,
		TransactionHash:   c.TransactionHash,
		BatchID:           c.BatchID,
		ProofHash:         c.ProofHash,
		EncodedProof:      c.EncodedProof,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func certificateModelToDomain(m *CertificateModel) *domain.Certificate {
	if m == nil {
		return nil
	}

	return &domain.Certificate{
		CertificateNumber: m.CertificateNumber,
		IssuerID:          m.IssuerID,
		HolderName:        m.HolderName,
		CourseName:        m.CourseName,
		GrantDate:         m.GrantDate,
		ExpirationDate:    m.ExpirationDate,
		Status:            m.Status,
		CertificateHash:   m.CertificateHash,
		TransactionHash:   m.TransactionHash,
		BatchID:           m.BatchID,
		ProofHash:         m.ProofHash,
		EncodedProof:      m.EncodedProof,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func batchSubmissionModelFromDomain(b *domain.BatchSubmission) *BatchSubmissionModel {
	if b == nil {
		return nil
	}

	return &BatchSubmissionModel{
		ID:         b.ID,
		IssuerID:   b.IssuerID,
		TotalCount: b.TotalCount,
		ChunkCount: b.ChunkCount,
		Status:     b.Status,
		Reason:     b.Reason,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func batchSubmissionModelToDomain(m *BatchSubmissionModel) *domain.BatchSubmission {
	if m == nil {
		return nil
	}

	return &domain.BatchSubmission{
		ID:         m.ID,
		IssuerID:   m.IssuerID,
		TotalCount: m.TotalCount,
		ChunkCount: m.ChunkCount,
		Status:     m.Status,
		Reason:     m.Reason,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func verificationLogModelFromDomain(l *domain.VerificationLog) *VerificationLogModel {
	if l == nil {
		return nil
	}

	return &VerificationLogModel{
		ID:                l.ID,
		CertificateNumber: l.CertificateNumber,
		IssuerID:          l.IssuerID,
		CourseName:        l.CourseName,
		Outcome:           l.Outcome,
		VerifiedAt:        l.VerifiedAt,
	}
}

func verificationLogModelToDomain(m *VerificationLogModel) *domain.VerificationLog {
	if m == nil {
		return nil
	}

	return &domain.VerificationLog{
		ID:                m.ID,
		CertificateNumber: m.CertificateNumber,
		IssuerID:          m.IssuerID,
		CourseName:        m.CourseName,
		Outcome:           m.Outcome,
		VerifiedAt:        m.VerifiedAt,
	}
}
