package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/certanchor/internal/domain"
	"gorm.io/gorm"
)

// lookupChunk bounds the IN list of a single existence query.
const lookupChunk = 500

type CertificateRepository interface {
	Create(ctx context.Context, c *domain.Certificate) error
	CreateBatch(ctx context.Context, certificates []*domain.Certificate) error
	Get(ctx context.Context, certificateNumber string) (*domain.Certificate, error)
	Exists(ctx context.Context, certificateNumber string) (bool, error)
	ExistingIdentifiers(ctx context.Context, identifiers []string) (map[string]bool, error)
	UpdateStatus(ctx context.Context, certificateNumber string, status domain.Status) error
}

type GormCertificateRepo struct {
	db *gorm.DB
}

func NewGormCertificateRepo(db *gorm.DB) *GormCertificateRepo {
	return &GormCertificateRepo{db: db}
}

func (r *GormCertificateRepo) Create(ctx context.Context, c *domain.Certificate) error {
	model := certificateModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicate
		}
		return err
	}
	if c != nil {
		*c = *certificateModelToDomain(model)
	}
	return nil
}

func (r *GormCertificateRepo) CreateBatch(ctx context.Context, certificates []*domain.Certificate) error {
	models := make([]CertificateModel, 0, len(certificates))
	modelIndexes := make([]int, 0, len(certificates))
	for i, c := range certificates {
		model := certificateModelFromDomain(c)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&models, 100).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDuplicate
	}
	if err != nil {
		return err
	}

	for i := range models {
		*certificates[modelIndexes[i]] = *certificateModelToDomain(&models[i])
	}
	return nil
}

func (r *GormCertificateRepo) Get(ctx context.Context, certificateNumber string) (*domain.Certificate, error) {
	var model CertificateModel
	err := r.db.WithContext(ctx).First(&model, "certificate_number = ?", certificateNumber).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return certificateModelToDomain(&model), nil
}

func (r *GormCertificateRepo) Exists(ctx context.Context, certificateNumber string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CertificateModel{}).
		Where("certificate_number = ?", certificateNumber).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormCertificateRepo) ExistingIdentifiers(ctx context.Context, identifiers []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	for start := 0; start < len(identifiers); start += lookupChunk {
		end := min(start+lookupChunk, len(identifiers))

		var found []string
		err := r.db.WithContext(ctx).
			Model(&CertificateModel{}).
			Where("certificate_number IN ?", identifiers[start:end]).
			Pluck("certificate_number", &found).Error
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			existing[id] = true
		}
	}
	return existing, nil
}

func (r *GormCertificateRepo) UpdateStatus(ctx context.Context, certificateNumber string, status domain.Status) error {
	result := r.db.WithContext(ctx).
		Model(&CertificateModel{}).
		Where("certificate_number = ?", certificateNumber).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
