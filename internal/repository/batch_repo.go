package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/certanchor/internal/domain"
	"gorm.io/gorm"
)

type BatchRepository interface {
	Create(ctx context.Context, b *domain.BatchSubmission) error
	GetByID(ctx context.Context, id string) (*domain.BatchSubmission, error)
	Complete(ctx context.Context, id string, status domain.BatchStatus, reason *string) error
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.BatchSubmission, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.BatchSubmission) error {
	model := batchSubmissionModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if b != nil {
		*b = *batchSubmissionModelToDomain(model)
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.BatchSubmission, error) {
	var model BatchSubmissionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchSubmissionModelToDomain(&model), nil
}

// Complete moves a processing submission to a terminal status. A submission that is
// already terminal yields domain.ErrConflict.
func (r *GormBatchRepo) Complete(ctx context.Context, id string, status domain.BatchStatus, reason *string) error {
	if !status.IsTerminal() {
		return domain.ErrValidation
	}

	result := r.db.WithContext(ctx).
		Model(&BatchSubmissionModel{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusProcessing).
		Updates(map[string]any{
			"status": status,
			"reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormBatchRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.BatchSubmission, error) {
	var models []BatchSubmissionModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.BatchStatusProcessing, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.BatchSubmission, 0, len(models))
	for i := range models {
		batches = append(batches, *batchSubmissionModelToDomain(&models[i]))
	}
	return batches, nil
}
