package repository

import (
	"context"

	"github.com/kursadbilgin/certanchor/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VerificationLogRepository interface {
	Append(ctx context.Context, l *domain.VerificationLog) error
}

type GormVerificationLogRepo struct {
	db *gorm.DB
}

func NewGormVerificationLogRepo(db *gorm.DB) *GormVerificationLogRepo {
	return &GormVerificationLogRepo{db: db}
}

// Append stores a log entry. Redelivered entries with a known id are ignored.
func (r *GormVerificationLogRepo) Append(ctx context.Context, l *domain.VerificationLog) error {
	model := verificationLogModelFromDomain(l)
	if model == nil {
		return nil
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(model).Error; err != nil {
		return err
	}
	*l = *verificationLogModelToDomain(model)
	return nil
}
