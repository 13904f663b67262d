package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/certanchor/internal/repository"
	"gorm.io/gorm"
)

func createBatchSubmissionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_batch_submissions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchSubmissionModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_batch_submissions_processing ON batch_submissions (created_at) WHERE status = 'PROCESSING'`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BatchSubmissionModel{})
		},
	}
}
