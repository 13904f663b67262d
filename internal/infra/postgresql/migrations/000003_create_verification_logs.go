package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/certanchor/internal/repository"
	"gorm.io/gorm"
)

func createVerificationLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_verification_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.VerificationLogModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_verification_logs_issuer_verified ON verification_logs (issuer_id, verified_at)`,
				`CREATE INDEX IF NOT EXISTS idx_verification_logs_certificate ON verification_logs (certificate_number)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.VerificationLogModel{})
		},
	}
}
