package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/certanchor/internal/repository"
	"gorm.io/gorm"
)

func createCertificatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_certificates",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CertificateModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_certificates_issuer_id ON certificates (issuer_id)`,
				`CREATE INDEX IF NOT EXISTS idx_certificates_batch_id ON certificates (batch_id) WHERE batch_id IS NOT NULL`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CertificateModel{})
		},
	}
}
