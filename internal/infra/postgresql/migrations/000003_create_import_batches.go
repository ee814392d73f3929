package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/invoice-importer/internal/repository"
	"gorm.io/gorm"
)

func createImportBatchesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_import_batches",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ImportBatchModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_import_batches_tenant_created ON import_batches (tenant_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_import_batches_pending ON import_batches (created_at) WHERE status = 'pending'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ImportBatchModel{})
		},
	}
}
