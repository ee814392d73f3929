package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/invoice-importer/internal/repository"
	"gorm.io/gorm"
)

func createImportBatchRowsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_import_batch_rows",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ImportBatchRowModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS ` + repository.RowLedgerUniqueIndex + ` ON import_batch_rows (batch_id, row_number)`,
				`CREATE INDEX IF NOT EXISTS idx_import_batch_rows_batch_status ON import_batch_rows (batch_id, status)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ImportBatchRowModel{})
		},
	}
}
