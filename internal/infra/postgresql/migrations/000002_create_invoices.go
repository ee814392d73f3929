package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/invoice-importer/internal/repository"
	"gorm.io/gorm"
)

func createInvoicesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_invoices",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.InvoiceModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_invoices_tenant_number ON invoices (tenant_id, number)`,
				`CREATE INDEX IF NOT EXISTS idx_invoices_client_id ON invoices (client_id)`,
				`CREATE INDEX IF NOT EXISTS idx_invoices_import_batch_id ON invoices (import_batch_id) WHERE import_batch_id IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.InvoiceModel{})
		},
	}
}
