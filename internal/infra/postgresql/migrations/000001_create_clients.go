package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/invoice-importer/internal/repository"
	"gorm.io/gorm"
)

func createClientsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_clients",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ClientModel{}); err != nil {
				return err
			}
			// Email lookups during import are case-insensitive.
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS uq_clients_tenant_email ON clients (tenant_id, lower(email))`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ClientModel{})
		},
	}
}
