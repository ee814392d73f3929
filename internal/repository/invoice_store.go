package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/kursadbilgin/invoice-importer/internal/importer"
	"gorm.io/gorm"
)

// GormImportStore runs row transactions for the importer.
type GormImportStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormImportStore(db *gorm.DB) *GormImportStore {
	return &GormImportStore{db: db, now: time.Now}
}

func (s *GormImportStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx importer.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(ctx, &gormImportTx{db: db, now: s.now})
	})
}

type gormImportTx struct {
	db  *gorm.DB
	now func() time.Time
}

func (t *gormImportTx) FindClientByEmail(ctx context.Context, tenantID, email string) (*domain.Client, error) {
	var model ClientModel
	err := t.db.WithContext(ctx).
		Where("tenant_id = ? AND LOWER(email) = LOWER(?)", tenantID, email).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return clientModelToDomain(&model), nil
}

func (t *gormImportTx) InvoiceExists(ctx context.Context, tenantID, number string) (bool, error) {
	var count int64
	err := t.db.WithContext(ctx).
		Model(&InvoiceModel{}).
		Where("tenant_id = ? AND number = ?", tenantID, number).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (t *gormImportTx) CreateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	return t.db.WithContext(ctx).Create(invoiceModelFromDomain(invoice)).Error
}

func (t *gormImportTx) AppendRow(ctx context.Context, row *domain.ImportBatchRow) error {
	err := t.db.WithContext(ctx).Create(rowModelFromDomain(row)).Error
	return mapLedgerError(err, row.BatchID, row.RowNumber)
}

func (t *gormImportTx) IncrementCounters(ctx context.Context, batchID string, status domain.RowStatus) error {
	updates := map[string]any{
		"processed_rows": gorm.Expr("processed_rows + 1"),
		"updated_at":     t.now().UTC(),
	}
	switch status {
	case domain.RowStatusSuccess:
		updates["success_count"] = gorm.Expr("success_count + 1")
	case domain.RowStatusError:
		updates["error_count"] = gorm.Expr("error_count + 1")
	default:
		return domain.ErrValidation
	}

	result := t.db.WithContext(ctx).
		Model(&ImportBatchModel{}).
		Where("id = ?", batchID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
