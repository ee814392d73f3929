package repository

import (
	"context"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"gorm.io/gorm"
)

type RowListParams struct {
	BatchID  string
	Status   *domain.RowStatus
	Page     int
	PageSize int
}

type RowStatusCount struct {
	Status domain.RowStatus `gorm:"column:status"`
	Count  int              `gorm:"column:count"`
}

type ImportRowRepository interface {
	RowNumbers(ctx context.Context, batchID string) (map[int]struct{}, error)
	List(ctx context.Context, params RowListParams) ([]domain.ImportBatchRow, int64, error)
	CountByStatus(ctx context.Context, batchID string) ([]RowStatusCount, error)
}

type GormImportRowRepo struct {
	db *gorm.DB
}

func NewGormImportRowRepo(db *gorm.DB) *GormImportRowRepo {
	return &GormImportRowRepo{db: db}
}

func (r *GormImportRowRepo) RowNumbers(ctx context.Context, batchID string) (map[int]struct{}, error) {
	var numbers []int
	err := r.db.WithContext(ctx).
		Model(&ImportBatchRowModel{}).
		Where("batch_id = ?", batchID).
		Pluck("row_number", &numbers).Error
	if err != nil {
		return nil, err
	}

	set := make(map[int]struct{}, len(numbers))
	for _, n := range numbers {
		set[n] = struct{}{}
	}
	return set, nil
}

func (r *GormImportRowRepo) List(ctx context.Context, params RowListParams) ([]domain.ImportBatchRow, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&ImportBatchRowModel{}).
		Where("batch_id = ?", params.BatchID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 500)

	var models []ImportBatchRowModel
	err := query.
		Order("row_number ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	rows := make([]domain.ImportBatchRow, 0, len(models))
	for i := range models {
		rows = append(rows, *rowModelToDomain(&models[i]))
	}
	return rows, total, nil
}

func (r *GormImportRowRepo) CountByStatus(ctx context.Context, batchID string) ([]RowStatusCount, error) {
	var counts []RowStatusCount
	err := r.db.WithContext(ctx).
		Model(&ImportBatchRowModel{}).
		Select("status, COUNT(*) as count").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}
