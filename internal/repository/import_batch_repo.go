package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ImportBatchRepository interface {
	Create(ctx context.Context, b *domain.ImportBatch) error
	GetByID(ctx context.Context, id string) (*domain.ImportBatch, error)
	BeginAttempt(ctx context.Context, id string, now time.Time) (*domain.ImportBatch, error)
	SyncCounters(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, totalRows int, now time.Time) error
	Fail(ctx context.Context, id string, message string, now time.Time) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ImportBatch, error)
}

type GormImportBatchRepo struct {
	db *gorm.DB
}

func NewGormImportBatchRepo(db *gorm.DB) *GormImportBatchRepo {
	return &GormImportBatchRepo{db: db}
}

func (r *GormImportBatchRepo) Create(ctx context.Context, b *domain.ImportBatch) error {
	model := importBatchModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if b != nil {
		*b = *importBatchModelToDomain(model)
	}
	return nil
}

func (r *GormImportBatchRepo) GetByID(ctx context.Context, id string) (*domain.ImportBatch, error) {
	var model ImportBatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return importBatchModelToDomain(&model), nil
}

// BeginAttempt locks the batch row, moves it to processing and bumps
// meta.attempts. started_at keeps the time of the first attempt.
func (r *GormImportBatchRepo) BeginAttempt(ctx context.Context, id string, now time.Time) (*domain.ImportBatch, error) {
	var result *domain.ImportBatch
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ImportBatchModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if !model.Status.CanTransitionTo(domain.BatchStatusProcessing) {
			return fmt.Errorf("%w: batch %s is %s", domain.ErrConflict, id, model.Status)
		}

		batch := importBatchModelToDomain(&model)
		batch.Meta[domain.MetaKeyAttempts] = batch.Attempts() + 1
		if batch.StartedAt == nil {
			started := now
			batch.StartedAt = &started
		}
		batch.Status = domain.BatchStatusProcessing
		batch.LastErrorMessage = nil
		batch.FinishedAt = nil
		batch.UpdatedAt = now

		updated := importBatchModelFromDomain(batch)
		if err := tx.Model(&ImportBatchModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":             updated.Status,
				"meta":               updated.Meta,
				"started_at":         updated.StartedAt,
				"finished_at":        nil,
				"last_error_message": nil,
				"updated_at":         now,
			}).Error; err != nil {
			return err
		}

		result = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SyncCounters recomputes processed/success/error counts from the ledger.
func (r *GormImportBatchRepo) SyncCounters(ctx context.Context, id string) error {
	countQuery := func(status *domain.RowStatus) *gorm.DB {
		q := r.db.Model(&ImportBatchRowModel{}).Select("COUNT(*)").Where("batch_id = ?", id)
		if status != nil {
			q = q.Where("status = ?", *status)
		}
		return q
	}
	success := domain.RowStatusSuccess
	failed := domain.RowStatusError

	result := r.db.WithContext(ctx).
		Model(&ImportBatchModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_rows": countQuery(nil),
			"success_count":  countQuery(&success),
			"error_count":    countQuery(&failed),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormImportBatchRepo) Complete(ctx context.Context, id string, totalRows int, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ImportBatchModel{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusProcessing).
		Updates(map[string]any{
			"status":      domain.BatchStatusCompleted,
			"total_rows":  totalRows,
			"finished_at": now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.transitionMiss(ctx, id, domain.BatchStatusCompleted)
	}
	return nil
}

// Fail records message on the batch. A completed batch is never moved back.
func (r *GormImportBatchRepo) Fail(ctx context.Context, id string, message string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ImportBatchModel{}).
		Where("id = ? AND status IN ?", id, []domain.BatchStatus{
			domain.BatchStatusPending,
			domain.BatchStatusProcessing,
			domain.BatchStatusFailed,
		}).
		Updates(map[string]any{
			"status":             domain.BatchStatusFailed,
			"last_error_message": message,
			"finished_at":        now,
			"updated_at":         now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.transitionMiss(ctx, id, domain.BatchStatusFailed)
	}
	return nil
}

func (r *GormImportBatchRepo) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ImportBatch, error) {
	var models []ImportBatchModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", domain.BatchStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.ImportBatch, 0, len(models))
	for i := range models {
		batches = append(batches, *importBatchModelToDomain(&models[i]))
	}
	return batches, nil
}

func (r *GormImportBatchRepo) transitionMiss(ctx context.Context, id string, target domain.BatchStatus) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: batch %s cannot move from %s to %s", domain.ErrConflict, id, current.Status, target)
}
