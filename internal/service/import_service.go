package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/kursadbilgin/invoice-importer/internal/queue"
	"github.com/kursadbilgin/invoice-importer/internal/repository"
	"github.com/kursadbilgin/invoice-importer/internal/storage"
	"go.uber.org/zap"
)

const (
	defaultRowPageSize = 50
	maxRowPageSize     = 500
)

var allowedUploadExtensions = map[string]struct{}{
	".csv": {},
	".txt": {},
}

// FileSaver persists an upload and returns its reference.
type FileSaver interface {
	Save(ctx context.Context, tenantID, batchID, filename string, r io.Reader) (storage.SavedFile, error)
}

// CreateBatchInput describes one upload.
type CreateBatchInput struct {
	TenantID      string
	Filename      string
	Content       io.Reader
	CorrelationID string
}

// BatchView is a batch together with per-status ledger counts.
type BatchView struct {
	Batch  *domain.ImportBatch
	Counts []repository.RowStatusCount
}

type ImportService struct {
	batches   repository.ImportBatchRepository
	rows      repository.ImportRowRepository
	files     FileSaver
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewImportService(
	batches repository.ImportBatchRepository,
	rows repository.ImportRowRepository,
	files FileSaver,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*ImportService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if rows == nil {
		return nil, fmt.Errorf("row repository is required")
	}
	if files == nil {
		return nil, fmt.Errorf("file store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ImportService{
		batches:   batches,
		rows:      rows,
		files:     files,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// CreateBatch stores the upload, records a pending batch and enqueues the
// import job. A failed publish leaves the batch pending; the pending scanner
// enqueues it later.
func (s *ImportService) CreateBatch(ctx context.Context, in CreateBatchInput) (*domain.ImportBatch, error) {
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	filename := filepath.Base(strings.TrimSpace(in.Filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: file name is required", domain.ErrValidation)
	}
	if _, ok := allowedUploadExtensions[strings.ToLower(filepath.Ext(filename))]; !ok {
		return nil, fmt.Errorf("%w: only .csv and .txt uploads are accepted", domain.ErrValidation)
	}
	if in.Content == nil {
		return nil, fmt.Errorf("%w: file content is required", domain.ErrValidation)
	}

	batchID := s.newID()
	saved, err := s.files.Save(ctx, tenantID, batchID, filename, in.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	now := s.now().UTC()
	batch := &domain.ImportBatch{
		ID:             batchID,
		TenantID:       tenantID,
		SourceFilename: filename,
		StoredFileRef:  saved.Ref,
		Status:         domain.BatchStatusPending,
		Meta: map[string]any{
			domain.MetaKeyAttempts: 0,
			"size_bytes":           saved.Size,
			"sha256":               saved.Checksum,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create import batch: %w", err)
	}

	logger := s.logger.With(
		zap.String("batchId", batch.ID),
		zap.String("tenantId", tenantID),
		zap.String("correlationId", in.CorrelationID),
	)

	msg := queue.ImportMessage{BatchID: batch.ID, TenantID: tenantID, CorrelationID: in.CorrelationID}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		logger.Warn("failed to enqueue import job, leaving batch pending", zap.Error(err))
		return batch, nil
	}

	logger.Info("import batch accepted", zap.String("file", filename), zap.Int64("sizeBytes", saved.Size))
	return batch, nil
}

// GetBatch returns the batch when it belongs to tenantID.
func (s *ImportService) GetBatch(ctx context.Context, tenantID, batchID string) (*BatchView, error) {
	batch, err := s.tenantBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}

	counts, err := s.rows.CountByStatus(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count batch rows: %w", err)
	}
	return &BatchView{Batch: batch, Counts: counts}, nil
}

// ListRows pages through the ledger of a batch in row order.
func (s *ImportService) ListRows(ctx context.Context, tenantID, batchID string, status *domain.RowStatus, page, pageSize int) ([]domain.ImportBatchRow, int64, error) {
	if page < 1 {
		return nil, 0, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if pageSize == 0 {
		pageSize = defaultRowPageSize
	}
	if pageSize < 1 || pageSize > maxRowPageSize {
		return nil, 0, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxRowPageSize)
	}

	batch, err := s.tenantBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, 0, err
	}

	return s.rows.List(ctx, repository.RowListParams{
		BatchID:  batch.ID,
		Status:   status,
		Page:     page,
		PageSize: pageSize,
	})
}

func (s *ImportService) tenantBatch(ctx context.Context, tenantID, batchID string) (*domain.ImportBatch, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	// Other tenants' batches are reported as missing.
	if batch.TenantID != strings.TrimSpace(tenantID) {
		return nil, domain.ErrNotFound
	}
	return batch, nil
}
