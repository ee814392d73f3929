package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/kursadbilgin/invoice-importer/internal/service"
	"github.com/kursadbilgin/invoice-importer/internal/transport"
)

const (
	tenantHeader    = "X-Tenant-ID"
	uploadFormField = "file"
	defaultPage     = 1
	defaultPageSize = 50
)

type ImportService interface {
	CreateBatch(ctx context.Context, in service.CreateBatchInput) (*domain.ImportBatch, error)
	GetBatch(ctx context.Context, tenantID, batchID string) (*service.BatchView, error)
	ListRows(ctx context.Context, tenantID, batchID string, status *domain.RowStatus, page, pageSize int) ([]domain.ImportBatchRow, int64, error)
}

type ImportHandler struct {
	service ImportService
}

func NewImportHandler(service ImportService) (*ImportHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("import service is required")
	}
	return &ImportHandler{service: service}, nil
}

func RegisterImportRoutes(router fiber.Router, service ImportService) error {
	h, err := NewImportHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/imports", h.CreateImport)
	v1.Get("/imports/:id", h.GetImport)
	v1.Get("/imports/:id/rows", h.ListImportRows)

	return nil
}

type createImportResponse struct {
	BatchID        string `json:"batchId"`
	Status         string `json:"status"`
	SourceFilename string `json:"source_filename"`
}

type batchResponse struct {
	domain.BatchSummary
	Attempts         int                  `json:"attempts"`
	LastErrorMessage *string              `json:"last_error_message,omitempty"`
	Counts           []rowStatusCountItem `json:"counts"`
	CreatedAt        time.Time            `json:"created_at"`
}

type rowStatusCountItem struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type rowResponse struct {
	RowNumber  int               `json:"rowNumber"`
	Status     string            `json:"status"`
	Identifier *string           `json:"identifier,omitempty"`
	Message    *string           `json:"message,omitempty"`
	RawPayload map[string]string `json:"rawPayload"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type listRowsResponse struct {
	Data []rowResponse `json:"data"`
	Meta listMeta      `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *ImportHandler) CreateImport(c *fiber.Ctx) error {
	tenantID := strings.TrimSpace(c.Get(tenantHeader))
	if tenantID == "" {
		return toHTTPError(fmt.Errorf("%w: %s header is required", domain.ErrValidation, tenantHeader))
	}

	fileHeader, err := c.FormFile(uploadFormField)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart field \"file\" is required")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "uploaded file is unreadable")
	}
	defer file.Close()

	batch, err := h.service.CreateBatch(c.UserContext(), service.CreateBatchInput{
		TenantID:      tenantID,
		Filename:      fileHeader.Filename,
		Content:       file,
		CorrelationID: transport.RequestID(c),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(createImportResponse{
		BatchID:        batch.ID,
		Status:         batch.Status.String(),
		SourceFilename: batch.SourceFilename,
	})
}

func (h *ImportHandler) GetImport(c *fiber.Ctx) error {
	batchID, err := batchIDParam(c)
	if err != nil {
		return toHTTPError(err)
	}

	view, err := h.service.GetBatch(c.UserContext(), c.Get(tenantHeader), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	counts := make([]rowStatusCountItem, 0, len(view.Counts))
	for _, count := range view.Counts {
		counts = append(counts, rowStatusCountItem{Status: count.Status.String(), Count: count.Count})
	}

	return c.Status(fiber.StatusOK).JSON(batchResponse{
		BatchSummary:     view.Batch.Summary(),
		Attempts:         view.Batch.Attempts(),
		LastErrorMessage: view.Batch.LastErrorMessage,
		Counts:           counts,
		CreatedAt:        view.Batch.CreatedAt,
	})
}

func (h *ImportHandler) ListImportRows(c *fiber.Ctx) error {
	batchID, err := batchIDParam(c)
	if err != nil {
		return toHTTPError(err)
	}

	var status *domain.RowStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		parsed, err := domain.ParseRowStatusFromString(raw)
		if err != nil {
			return toHTTPError(err)
		}
		status = &parsed
	}

	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)

	rows, total, err := h.service.ListRows(c.UserContext(), c.Get(tenantHeader), batchID, status, page, pageSize)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]rowResponse, 0, len(rows))
	for _, row := range rows {
		data = append(data, rowResponse{
			RowNumber:  row.RowNumber,
			Status:     row.Status.String(),
			Identifier: row.Identifier,
			Message:    row.Message,
			RawPayload: row.RawPayload,
			CreatedAt:  row.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(listRowsResponse{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

// batchIDParam rejects ids that cannot name a batch so they read as missing.
func batchIDParam(c *fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Params("id"))
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: import batch %q", domain.ErrNotFound, id)
	}
	return id, nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
