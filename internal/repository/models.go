package repository

import (
	"fmt"
	"time"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ImportBatchModel is the persistence model for the import_batches table.
type ImportBatchModel struct {
	ID               string             `gorm:"type:uuid;primaryKey"`
	TenantID         string             `gorm:"type:varchar(64);not null"`
	SourceFilename   string             `gorm:"type:varchar(255);not null"`
	StoredFileRef    string             `gorm:"type:varchar(512);not null"`
	Status           domain.BatchStatus `gorm:"type:varchar(20);not null"`
	TotalRows        int                `gorm:"not null;default:0"`
	ProcessedRows    int                `gorm:"not null;default:0"`
	SuccessCount     int                `gorm:"not null;default:0"`
	ErrorCount       int                `gorm:"not null;default:0"`
	StartedAt        *time.Time         `gorm:"type:timestamptz"`
	FinishedAt       *time.Time         `gorm:"type:timestamptz"`
	Meta             datatypes.JSONMap  `gorm:"type:jsonb;not null;default:'{}'"`
	LastErrorMessage *string            `gorm:"type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (ImportBatchModel) TableName() string {
	return "import_batches"
}

// ImportBatchRowModel is the persistence model for the import_batch_rows ledger.
type ImportBatchRowModel struct {
	ID         string            `gorm:"type:uuid;primaryKey"`
	BatchID    string            `gorm:"type:uuid;not null"`
	RowNumber  int               `gorm:"not null"`
	Status     domain.RowStatus  `gorm:"type:varchar(10);not null"`
	Identifier *string           `gorm:"type:varchar(255)"`
	Message    *string           `gorm:"type:text"`
	RawPayload datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time
}

func (ImportBatchRowModel) TableName() string {
	return "import_batch_rows"
}

// ClientModel is the persistence model for clients. Rows are owned by the
// billing side; the importer only reads them.
type ClientModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:varchar(64);not null"`
	Email     string `gorm:"type:varchar(255);not null"`
	Name      string `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ClientModel) TableName() string {
	return "clients"
}

// InvoiceModel is the persistence model for invoices.
type InvoiceModel struct {
	ID            string               `gorm:"type:uuid;primaryKey"`
	TenantID      string               `gorm:"type:varchar(64);not null"`
	ClientID      string               `gorm:"type:uuid;not null"`
	Number        string               `gorm:"type:varchar(100);not null"`
	Amount        decimal.Decimal      `gorm:"type:numeric(14,2);not null"`
	Status        domain.InvoiceStatus `gorm:"type:varchar(20);not null"`
	IssueDate     time.Time            `gorm:"type:date;not null"`
	DueDate       time.Time            `gorm:"type:date;not null"`
	Notes         *string              `gorm:"type:text"`
	ImportBatchID *string              `gorm:"type:uuid"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (InvoiceModel) TableName() string {
	return "invoices"
}

func importBatchModelFromDomain(b *domain.ImportBatch) *ImportBatchModel {
	if b == nil {
		return nil
	}

	meta := datatypes.JSONMap{}
	for k, v := range b.Meta {
		meta[k] = v
	}

	return &ImportBatchModel{
		ID:               b.ID,
		TenantID:         b.TenantID,
		SourceFilename:   b.SourceFilename,
		StoredFileRef:    b.StoredFileRef,
		Status:           b.Status,
		TotalRows:        b.TotalRows,
		ProcessedRows:    b.ProcessedRows,
		SuccessCount:     b.SuccessCount,
		ErrorCount:       b.ErrorCount,
		StartedAt:        b.StartedAt,
		FinishedAt:       b.FinishedAt,
		Meta:             meta,
		LastErrorMessage: b.LastErrorMessage,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func importBatchModelToDomain(m *ImportBatchModel) *domain.ImportBatch {
	if m == nil {
		return nil
	}

	meta := make(map[string]any, len(m.Meta))
	for k, v := range m.Meta {
		meta[k] = v
	}

	return &domain.ImportBatch{
		ID:               m.ID,
		TenantID:         m.TenantID,
		SourceFilename:   m.SourceFilename,
		StoredFileRef:    m.StoredFileRef,
		Status:           m.Status,
		TotalRows:        m.TotalRows,
		ProcessedRows:    m.ProcessedRows,
		SuccessCount:     m.SuccessCount,
		ErrorCount:       m.ErrorCount,
		StartedAt:        m.StartedAt,
		FinishedAt:       m.FinishedAt,
		Meta:             meta,
		LastErrorMessage: m.LastErrorMessage,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func rowModelFromDomain(r *domain.ImportBatchRow) *ImportBatchRowModel {
	if r == nil {
		return nil
	}

	var payload datatypes.JSONMap
	if r.RawPayload != nil {
		payload = make(datatypes.JSONMap, len(r.RawPayload))
		for k, v := range r.RawPayload {
			payload[k] = v
		}
	}

	return &ImportBatchRowModel{
		ID:         r.ID,
		BatchID:    r.BatchID,
		RowNumber:  r.RowNumber,
		Status:     r.Status,
		Identifier: r.Identifier,
		Message:    r.Message,
		RawPayload: payload,
		CreatedAt:  r.CreatedAt,
	}
}

func rowModelToDomain(m *ImportBatchRowModel) *domain.ImportBatchRow {
	if m == nil {
		return nil
	}

	var payload map[string]string
	if m.RawPayload != nil {
		payload = make(map[string]string, len(m.RawPayload))
		for k, v := range m.RawPayload {
			switch value := v.(type) {
			case string:
				payload[k] = value
			case nil:
				payload[k] = ""
			default:
				payload[k] = fmt.Sprint(value)
			}
		}
	}

	return &domain.ImportBatchRow{
		ID:         m.ID,
		BatchID:    m.BatchID,
		RowNumber:  m.RowNumber,
		Status:     m.Status,
		Identifier: m.Identifier,
		Message:    m.Message,
		RawPayload: payload,
		CreatedAt:  m.CreatedAt,
	}
}

func clientModelToDomain(m *ClientModel) *domain.Client {
	if m == nil {
		return nil
	}

	return &domain.Client{
		ID:       m.ID,
		TenantID: m.TenantID,
		Email:    m.Email,
		Name:     m.Name,
	}
}

func invoiceModelFromDomain(i *domain.Invoice) *InvoiceModel {
	if i == nil {
		return nil
	}

	return &InvoiceModel{
		ID:            i.ID,
		TenantID:      i.TenantID,
		ClientID:      i.ClientID,
		Number:        i.Number,
		Amount:        i.Amount,
		Status:        i.Status,
		IssueDate:     i.IssueDate,
		DueDate:       i.DueDate,
		Notes:         i.Notes,
		ImportBatchID: i.ImportBatchID,
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
	}
}
