package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the processing state of an import batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// MetaKeyAttempts is the meta entry counting processing attempts of a batch.
const MetaKeyAttempts = "attempts"

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted, BatchStatusFailed:
		return true
	}
	return false
}

func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
// A failed batch may re-enter processing when the job is redelivered.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	switch s {
	case BatchStatusPending:
		return next == BatchStatusProcessing || next == BatchStatusFailed
	case BatchStatusProcessing:
		return next == BatchStatusProcessing || next == BatchStatusCompleted || next == BatchStatusFailed
	case BatchStatusFailed:
		return next == BatchStatusProcessing
	}
	return false
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// ImportBatch is one bulk upload of invoice records owned by a tenant.
type ImportBatch struct {
	ID               string
	TenantID         string
	SourceFilename   string
	StoredFileRef    string
	Status           BatchStatus
	TotalRows        int
	ProcessedRows    int
	SuccessCount     int
	ErrorCount       int
	StartedAt        *time.Time
	FinishedAt       *time.Time
	Meta             map[string]any
	LastErrorMessage *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Attempts returns the attempts counter stored in meta. JSON round trips
// turn numbers into float64, so both representations are accepted.
func (b *ImportBatch) Attempts() int {
	if b == nil || b.Meta == nil {
		return 0
	}
	switch v := b.Meta[MetaKeyAttempts].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (b *ImportBatch) CountersConsistent() bool {
	return b.ProcessedRows == b.SuccessCount+b.ErrorCount
}

// BatchSummary is the payload handed to completion notifications and status reads.
type BatchSummary struct {
	BatchID        string     `json:"batchId"`
	Status         string     `json:"status"`
	SourceFilename string     `json:"source_filename"`
	TotalRows      int        `json:"total_rows"`
	ProcessedRows  int        `json:"processed_rows"`
	SuccessCount   int        `json:"success_count"`
	ErrorCount     int        `json:"error_count"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
}

func (b *ImportBatch) Summary() BatchSummary {
	return BatchSummary{
		BatchID:        b.ID,
		Status:         b.Status.String(),
		SourceFilename: b.SourceFilename,
		TotalRows:      b.TotalRows,
		ProcessedRows:  b.ProcessedRows,
		SuccessCount:   b.SuccessCount,
		ErrorCount:     b.ErrorCount,
		StartedAt:      b.StartedAt,
		FinishedAt:     b.FinishedAt,
	}
}
