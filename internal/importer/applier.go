package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/kursadbilgin/invoice-importer/internal/observability"
	"github.com/kursadbilgin/invoice-importer/internal/retry"
	"go.uber.org/zap"
)

const (
	DefaultRowAttempts   = 3
	DefaultRowRetryDelay = 150 * time.Millisecond
)

// RejectionError is a business rule failure for an otherwise valid row.
// It is recorded once and never retried.
type RejectionError struct {
	Reason error
	Detail string
}

func (e *RejectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %s", e.Reason.Error(), e.Detail)
}

func (e *RejectionError) Unwrap() error { return e.Reason }

// Outcome describes what happened to one row.
type Outcome struct {
	Status domain.RowStatus
	// Message is empty for successful rows.
	Message string
	// Attempts is how many transactions were tried for the success path.
	Attempts int
	// AlreadyRecorded is set when the ledger held the row before this call;
	// Status is empty in that case.
	AlreadyRecorded bool
}

// RowApplier materializes one canonical record and its ledger entry.
type RowApplier struct {
	store   TxRunner
	policy  retry.Policy
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
	newID   func() string
}

// NewRowApplier builds an applier retrying transient store failures under
// policy. Only errors accepted by policy.Retryable are retried; with no
// classifier nothing is.
func NewRowApplier(store TxRunner, policy retry.Policy, logger *zap.Logger) (*RowApplier, error) {
	if store == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	policy.Retryable = rowRetryable(policy.Retryable)
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = DefaultRowAttempts
	}
	if len(policy.Delays) == 0 {
		policy.Delays = []time.Duration{DefaultRowRetryDelay}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RowApplier{
		store:  store,
		policy: policy,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

func rowRetryable(transient retry.Classifier) retry.Classifier {
	return func(err error) bool {
		var rejection *RejectionError
		if errors.As(err, &rejection) || errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrConflict) {
			return false
		}
		return transient != nil && transient(err)
	}
}

func (a *RowApplier) SetMetrics(metrics *observability.Metrics) {
	if a == nil {
		return
	}
	a.metrics = metrics
}

// Apply creates the invoice for record and appends a success ledger row in
// one transaction. Rejections and exhausted retries are converted into an
// error ledger row; the returned error is non-nil only when not even that
// could be written.
func (a *RowApplier) Apply(ctx context.Context, batch *domain.ImportBatch, row SourceRow, record CanonicalInvoice) (Outcome, error) {
	attempts := 0
	err := retry.Do(ctx, a.policy, func(ctx context.Context, attempt int) error {
		attempts = attempt
		if attempt > 1 {
			a.metrics.IncRowRetry()
			a.logger.Debug("retrying row transaction",
				zap.String("batchId", batch.ID),
				zap.Int("rowNumber", row.Number),
				zap.Int("attempt", attempt),
			)
		}
		return a.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return a.applyInTx(ctx, tx, batch, row, record)
		})
	})
	if err == nil {
		return Outcome{Status: domain.RowStatusSuccess, Attempts: attempts}, nil
	}
	if errors.Is(err, domain.ErrConflict) {
		return Outcome{Attempts: attempts, AlreadyRecorded: true}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, fmt.Errorf("row %d interrupted: %w", row.Number, ctxErr)
	}

	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		a.logger.Warn("row transaction failed",
			zap.String("batchId", batch.ID),
			zap.Int("rowNumber", row.Number),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}

	outcome, recordErr := a.RecordFailure(ctx, batch, row, &record.Number, err.Error())
	outcome.Attempts = attempts
	return outcome, recordErr
}

func (a *RowApplier) applyInTx(ctx context.Context, tx Tx, batch *domain.ImportBatch, row SourceRow, record CanonicalInvoice) error {
	client, err := tx.FindClientByEmail(ctx, batch.TenantID, record.ClientEmail)
	if errors.Is(err, domain.ErrNotFound) {
		return &RejectionError{Reason: domain.ErrClientNotFound, Detail: record.ClientEmail}
	}
	if err != nil {
		return err
	}

	exists, err := tx.InvoiceExists(ctx, batch.TenantID, record.Number)
	if err != nil {
		return err
	}
	if exists {
		return &RejectionError{Reason: domain.ErrDuplicate, Detail: record.Number}
	}

	now := a.now().UTC()
	batchID := batch.ID
	invoice := &domain.Invoice{
		ID:            a.newID(),
		TenantID:      batch.TenantID,
		ClientID:      client.ID,
		Number:        record.Number,
		Amount:        record.Amount,
		Status:        record.Status,
		IssueDate:     record.IssueDate,
		DueDate:       record.DueDate,
		Notes:         record.Notes,
		ImportBatchID: &batchID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.CreateInvoice(ctx, invoice); err != nil {
		return err
	}

	number := record.Number
	if err := tx.AppendRow(ctx, a.ledgerRow(batch.ID, row, domain.RowStatusSuccess, &number, nil)); err != nil {
		return err
	}

	return tx.IncrementCounters(ctx, batch.ID, domain.RowStatusSuccess)
}

// RecordFailure appends an error ledger row and bumps the error counter.
// Transient store failures are retried under the same policy as Apply.
func (a *RowApplier) RecordFailure(ctx context.Context, batch *domain.ImportBatch, row SourceRow, identifier *string, message string) (Outcome, error) {
	msg := message
	err := retry.Do(ctx, a.policy, func(ctx context.Context, attempt int) error {
		return a.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.AppendRow(ctx, a.ledgerRow(batch.ID, row, domain.RowStatusError, identifier, &msg)); err != nil {
				return err
			}
			return tx.IncrementCounters(ctx, batch.ID, domain.RowStatusError)
		})
	})
	if errors.Is(err, domain.ErrConflict) {
		return Outcome{AlreadyRecorded: true}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to record row %d outcome: %w", row.Number, err)
	}

	return Outcome{Status: domain.RowStatusError, Message: message}, nil
}

func (a *RowApplier) ledgerRow(batchID string, row SourceRow, status domain.RowStatus, identifier *string, message *string) *domain.ImportBatchRow {
	payload := make(map[string]string, len(row.Fields))
	for k, v := range row.Fields {
		payload[k] = v
	}

	return &domain.ImportBatchRow{
		ID:         a.newID(),
		BatchID:    batchID,
		RowNumber:  row.Number,
		Status:     status,
		Identifier: identifier,
		Message:    message,
		RawPayload: payload,
		CreatedAt:  a.now().UTC(),
	}
}
