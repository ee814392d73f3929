package importer

import (
	"context"
	"io"
	"time"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
)

// BatchStore persists the batch record and its state transitions.
type BatchStore interface {
	GetByID(ctx context.Context, id string) (*domain.ImportBatch, error)
	// BeginAttempt moves the batch to processing, increments meta.attempts
	// and sets started_at when it is still unset.
	BeginAttempt(ctx context.Context, id string, now time.Time) (*domain.ImportBatch, error)
	// SyncCounters recomputes the aggregate counters from the ledger.
	SyncCounters(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, totalRows int, now time.Time) error
	Fail(ctx context.Context, id string, message string, now time.Time) error
}

// Ledger reads the per-row outcome log.
type Ledger interface {
	// RowNumbers returns every row number already recorded for the batch.
	RowNumbers(ctx context.Context, batchID string) (map[int]struct{}, error)
}

// TxRunner runs fn inside one store transaction. fn returning an error rolls
// the transaction back.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of primitives available inside a row transaction.
type Tx interface {
	FindClientByEmail(ctx context.Context, tenantID, email string) (*domain.Client, error)
	InvoiceExists(ctx context.Context, tenantID, number string) (bool, error)
	CreateInvoice(ctx context.Context, invoice *domain.Invoice) error
	// AppendRow returns an error wrapping domain.ErrConflict when the
	// (batch, row number) pair is already recorded.
	AppendRow(ctx context.Context, row *domain.ImportBatchRow) error
	// IncrementCounters bumps processed_rows and the counter matching status.
	IncrementCounters(ctx context.Context, batchID string, status domain.RowStatus) error
}

// FileOpener opens a stored upload for streaming.
type FileOpener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}
