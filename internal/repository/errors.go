package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kursadbilgin/invoice-importer/internal/domain"
)

// RowLedgerUniqueIndex guards one ledger entry per (batch, row number).
const RowLedgerUniqueIndex = "uq_import_batch_rows_batch_row"

// IsTransient reports whether a store error may go away on its own, so the
// operation is worth running again in a fresh transaction.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, domain.ErrConflict) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57014", // query_canceled (statement_timeout)
			"23505": // unique_violation: a concurrent writer won the race
			return true
		}
		// connection_exception and insufficient_resources classes
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53")
	}

	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// mapLedgerError turns a unique violation on the ledger index into
// domain.ErrConflict and leaves every other error untouched.
func mapLedgerError(err error, batchID string, rowNumber int) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == RowLedgerUniqueIndex {
		return fmt.Errorf("%w: row %d of batch %s already recorded", domain.ErrConflict, rowNumber, batchID)
	}
	return err
}
