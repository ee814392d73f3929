package domain

import (
	"fmt"
	"strings"
	"time"
)

// RowStatus is the outcome of processing a single source row.
type RowStatus string

const (
	RowStatusSuccess RowStatus = "success"
	RowStatusError   RowStatus = "error"
)

func (s RowStatus) String() string { return string(s) }

func (s RowStatus) IsValid() bool {
	return s == RowStatusSuccess || s == RowStatusError
}

func ParseRowStatusFromString(s string) (RowStatus, error) {
	st := RowStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid row status %q", ErrValidation, s)
	}
	return st, nil
}

// ImportBatchRow is the append-only ledger entry for one source row.
// (BatchID, RowNumber) is unique.
type ImportBatchRow struct {
	ID         string
	BatchID    string
	RowNumber  int
	Status     RowStatus
	Identifier *string
	Message    *string
	RawPayload map[string]string
	CreatedAt  time.Time
}
