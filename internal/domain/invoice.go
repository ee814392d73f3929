package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an imported invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) String() string { return string(s) }

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

func ParseInvoiceStatusFromString(s string) (InvoiceStatus, error) {
	st := InvoiceStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid invoice status %q", ErrValidation, s)
	}
	return st, nil
}

// Client is the lookup target referenced by an invoice row.
type Client struct {
	ID       string
	TenantID string
	Email    string
	Name     string
}

// Invoice is created as the side effect of a successful import row.
// (TenantID, Number) is unique.
type Invoice struct {
	ID            string
	TenantID      string
	ClientID      string
	Number        string
	Amount        decimal.Decimal
	Status        InvoiceStatus
	IssueDate     time.Time
	DueDate       time.Time
	Notes         *string
	ImportBatchID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
