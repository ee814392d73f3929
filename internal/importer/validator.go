package importer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/shopspring/decimal"
)

// Accepted date layouts, tried in order. ISO forms come first so that
// unambiguous input never falls through to the day/month guessing below.
// Two-digit years use Go's fixed pivot (69-99 -> 19xx, 00-68 -> 20xx) so
// parsing does not depend on the current date.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"2006.01.02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"02.01.2006",
	"2.1.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"20060102",
	"01/02/06",
	"1/2/06",
}

// ValidationError rejects a row because one of its fields is malformed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return domain.ErrValidation }

func fieldError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CanonicalInvoice is a validated, typed row ready to be applied.
type CanonicalInvoice struct {
	Number      string
	ClientEmail string
	Amount      decimal.Decimal
	Status      domain.InvoiceStatus
	IssueDate   time.Time
	DueDate     time.Time
	Notes       *string
}

// Validator turns raw records into canonical invoices. It holds no mutable
// state, so the same record always yields the same result.
type Validator struct {
	defaultStatus domain.InvoiceStatus
	validate      *validator.Validate
}

func NewValidator(defaultStatus domain.InvoiceStatus) (*Validator, error) {
	if defaultStatus == "" {
		defaultStatus = domain.InvoiceStatusDraft
	}
	if !defaultStatus.IsValid() {
		return nil, fmt.Errorf("%w: invalid default invoice status %q", domain.ErrValidation, defaultStatus)
	}

	return &Validator{
		defaultStatus: defaultStatus,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Validate applies the row rules in order and stops at the first failure.
func (v *Validator) Validate(raw RawRecord) (CanonicalInvoice, error) {
	var out CanonicalInvoice

	out.Number = cleanCell(raw[ColumnInvoiceNumber])
	if out.Number == "" {
		return CanonicalInvoice{}, fieldError(ColumnInvoiceNumber, "is required")
	}

	email := strings.ToLower(cleanCell(raw[ColumnClientEmail]))
	if email == "" {
		return CanonicalInvoice{}, fieldError(ColumnClientEmail, "is required")
	}
	if err := v.validate.Var(email, "email"); err != nil {
		return CanonicalInvoice{}, fieldError(ColumnClientEmail, "%q is not a valid email address", email)
	}
	out.ClientEmail = email

	amount, err := parseAmount(raw[ColumnAmount])
	if err != nil {
		return CanonicalInvoice{}, err
	}
	out.Amount = amount

	out.Status = v.defaultStatus
	if rawStatus := cleanCell(raw[ColumnStatus]); rawStatus != "" {
		status, err := domain.ParseInvoiceStatusFromString(rawStatus)
		if err != nil {
			return CanonicalInvoice{}, fieldError(ColumnStatus, "%q is not one of %s", rawStatus, allowedStatuses())
		}
		out.Status = status
	}

	if out.IssueDate, err = parseDateField(ColumnIssueDate, raw[ColumnIssueDate]); err != nil {
		return CanonicalInvoice{}, err
	}
	if out.DueDate, err = parseDateField(ColumnDueDate, raw[ColumnDueDate]); err != nil {
		return CanonicalInvoice{}, err
	}
	if out.DueDate.Before(out.IssueDate) {
		return CanonicalInvoice{}, fieldError(ColumnDueDate, "must not be before issue_date")
	}

	if notes := strings.TrimSpace(raw[ColumnNotes]); notes != "" {
		out.Notes = &notes
	}

	return out, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	value := cleanCell(raw)
	if value == "" {
		return decimal.Decimal{}, fieldError(ColumnAmount, "is required")
	}

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fieldError(ColumnAmount, "%q is not a valid decimal", value)
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, fieldError(ColumnAmount, "must not be negative")
	}
	return amount, nil
}

func parseDateField(field, raw string) (time.Time, error) {
	value := cleanCell(raw)
	if value == "" {
		return time.Time{}, fieldError(field, "is required")
	}

	t, err := ParseDate(value)
	if err != nil {
		return time.Time{}, fieldError(field, "%q is not a recognized date", value)
	}
	return t, nil
}

var errUnrecognizedDate = errors.New("unrecognized date")

// ParseDate parses value with the permissive layout list and truncates the
// result to a UTC calendar date.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, errUnrecognizedDate
}

// cleanCell trims whitespace and the ="..." wrapper spreadsheets add to keep
// values from being reinterpreted.
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

func allowedStatuses() string {
	return strings.Join([]string{
		domain.InvoiceStatusDraft.String(),
		domain.InvoiceStatusSent.String(),
		domain.InvoiceStatusPaid.String(),
		domain.InvoiceStatusOverdue.String(),
		domain.InvoiceStatusCancelled.String(),
	}, ", ")
}
