// Package notify announces finished import batches to an external channel.
// Delivery is at-least-once; receivers deduplicate on the Idempotency-Key
// header.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
)

// Notifier delivers the summary of a batch that reached a terminal status.
type Notifier interface {
	NotifyBatchFinished(ctx context.Context, tenantID string, summary domain.BatchSummary) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) NotifyBatchFinished(context.Context, string, domain.BatchSummary) error { return nil }

// DeliveryError classifies notification failures as transient/permanent.
type DeliveryError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "notification delivery failed")
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a failed delivery should be retried.
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

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// IdempotencyKey identifies one logical notification for a batch outcome.
func IdempotencyKey(summary domain.BatchSummary) string {
	return fmt.Sprintf("%s:%s", summary.BatchID, summary.Status)
}
