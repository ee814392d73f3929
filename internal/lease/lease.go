package lease

import (
	"context"
	"errors"
	"time"
)

// ErrBatchBusy is returned when another worker holds the batch lease.
var ErrBatchBusy = errors.New("batch is held by another worker")

// Lease is a held claim on one batch.
type Lease interface {
	// Extend pushes the expiry out by ttl. It fails once the lease was lost.
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker hands out exclusive, expiring leases keyed by batch id so that two
// deliveries of the same job never run the controller concurrently.
type Locker interface {
	Acquire(ctx context.Context, batchID string, ttl time.Duration) (Lease, error)
}

// Nop grants every lease. It is used when no shared lock store is configured.
type Nop struct{}

func (Nop) Acquire(context.Context, string, time.Duration) (Lease, error) { return nopLease{}, nil }

type nopLease struct{}

func (nopLease) Extend(context.Context, time.Duration) error { return nil }
func (nopLease) Release(context.Context) error              { return nil }
