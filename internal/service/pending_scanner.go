package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/kursadbilgin/invoice-importer/internal/queue"
	"go.uber.org/zap"
)

const (
	defaultPendingScanInterval = 30 * time.Second
	defaultPendingScanAge      = 2 * time.Minute
	defaultPendingScanLimit    = 100
)

// PendingLister finds batches still waiting for their first run.
type PendingLister interface {
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ImportBatch, error)
}

// PendingScanner re-enqueues batches whose initial publish never reached the
// broker. Jobs are idempotent, so an extra message for a batch that was in
// fact queued only costs a skipped run.
type PendingScanner struct {
	batches   PendingLister
	publisher queue.Publisher
	logger    *zap.Logger
	interval  time.Duration
	age       time.Duration
	limit     int
	now       func() time.Time
}

func NewPendingScanner(
	batches PendingLister,
	publisher queue.Publisher,
	interval time.Duration,
	age time.Duration,
	logger *zap.Logger,
) (*PendingScanner, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultPendingScanInterval
	}
	if age <= 0 {
		age = defaultPendingScanAge
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PendingScanner{
		batches:   batches,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		age:       age,
		limit:     defaultPendingScanLimit,
		now:       time.Now,
	}, nil
}

func (s *PendingScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.scan(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("pending scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("pending scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *PendingScanner) scan(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.age)
	stale, err := s.batches.ListPendingBefore(ctx, cutoff, s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending batches: %w", err)
	}

	published := 0
	for i := range stale {
		batch := stale[i]
		msg := queue.ImportMessage{BatchID: batch.ID, TenantID: batch.TenantID}
		if err := s.publisher.Publish(ctx, msg); err != nil {
			s.logger.Error("failed to re-enqueue pending batch",
				zap.String("batchId", batch.ID),
				zap.Error(err),
			)
			continue
		}
		published++
	}

	if published > 0 {
		s.logger.Info("re-enqueued pending batches", zap.Int("count", published))
	}
	return published, nil
}
