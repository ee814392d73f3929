package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/kursadbilgin/invoice-importer/internal/lease"
	"github.com/kursadbilgin/invoice-importer/internal/notify"
	"github.com/kursadbilgin/invoice-importer/internal/observability"
	"github.com/kursadbilgin/invoice-importer/internal/queue"
	"github.com/kursadbilgin/invoice-importer/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	defaultLeaseTTL      = 2 * time.Minute
	notifyAttempts       = 3
	notifyRetryDelay     = time.Second
	releaseTimeout       = 5 * time.Second
)

// JobHandler runs one delivery of an import job.
type JobHandler interface {
	Handle(ctx context.Context, batchID string) (*domain.ImportBatch, error)
}

// WorkerOptions tunes a WorkerService. Zero values fall back to defaults.
type WorkerOptions struct {
	Concurrency int
	LeaseTTL    time.Duration
	// MaxAttempts is the job delivery budget; a failure on the last attempt
	// is announced as final.
	MaxAttempts int
}

type WorkerService struct {
	jobs        JobHandler
	consumer    queue.Consumer
	locker      lease.Locker
	notifier    notify.Notifier
	notifyRetry retry.Policy
	logger      *zap.Logger
	metrics     *observability.Metrics
	opts        WorkerOptions
}

func NewWorkerService(
	jobs JobHandler,
	consumer queue.Consumer,
	locker lease.Locker,
	notifier notify.Notifier,
	opts WorkerOptions,
	logger *zap.Logger,
) (*WorkerService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job handler is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if locker == nil {
		locker = lease.Nop{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.Concurrency < minWorkerConcurrency {
		opts.Concurrency = minWorkerConcurrency
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		jobs:        jobs,
		consumer:    consumer,
		locker:      locker,
		notifier:    notifier,
		notifyRetry: retry.Fixed(notifyAttempts, notifyRetryDelay, notify.IsTransient),
		logger:      logger,
		opts:        opts,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the import queue with the configured number of workers
// until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started", zap.Int("workerId", workerID), zap.String("queue", queue.WorkQueue))

			if err := s.consumer.Consume(groupCtx, s.processMessage); err != nil {
				s.logger.Error("worker stopped with error", zap.Int("workerId", workerID), zap.Error(err))
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.ImportMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("batchId", msg.BatchID),
		zap.Int("attempt", msg.Attempt),
	)

	held, err := s.locker.Acquire(ctx, msg.BatchID, s.opts.LeaseTTL)
	if errors.Is(err, lease.ErrBatchBusy) {
		// The holder may have crashed; its lease lapses within one TTL, so the
		// delivery goes back through the retry schedule.
		logger.Info("batch is leased by another worker")
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to acquire batch lease: %w", err)
	}

	stopKeepAlive := s.keepAlive(ctx, logger, held)
	batch, runErr := s.jobs.Handle(ctx, msg.BatchID)
	stopKeepAlive()

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := held.Release(releaseCtx); err != nil {
		logger.Warn("failed to release batch lease", zap.Error(err))
	}

	// An interrupted run is redelivered, so its outcome is not final yet.
	if batch != nil && ctx.Err() == nil && s.shouldAnnounce(batch, msg, runErr) {
		s.announce(ctx, logger, batch)
	}

	return runErr
}

// shouldAnnounce is true for a completed batch and for a failure that will
// not be retried.
func (s *WorkerService) shouldAnnounce(batch *domain.ImportBatch, msg queue.ImportMessage, runErr error) bool {
	switch batch.Status {
	case domain.BatchStatusCompleted:
		return runErr == nil
	case domain.BatchStatusFailed:
		return runErr != nil && msg.Attempt >= s.opts.MaxAttempts
	}
	return false
}

func (s *WorkerService) announce(ctx context.Context, logger *zap.Logger, batch *domain.ImportBatch) {
	summary := batch.Summary()
	err := retry.Do(context.WithoutCancel(ctx), s.notifyRetry, func(ctx context.Context, attempt int) error {
		return s.notifier.NotifyBatchFinished(ctx, batch.TenantID, summary)
	})
	if err != nil {
		s.metrics.IncNotification("failed")
		logger.Error("failed to send batch notification", zap.String("status", summary.Status), zap.Error(err))
		return
	}
	s.metrics.IncNotification("sent")
}

func (s *WorkerService) keepAlive(ctx context.Context, logger *zap.Logger, held lease.Lease) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.opts.LeaseTTL / 3)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := held.Extend(ctx, s.opts.LeaseTTL); err != nil && ctx.Err() == nil {
					logger.Warn("failed to extend batch lease", zap.Error(err))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
