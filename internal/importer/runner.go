package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/kursadbilgin/invoice-importer/internal/observability"
	"go.uber.org/zap"
)

// BatchRunner is the controller contract the job runner delegates to.
type BatchRunner interface {
	Run(ctx context.Context, batchID string) (RunStats, error)
}

// JobRunner is the queue-facing entry point for one batch. It is safe to
// invoke repeatedly for the same batch: rows already in the ledger are
// skipped and a completed batch is left alone.
type JobRunner struct {
	batches    BatchStore
	controller BatchRunner
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewJobRunner(batches BatchStore, controller BatchRunner, logger *zap.Logger) (*JobRunner, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if controller == nil {
		return nil, fmt.Errorf("batch controller is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &JobRunner{
		batches:    batches,
		controller: controller,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (r *JobRunner) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Handle runs one delivery of the import job for batchID. It returns the
// batch as stored after the run (nil when the batch does not exist). A
// non-nil error means the delivery failed and the queue should decide on
// redelivery.
func (r *JobRunner) Handle(ctx context.Context, batchID string) (*domain.ImportBatch, error) {
	logger := observability.WithContextLogger(r.logger, ctx).With(zap.String("batchId", batchID))

	batch, err := r.batches.GetByID(ctx, batchID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("import batch not found, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}

	if batch.Status == domain.BatchStatusCompleted {
		logger.Info("import batch already completed, skipping")
		return batch, nil
	}

	if err := r.batches.SyncCounters(ctx, batchID); err != nil {
		return batch, r.fail(ctx, logger, batchID, fmt.Errorf("failed to resync counters: %w", err))
	}

	r.metrics.IncBatchRunsInFlight()
	start := r.now()
	_, runErr := r.controller.Run(ctx, batchID)
	r.metrics.DecBatchRunsInFlight()
	r.metrics.ObserveBatchRunDuration(r.now().Sub(start))

	if runErr != nil {
		r.metrics.IncBatchRun("failed")
		failErr := r.fail(ctx, logger, batchID, runErr)
		current, loadErr := r.reload(ctx, batchID, batch)
		if loadErr != nil {
			logger.Warn("failed to reload batch after failure", zap.Error(loadErr))
		}
		return current, failErr
	}

	r.metrics.IncBatchRun("completed")
	return r.reload(ctx, batchID, batch)
}

// fail records the failure on the batch. The controller usually did this
// already; doing it again is harmless and covers errors raised before the
// controller ran.
func (r *JobRunner) fail(ctx context.Context, logger *zap.Logger, batchID string, cause error) error {
	failCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		failCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}

	if err := r.batches.Fail(failCtx, batchID, cause.Error(), r.now().UTC()); err != nil {
		logger.Error("failed to mark batch as failed", zap.Error(err))
		return errors.Join(cause, err)
	}
	logger.Warn("import job attempt failed", zap.Error(cause))
	return cause
}

func (r *JobRunner) reload(ctx context.Context, batchID string, fallback *domain.ImportBatch) (*domain.ImportBatch, error) {
	current, err := r.batches.GetByID(context.WithoutCancel(ctx), batchID)
	if err != nil {
		return fallback, err
	}
	return current, nil
}
