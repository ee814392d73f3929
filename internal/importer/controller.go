package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/kursadbilgin/invoice-importer/internal/observability"
	"go.uber.org/zap"
)

// RunStats summarizes what a single controller run did.
type RunStats struct {
	TotalRows int
	Skipped   int
	Succeeded int
	Failed    int
}

// BatchController walks every row of one batch in file order and drives the
// batch state machine.
type BatchController struct {
	batches   BatchStore
	ledger    Ledger
	files     FileOpener
	validator *Validator
	applier   *RowApplier
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewBatchController(
	batches BatchStore,
	ledger Ledger,
	files FileOpener,
	validator *Validator,
	applier *RowApplier,
	logger *zap.Logger,
) (*BatchController, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if files == nil {
		return nil, fmt.Errorf("file opener is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("row validator is required")
	}
	if applier == nil {
		return nil, fmt.Errorf("row applier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchController{
		batches:   batches,
		ledger:    ledger,
		files:     files,
		validator: validator,
		applier:   applier,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (c *BatchController) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
	c.applier.SetMetrics(metrics)
}

// Run processes the rows of batchID that are not yet in the ledger. Any
// returned error has already been recorded on the batch as failed.
func (c *BatchController) Run(ctx context.Context, batchID string) (RunStats, error) {
	var stats RunStats

	batch, err := c.batches.BeginAttempt(ctx, batchID, c.now().UTC())
	if err != nil {
		return stats, fmt.Errorf("failed to start batch %s: %w", batchID, err)
	}

	logger := c.logger.With(
		zap.String("batchId", batch.ID),
		zap.String("tenantId", batch.TenantID),
		zap.Int("attempt", batch.Attempts()),
	)
	logger.Info("batch run started", zap.String("file", batch.StoredFileRef))

	src, err := c.files.Open(ctx, batch.StoredFileRef)
	if err != nil {
		if !errors.Is(err, domain.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
		}
		return stats, c.fail(ctx, logger, batch.ID, err)
	}
	defer src.Close() //nolint:errcheck // read-only stream

	reader, err := NewRowReader(src)
	if err != nil {
		return stats, c.fail(ctx, logger, batch.ID, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err))
	}
	if !reader.HasHeader() {
		logger.Warn("no header line detected, using default column order",
			zap.Strings("columns", reader.Columns()),
		)
	}

	done, err := c.ledger.RowNumbers(ctx, batch.ID)
	if err != nil {
		return stats, c.fail(ctx, logger, batch.ID, fmt.Errorf("failed to load processed rows: %w", err))
	}
	if len(done) > 0 {
		logger.Info("resuming batch", zap.Int("alreadyProcessed", len(done)))
	}

	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, c.fail(ctx, logger, batch.ID, err)
		}

		if _, ok := done[row.Number]; ok {
			stats.Skipped++
			continue
		}

		outcome, err := c.processRow(ctx, batch, row)
		if err != nil {
			return stats, c.fail(ctx, logger, batch.ID, err)
		}
		switch outcome.Status {
		case domain.RowStatusSuccess:
			stats.Succeeded++
		case domain.RowStatusError:
			stats.Failed++
		default:
			stats.Skipped++
		}
		c.metrics.IncRowProcessed(outcomeLabel(outcome))
	}

	stats.TotalRows = reader.Rows()
	if err := c.batches.Complete(ctx, batch.ID, stats.TotalRows, c.now().UTC()); err != nil {
		return stats, c.fail(ctx, logger, batch.ID, fmt.Errorf("failed to complete batch: %w", err))
	}

	logger.Info("batch run completed",
		zap.Int("totalRows", stats.TotalRows),
		zap.Int("skipped", stats.Skipped),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

func (c *BatchController) processRow(ctx context.Context, batch *domain.ImportBatch, row SourceRow) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	if row.ParseErr != nil {
		return c.applier.RecordFailure(ctx, batch, row, nil, fmt.Sprintf("malformed line: %v", row.ParseErr))
	}

	record, err := c.validator.Validate(row.Fields)
	if err != nil {
		return c.applier.RecordFailure(ctx, batch, row, identifierOf(row.Fields), err.Error())
	}

	return c.applier.Apply(ctx, batch, row, record)
}

func (c *BatchController) fail(ctx context.Context, logger *zap.Logger, batchID string, cause error) error {
	logger.Error("batch run failed", zap.Error(cause))

	// The caller's context may be the reason we are failing; the state
	// change still has to land.
	failCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		failCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}

	if err := c.batches.Fail(failCtx, batchID, cause.Error(), c.now().UTC()); err != nil {
		logger.Error("failed to mark batch as failed", zap.Error(err))
		return errors.Join(cause, err)
	}
	return cause
}

func identifierOf(fields RawRecord) *string {
	value := cleanCell(fields[ColumnInvoiceNumber])
	if value == "" {
		return nil
	}
	return &value
}

func outcomeLabel(o Outcome) string {
	if o.AlreadyRecorded {
		return "already_recorded"
	}
	return o.Status.String()
}
