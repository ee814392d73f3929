package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/kursadbilgin/invoice-importer/internal/lease"
	"github.com/kursadbilgin/invoice-importer/internal/queue"
	"github.com/kursadbilgin/invoice-importer/internal/repository"
	"github.com/kursadbilgin/invoice-importer/internal/storage"
)

type fakeBatchRepo struct {
	createFn            func(ctx context.Context, b *domain.ImportBatch) error
	getByIDFn           func(ctx context.Context, id string) (*domain.ImportBatch, error)
	listPendingBeforeFn func(ctx context.Context, cutoff time.Time, limit int) ([]domain.ImportBatch, error)
}

func (f *fakeBatchRepo) Create(ctx context.Context, b *domain.ImportBatch) error {
	if f.createFn != nil {
		return f.createFn(ctx, b)
	}
	return nil
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.ImportBatch, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchRepo) BeginAttempt(context.Context, string, time.Time) (*domain.ImportBatch, error) {
	return nil, nil
}

func (f *fakeBatchRepo) SyncCounters(context.Context, string) error { return nil }

func (f *fakeBatchRepo) Complete(context.Context, string, int, time.Time) error { return nil }

func (f *fakeBatchRepo) Fail(context.Context, string, string, time.Time) error { return nil }

func (f *fakeBatchRepo) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ImportBatch, error) {
	if f.listPendingBeforeFn != nil {
		return f.listPendingBeforeFn(ctx, cutoff, limit)
	}
	return nil, nil
}

type fakeRowRepo struct {
	listFn          func(ctx context.Context, params repository.RowListParams) ([]domain.ImportBatchRow, int64, error)
	countByStatusFn func(ctx context.Context, batchID string) ([]repository.RowStatusCount, error)
}

func (f *fakeRowRepo) RowNumbers(context.Context, string) (map[int]struct{}, error) {
	return map[int]struct{}{}, nil
}

func (f *fakeRowRepo) List(ctx context.Context, params repository.RowListParams) ([]domain.ImportBatchRow, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeRowRepo) CountByStatus(ctx context.Context, batchID string) ([]repository.RowStatusCount, error) {
	if f.countByStatusFn != nil {
		return f.countByStatusFn(ctx, batchID)
	}
	return nil, nil
}

type fakeFileSaver struct {
	saveFn func(ctx context.Context, tenantID, batchID, filename string, r io.Reader) (storage.SavedFile, error)
}

func (f *fakeFileSaver) Save(ctx context.Context, tenantID, batchID, filename string, r io.Reader) (storage.SavedFile, error) {
	if f.saveFn != nil {
		return f.saveFn(ctx, tenantID, batchID, filename, r)
	}
	return storage.SavedFile{Ref: tenantID + "/" + batchID + ".csv"}, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	publishFn func(ctx context.Context, msg queue.ImportMessage) error
	published []queue.ImportMessage
}

func (f *fakePublisher) Publish(ctx context.Context, msg queue.ImportMessage) error {
	f.mu.Lock()
	f.published = append(f.published, msg)
	f.mu.Unlock()
	if f.publishFn != nil {
		return f.publishFn(ctx, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) messages() []queue.ImportMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.ImportMessage(nil), f.published...)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeJobHandler struct {
	handleFn func(ctx context.Context, batchID string) (*domain.ImportBatch, error)
}

func (f *fakeJobHandler) Handle(ctx context.Context, batchID string) (*domain.ImportBatch, error) {
	return f.handleFn(ctx, batchID)
}

type fakeLocker struct {
	acquireFn func(ctx context.Context, batchID string, ttl time.Duration) (lease.Lease, error)
}

func (f *fakeLocker) Acquire(ctx context.Context, batchID string, ttl time.Duration) (lease.Lease, error) {
	return f.acquireFn(ctx, batchID, ttl)
}

type fakeLease struct {
	mu        sync.Mutex
	extended  int
	released  int
	releaseFn func(ctx context.Context) error
}

func (f *fakeLease) Extend(context.Context, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extended++
	return nil
}

func (f *fakeLease) Release(ctx context.Context) error {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
	if f.releaseFn != nil {
		return f.releaseFn(ctx)
	}
	return nil
}

func (f *fakeLease) counts() (extended, released int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extended, f.released
}

type fakeNotifier struct {
	mu       sync.Mutex
	notifyFn func(ctx context.Context, tenantID string, summary domain.BatchSummary) error
	sent     []domain.BatchSummary
}

func (f *fakeNotifier) NotifyBatchFinished(ctx context.Context, tenantID string, summary domain.BatchSummary) error {
	f.mu.Lock()
	f.sent = append(f.sent, summary)
	f.mu.Unlock()
	if f.notifyFn != nil {
		return f.notifyFn(ctx, tenantID, summary)
	}
	return nil
}

func (f *fakeNotifier) calls() []domain.BatchSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.BatchSummary(nil), f.sent...)
}
