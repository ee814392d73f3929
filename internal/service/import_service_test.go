package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/kursadbilgin/invoice-importer/internal/queue"
	"github.com/kursadbilgin/invoice-importer/internal/repository"
	"github.com/kursadbilgin/invoice-importer/internal/storage"
	"go.uber.org/zap"
)

func newTestImportService(t *testing.T, batches *fakeBatchRepo, rows *fakeRowRepo, files *fakeFileSaver, publisher *fakePublisher) *ImportService {
	t.Helper()

	svc, err := NewImportService(batches, rows, files, publisher, zap.NewNop())
	if err != nil {
		t.Fatalf("NewImportService() error = %v", err)
	}
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	svc.newID = func() string { return "b-1" }
	return svc
}

func TestImportServiceCreateBatch(t *testing.T) {
	t.Parallel()

	var created *domain.ImportBatch
	var savedContent string
	batches := &fakeBatchRepo{
		createFn: func(ctx context.Context, b *domain.ImportBatch) error {
			created = b
			return nil
		},
	}
	files := &fakeFileSaver{
		saveFn: func(ctx context.Context, tenantID, batchID, filename string, r io.Reader) (storage.SavedFile, error) {
			if tenantID != "t-1" || batchID != "b-1" || filename != "march.csv" {
				t.Fatalf("Save(%q, %q, %q), want (t-1, b-1, march.csv)", tenantID, batchID, filename)
			}
			data, _ := io.ReadAll(r)
			savedContent = string(data)
			return storage.SavedFile{Ref: "t-1/b-1.csv", Size: int64(len(data)), Checksum: "abc"}, nil
		},
	}
	publisher := &fakePublisher{}
	svc := newTestImportService(t, batches, &fakeRowRepo{}, files, publisher)

	batch, err := svc.CreateBatch(context.Background(), CreateBatchInput{
		TenantID:      " t-1 ",
		Filename:      "uploads/march.csv",
		Content:       strings.NewReader("invoice_number\nINV-1\n"),
		CorrelationID: "corr-1",
	})
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	if created == nil || created != batch {
		t.Fatal("batch should be persisted and returned")
	}
	if batch.Status != domain.BatchStatusPending {
		t.Fatalf("status = %s, want pending", batch.Status)
	}
	if batch.StoredFileRef != "t-1/b-1.csv" || batch.SourceFilename != "march.csv" {
		t.Fatalf("file = (%q, %q), want (t-1/b-1.csv, march.csv)", batch.StoredFileRef, batch.SourceFilename)
	}
	if batch.Attempts() != 0 {
		t.Fatalf("attempts = %d, want 0", batch.Attempts())
	}
	if batch.Meta["sha256"] != "abc" {
		t.Fatalf("meta sha256 = %v, want abc", batch.Meta["sha256"])
	}
	if savedContent != "invoice_number\nINV-1\n" {
		t.Fatalf("saved content = %q", savedContent)
	}

	msgs := publisher.messages()
	if len(msgs) != 1 {
		t.Fatalf("published = %d, want 1", len(msgs))
	}
	want := queue.ImportMessage{BatchID: "b-1", TenantID: "t-1", CorrelationID: "corr-1"}
	if msgs[0] != want {
		t.Fatalf("message = %+v, want %+v", msgs[0], want)
	}
}

func TestImportServiceCreateBatchValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   CreateBatchInput
	}{
		{name: "missing tenant", in: CreateBatchInput{Filename: "a.csv", Content: strings.NewReader("x")}},
		{name: "missing filename", in: CreateBatchInput{TenantID: "t", Content: strings.NewReader("x")}},
		{name: "unsupported extension", in: CreateBatchInput{TenantID: "t", Filename: "a.xlsx", Content: strings.NewReader("x")}},
		{name: "missing content", in: CreateBatchInput{TenantID: "t", Filename: "a.csv"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			files := &fakeFileSaver{
				saveFn: func(context.Context, string, string, string, io.Reader) (storage.SavedFile, error) {
					t.Fatal("Save should not be called")
					return storage.SavedFile{}, nil
				},
			}
			svc := newTestImportService(t, &fakeBatchRepo{}, &fakeRowRepo{}, files, &fakePublisher{})

			_, err := svc.CreateBatch(context.Background(), tt.in)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("CreateBatch() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestImportServiceCreateBatchPublishFailureKeepsPending(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{
		publishFn: func(context.Context, queue.ImportMessage) error {
			return errors.New("broker down")
		},
	}
	svc := newTestImportService(t, &fakeBatchRepo{}, &fakeRowRepo{}, &fakeFileSaver{}, publisher)

	batch, err := svc.CreateBatch(context.Background(), CreateBatchInput{
		TenantID: "t-1",
		Filename: "march.txt",
		Content:  strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	if batch.Status != domain.BatchStatusPending {
		t.Fatalf("status = %s, want pending", batch.Status)
	}
}

func TestImportServiceCreateBatchStorageFailure(t *testing.T) {
	t.Parallel()

	batches := &fakeBatchRepo{
		createFn: func(context.Context, *domain.ImportBatch) error {
			t.Fatal("Create should not be called")
			return nil
		},
	}
	files := &fakeFileSaver{
		saveFn: func(context.Context, string, string, string, io.Reader) (storage.SavedFile, error) {
			return storage.SavedFile{}, errors.New("disk full")
		},
	}
	publisher := &fakePublisher{}
	svc := newTestImportService(t, batches, &fakeRowRepo{}, files, publisher)

	_, err := svc.CreateBatch(context.Background(), CreateBatchInput{
		TenantID: "t-1",
		Filename: "march.csv",
		Content:  strings.NewReader("x"),
	})
	if err == nil {
		t.Fatal("CreateBatch() error = nil, want storage error")
	}
	if len(publisher.messages()) != 0 {
		t.Fatal("nothing should be published")
	}
}

func TestImportServiceGetBatch(t *testing.T) {
	t.Parallel()

	batches := &fakeBatchRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.ImportBatch, error) {
			return &domain.ImportBatch{ID: id, TenantID: "t-1", Status: domain.BatchStatusCompleted}, nil
		},
	}
	rows := &fakeRowRepo{
		countByStatusFn: func(ctx context.Context, batchID string) ([]repository.RowStatusCount, error) {
			return []repository.RowStatusCount{
				{Status: domain.RowStatusSuccess, Count: 2},
				{Status: domain.RowStatusError, Count: 1},
			}, nil
		},
	}
	svc := newTestImportService(t, batches, rows, &fakeFileSaver{}, &fakePublisher{})

	view, err := svc.GetBatch(context.Background(), "t-1", "b-9")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if view.Batch.ID != "b-9" || len(view.Counts) != 2 {
		t.Fatalf("view = %+v", view)
	}

	if _, err := svc.GetBatch(context.Background(), "t-2", "b-9"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetBatch() for another tenant error = %v, want ErrNotFound", err)
	}
}

func TestImportServiceListRows(t *testing.T) {
	t.Parallel()

	var got repository.RowListParams
	batches := &fakeBatchRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.ImportBatch, error) {
			return &domain.ImportBatch{ID: id, TenantID: "t-1"}, nil
		},
	}
	rows := &fakeRowRepo{
		listFn: func(ctx context.Context, params repository.RowListParams) ([]domain.ImportBatchRow, int64, error) {
			got = params
			return []domain.ImportBatchRow{{BatchID: params.BatchID, RowNumber: 1, Status: domain.RowStatusError}}, 1, nil
		},
	}
	svc := newTestImportService(t, batches, rows, &fakeFileSaver{}, &fakePublisher{})

	status := domain.RowStatusError
	list, total, err := svc.ListRows(context.Background(), "t-1", "b-1", &status, 2, 0)
	if err != nil {
		t.Fatalf("ListRows() error = %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Fatalf("ListRows() = (%d rows, total %d), want (1, 1)", len(list), total)
	}
	if got.BatchID != "b-1" || got.Page != 2 || got.PageSize != defaultRowPageSize || got.Status == nil || *got.Status != status {
		t.Fatalf("params = %+v", got)
	}

	for _, tc := range []struct{ page, size int }{{0, 10}, {1, -1}, {1, maxRowPageSize + 1}} {
		if _, _, err := svc.ListRows(context.Background(), "t-1", "b-1", nil, tc.page, tc.size); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("ListRows(page=%d, size=%d) error = %v, want ErrValidation", tc.page, tc.size, err)
		}
	}
}
