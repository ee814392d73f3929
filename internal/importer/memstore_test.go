package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/invoice-importer/internal/domain"
	"github.com/kursadbilgin/invoice-importer/internal/retry"
	"go.uber.org/zap"
)

var errTransient = errors.New("serialization failure")

func isTestTransient(err error) bool { return errors.Is(err, errTransient) }

func noSleep(context.Context, time.Duration) error { return nil }

// memStore is an in-memory implementation of every importer port. Row
// transactions are staged and only applied when fn returns nil.
type memStore struct {
	mu       sync.Mutex
	batches  map[string]*domain.ImportBatch
	rows     map[string]map[int]*domain.ImportBatchRow
	clients  map[string]*domain.Client
	invoices map[string]*domain.Invoice
	files    map[string]string

	// txErrs are returned, in order, by the next WithinTx calls before fn runs.
	txErrs  []error
	txCalls int

	openErr        error
	syncCalls      int
	beginCalls     int
	failCalls      int
	completeCalls  int
	ledgerLoadErr  error
	failMessageLog []string
}

func newMemStore() *memStore {
	return &memStore{
		batches:  make(map[string]*domain.ImportBatch),
		rows:     make(map[string]map[int]*domain.ImportBatchRow),
		clients:  make(map[string]*domain.Client),
		invoices: make(map[string]*domain.Invoice),
		files:    make(map[string]string),
	}
}

func (s *memStore) addBatch(id, tenantID, fileRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[id] = &domain.ImportBatch{
		ID:             id,
		TenantID:       tenantID,
		SourceFilename: "invoices.csv",
		StoredFileRef:  fileRef,
		Status:         domain.BatchStatusPending,
		Meta:           map[string]any{},
	}
}

func (s *memStore) addClient(tenantID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[tenantID+"|"+email] = &domain.Client{
		ID:       "client-" + email,
		TenantID: tenantID,
		Email:    email,
		Name:     email,
	}
}

func (s *memStore) addFile(ref, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[ref] = content
}

func (s *memStore) batch(id string) domain.ImportBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.batches[id]
}

func (s *memStore) ledger(batchID string) map[int]*domain.ImportBatchRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]*domain.ImportBatchRow, len(s.rows[batchID]))
	for k, v := range s.rows[batchID] {
		out[k] = v
	}
	return out
}

func (s *memStore) invoiceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invoices)
}

func (s *memStore) GetByID(ctx context.Context, id string) (*domain.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) BeginAttempt(ctx context.Context, id string, now time.Time) (*domain.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginCalls++
	b, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	b.Status = domain.BatchStatusProcessing
	b.Meta[domain.MetaKeyAttempts] = b.Attempts() + 1
	if b.StartedAt == nil {
		started := now
		b.StartedAt = &started
	}
	b.LastErrorMessage = nil
	cp := *b
	return &cp, nil
}

func (s *memStore) SyncCounters(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncCalls++
	b, ok := s.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.SuccessCount, b.ErrorCount = 0, 0
	for _, row := range s.rows[id] {
		if row.Status == domain.RowStatusSuccess {
			b.SuccessCount++
		} else {
			b.ErrorCount++
		}
	}
	b.ProcessedRows = b.SuccessCount + b.ErrorCount
	return nil
}

func (s *memStore) Complete(ctx context.Context, id string, totalRows int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeCalls++
	b := s.batches[id]
	b.Status = domain.BatchStatusCompleted
	b.TotalRows = totalRows
	finished := now
	b.FinishedAt = &finished
	return nil
}

func (s *memStore) Fail(ctx context.Context, id string, message string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCalls++
	s.failMessageLog = append(s.failMessageLog, message)
	b, ok := s.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.Status = domain.BatchStatusFailed
	msg := message
	b.LastErrorMessage = &msg
	finished := now
	b.FinishedAt = &finished
	return nil
}

func (s *memStore) RowNumbers(ctx context.Context, batchID string) (map[int]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledgerLoadErr != nil {
		return nil, s.ledgerLoadErr
	}
	out := make(map[int]struct{}, len(s.rows[batchID]))
	for n := range s.rows[batchID] {
		out[n] = struct{}{}
	}
	return out, nil
}

func (s *memStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	content, ok := s.files[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s does not exist", domain.ErrSourceUnavailable, ref)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCalls++
	if len(s.txErrs) > 0 {
		injected := s.txErrs[0]
		s.txErrs = s.txErrs[1:]
		if injected != nil {
			return injected
		}
	}

	tx := &memTx{store: s, counters: make(map[string][2]int)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	store    *memStore
	invoices []*domain.Invoice
	rows     []*domain.ImportBatchRow
	counters map[string][2]int
}

func (t *memTx) FindClientByEmail(ctx context.Context, tenantID, email string) (*domain.Client, error) {
	c, ok := t.store.clients[tenantID+"|"+email]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", email, domain.ErrNotFound)
	}
	return c, nil
}

func (t *memTx) InvoiceExists(ctx context.Context, tenantID, number string) (bool, error) {
	if _, ok := t.store.invoices[tenantID+"|"+number]; ok {
		return true, nil
	}
	for _, inv := range t.invoices {
		if inv.TenantID == tenantID && inv.Number == number {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	t.invoices = append(t.invoices, invoice)
	return nil
}

func (t *memTx) AppendRow(ctx context.Context, row *domain.ImportBatchRow) error {
	if _, ok := t.store.rows[row.BatchID][row.RowNumber]; ok {
		return fmt.Errorf("row %d: %w", row.RowNumber, domain.ErrConflict)
	}
	t.rows = append(t.rows, row)
	return nil
}

func (t *memTx) IncrementCounters(ctx context.Context, batchID string, status domain.RowStatus) error {
	c := t.counters[batchID]
	if status == domain.RowStatusSuccess {
		c[0]++
	} else {
		c[1]++
	}
	t.counters[batchID] = c
	return nil
}

func (t *memTx) commit() {
	for _, inv := range t.invoices {
		t.store.invoices[inv.TenantID+"|"+inv.Number] = inv
	}
	for _, row := range t.rows {
		if t.store.rows[row.BatchID] == nil {
			t.store.rows[row.BatchID] = make(map[int]*domain.ImportBatchRow)
		}
		t.store.rows[row.BatchID][row.RowNumber] = row
	}
	for id, c := range t.counters {
		b := t.store.batches[id]
		b.SuccessCount += c[0]
		b.ErrorCount += c[1]
		b.ProcessedRows += c[0] + c[1]
	}
}

// seedRow writes a ledger row directly, as a prior attempt would have.
func (s *memStore) seedRow(batchID string, number int, status domain.RowStatus, identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[batchID] == nil {
		s.rows[batchID] = make(map[int]*domain.ImportBatchRow)
	}
	id := identifier
	s.rows[batchID][number] = &domain.ImportBatchRow{
		ID:         fmt.Sprintf("seed-%d", number),
		BatchID:    batchID,
		RowNumber:  number,
		Status:     status,
		Identifier: &id,
	}
}

type pipeline struct {
	store      *memStore
	controller *BatchController
	runner     *JobRunner
}

func newPipeline(store *memStore) (*pipeline, error) {
	validator, err := NewValidator(domain.InvoiceStatusDraft)
	if err != nil {
		return nil, err
	}

	policy := retry.Fixed(DefaultRowAttempts, time.Millisecond, isTestTransient)
	policy.Sleep = noSleep
	applier, err := NewRowApplier(store, policy, zap.NewNop())
	if err != nil {
		return nil, err
	}

	controller, err := NewBatchController(store, store, store, validator, applier, zap.NewNop())
	if err != nil {
		return nil, err
	}

	runner, err := NewJobRunner(store, controller, zap.NewNop())
	if err != nil {
		return nil, err
	}

	return &pipeline{store: store, controller: controller, runner: runner}, nil
}
