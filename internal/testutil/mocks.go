package testutil

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/domain/invoice"
	"github.com/cassiomorais/invoicing/internal/domain/outbox"
	"github.com/cassiomorais/invoicing/internal/domain/reconciliation"
	"github.com/cassiomorais/invoicing/internal/infrastructure/providers"
	"github.com/cassiomorais/invoicing/internal/repository/postgres"
	"github.com/google/uuid"
)

// Snapshotter is implemented by in-memory repositories that can be rolled
// back by MockTransactionManager.
type Snapshotter interface {
	// Snapshot captures the current state and returns a func restoring it.
	Snapshot() (restore func())
}

// --- Invoice Repository Mock ---

// MockInvoiceRepository is a mock implementation of invoice.Repository.
// Stored invoices are copied in and out so callers never share state with it.
type MockInvoiceRepository struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]invoice.Invoice

	// CASWins counts CompareAndSet calls that changed a row.
	CASWins atomic.Int32

	CreateFunc        func(ctx context.Context, inv *invoice.Invoice) error
	GetByIDFunc       func(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error)
	CompareAndSetFunc func(ctx context.Context, id uuid.UUID, expected, next invoice.Status, txID *string) (bool, error)
	ListFunc          func(ctx context.Context, filter invoice.ListFilter) ([]*invoice.Invoice, error)
	ListStaleFunc     func(ctx context.Context, status invoice.Status, olderThan time.Time, limit int) ([]*invoice.Invoice, error)
	StatsFunc         func(ctx context.Context, userID *string) (*invoice.Stats, error)
}

func NewMockInvoiceRepository() *MockInvoiceRepository {
	return &MockInvoiceRepository{invoices: make(map[uuid.UUID]invoice.Invoice)}
}

// AddInvoice pre-populates the mock with an invoice.
func (m *MockInvoiceRepository) AddInvoice(inv *invoice.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = *inv
}

// Stored returns a copy of the stored invoice (test helper, no context needed).
func (m *MockInvoiceRepository) Stored(id uuid.UUID) *invoice.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil
	}
	return &inv
}

func (m *MockInvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, inv)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = *inv
	return nil
}

func (m *MockInvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, domainErrors.ErrInvoiceNotFound
	}
	return &inv, nil
}

func (m *MockInvoiceRepository) CompareAndSet(ctx context.Context, id uuid.UUID, expected, next invoice.Status, txID *string) (bool, error) {
	if m.CompareAndSetFunc != nil {
		return m.CompareAndSetFunc(ctx, id, expected, next, txID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || inv.Status != expected {
		return false, nil
	}
	now := time.Now().UTC()
	inv.Status = next
	if inv.TransactionID == nil && txID != nil {
		v := *txID
		inv.TransactionID = &v
	}
	if next.IsTerminal() {
		inv.CompletedAt = &now
	}
	inv.UpdatedAt = now
	m.invoices[id] = inv
	m.CASWins.Add(1)
	return true, nil
}

func (m *MockInvoiceRepository) List(ctx context.Context, filter invoice.ListFilter) ([]*invoice.Invoice, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*invoice.Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		if filter.UserID != nil && inv.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && inv.Status != *filter.Status {
			continue
		}
		inv := inv
		result = append(result, &inv)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *MockInvoiceRepository) ListStale(ctx context.Context, status invoice.Status, olderThan time.Time, limit int) ([]*invoice.Invoice, error) {
	if m.ListStaleFunc != nil {
		return m.ListStaleFunc(ctx, status, olderThan, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*invoice.Invoice
	for _, inv := range m.invoices {
		if inv.Status == status && inv.UpdatedAt.Before(olderThan) {
			inv := inv
			result = append(result, &inv)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockInvoiceRepository) Stats(ctx context.Context, userID *string) (*invoice.Stats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := invoice.NewStats()
	for _, inv := range m.invoices {
		if userID != nil && inv.UserID != *userID {
			continue
		}
		stats.Add(inv.Status, 1, inv.Amount.Value)
	}
	return stats, nil
}

func (m *MockInvoiceRepository) Snapshot() func() {
	m.mu.Lock()
	saved := make(map[uuid.UUID]invoice.Invoice, len(m.invoices))
	for k, v := range m.invoices {
		saved[k] = v
	}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.invoices = saved
		m.mu.Unlock()
	}
}

// --- Reconciliation Repository Mock ---

// MockReconciliationRepository is a mock implementation of reconciliation.Repository.
type MockReconciliationRepository struct {
	mu      sync.Mutex
	entries map[string]reconciliation.Entry
	order   []string

	GetFunc           func(ctx context.Context, eventID string) (*reconciliation.Entry, error)
	RecordFunc        func(ctx context.Context, entry *reconciliation.Entry) (bool, error)
	ListByInvoiceFunc func(ctx context.Context, invoiceID uuid.UUID) ([]*reconciliation.Entry, error)
}

func NewMockReconciliationRepository() *MockReconciliationRepository {
	return &MockReconciliationRepository{entries: make(map[string]reconciliation.Entry)}
}

func (m *MockReconciliationRepository) Get(ctx context.Context, eventID string) (*reconciliation.Entry, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, eventID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[eventID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MockReconciliationRepository) Record(ctx context.Context, entry *reconciliation.Entry) (bool, error) {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.EventID]; ok {
		return false, nil
	}
	m.entries[entry.EventID] = *entry
	m.order = append(m.order, entry.EventID)
	return true, nil
}

func (m *MockReconciliationRepository) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*reconciliation.Entry, error) {
	if m.ListByInvoiceFunc != nil {
		return m.ListByInvoiceFunc(ctx, invoiceID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*reconciliation.Entry
	for _, id := range m.order {
		if e := m.entries[id]; e.InvoiceID == invoiceID {
			result = append(result, &e)
		}
	}
	return result, nil
}

// Len returns the number of recorded entries.
func (m *MockReconciliationRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MockReconciliationRepository) Snapshot() func() {
	m.mu.Lock()
	saved := make(map[string]reconciliation.Entry, len(m.entries))
	for k, v := range m.entries {
		saved[k] = v
	}
	savedOrder := append([]string(nil), m.order...)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.entries = saved
		m.order = savedOrder
		m.mu.Unlock()
	}
}

// --- Transaction Manager Mock ---

// MockTransactionManager is a mock implementation of TransactionManager. When
// fn fails, every participant is restored to its state before the call.
// Transactions run one at a time so a rollback never undoes another commit.
type MockTransactionManager struct {
	mu           sync.Mutex
	participants []Snapshotter

	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager(participants ...Snapshotter) *MockTransactionManager {
	return &MockTransactionManager{participants: participants}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	restores := make([]func(), 0, len(m.participants))
	for _, p := range m.participants {
		restores = append(restores, p.Snapshot())
	}
	if err := fn(ctx); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is a mock implementation of outbox.Repository.
// Inserted entries are kept unless InsertFunc is set.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*outbox.Entry

	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc    func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, id uuid.UUID) error
	PurgeFunc         func(ctx context.Context, olderThan time.Time) (int64, error)
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*outbox.Entry
	for _, e := range m.entries {
		if e.Status == outbox.StatusPending && len(pending) < limit {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.find(id); e != nil {
		now := time.Now()
		e.Status = outbox.StatusPublished
		e.PublishedAt = &now
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.find(id); e != nil {
		e.RetryCount++
		if e.RetryCount >= e.MaxRetries {
			e.Status = outbox.StatusFailed
		}
	}
	return nil
}

func (m *MockOutboxRepository) find(id uuid.UUID) *outbox.Entry {
	for _, e := range m.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Entries returns the stored entries, in insertion order.
func (m *MockOutboxRepository) Entries() []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*outbox.Entry(nil), m.entries...)
}

func (m *MockOutboxRepository) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	if m.PurgeFunc != nil {
		return m.PurgeFunc(ctx, olderThan)
	}
	return 0, nil
}

// EventTypes returns the event types inserted so far, in order.
func (m *MockOutboxRepository) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		types = append(types, e.EventType)
	}
	return types
}

func (m *MockOutboxRepository) Snapshot() func() {
	m.mu.Lock()
	saved := append([]*outbox.Entry(nil), m.entries...)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.entries = saved
		m.mu.Unlock()
	}
}

// --- Gateway Mock ---

// MockGateway is a mock implementation of providers.Gateway that counts calls.
type MockGateway struct {
	CreateCalls atomic.Int32
	GetCalls    atomic.Int32
	ExpireCalls atomic.Int32

	CreateCheckoutFunc func(ctx context.Context, req providers.CheckoutRequest) (*providers.CheckoutResult, error)
	GetCheckoutFunc    func(ctx context.Context, checkoutID string) (*providers.CheckoutStatus, error)
	ExpireCheckoutFunc func(ctx context.Context, checkoutID string) error
}

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) CreateCheckout(ctx context.Context, req providers.CheckoutRequest) (*providers.CheckoutResult, error) {
	m.CreateCalls.Add(1)
	if m.CreateCheckoutFunc != nil {
		return m.CreateCheckoutFunc(ctx, req)
	}
	return &providers.CheckoutResult{
		CheckoutID: "chk_" + req.InvoiceID[:8],
		PaymentURL: "https://pay.example/checkout/" + req.InvoiceID,
		Status:     "pending",
	}, nil
}

func (m *MockGateway) GetCheckout(ctx context.Context, checkoutID string) (*providers.CheckoutStatus, error) {
	m.GetCalls.Add(1)
	if m.GetCheckoutFunc != nil {
		return m.GetCheckoutFunc(ctx, checkoutID)
	}
	return &providers.CheckoutStatus{CheckoutID: checkoutID, Status: "pending"}, nil
}

func (m *MockGateway) ExpireCheckout(ctx context.Context, checkoutID string) error {
	m.ExpireCalls.Add(1)
	if m.ExpireCheckoutFunc != nil {
		return m.ExpireCheckoutFunc(ctx, checkoutID)
	}
	return nil
}

// --- Locker Mock ---

// MockLocker is a mock implementation of the per-invoice locker.
type MockLocker struct {
	LockFunc func(ctx context.Context, key string) (func(), error)
}

func (m *MockLocker) Lock(ctx context.Context, key string) (func(), error) {
	if m.LockFunc != nil {
		return m.LockFunc(ctx, key)
	}
	return func() {}, nil
}

// --- Idempotency Store Mock ---

// MockIdempotencyStore keeps idempotency entries in memory. Like the Postgres
// store, a live entry is never overwritten.
type MockIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]postgres.IdempotencyEntry

	GetFunc func(ctx context.Context, key string) (*postgres.IdempotencyEntry, error)
	SetFunc func(ctx context.Context, entry *postgres.IdempotencyEntry) error
}

func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{entries: make(map[string]postgres.IdempotencyEntry)}
}

func (m *MockIdempotencyStore) Get(ctx context.Context, key string) (*postgres.IdempotencyEntry, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || !e.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return &e, nil
}

func (m *MockIdempotencyStore) Set(ctx context.Context, entry *postgres.IdempotencyEntry) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[entry.Key]; ok && e.ExpiresAt.After(time.Now()) {
		return nil
	}
	m.entries[entry.Key] = *entry
	return nil
}

// Len returns the number of stored entries.
func (m *MockIdempotencyStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
