package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iho/ledgerbridge/internal/domain"
)

// MockTransferLog is an in-memory TransferLog. Records are copied on the way
// in and out, like a real store.
type MockTransferLog struct {
	mu          sync.RWMutex
	records     map[string]*domain.TransferRecord
	transitions map[string][]domain.StateTransition

	CreateFunc func(ctx context.Context, record *domain.TransferRecord) (*domain.TransferRecord, error)
	SaveFunc   func(ctx context.Context, record *domain.TransferRecord, transitions ...domain.StateTransition) error
	GetFunc    func(ctx context.Context, requestID string) (*domain.TransferRecord, error)
}

func NewMockTransferLog() *MockTransferLog {
	return &MockTransferLog{
		records:     make(map[string]*domain.TransferRecord),
		transitions: make(map[string][]domain.StateTransition),
	}
}

func (m *MockTransferLog) Create(ctx context.Context, record *domain.TransferRecord) (*domain.TransferRecord, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[record.RequestID]; ok {
		return copyRecord(existing), domain.ErrRequestIDConflict
	}
	record.Version = 1
	m.records[record.RequestID] = copyRecord(record)
	return copyRecord(record), nil
}

func (m *MockTransferLog) Save(ctx context.Context, record *domain.TransferRecord, transitions ...domain.StateTransition) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, record, transitions...)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.records[record.RequestID]
	if !ok {
		return domain.ErrTransferNotFound
	}
	if stored.Version != record.Version {
		return domain.ErrConcurrentUpdate
	}
	record.Version++
	m.records[record.RequestID] = copyRecord(record)
	m.transitions[record.RequestID] = append(m.transitions[record.RequestID], transitions...)
	return nil
}

func (m *MockTransferLog) GetByRequestID(ctx context.Context, requestID string) (*domain.TransferRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, requestID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.records[requestID]; ok {
		return copyRecord(rec), nil
	}
	return nil, domain.ErrTransferNotFound
}

func (m *MockTransferLog) ListNeedingReview(ctx context.Context, limit, offset int) ([]*domain.TransferRecord, error) {
	return m.list(func(r *domain.TransferRecord) bool { return r.NeedsReview }, limit, offset), nil
}

func (m *MockTransferLog) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.TransferRecord, error) {
	return m.list(func(r *domain.TransferRecord) bool {
		return !r.State.IsTerminal() && r.State != domain.StateInitiated && r.UpdatedAt.Before(updatedBefore)
	}, limit, 0), nil
}

func (m *MockTransferLog) History(ctx context.Context, requestID string) ([]domain.StateTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.records[requestID]; !ok {
		return nil, domain.ErrTransferNotFound
	}
	return append([]domain.StateTransition(nil), m.transitions[requestID]...), nil
}

// Put stores record as-is, bypassing Create.
func (m *MockTransferLog) Put(record *domain.TransferRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.RequestID] = copyRecord(record)
}

// Len returns the number of stored records.
func (m *MockTransferLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MockTransferLog) list(match func(*domain.TransferRecord) bool, limit, offset int) []*domain.TransferRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.TransferRecord
	for _, r := range m.records {
		if match(r) {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func copyRecord(r *domain.TransferRecord) *domain.TransferRecord {
	c := *r
	c.Debit = copyLeg(r.Debit)
	c.Credit = copyLeg(r.Credit)
	c.Compensation = copyLeg(r.Compensation)
	return &c
}

func copyLeg(l *domain.LegOutcome) *domain.LegOutcome {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

// MockClock is a settable Clock.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewMockClock(now time.Time) *MockClock {
	return &MockClock{now: now}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// MockIDGenerator is a mock implementation of IDGenerator.
type MockIDGenerator struct {
	GenerateFunc func() string
	counter      int
	mu           sync.Mutex
}

func NewMockIDGenerator() *MockIDGenerator {
	return &MockIDGenerator{}
}

func (m *MockIDGenerator) Generate() string {
	if m.GenerateFunc != nil {
		return m.GenerateFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return fmt.Sprintf("mock-id-%d", m.counter)
}

// MockOutboxRepository is an in-memory OutboxRepository.
type MockOutboxRepository struct {
	mu     sync.Mutex
	events []*domain.OutboxEvent

	GetUnpublishedFunc func(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublishedFunc  func(ctx context.Context, id string, publishedAt time.Time) error
}

func NewMockOutboxRepository(events ...*domain.OutboxEvent) *MockOutboxRepository {
	return &MockOutboxRepository{events: events}
}

func (m *MockOutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	if m.GetUnpublishedFunc != nil {
		return m.GetUnpublishedFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.OutboxEvent
	for _, e := range m.events {
		if e.PublishedAt == nil {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id, publishedAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			t := publishedAt
			e.PublishedAt = &t
			return nil
		}
	}
	return fmt.Errorf("outbox event %s not found", id)
}

// MockIdempotencyStore is a mock implementation of IdempotencyStore.
type MockIdempotencyStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	CheckAndSetFunc func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	UpdateFunc      func(ctx context.Context, key string, response []byte, ttl time.Duration) error
	ReleaseFunc     func(ctx context.Context, key string) error
}

func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{
		data: make(map[string][]byte),
	}
}

func (m *MockIdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	if m.CheckAndSetFunc != nil {
		return m.CheckAndSetFunc(ctx, key, response, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.data[key]; ok {
		return true, existing, nil
	}
	if response != nil {
		m.data[key] = response
	} else {
		m.data[key] = []byte("processing")
	}
	return false, nil, nil
}

func (m *MockIdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, key, response, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = response
	return nil
}

func (m *MockIdempotencyStore) Release(ctx context.Context, key string) error {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Get returns the stored value of key.
func (m *MockIdempotencyStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}
