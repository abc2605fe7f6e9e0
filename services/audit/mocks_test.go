package audit

import (
	"context"
	"sync"
	"time"

	"github.com/arcoportus/portal/models"
	"github.com/arcoportus/portal/repositories"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
	mu             sync.Mutex
	insertedEvents []*models.AuditEvent
}

func (m *MockAuditRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	args := m.Called(ctx, event)
	if err := args.Error(0); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertedEvents = append(m.insertedEvents, event)
	return nil
}

func (m *MockAuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEvent, error) {
	args := m.Called(ctx, id)
	if event := args.Get(0); event != nil {
		return event.(*models.AuditEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) List(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditEvent, int64, error) {
	args := m.Called(ctx, filter, limit, offset)
	var events []*models.AuditEvent
	if v := args.Get(0); v != nil {
		events = v.([]*models.AuditEvent)
	}
	return events, args.Get(1).(int64), args.Error(2)
}

func (m *MockAuditRepository) CountBySeverity(ctx context.Context, filter models.AuditFilter) (models.SeverityCounts, error) {
	args := m.Called(ctx, filter)
	if v := args.Get(0); v != nil {
		return v.(models.SeverityCounts), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAuditRepository) GetInsertedEvents() []*models.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AuditEvent, len(m.insertedEvents))
	copy(out, m.insertedEvents)
	return out
}

var _ repositories.AuditRepository = (*MockAuditRepository)(nil)

// memoryStore keeps events in memory and applies the same retention predicate as Postgres
type memoryStore struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func (s *memoryStore) Insert(_ context.Context, event *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memoryStore) GetByID(_ context.Context, id uuid.UUID) (*models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *memoryStore) List(_ context.Context, _ models.AuditFilter, _, _ int) ([]*models.AuditEvent, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AuditEvent{}, s.events...), int64(len(s.events)), nil
}

func (s *memoryStore) CountBySeverity(_ context.Context, _ models.AuditFilter) (models.SeverityCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := models.SeverityCounts{}
	for _, e := range s.events {
		counts[e.Severity]++
	}
	return counts, nil
}

func (s *memoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var deleted int64
	for _, e := range s.events {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}

func (s *memoryStore) targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Target)
	}
	return out
}
