package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldgate/fieldgate/pkg/models"
)

// MemoryStore implements RequestStore and AuditStore in memory. Used in
// tests and for ephemeral runs; not safe across process restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.ChangeRequest
	audit    map[string][]*models.AuditEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*models.ChangeRequest),
		audit:    make(map[string][]*models.AuditEntry),
	}
}

// Create inserts a new change request.
func (m *MemoryStore) Create(ctx context.Context, req *models.ChangeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if _, exists := m.requests[req.ID]; exists {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if req.State == "" {
		req.State = models.StatePending
	}

	clone := *req
	m.requests[req.ID] = &clone
	return nil
}

// Get loads one change request by id.
func (m *MemoryStore) Get(ctx context.Context, id string) (*models.ChangeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *req
	return &clone, nil
}

// Latest returns the most recently created request for a requester.
func (m *MemoryStore) Latest(ctx context.Context, requesterID int64) (*models.ChangeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []*models.ChangeRequest
	for _, req := range m.requests {
		if req.RequesterID == requesterID {
			candidates = append(candidates, req)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID > candidates[j].ID
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	clone := *candidates[0]
	return &clone, nil
}

// Update overwrites the mutable fields of an existing request.
func (m *MemoryStore) Update(ctx context.Context, req *models.ChangeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[req.ID]; !ok {
		return ErrNotFound
	}
	req.UpdatedAt = time.Now().UTC()
	clone := *req
	m.requests[req.ID] = &clone
	return nil
}

// Append inserts an immutable audit entry.
func (m *MemoryStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Field == "" {
		entry.Field = models.GovernedField
	}

	clone := *entry
	m.audit[entry.RequestID] = append(m.audit[entry.RequestID], &clone)
	return nil
}

// ListByRequest returns the audit entries for one request in append order.
func (m *MemoryStore) ListByRequest(ctx context.Context, requestID string) ([]*models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.audit[requestID]
	out := make([]*models.AuditEntry, len(entries))
	for i, e := range entries {
		clone := *e
		out[i] = &clone
	}
	return out, nil
}
