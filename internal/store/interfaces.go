// Package store persists change requests and their audit trail.
package store

import (
	"context"
	"errors"

	"github.com/fieldgate/fieldgate/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// RequestStore persists ChangeRequest records.
type RequestStore interface {
	Create(ctx context.Context, req *models.ChangeRequest) error
	Get(ctx context.Context, id string) (*models.ChangeRequest, error)

	// Latest returns the most recently created request for a requester,
	// or ErrNotFound if they have none.
	Latest(ctx context.Context, requesterID int64) (*models.ChangeRequest, error)

	// Update overwrites the mutable fields of an existing request.
	Update(ctx context.Context, req *models.ChangeRequest) error
}

// AuditStore appends immutable audit entries. Entries are never updated
// or deleted.
type AuditStore interface {
	Append(ctx context.Context, entry *models.AuditEntry) error

	// ListByRequest returns the entries for one request in append order.
	ListByRequest(ctx context.Context, requestID string) ([]*models.AuditEntry, error)
}

// StoreSet groups the storage dependencies handed to the coordinator.
type StoreSet struct {
	Requests RequestStore
	Audit    AuditStore
	closer   func() error
}

// NewStoreSet builds a StoreSet with an optional close hook for the
// underlying resource.
func NewStoreSet(requests RequestStore, audit AuditStore, closer func() error) StoreSet {
	return StoreSet{Requests: requests, Audit: audit, closer: closer}
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
