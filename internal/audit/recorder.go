// Package audit records the immutable outcome trail of change requests.
// Every terminal or cancelling transition reached from the confirmation
// stage produces exactly one entry; the coordinator guarantees the
// exactly-once part, this package the persistence and the structured
// log mirror.
package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fieldgate/fieldgate/internal/store"
	"github.com/fieldgate/fieldgate/pkg/models"
)

// Recorder appends audit entries and mirrors them to the structured log.
type Recorder struct {
	store  store.AuditStore
	logger *slog.Logger
}

// NewRecorder creates a Recorder writing through the given store.
func NewRecorder(auditStore store.AuditStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  auditStore,
		logger: logger.With("component", "audit"),
	}
}

// Record writes one entry for the request's outcome. afterValue is nil
// for rejections, expiries and failures.
func (r *Recorder) Record(ctx context.Context, req *models.ChangeRequest, afterValue *int64) error {
	entry := &models.AuditEntry{
		ID:          uuid.NewString(),
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		Field:       models.GovernedField,
		BeforeValue: req.PreviousValue,
		AfterValue:  afterValue,
		State:       req.State,
	}

	if err := r.store.Append(ctx, entry); err != nil {
		r.logger.Error("failed to append audit entry",
			"request_id", req.ID,
			"state", req.State,
			"error", err)
		return err
	}

	attrs := []any{
		"audit_id", entry.ID,
		"request_id", entry.RequestID,
		"requester_id", entry.RequesterID,
		"field", entry.Field,
		"state", entry.State,
	}
	if entry.BeforeValue != nil {
		attrs = append(attrs, "before_value", *entry.BeforeValue)
	}
	if entry.AfterValue != nil {
		attrs = append(attrs, "after_value", *entry.AfterValue)
	}
	r.logger.Info("audit", attrs...)
	return nil
}
