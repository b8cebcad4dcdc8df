package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldgate/fieldgate/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore implements RequestStore and AuditStore on a single SQLite
// database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and runs the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS change_requests (
			id TEXT PRIMARY KEY,
			requester_id INTEGER NOT NULL,
			channel_id INTEGER NOT NULL,
			requested_value INTEGER NOT NULL,
			previous_value INTEGER,
			committed_value INTEGER,
			state TEXT NOT NULL,
			preview_ref INTEGER NOT NULL DEFAULT 0,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create change_requests table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			requester_id INTEGER NOT NULL,
			field TEXT NOT NULL,
			before_value INTEGER,
			after_value INTEGER,
			state TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit_entries table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_requests_requester ON change_requests(requester_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_entries(request_id, created_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts a new change request.
func (s *SQLiteStore) Create(ctx context.Context, req *models.ChangeRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if req.State == "" {
		req.State = models.StatePending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO change_requests
			(id, requester_id, channel_id, requested_value, previous_value,
			 committed_value, state, preview_ref, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		req.ID, req.RequesterID, req.ChannelID, req.RequestedValue,
		nullInt64(req.PreviousValue), nullInt64(req.CommittedValue),
		string(req.State), req.PreviewRef, req.FailureReason,
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert change request: %w", err)
	}
	return nil
}

// Get loads one change request by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.ChangeRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, requester_id, channel_id, requested_value, previous_value,
		       committed_value, state, preview_ref, failure_reason, created_at, updated_at
		FROM change_requests WHERE id = ?
	`, id)
	return scanRequest(row)
}

// Latest returns the most recently created request for a requester.
func (s *SQLiteStore) Latest(ctx context.Context, requesterID int64) (*models.ChangeRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, requester_id, channel_id, requested_value, previous_value,
		       committed_value, state, preview_ref, failure_reason, created_at, updated_at
		FROM change_requests
		WHERE requester_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, requesterID)
	return scanRequest(row)
}

// Update overwrites the mutable fields of an existing request.
func (s *SQLiteStore) Update(ctx context.Context, req *models.ChangeRequest) error {
	req.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE change_requests
		SET previous_value = ?, committed_value = ?, state = ?,
		    preview_ref = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?
	`,
		nullInt64(req.PreviousValue), nullInt64(req.CommittedValue),
		string(req.State), req.PreviewRef, req.FailureReason,
		req.UpdatedAt, req.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update change request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Append inserts an immutable audit entry.
func (s *SQLiteStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Field == "" {
		entry.Field = models.GovernedField
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries
			(id, request_id, requester_id, field, before_value, after_value, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.RequestID, entry.RequesterID, entry.Field,
		nullInt64(entry.BeforeValue), nullInt64(entry.AfterValue),
		string(entry.State), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListByRequest returns the audit entries for one request in append order.
func (s *SQLiteStore) ListByRequest(ctx context.Context, requestID string) ([]*models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, requester_id, field, before_value, after_value, state, created_at
		FROM audit_entries
		WHERE request_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var (
			e      models.AuditEntry
			before sql.NullInt64
			after  sql.NullInt64
			state  string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.RequesterID, &e.Field,
			&before, &after, &state, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.BeforeValue = fromNullInt64(before)
		e.AfterValue = fromNullInt64(after)
		e.State = models.RequestState(state)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.ChangeRequest, error) {
	var (
		req      models.ChangeRequest
		previous sql.NullInt64
		commit   sql.NullInt64
		state    string
	)
	err := row.Scan(&req.ID, &req.RequesterID, &req.ChannelID, &req.RequestedValue,
		&previous, &commit, &state, &req.PreviewRef, &req.FailureReason,
		&req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan change request: %w", err)
	}
	req.PreviousValue = fromNullInt64(previous)
	req.CommittedValue = fromNullInt64(commit)
	req.State = models.RequestState(state)
	return &req, nil
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	value := v.Int64
	return &value
}
