package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/fieldgate/fieldgate/pkg/models"
)

// PostgresStore reads the `sessions` table the Chrome extension writes
// to:
//
//	telegram_user_id  bigint
//	cookies           jsonb   (Playwright-compatible cookie array)
//	created_at        timestamptz
//	is_active         boolean
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
	logger *slog.Logger
}

// NewPostgresStore opens a connection with the given DSN.
func NewPostgresStore(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials database: %w", err)
	}
	return newPostgresStore(db, true, logger), nil
}

// NewPostgresStoreWithDB wraps an existing connection; the store will
// not close it.
func NewPostgresStoreWithDB(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return newPostgresStore(db, false, logger)
}

func newPostgresStore(db *sql.DB, ownsDB bool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		ownsDB: ownsDB,
		logger: logger.With("component", "credentials"),
	}
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection if the store owns it.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// Cookies returns the newest active cookie set for the user.
func (s *PostgresStore) Cookies(ctx context.Context, userID int64) ([]models.PortalCookie, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT cookies
		FROM sessions
		WHERE telegram_user_id = $1 AND is_active = TRUE
		ORDER BY created_at DESC
		LIMIT 1
	`, userID).Scan(&raw)
	if err == sql.ErrNoRows {
		s.logger.Warn("no active session", "user_id", userID)
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session cookies: %w", err)
	}

	var cookies []models.PortalCookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		return nil, fmt.Errorf("failed to decode session cookies: %w", err)
	}
	if len(cookies) == 0 {
		return nil, ErrNoSession
	}
	return cookies, nil
}

// Deactivate marks every session row for the user inactive.
func (s *PostgresStore) Deactivate(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = FALSE WHERE telegram_user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate sessions: %w", err)
	}
	return nil
}
