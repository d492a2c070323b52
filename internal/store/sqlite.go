// Package store provides storage backends for KolpingBot.
//
// This file implements an SQLite-backed store for dialog state, inbound dedup and registrations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/dietfurt/kolpingbot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY between workers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

// SaveDialogState inserts or replaces the dialog state of a user.
func (s *SQLiteStore) SaveDialogState(ctx context.Context, state models.DialogState) error {
	query := `
		INSERT OR REPLACE INTO dialog_states (user_id, action, step, first_name, last_name, age, swimmer, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, state.UserID, string(state.Action), string(state.Step),
		nilIfEmpty(state.FirstName), nilIfEmpty(state.LastName), nilIfEmpty(state.Age), string(state.Swimmer),
		state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveDialogState failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to save dialog state for %s: %w", state.UserID, err)
	}
	slog.Debug("SQLiteStore SaveDialogState succeeded", "userID", state.UserID, "step", state.Step)
	return nil
}

// GetDialogState retrieves the dialog state of a user, or nil when there is none.
func (s *SQLiteStore) GetDialogState(ctx context.Context, userID string) (*models.DialogState, error) {
	query := `SELECT user_id, action, step, first_name, last_name, age, swimmer, created_at, updated_at
			  FROM dialog_states WHERE user_id = ?`

	state, err := scanDialogState(s.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetDialogState failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get dialog state for %s: %w", userID, err)
	}
	return &state, nil
}

// DeleteDialogState removes the dialog state of a user.
func (s *SQLiteStore) DeleteDialogState(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dialog_states WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteDialogState failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete dialog state for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore DeleteDialogState succeeded", "userID", userID)
	return nil
}

func (s *SQLiteStore) SaveRegistration(ctx context.Context, reg models.Registration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registrations (user_id, channel, first_name, last_name, age, swimmer, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		reg.UserID, string(reg.Channel), reg.FirstName, reg.LastName, reg.Age, string(reg.Swimmer), reg.RegisteredAt)
	if err != nil {
		slog.Error("SQLiteStore SaveRegistration failed", "error", err, "userID", reg.UserID)
		return fmt.Errorf("failed to save registration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRegistrations(ctx context.Context) ([]models.Registration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, channel, first_name, last_name, age, swimmer, registered_at
		 FROM registrations ORDER BY registered_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query registrations: %w", err)
	}
	defer rows.Close()

	var regs []models.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registration rows: %w", err)
	}
	return regs, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
