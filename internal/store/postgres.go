// Package store provides storage backends for KolpingBot.
//
// This file implements a PostgreSQL-backed store for dialog state, inbound dedup and registrations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/dietfurt/kolpingbot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 10
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveDialogState upserts the dialog state of a user.
func (s *PostgresStore) SaveDialogState(ctx context.Context, state models.DialogState) error {
	query := `
		INSERT INTO dialog_states (user_id, action, step, first_name, last_name, age, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			action = EXCLUDED.action,
			step = EXCLUDED.step,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			age = EXCLUDED.age,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query, state.UserID, string(state.Action), string(state.Step),
		nilIfEmpty(state.FirstName), nilIfEmpty(state.LastName), nilIfEmpty(state.Age), string(state.Swimmer),
		state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveDialogState failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to save dialog state for %s: %w", state.UserID, err)
	}
	slog.Debug("PostgresStore SaveDialogState succeeded", "userID", state.UserID, "step", state.Step)
	return nil
}

// GetDialogState retrieves the dialog state of a user, or nil when there is none.
func (s *PostgresStore) GetDialogState(ctx context.Context, userID string) (*models.DialogState, error) {
	query := `SELECT user_id, action, step, first_name, last_name, age, swimmer, created_at, updated_at
			  FROM dialog_states WHERE user_id = $1`

	state, err := scanDialogState(s.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetDialogState failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get dialog state for %s: %w", userID, err)
	}
	return &state, nil
}

// DeleteDialogState removes the dialog state of a user.
func (s *PostgresStore) DeleteDialogState(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dialog_states WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteDialogState failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete dialog state for %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) SaveRegistration(ctx context.Context, reg models.Registration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registrations (user_id, channel, first_name, last_name, age, swimmer, registered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		reg.UserID, string(reg.Channel), reg.FirstName, reg.LastName, reg.Age, string(reg.Swimmer), reg.RegisteredAt)
	if err != nil {
		slog.Error("PostgresStore SaveRegistration failed", "error", err, "userID", reg.UserID)
		return fmt.Errorf("failed to save registration: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRegistrations(ctx context.Context) ([]models.Registration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, channel, first_name, last_name, age, swimmer, registered_at
		 FROM registrations ORDER BY registered_at, id`)
	if err != nil {
		slog.Error("PostgresStore ListRegistrations query failed", "error", err)
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

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
