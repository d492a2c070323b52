// Package store provides storage backends for KolpingBot.
//
// It includes an in-memory store (the default, no durability across restarts) and
// persistent backends for SQLite, PostgreSQL, Redis and DynamoDB behind the same interfaces.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dietfurt/kolpingbot/internal/models"
)

// SessionStore keeps the dialog state of users with an unfinished flow.
// GetDialogState returns nil, nil when the user has no state. DeleteDialogState is idempotent.
type SessionStore interface {
	GetDialogState(ctx context.Context, userID string) (*models.DialogState, error)
	SaveDialogState(ctx context.Context, state models.DialogState) error
	DeleteDialogState(ctx context.Context, userID string) error
}

// RegistrationRepo persists completed registrations.
type RegistrationRepo interface {
	SaveRegistration(ctx context.Context, reg models.Registration) error
	ListRegistrations(ctx context.Context) ([]models.Registration, error)
}

// Store is the full set of repositories a backend provides.
type Store interface {
	SessionStore
	DedupRepo
	RegistrationRepo
	Close() error
}

// Opts holds configuration for persistent store backends.
type Opts struct {
	DSN string
	TTL time.Duration
}

// Option configures a store backend.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisURL sets the Redis connection URL (redis://host:port/db).
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.DSN = url }
}

// WithTTL sets the expiry of dialog state and dedup records on backends that support it.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// InMemoryStore is a process-local store. State is lost on restart.
type InMemoryStore struct {
	mu            sync.RWMutex
	states        map[string]models.DialogState
	inbound       map[string]DedupRecord
	registrations []models.Registration
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:  make(map[string]models.DialogState),
		inbound: make(map[string]DedupRecord),
	}
}

// GetDialogState returns a copy of the stored state, or nil when absent.
func (s *InMemoryStore) GetDialogState(ctx context.Context, userID string) (*models.DialogState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[userID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *InMemoryStore) SaveDialogState(ctx context.Context, state models.DialogState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = state
	slog.Debug("InMemoryStore SaveDialogState", "userID", state.UserID, "step", state.Step)
	return nil
}

func (s *InMemoryStore) DeleteDialogState(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
	return nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.inbound[messageID]; seen {
		return false, nil
	}
	s.inbound[messageID] = DedupRecord{MessageID: messageID, UserID: userID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.inbound[messageID] = rec
	return nil
}

func (s *InMemoryStore) SaveRegistration(ctx context.Context, reg models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations = append(s.registrations, reg)
	return nil
}

func (s *InMemoryStore) ListRegistrations(ctx context.Context) ([]models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Registration, len(s.registrations))
	copy(out, s.registrations)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
