package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Pruner is implemented by backends without native expiry. PruneExpired deletes dialog
// states last updated before cutoff and dedup records received before it.
type Pruner interface {
	PruneExpired(ctx context.Context, cutoff time.Time) (PruneResult, error)
}

// PruneResult counts the rows removed by one sweep. Unprocessed is the part of Dedup
// that was received but never marked processed.
type PruneResult struct {
	Dialogs     int64
	Dedup       int64
	Unprocessed int64
}

// Compile-time checks for the backends that need sweeping.
var (
	_ Pruner = (*InMemoryStore)(nil)
	_ Pruner = (*SQLiteStore)(nil)
	_ Pruner = (*PostgresStore)(nil)
)

func (s *InMemoryStore) PruneExpired(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res PruneResult
	for id, st := range s.states {
		if st.UpdatedAt.Before(cutoff) {
			delete(s.states, id)
			res.Dialogs++
		}
	}
	for id, rec := range s.inbound {
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.inbound, id)
			res.Dedup++
			if rec.ProcessedAt == nil {
				res.Unprocessed++
			}
		}
	}
	return res, nil
}

func (s *SQLiteStore) PruneExpired(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	return pruneSQL(ctx, s.db,
		`DELETE FROM dialog_states WHERE updated_at < ?`,
		`DELETE FROM inbound_dedup WHERE received_at < ? AND processed_at IS NULL`,
		`DELETE FROM inbound_dedup WHERE received_at < ?`, cutoff)
}

func (s *PostgresStore) PruneExpired(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	return pruneSQL(ctx, s.db,
		`DELETE FROM dialog_states WHERE updated_at < $1`,
		`DELETE FROM inbound_dedup WHERE received_at < $1 AND processed_at IS NULL`,
		`DELETE FROM inbound_dedup WHERE received_at < $1`, cutoff)
}

// pruneSQL deletes unprocessed dedup rows first so they can be counted apart from the rest.
func pruneSQL(ctx context.Context, db *sql.DB, dialogQuery, unprocessedQuery, dedupQuery string, cutoff time.Time) (PruneResult, error) {
	var res PruneResult
	r, err := db.ExecContext(ctx, dialogQuery, cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to prune dialog states: %w", err)
	}
	res.Dialogs, _ = r.RowsAffected()

	r, err = db.ExecContext(ctx, unprocessedQuery, cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to prune unprocessed dedup records: %w", err)
	}
	res.Unprocessed, _ = r.RowsAffected()

	r, err = db.ExecContext(ctx, dedupQuery, cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to prune dedup records: %w", err)
	}
	processed, _ := r.RowsAffected()
	res.Dedup = res.Unprocessed + processed

	slog.Debug("store.pruneSQL: sweep done", "cutoff", cutoff, "dialogs", res.Dialogs, "dedup", res.Dedup, "unprocessed", res.Unprocessed)
	return res, nil
}
