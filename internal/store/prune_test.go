package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dietfurt/kolpingbot/internal/models"
)

func exercisePrune(t *testing.T, s interface {
	Store
	Pruner
}) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	old := now.Add(-2 * time.Hour)

	for _, st := range []models.DialogState{
		{UserID: "stale", Action: models.DialogActionRegistration, Step: models.StepLastName, CreatedAt: old, UpdatedAt: old},
		{UserID: "fresh", Action: models.DialogActionRegistration, Step: models.StepAge, CreatedAt: old, UpdatedAt: now},
	} {
		if err := s.SaveDialogState(ctx, st); err != nil {
			t.Fatalf("SaveDialogState(%s) failed: %v", st.UserID, err)
		}
	}
	for _, id := range []string{"mid.1", "mid.2"} {
		if _, err := s.RecordInbound(ctx, id, "fresh"); err != nil {
			t.Fatalf("RecordInbound(%s) failed: %v", id, err)
		}
	}
	if err := s.MarkProcessed(ctx, "mid.1"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}

	res, err := s.PruneExpired(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneExpired failed: %v", err)
	}
	if res.Dialogs != 1 || res.Dedup != 0 {
		t.Errorf("first sweep = %+v, want 1 dialog, 0 dedup", res)
	}
	if got, _ := s.GetDialogState(ctx, "stale"); got != nil {
		t.Errorf("stale dialog survived: %+v", got)
	}
	if got, _ := s.GetDialogState(ctx, "fresh"); got == nil {
		t.Error("fresh dialog pruned")
	}

	res, err = s.PruneExpired(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("second PruneExpired failed: %v", err)
	}
	if res.Dedup != 2 || res.Unprocessed != 1 {
		t.Errorf("second sweep = %+v, want 2 dedup, 1 unprocessed", res)
	}
	// A pruned message id counts as new again.
	if isNew, _ := s.RecordInbound(ctx, "mid.1", "fresh"); !isNew {
		t.Error("pruned dedup record still reported as duplicate")
	}
}

func TestInMemoryStorePrune(t *testing.T) {
	exercisePrune(t, NewInMemoryStore())
}

func TestSQLiteStorePrune(t *testing.T) {
	s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "kolpingbot.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()
	exercisePrune(t, s)
}

func TestPostgresStorePrune(t *testing.T) {
	s, mock := setupPostgresMock(t)
	cutoff := time.Now().Add(-24 * time.Hour)

	mock.ExpectExec("DELETE FROM dialog_states WHERE updated_at").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM inbound_dedup WHERE received_at < \$1 AND processed_at IS NULL`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM inbound_dedup WHERE received_at < \$1$`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 5))

	res, err := s.PruneExpired(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PruneExpired failed: %v", err)
	}
	if res.Dialogs != 3 || res.Dedup != 7 || res.Unprocessed != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
