package store

import (
	"context"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/dietfurt/kolpingbot/internal/models"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.GetDialogState(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no state for unknown user, got %+v", got)
	}

	now := time.Now().UTC().Truncate(time.Second)
	state := models.DialogState{
		UserID:    "u1",
		Action:    models.DialogActionRegistration,
		Step:      models.StepLastName,
		FirstName: "Anna",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.SaveDialogState(ctx, state); err != nil {
		t.Fatalf("SaveDialogState failed: %v", err)
	}
	got, err = s.GetDialogState(ctx, "u1")
	if err != nil || got == nil {
		t.Fatalf("GetDialogState failed: %v, %v", got, err)
	}
	if got.Step != models.StepLastName || got.FirstName != "Anna" || got.LastName != "" || got.Action != models.DialogActionRegistration {
		t.Errorf("state not round-tripped: %+v", got)
	}

	state.Step = models.StepAge
	state.LastName = "Muster"
	if err := s.SaveDialogState(ctx, state); err != nil {
		t.Fatalf("SaveDialogState overwrite failed: %v", err)
	}
	got, _ = s.GetDialogState(ctx, "u1")
	if got == nil || got.Step != models.StepAge || got.LastName != "Muster" {
		t.Errorf("overwrite not visible: %+v", got)
	}

	if other, _ := s.GetDialogState(ctx, "u2"); other != nil {
		t.Errorf("state leaked to another user: %+v", other)
	}

	if err := s.DeleteDialogState(ctx, "u1"); err != nil {
		t.Fatalf("DeleteDialogState failed: %v", err)
	}
	if err := s.DeleteDialogState(ctx, "u1"); err != nil {
		t.Fatalf("second DeleteDialogState should be a no-op: %v", err)
	}
	if got, _ := s.GetDialogState(ctx, "u1"); got != nil {
		t.Errorf("expected state to be gone, got %+v", got)
	}

	fresh, err := s.RecordInbound(ctx, "mid.1", "u1")
	if err != nil || !fresh {
		t.Fatalf("first RecordInbound = %v, %v; want true, nil", fresh, err)
	}
	fresh, err = s.RecordInbound(ctx, "mid.1", "u1")
	if err != nil || fresh {
		t.Fatalf("duplicate RecordInbound = %v, %v; want false, nil", fresh, err)
	}
	if err := s.MarkProcessed(ctx, "mid.1"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}

	regs := []models.Registration{
		{UserID: "u1", Channel: models.ChannelMessenger, FirstName: "Anna", LastName: "Muster", Age: "10", Swimmer: models.SwimmerYes, RegisteredAt: now},
		{UserID: "u2", Channel: models.ChannelWhatsApp, FirstName: "Ben", LastName: "Beispiel", Age: "acht", Swimmer: models.SwimmerNo, RegisteredAt: now.Add(time.Second)},
	}
	for _, r := range regs {
		if err := s.SaveRegistration(ctx, r); err != nil {
			t.Fatalf("SaveRegistration failed: %v", err)
		}
	}
	list, err := s.ListRegistrations(ctx)
	if err != nil {
		t.Fatalf("ListRegistrations failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 registrations, got %d", len(list))
	}
	if list[0].FirstName != "Anna" || list[0].Swimmer != models.SwimmerYes || list[0].Channel != models.ChannelMessenger {
		t.Errorf("unexpected first registration: %+v", list[0])
	}
	if list[1].Age != "acht" || list[1].Swimmer != models.SwimmerNo {
		t.Errorf("unexpected second registration: %+v", list[1])
	}
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemoryStore())
}

func TestInMemoryStoreListIsCopy(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	_ = s.SaveRegistration(ctx, models.Registration{UserID: "u1", FirstName: "Anna"})
	list, _ := s.ListRegistrations(ctx)
	list[0].FirstName = "changed"
	again, _ := s.ListRegistrations(ctx)
	if again[0].FirstName != "Anna" {
		t.Error("ListRegistrations should return a copy")
	}
}

func TestSQLiteStore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "kolpingbot.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "kolpingbot.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	now := time.Now().UTC()
	if err := s.SaveDialogState(ctx, models.DialogState{UserID: "u1", Action: models.DialogActionRegistration, Step: models.StepAge, FirstName: "Anna", LastName: "Muster", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("SaveDialogState failed: %v", err)
	}
	s.Close()

	reopened, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetDialogState(ctx, "u1")
	if err != nil || got == nil {
		t.Fatalf("state lost across reopen: %v, %v", got, err)
	}
	if got.Step != models.StepAge || got.LastName != "Muster" {
		t.Errorf("unexpected state after reopen: %+v", got)
	}
}

func TestSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Error("expected error for missing DSN")
	}
}

func TestPostgresStore(t *testing.T) {
	// Requires a running PostgreSQL instance; set DATABASE_URL to enable.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()
	pgStore.db.Exec("DELETE FROM dialog_states")
	pgStore.db.Exec("DELETE FROM inbound_dedup")
	pgStore.db.Exec("DELETE FROM registrations")
	exerciseStore(t, pgStore)
}

func TestDetectDSNType(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://user:pw@localhost/db", "postgres"},
		{"POSTGRESQL://localhost/db", "postgres"},
		{"host=localhost dbname=bot sslmode=disable", "postgres"},
		{"/var/lib/kolpingbot/state.db", "sqlite3"},
		{"file:test.db?cache=shared", "sqlite3"},
	}
	for _, tt := range tests {
		if got := DetectDSNType(tt.dsn); got != tt.want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
