package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dietfurt/kolpingbot/internal/models"
)

// DetectDSNType returns the database/sql driver name for a DSN: "postgres" for
// PostgreSQL URLs or key/value strings, "sqlite3" for everything else (file paths).
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanDialogState scans a dialog_states row.
func scanDialogState(row rowScanner) (models.DialogState, error) {
	var st models.DialogState
	var action, step, swimmer string
	var firstName, lastName, age sql.NullString
	err := row.Scan(&st.UserID, &action, &step, &firstName, &lastName, &age, &swimmer, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return st, err
	}
	st.Action = models.DialogAction(action)
	st.Step = models.DialogStep(step)
	st.FirstName = firstName.String
	st.LastName = lastName.String
	st.Age = age.String
	st.Swimmer = models.Swimmer(swimmer)
	return st, nil
}

// scanRegistration scans a registrations row.
func scanRegistration(rows *sql.Rows) (models.Registration, error) {
	var r models.Registration
	var channel, swimmer string
	err := rows.Scan(&r.UserID, &channel, &r.FirstName, &r.LastName, &r.Age, &swimmer, &r.RegisteredAt)
	if err != nil {
		return r, fmt.Errorf("scan registration failed: %w", err)
	}
	r.Channel = models.Channel(channel)
	r.Swimmer = models.Swimmer(swimmer)
	return r, nil
}
