package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Migration declares one schema version's forward and reverse SQL. No
// migration library in the reference stack covers sqlite cleanly without
// cgo, so this is a small hand-rolled runner rather than an imported one —
// see DESIGN.md for the stdlib-vs-library tradeoff.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// MigrationManager applies migrations strictly in ascending version order,
// each inside its own transaction, recording (version, description,
// applied_at) in a migrations table on success.
type MigrationManager struct {
	migrations []Migration
}

// NewMigrationManager returns a manager for the given migration set, which
// need not already be sorted.
func NewMigrationManager(migrations []Migration) *MigrationManager {
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &MigrationManager{migrations: sorted}
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS migrations (
	version     INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at  TIMESTAMP NOT NULL
)`

// Apply runs every migration whose version is not yet recorded, in order,
// each within its own transaction.
func (m *MigrationManager) Apply(db *sqlx.DB) error {
	if _, err := db.Exec(createMigrationsTable); err != nil {
		return errors.Wrap(ErrIOError, err.Error())
	}

	applied := make(map[int]bool)
	rows, err := db.Query("SELECT version FROM migrations")
	if err != nil {
		return errors.Wrap(ErrIOError, err.Error())
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return errors.Wrap(ErrIOError, err.Error())
		}
		applied[v] = true
	}
	rows.Close()

	for _, mig := range m.migrations {
		if applied[mig.Version] {
			continue
		}
		if err := m.applyOne(db, mig); err != nil {
			return fmt.Errorf("storage: migration %d (%s): %w", mig.Version, mig.Description, err)
		}
	}
	return nil
}

func (m *MigrationManager) applyOne(db *sqlx.DB, mig Migration) error {
	tx, err := db.Beginx()
	if err != nil {
		return errors.Wrap(ErrIOError, err.Error())
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(mig.Up); err != nil {
		return classifyExecErr(err)
	}
	if _, err := tx.Exec(
		"INSERT INTO migrations (version, description, applied_at) VALUES (?, ?, ?)",
		mig.Version, mig.Description, time.Now(),
	); err != nil {
		return classifyExecErr(err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(ErrTransactionConflict, err.Error())
	}
	return nil
}

// Revert rolls back the highest applied migration version, used by
// operators reverting a bad schema change; not invoked by the engines
// themselves.
func (m *MigrationManager) Revert(db *sqlx.DB) error {
	var version int
	if err := db.Get(&version, "SELECT version FROM migrations ORDER BY version DESC LIMIT 1"); err != nil {
		return errors.Wrap(ErrNotInitialized, err.Error())
	}
	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == version {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil {
		return fmt.Errorf("storage: no migration registered for applied version %d", version)
	}

	tx, err := db.Beginx()
	if err != nil {
		return errors.Wrap(ErrIOError, err.Error())
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(mig.Down); err != nil {
		return classifyExecErr(err)
	}
	if _, err := tx.Exec("DELETE FROM migrations WHERE version = ?", version); err != nil {
		return classifyExecErr(err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(ErrTransactionConflict, err.Error())
	}
	return nil
}
