// Package migrate applies SQL migrations from a file system to a
// database. Applied migrations are recorded in a migrations table along
// with the build that applied them, and the recorded history must match
// the available files on every run: files may be added at the end, never
// removed or renamed.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
)

var (
	// ErrNoTable indicates the migrations table does not exist yet.
	ErrNoTable = errors.New("migrations table does not exist")
	// ErrMigrationsMismatch indicates the recorded history diverged from
	// the available migration files.
	ErrMigrationsMismatch = errors.New("migrations mismatch")
)

const createTableQuery = `CREATE TABLE IF NOT EXISTS migrations (
	sequence    INTEGER PRIMARY KEY,
	filename    TEXT NOT NULL,
	app_version TEXT NOT NULL,
	timestamp   TIMESTAMP NOT NULL
)
`

const historyQuery = `SELECT sequence, filename, app_version, timestamp FROM migrations ORDER BY sequence`

// Migration is a single applied migration.
type Migration struct {
	// Sequence is the position in the history, starting at 0.
	Sequence int
	Filename string
	Metadata Metadata
}

// Metadata records which build applied a migration, for debugging a
// database after the fact.
type Metadata struct {
	AppVersion string
	Timestamp  time.Time
}

// Equal checks if two migrations are equal.
func (m Migration) Equal(other Migration) bool {
	return m.Sequence == other.Sequence &&
		m.Filename == other.Filename &&
		m.Metadata.AppVersion == other.Metadata.AppVersion &&
		m.Metadata.Timestamp.Equal(other.Metadata.Timestamp)
}

// MigrationError is a failure inside a specific migration file.
type MigrationError struct {
	Sequence int
	Filename string
	Err      error
}

func (m MigrationError) Error() string {
	return fmt.Sprintf("migration [%d] %q failed: %v", m.Sequence, m.Filename, m.Err)
}

func (m MigrationError) Unwrap() error {
	return m.Err
}

// RunFS applies the pending migrations from fileSys and returns the ones
// it applied, oldest first. Only .sql files in the root of fileSys are
// considered, in lexical filename order. The whole batch runs in one
// transaction: either every pending migration applies or none does.
func RunFS(ctx context.Context, db *sql.DB, fileSys fs.FS, meta Metadata) ([]Migration, error) {
	scripts, err := readScripts(fileSys)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	applied, err := applyPending(ctx, tx, scripts, meta)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return nil, errors.Join(err, rbErr)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return applied, nil
}

// QueryMigrations returns the recorded migration history, oldest first.
// It returns ErrNoTable if no migration ever ran against this database.
func QueryMigrations(ctx context.Context, db *sql.DB) ([]Migration, error) {
	return scanHistory(func() (*sql.Rows, error) {
		return db.QueryContext(ctx, historyQuery)
	})
}

func applyPending(ctx context.Context, tx *sql.Tx, scripts []script, meta Metadata) ([]Migration, error) {
	if _, err := tx.ExecContext(ctx, createTableQuery); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	history, err := scanHistory(func() (*sql.Rows, error) {
		return tx.QueryContext(ctx, historyQuery)
	})
	if err != nil {
		return nil, err
	}

	if err := verifyHistory(history, scripts); err != nil {
		return nil, err
	}

	applied := make([]Migration, 0, len(scripts)-len(history))
	for i, sc := range scripts[len(history):] {
		m := Migration{
			Sequence: len(history) + i,
			Filename: sc.name,
			Metadata: meta,
		}

		if _, err := tx.ExecContext(ctx, sc.body); err != nil {
			return nil, MigrationError{Sequence: m.Sequence, Filename: m.Filename, Err: err}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO migrations (sequence, filename, app_version, timestamp) VALUES (?, ?, ?, ?)`,
			m.Sequence, m.Filename, m.Metadata.AppVersion, m.Metadata.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to record migration: %w", err)
		}

		applied = append(applied, m)
	}

	return applied, nil
}

// verifyHistory checks that the recorded history is a prefix of the
// available scripts.
func verifyHistory(history []Migration, scripts []script) error {
	if len(history) > len(scripts) {
		return fmt.Errorf(
			"%d migrations recorded but only %d files available: %w",
			len(history), len(scripts), ErrMigrationsMismatch,
		)
	}

	for i, m := range history {
		if m.Sequence != i {
			return fmt.Errorf(
				"recorded history has sequence %d at position %d: %w",
				m.Sequence, i, ErrMigrationsMismatch,
			)
		}

		if m.Filename != scripts[i].name {
			return fmt.Errorf(
				"migration %d was applied as %q, file is now %q: %w",
				i, m.Filename, scripts[i].name, ErrMigrationsMismatch,
			)
		}
	}

	return nil
}

func scanHistory(query func() (*sql.Rows, error)) ([]Migration, error) {
	rows, err := query()
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, ErrNoTable
		}
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	history := make([]Migration, 0)
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Sequence, &m.Filename, &m.Metadata.AppVersion, &m.Metadata.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		history = append(history, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate over migrations: %w", err)
	}

	return history, nil
}

// script is one migration file: its name and the SQL it holds. Scripts
// are assumed to fit in memory.
type script struct {
	name string
	body string
}

func readScripts(fileSys fs.FS) ([]script, error) {
	entries, err := fs.ReadDir(fileSys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	scripts := make([]script, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		body, err := fs.ReadFile(fileSys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %q: %w", entry.Name(), err)
		}

		scripts = append(scripts, script{name: entry.Name(), body: string(body)})
	}

	return scripts, nil
}
