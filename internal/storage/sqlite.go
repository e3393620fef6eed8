// Package storage records hub activity (check-ins, logins, dashboard
// commands) in SQLite for the /status endpoint and offline inspection.
//
// Device state itself is never persisted; it lives in memory only.
package storage

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	// SQLite driver - imported for side effects (registers the driver).
	// modernc.org/sqlite is a pure-Go implementation that doesn't require
	// CGO, which keeps cross-compiling for small ARM boards easy.
	_ "modernc.org/sqlite"

	apperrors "github.com/pulsehub/hub/internal/errors"
)

// MemoryPath is the path for a throwaway in-memory database.
const MemoryPath = ":memory:"

// SQLiteMetricsStore implements MetricsStore using SQLite.
type SQLiteMetricsStore struct {
	db *sql.DB

	// timeNow returns the current time. Replaced in tests.
	timeNow func() time.Time
}

// NewSQLiteMetricsStore opens or creates the metrics database at path and
// brings its schema up to date. Use ":memory:" for testing.
func NewSQLiteMetricsStore(path string) (*SQLiteMetricsStore, error) {
	log.Printf("metrics: opening database at %s", path)

	// busy_timeout covers the CLI reading while the server writes.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open metrics database", err)
	}

	// One connection: writes are tiny and serialized anyway, and every
	// pooled connection to ":memory:" would otherwise get its own database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "ping metrics database", err)
	}

	store := &SQLiteMetricsStore{db: db, timeNow: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "init metrics schema", err)
	}

	log.Printf("metrics: database ready (schema version %d)", currentSchemaVersion)
	return store, nil
}

// Close releases the database connection.
func (m *SQLiteMetricsStore) Close() error {
	log.Printf("metrics: closing database")
	return m.db.Close()
}

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add migration logic.
const currentSchemaVersion = 2

// initSchema applies any migrations the database has not seen yet.
func (m *SQLiteMetricsStore) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`
	if _, err := m.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	version, err := m.SchemaVersion()
	if err != nil {
		return err
	}

	if version < 1 {
		if err := m.migrate(1, migrationV1); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if version < 2 {
		if err := m.migrate(2, migrationV2); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	return nil
}

// migrationV1 creates the check-in and login tables.
const migrationV1 = `
CREATE TABLE IF NOT EXISTS checkins (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	delivered INTEGER NOT NULL DEFAULT 0,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkins_recorded_at ON checkins(recorded_at);

CREATE TABLE IF NOT EXISTS login_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	outcome TEXT NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_login_recorded_at ON login_attempts(recorded_at);
`

// migrationV2 adds dashboard command tracking.
const migrationV2 = `
CREATE TABLE IF NOT EXISTS commands (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_recorded_at ON commands(recorded_at);
`

// migrate runs ddl and records version in one transaction.
func (m *SQLiteMetricsStore) migrate(version int, ddl string) error {
	log.Printf("metrics: applying migration to schema version %d", version)

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(ddl); err != nil {
		return fmt.Errorf("apply ddl: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion returns the current database schema version.
func (m *SQLiteMetricsStore) SchemaVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}
