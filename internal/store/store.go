// Package store owns all persistent state: temporal messages and
// summaries, the single-row present state, long-term memory entries with
// CAS versioning, and worker rows. Everything lives in one SQLite file
// accessed through database/sql with the modernc driver.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the handle to the agent database. Methods are safe for use
// from the single cooperative scheduler; the underlying connection is
// serialized (SQLite single writer).
type Store struct {
	db *sql.DB

	// Now is the clock used for created_at/updated_at stamps. Tests
	// inject a frozen clock here.
	Now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and runs
// all pending migrations. The migrations are idempotent so re-running on
// an up-to-date database is a no-op.
func Open(path string) (*Store, error) {
	// busy_timeout covers the brief contention between the turn loop and
	// the background compaction worker.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, Now: time.Now}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies all pending embedded migrations.
func (s *Store) Migrate() error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	v, dirty, _ := m.Version()
	slog.Debug("store.migrated", "version", v, "dirty", dirty)
	return nil
}

// MigrateDown rolls back n migration steps.
func (s *Store) MigrateDown(steps int) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if steps <= 0 {
		steps = 1
	}
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// MigrationVersion reports the current schema version.
func (s *Store) MigrationVersion() (uint, bool, error) {
	m, err := s.migrator()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// ForceMigrationVersion sets the schema version without applying anything.
func (s *Store) ForceMigrationVersion(v int) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	return m.Force(v)
}

func (s *Store) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	drv, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// RebuildSearchIndexes rebuilds both full-text indexes from their base
// tables. Idempotent; safe to run after any migration.
func (s *Store) RebuildSearchIndexes() error {
	for _, stmt := range []string{
		`INSERT INTO temporal_messages_fts(temporal_messages_fts) VALUES('rebuild')`,
		`INSERT INTO ltm_entries_fts(ltm_entries_fts) VALUES('rebuild')`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("rebuild fts: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetSessionConfig reads a session-scoped config value. Returns "" when
// the key has never been written.
func (s *Store) GetSessionConfig(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM session_config WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get session config %q: %w", key, err)
	}
	return v, nil
}

// SetSessionConfig writes a session-scoped config value.
func (s *Store) SetSessionConfig(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO session_config (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set session config %q: %w", key, err)
	}
	return nil
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
