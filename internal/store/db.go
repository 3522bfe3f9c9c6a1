// Package store persists entries and the activity log in SQLite and owns
// per-quarter sequence allocation.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"
	// DriverPure is modernc.org/sqlite, for CGO-free builds.
	DriverPure = "sqlite"

	busyTimeoutMillis = 5000

	// stored in UTC, fixed width so text ordering matches time ordering
	timeLayout = "2006-01-02 15:04:05.000000000"
	dateLayout = "2006-01-02"
)

const (
	// migration queries
	createEntriesTableSQL = `
  CREATE TABLE IF NOT EXISTS entries (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  group_key TEXT NOT NULL,
  quarter_label TEXT NOT NULL,
  year INTEGER NOT NULL,
  sequence_number INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT '',
  assignees TEXT NOT NULL DEFAULT '[]',
  notes TEXT NOT NULL DEFAULT '',
  start_date TEXT,
  end_date TEXT,
  carried_from TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
  )`

	createEntriesGroupIndexSQL = `
  CREATE INDEX IF NOT EXISTS idx_entries_quarter_group
  ON entries (kind, quarter_label, group_key)`

	createEntriesSequenceIndexSQL = `
  CREATE INDEX IF NOT EXISTS idx_entries_quarter_sequence
  ON entries (kind, quarter_label, sequence_number)`

	createEntriesCarriedIndexSQL = `
  CREATE INDEX IF NOT EXISTS idx_entries_carried_from
  ON entries (carried_from)`

	createAuditTableSQL = `
  CREATE TABLE IF NOT EXISTS audit_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  actor TEXT NOT NULL,
  action TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  details TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
  )`

	createAuditEntityIndexSQL = `
  CREATE INDEX IF NOT EXISTS idx_audit_entity
  ON audit_log (entity_id, id)`

	// sequence queries
	findGroupSequenceSQL = `SELECT sequence_number FROM entries
  WHERE kind = ? AND quarter_label = ? AND group_key = ?
  LIMIT 1`
	maxSequenceSQL = `SELECT COALESCE(MAX(sequence_number), 0) FROM entries
  WHERE kind = ? AND quarter_label = ?`

	// entry queries
	entryColumns = `id, kind, group_key, quarter_label, year, sequence_number, status,
  assignees, notes, start_date, end_date, carried_from, created_at, updated_at`
	insertEntrySQL = `INSERT INTO entries (` + entryColumns + `)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	getEntrySQL          = `SELECT ` + entryColumns + ` FROM entries WHERE id = ?`
	updateEntryStatusSQL = `UPDATE entries SET status = ?, updated_at = ? WHERE id = ?`
	deleteEntrySQL       = `DELETE FROM entries WHERE id = ?`

	// audit queries
	insertAuditSQL = `INSERT INTO audit_log (actor, action, entity_type, entity_id, details, created_at)
  VALUES (?, ?, ?, ?, ?, ?)`
)

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the timestamp source. Tests use it to pin createdAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens (creating if needed) the database at dbPath with the given driver
// and runs migrations.
func New(ctx context.Context, driver, dbPath string, opts ...Option) (*Store, error) {
	if driver == "" {
		driver = DriverCGO
	}
	dsn, err := buildDSN(driver, dbPath)
	if err != nil {
		return nil, err
	}

	// ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// open database
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// verify connection with database
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, path: dbPath, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.logger.Debug("store opened", "driver", driver, "path", dbPath)
	return s, nil
}

func buildDSN(driver, dbPath string) (string, error) {
	switch driver {
	case DriverCGO:
		return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", dbPath, busyTimeoutMillis), nil
	case DriverPure:
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", dbPath, busyTimeoutMillis), nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path is the database file path.
func (s *Store) Path() string {
	return s.path
}

// runs migrations on initial start
func (s *Store) runMigrations(ctx context.Context) error {
	stmts := []string{
		createEntriesTableSQL,
		createEntriesGroupIndexSQL,
		createEntriesSequenceIndexSQL,
		createEntriesCarriedIndexSQL,
		createAuditTableSQL,
		createAuditEntityIndexSQL,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}

func formatDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}

func parseDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, ns.String, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
