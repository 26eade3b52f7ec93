// Package sqlite provides durable policy, rule and audit stores on a
// single SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS tool_policy (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	document TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS output_rules (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	pattern TEXT NOT NULL,
	action TEXT NOT NULL,
	enabled INTEGER NOT NULL,
	priority INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_output_rules_priority ON output_rules(priority, name, id);

CREATE TABLE IF NOT EXISTS output_rule_audit (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	rule_id TEXT,
	action TEXT NOT NULL,
	actor TEXT NOT NULL,
	detail TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_output_rule_audit_created ON output_rule_audit(created_at);
`

// StorageError wraps a failed database operation.
type StorageError struct {
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("sqlite storage error [operation=%s]: %v", e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

func storageError(op string, err error) error {
	return &StorageError{Operation: op, Cause: err}
}

// DB is an open governor database shared by the stores built from it.
type DB struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*DB, error) {
	if path == "" {
		return nil, storageError("open", fmt.Errorf("path cannot be empty"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, storageError("open", err)
	}
	db.SetMaxOpenConns(1)

	d := &DB{db: db, now: time.Now, logger: logger.With("component", "store.sqlite")}
	if err := d.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	d.logger.Info("SQLite storage initialized", "path", path)
	return d, nil
}

func (d *DB) initialize() error {
	if _, err := d.db.Exec(schema); err != nil {
		return storageError("create_schema", err)
	}
	if _, err := d.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
		return storageError("insert_schema_version", err)
	}
	var version int
	if err := d.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return storageError("get_schema_version", err)
	}
	if version != SchemaVersion {
		return storageError("schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// SetClock overrides the time source for all stores on this DB.
func (d *DB) SetClock(now func() time.Time) { d.now = now }

func (d *DB) Close() error {
	return d.db.Close()
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
