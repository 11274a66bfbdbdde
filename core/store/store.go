// Package store persists manifests, bundles, and audit records in SQLite.
// Rows are append-only: supersession is a conditional update on the
// still-current row, never an in-place edit of record content.
package store

import (
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - initial schema (manifests, bundles, audit_logs, partial unique
// indexes enforcing at most one current row).
// 2 - bundles.tsa_token, the authority's submission handle.
const currentSchemaVersion = 2

// Store provides durable storage for the evidence integrity layer.
// SQLite runs in WAL mode with a single-writer pool so concurrent
// supersession attempts serialize on the database rather than racing.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, applying pragmas and
// migrations. Safe to call repeatedly.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// One writer at a time; avoids SQLITE_BUSY under concurrent supersession.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for callers that need raw queries
// (tests simulating tampered rows, operational tooling). Prefer the typed
// methods.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version == 1 {
		// Fresh databases get the column from schema.sql; version-1
		// databases predate it.
		if _, err := db.Exec(`ALTER TABLE bundles ADD COLUMN tsa_token TEXT`); err != nil {
			return fmt.Errorf("add tsa_token column: %w", err)
		}
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// Timestamps are stored as RFC3339Nano text so the value that hashes on the
// write path reloads byte-identically on the verify path.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(raw string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return parsed, nil
}

func encodeNullableTime(t *time.Time) driver.Value {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeNullableTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid {
		return nil, nil
	}
	parsed, err := decodeTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func encodeNullableString(s *string) driver.Value {
	if s == nil {
		return nil
	}
	return *s
}

func decodeNullableString(raw sql.NullString) *string {
	if !raw.Valid {
		return nil
	}
	value := raw.String
	return &value
}
