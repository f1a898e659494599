// Package store is the durable metadata store: SyncFolder, FileMetadata,
// Conflict, SyncState, and ActivityLog, backed by a single embedded
// SQLite database file per installation, with schema changes applied
// through goose-driven migrations rather than ad hoc column checks.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/baludesk/baludesk-core/internal/db"
)

// ErrNotFound is wrapped into the error returned by update/resolve style
// operations that target a row by ID which no longer exists. Lookup
// operations (GetFolder, GetFileMetadata, ...) return (nil, nil) instead —
// a missing row is not itself an error there.
var ErrNotFound = errors.New("store: not found")

// nowFunc is overridden in tests that need deterministic timestamps.
var nowFunc = time.Now

// execer is the slice of *sqlx.DB's surface every CRUD method needs;
// *sqlx.Tx implements it too, so the same methods run unchanged against
// either the pooled connection or a transaction obtained via Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	NamedExec(query string, arg interface{}) (sql.Result, error)
}

// Store is the single entry point for all metadata persistence. Every
// mutation goes through parameterized queries — never string
// concatenation against user-controlled paths.
type Store struct {
	db *sqlx.DB
	q  execer
}

// Open creates or opens the SQLite database at path and applies all
// pending migrations. Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	sqlDB, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	if err := migrate(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &Store{db: sqlDB, q: sqlDB}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx returns a Store whose CRUD methods run against tx instead of the
// pooled connection, so a caller inside WithTransaction's fn can keep
// using the normal typed methods (UpsertFileMetadata, SetSyncState, ...)
// and have every one of those writes land in the same transaction.
func (s *Store) Tx(tx *sqlx.Tx) *Store {
	return &Store{db: s.db, q: tx}
}

// WithTransaction runs fn inside a single write transaction, committing on
// a nil return and rolling back otherwise — including on panic, which is
// re-thrown after rollback. Used to batch one reconcile pass's writes
// atomically.
func (s *Store) WithTransaction(fn func(*sqlx.Tx) error) (err error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: rollback after %w: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// formatTime renders t as RFC3339Nano, or "" for the zero value, so
// "never synced" is distinguishable from an actual recorded instant.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime is the inverse of formatTime; an empty string maps back to
// the zero time rather than an error.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
