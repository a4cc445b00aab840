// Package eventstore is the transactional, FTS-indexed, content-addressed
// store for the workspace/session/event/blob/branch graph. All mutation
// goes through Store or through the Tx handed to a Transaction callback;
// direct filesystem or database access by other packages is not supported.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/coreagent/runtime/internal/config"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database backing the event DAG.
type Store struct {
	db *sql.DB
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting every operation
// in this package run either standalone or inside a caller's Transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (or creates) the event store database at path.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	// Events are appended from a single writer discipline; callers issuing
	// concurrent transactions rely on SQLite's own locking, so cap the pool
	// the way muxd's store never needed to because it had no FTS triggers
	// contending with writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDefault opens the event store at its default data-directory location.
func OpenDefault() (*Store, error) {
	dir, err := config.DataDir()
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	return Open(filepath.Join(dir, "events.db"))
}

// NewFromDB wraps an existing *sql.DB (used by tests with in-memory databases).
func NewFromDB(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initialize(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a transaction-scoped handle exposing the same operations as Store,
// so a caller can compose several mutations (e.g. insert an event and move
// a session's head pointer) into one atomic unit.
type Tx struct {
	tx *sql.Tx
}

// Transaction executes fn atomically: all mutations performed through the
// Tx it receives either commit together or roll back, including when fn
// itself returns an error.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, &Tx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
