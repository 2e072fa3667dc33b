// Package sqlite implements the durable mailstore on top of a pure-Go,
// cgo-free sqlite driver: an append-only event log with lease-based
// claiming, idempotency records, and a tool-audit trail.
package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coredrift/substrate/internal/corelog"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Store wraps the underlying connection pool. It is safe for concurrent
// use; linearizability for claim/ack/fail is provided by BEGIN IMMEDIATE
// transactions, not by a client-side mutex.
type Store struct {
	db     *sql.DB
	logged dbHandle
}

// New opens (creating if necessary) the sqlite-backed mailstore at path,
// configuring it for durability per the spec: WAL journaling, full
// synchronous commit, and foreign key enforcement between leases and
// events.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, logged: &queryLogger{inner: db}}, nil
}

// NewInMemory opens an in-memory store for tests. WAL mode is skipped
// because an in-memory database has no separate journal file, but the
// other pragmas still apply.
func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure db: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, logged: &queryLogger{inner: db}}, nil
}

// SetSlowQueryLogger routes slow-query warnings through logger instead of
// the stdlib log package, so a supervisor process that already opened a
// corelog sink gets mailstore contention warnings in the same structured
// stream as everything else it logs.
func (s *Store) SetSlowQueryLogger(logger *corelog.Logger) {
	if ql, ok := s.logged.(*queryLogger); ok {
		ql.logger = logger
	}
}

func configure(db *sql.DB) error {
	pragmas := []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA synchronous = FULL;`,
		`PRAGMA foreign_keys = ON;`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("configure db (%s): %w", p, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
