// Package sqlstore adapts modernc.org/sqlite (a pure-Go, CGO-free SQLite
// driver) to the memory.SQLStore port, for deployments that want an
// embedded durable store without a Postgres dependency. Connection setup
// (WAL journal mode, foreign keys, busy timeout) is grounded on
// 88lin-divinesense's store/db/sqlite/sqlite.go, adapted from that repo's
// CGO-based mattn/go-sqlite3 driver onto modernc.org/sqlite's pure-Go
// "sqlite" driver name.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Koko12137/tasking-community-sub000/pkg/memory"
)

// Store implements memory.SQLStore on top of an embedded SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at dsn and applies
// the same pragma set the teacher's driver setup does: WAL journaling,
// foreign key enforcement, and a busy timeout so concurrent access
// retries instead of failing immediately with SQLITE_BUSY.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %q: %w", dsn, err)
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlstore: set pragma %q: %w", pragma, err)
		}
	}
	// SQLite handles concurrent writers poorly; a single connection avoids
	// SQLITE_BUSY contention the busy_timeout pragma alone doesn't resolve
	// for writers racing on the same file.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// New wraps an already-open *sql.DB without applying any pragmas, for
// callers (tests, in-memory databases) that manage their own connection
// setup.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: db handle is required")
	}
	return &Store{db: db}, nil
}

var _ memory.SQLStore = (*Store)(nil)

func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *Store) Close() error {
	return s.db.Close()
}
