// Package store is the single owner of the duck's persistent memory: messages,
// profile facts, episodic memories, session summaries, images, users and the
// audit tables. It is backed by one SQLite file with FTS5 indexes and float32
// BLOB embeddings searched by brute-force cosine.
//
// Writes go through a dedicated single-connection pool so SQLite sees exactly
// one writer; reads use a separate pool and run concurrently under WAL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/duckmemory/duckmem/internal/vector"

	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store is safe for concurrent use.
type Store struct {
	db   *sql.DB // writer, one connection
	read *sql.DB // readers
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn+"&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	for _, stmt := range migrations {
		_, _ = db.Exec(stmt)
	}

	read, err := sql.Open("sqlite", dsn+"&_pragma=query_only(1)")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open memory db readers: %w", err)
	}
	read.SetMaxOpenConns(4)

	return &Store{db: db, read: read, path: path, now: time.Now}, nil
}

// Close closes both pools.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	rerr := s.read.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return rerr
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// SetClock replaces the wall clock. Used by tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.now() }

// withTx runs fn in a write transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// withSnapshot runs fn in a read transaction so multi-statement reads see one
// consistent view.
func (s *Store) withSnapshot(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.read.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()
	return fn(tx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullString(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// embeddingArg binds an empty vector as NULL rather than a zero-length blob.
func embeddingArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return vector.Encode(v)
}
