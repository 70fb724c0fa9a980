// Package storage provides the embedded SQLite store backing all durable
// local state: the task cache, the mutation queue, and small engine records
// like the color cursor and last sync time.
//
// The database runs embedded (ncruces/go-sqlite3, WASM build, no cgo) with
// WAL mode so the facade's optimistic writes and the orchestrator's
// reconciliation writes can share one file safely.
//
// State is stored as JSON blobs in a records(key, value) table. Each
// consumer owns a fixed namespace key and overwrites its record wholesale;
// there are no partial-write semantics to preserve.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Namespace keys for the engine's durable records.
const (
	KeyTasks       = "tasks"
	KeyTaskHistory = "tasks_history"
	KeyPendingOps  = "pending_ops"
	KeyColorCursor = "color_cursor"
	KeyLastSync    = "last_sync"
)

// ErrNotFound is returned by Get when no record exists under the key.
var ErrNotFound = errors.New("record not found")

// StorageError wraps a failed read or write against the local database.
// Callers distinguish read failures (degrade to empty state) from write
// failures (must surface, an unqueued mutation can never be retried).
type StorageError struct {
	Op  string // "read" or "write"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s of %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store wraps the SQLite connection with the record-level API.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the database at path. Parent directories are
// created as needed. The caller must Close the store when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	// WAL so reads stay concurrent with the single writer.
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Get returns the record stored under key, or ErrNotFound (wrapped in a
// StorageError) if none exists.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM records WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StorageError{Op: "read", Key: key, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Key: key, Err: err}
	}
	return value, nil
}

// Put overwrites the record stored under key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO records (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// Delete removes the record under key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx,
		"DELETE FROM records WHERE key = ?", key); err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// IsNotFound reports whether err means the record simply doesn't exist,
// as opposed to an unreadable store.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
