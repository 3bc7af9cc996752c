// Package sqlite implements the kv contract on modernc.org/sqlite
// (pure Go, no CGO) with WAL mode. All five logical stores share one
// database file; each store maps to a (store, key) keyspace in a single
// table so the whole engine state travels as one file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/becomeliminal/tiermem-go/kv"
)

// Compile-time interface guards.
var (
	_ kv.Store  = (*logicalStore)(nil)
	_ kv.Stores = (*Stores)(nil)
)

const defaultBusyTimeout = 5000 // milliseconds

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS entries (
		store      TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BLOB NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		PRIMARY KEY (store, key)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_entries_store ON entries(store, key)`,
}

// Stores is a sqlite-backed bundle of logical stores.
type Stores struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates the schema.
//
// The database uses WAL mode, a 5 s busy timeout, and a single
// connection (SQLite serialises writes; one connection keeps PRAGMAs
// consistent).
func Open(path string) (*Stores, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: migrate: %w", err)
		}
	}

	return &Stores{db: db}, nil
}

// Store returns the logical store with the given name.
func (s *Stores) Store(name string) kv.Store {
	return &logicalStore{db: s.db, name: name}
}

// Close closes the underlying database.
func (s *Stores) Close() error {
	return s.db.Close()
}

type logicalStore struct {
	db   *sql.DB
	name string
}

func (s *logicalStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (store, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(store, key) DO UPDATE SET value = excluded.value,
		 updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		s.name, key, value)
	if err != nil {
		return fmt.Errorf("sqlite: put %s/%s: %w", s.name, key, err)
	}
	return nil
}

func (s *logicalStore) PutBatch(ctx context.Context, entries []kv.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (store, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(store, key) DO UPDATE SET value = excluded.value,
		 updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, s.name, e.Key, e.Value); err != nil {
			return fmt.Errorf("sqlite: batch put %s/%s: %w", s.name, e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit batch: %w", err)
	}
	return nil
}

func (s *logicalStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM entries WHERE store = ? AND key = ?`, s.name, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: get %s/%s: %w", s.name, key, err)
	}
	return value, true, nil
}

func (s *logicalStore) GetAll(ctx context.Context) ([]kv.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM entries WHERE store = ? ORDER BY key`, s.name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get all %s: %w", s.name, err)
	}
	defer rows.Close()

	var entries []kv.Entry
	for rows.Next() {
		var e kv.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", s.name, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *logicalStore) ScanChunks(ctx context.Context, chunkSize int, fn func(chunk []kv.Entry) (bool, error)) error {
	if chunkSize <= 0 {
		chunkSize = 1000
	}

	after := ""
	for {
		rows, err := s.db.QueryContext(ctx,
			`SELECT key, value FROM entries WHERE store = ? AND key > ? ORDER BY key LIMIT ?`,
			s.name, after, chunkSize)
		if err != nil {
			return fmt.Errorf("sqlite: scan %s: %w", s.name, err)
		}

		chunk := make([]kv.Entry, 0, chunkSize)
		for rows.Next() {
			var e kv.Entry
			if err := rows.Scan(&e.Key, &e.Value); err != nil {
				rows.Close()
				return fmt.Errorf("sqlite: scan %s: %w", s.name, err)
			}
			chunk = append(chunk, e)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(chunk) == 0 {
			return nil
		}

		cont, err := fn(chunk)
		if err != nil {
			return err
		}
		if !cont || len(chunk) < chunkSize {
			return nil
		}
		after = chunk[len(chunk)-1].Key
	}
}

func (s *logicalStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE store = ? AND key = ?`, s.name, key); err != nil {
		return fmt.Errorf("sqlite: delete %s/%s: %w", s.name, key, err)
	}
	return nil
}

func (s *logicalStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE store = ?`, s.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", s.name, err)
	}
	return n, nil
}

func (s *logicalStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM entries WHERE store = ? ORDER BY key`, s.name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: keys %s: %w", s.name, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite: keys %s: %w", s.name, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *logicalStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE store = ?`, s.name); err != nil {
		return fmt.Errorf("sqlite: clear %s: %w", s.name, err)
	}
	return nil
}
