// Package store is the SQLite persistence layer: usage records surviving
// restarts, the semantic cache's durable backing, and the prompt
// fingerprint corpus the cost advisor reads. It keeps a single writer
// connection so writes serialize cleanly under WAL, and a small reader
// pool for concurrent queries.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// readerPoolSize caps concurrent read connections. Reads under WAL do not
// block the writer, so a small pool is enough.
const readerPoolSize = 4

// Store wraps the writer and reader connections to one SQLite database.
type Store struct {
	writer    *sql.DB
	reader    *sql.DB
	path      string
	closeOnce sync.Once
}

// Open creates a Store backed by the SQLite database at path. It creates
// the parent directory if needed, opens the single-connection writer and
// the reader pool in WAL mode, and runs all pending migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create directory %s: %w", dir, err)
	}

	// One writer connection serialises all writes.
	writer, err := openDB(path, 1, false)
	if err != nil {
		return nil, fmt.Errorf("store: open writer: %w", err)
	}

	// Reader connections carry the query_only pragma, so a write issued
	// on the wrong handle fails loudly instead of racing the writer.
	reader, err := openDB(path, readerPoolSize, true)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("store: open reader: %w", err)
	}

	s := &Store{writer: writer, reader: reader, path: path}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// openDB opens one database handle with the WAL pragmas applied and the
// connection count pinned, then verifies it with a ping.
func openDB(path string, conns int, readOnly bool) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	if readOnly {
		dsn += "&_pragma=query_only(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes both database handles. Safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = errors.Join(s.writer.Close(), s.reader.Close())
	})
	return err
}

// Ping verifies that both the writer and reader connections are alive.
func (s *Store) Ping() error {
	if err := s.writer.Ping(); err != nil {
		return fmt.Errorf("store: writer ping: %w", err)
	}
	if err := s.reader.Ping(); err != nil {
		return fmt.Errorf("store: reader ping: %w", err)
	}
	return nil
}

// Prune removes usage records older than retentionDays and cache rows
// whose expiry passed more than retentionDays ago. Fingerprints are a
// long-lived corpus and are never pruned. Returns total rows deleted.
func (s *Store) Prune(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	var total int64
	for _, q := range []string{
		"DELETE FROM usage_records WHERE timestamp < ?",
		"DELETE FROM semantic_cache WHERE expires_at < ?",
	} {
		res, err := s.writer.Exec(q, cutoff)
		if err != nil {
			return total, fmt.Errorf("store: prune: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("store: prune rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}
