package store

import (
	"fmt"
	"time"
)

// migration is one schema step. Its statements run in order inside a single
// transaction together with the version bookkeeping row, so a half-applied
// step can never be recorded as done.
type migration struct {
	Version    int
	Statements []string
}

// migrations is the ordered schema history. Version 1 lays down the full
// current schema for fresh databases; later versions carry databases
// created by older builds forward.
var migrations = []migration{
	{Version: 1, Statements: allSchemas},
	{Version: 2, Statements: []string{schemaFingerprints}},
}

// Migrate brings the database up to the latest schema version on the
// writer connection.
func (s *Store) Migrate() error {
	if _, err := s.writer.Exec(schemaMigrations); err != nil {
		return fmt.Errorf("store: create migrations table: %w", err)
	}

	current, err := s.SchemaVersion()
	if err != nil {
		return fmt.Errorf("store: read migration version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.apply(m); err != nil {
			return fmt.Errorf("store: migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion reports the highest applied migration version, 0 for a
// database that predates the bookkeeping table's first entry.
func (s *Store) SchemaVersion() (int, error) {
	var version int
	err := s.writer.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&version)
	return version, err
}

func (s *Store) apply(m migration) error {
	tx, err := s.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range m.Statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	_, err = tx.Exec(
		"INSERT INTO migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}
