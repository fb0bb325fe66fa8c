package store

import (
	"context"
	"fmt"
	"time"
)

// UpsertFingerprint records one sighting of a prompt fingerprint. A new
// hash starts at hit_count 1; a repeat bumps the count and last_seen
// while first_seen stays put.
func (s *Store) UpsertFingerprint(ctx context.Context, hash string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO prompt_fingerprints (hash, first_seen, last_seen, hit_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(hash) DO UPDATE SET
			last_seen = excluded.last_seen,
			hit_count = prompt_fingerprints.hit_count + 1`,
		hash, now, now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert fingerprint: %w", err)
	}
	return nil
}

// FingerprintCounts reports how many distinct fingerprints exist and how
// many sightings they sum to. total - distinct is the number of repeated
// prompts, which the cost advisor turns into a duplicate rate.
func (s *Store) FingerprintCounts() (distinct, total int64, err error) {
	err = s.reader.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM prompt_fingerprints",
	).Scan(&distinct, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("store: fingerprint counts: %w", err)
	}
	return distinct, total, nil
}
