package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/allaspectsdev/gateman/internal/cache"
)

// SaveCacheEntry inserts or replaces one semantic cache row. The
// embedding is stored as a little-endian float32 blob.
func (s *Store) SaveCacheEntry(key string, e *cache.Entry) error {
	_, err := s.writer.Exec(`
		INSERT OR REPLACE INTO semantic_cache (
			key, prompt, response, model, embedding,
			latency_ms, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key, e.Prompt, e.Response, e.Model, encodeEmbedding(e.Embedding),
		e.LatencyMs,
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: save cache entry: %w", err)
	}
	return nil
}

// DeleteCacheEntry removes one row by key. Deleting an absent key is
// not an error; LRU eviction fires for entries that were never persisted.
func (s *Store) DeleteCacheEntry(key string) error {
	if _, err := s.writer.Exec("DELETE FROM semantic_cache WHERE key = ?", key); err != nil {
		return fmt.Errorf("store: delete cache entry: %w", err)
	}
	return nil
}

// LoadCacheEntries returns every persisted cache row keyed by cache key.
// Expiry filtering is the cache's concern, not the store's.
func (s *Store) LoadCacheEntries() (map[string]*cache.Entry, error) {
	rows, err := s.reader.Query(`
		SELECT key, prompt, response, model, embedding,
		       latency_ms, created_at, expires_at
		FROM semantic_cache`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: load cache entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]*cache.Entry)
	for rows.Next() {
		var key string
		var embedding []byte
		var createdAt, expiresAt string
		e := &cache.Entry{}
		if err := rows.Scan(
			&key, &e.Prompt, &e.Response, &e.Model, &embedding,
			&e.LatencyMs, &createdAt, &expiresAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan cache row: %w", err)
		}
		e.Embedding = decodeEmbedding(embedding)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		e.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
		entries[key] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load cache entries iteration: %w", err)
	}
	return entries, nil
}

// DeleteExpiredCache removes all rows whose expires_at is in the past.
// It returns the number of rows deleted.
func (s *Store) DeleteExpiredCache() (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.writer.Exec("DELETE FROM semantic_cache WHERE expires_at < ?", now)
	if err != nil {
		return 0, fmt.Errorf("store: delete expired cache: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete expired rows affected: %w", err)
	}
	return n, nil
}

// DeleteAllCacheEntries empties the semantic cache table and returns
// the number of rows deleted.
func (s *Store) DeleteAllCacheEntries() (int64, error) {
	result, err := s.writer.Exec("DELETE FROM semantic_cache")
	if err != nil {
		return 0, fmt.Errorf("store: delete all cache entries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete all rows affected: %w", err)
	}
	return n, nil
}

// encodeEmbedding packs a float32 vector into a little-endian blob.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding unpacks a little-endian blob into a float32 vector.
func decodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
