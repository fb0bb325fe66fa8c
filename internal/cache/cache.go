// Package cache implements the semantic response cache. Prompts are embedded
// into fixed-length vectors and looked up by nearest-neighbor similarity, so
// a paraphrased prompt can reuse the response of an equivalent earlier one.
// Entries live in an in-memory LRU and are optionally written through to a
// persistent store that survives restarts.
package cache

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Entry is a cached completion with its embedding and expiry metadata.
type Entry struct {
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Model     string    `json:"model"`
	Embedding []float32 `json:"embedding"`
	LatencyMs float64   `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired returns true if the entry has passed its expiration time.
func (e *Entry) Expired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Match is the result of a successful cache lookup.
type Match struct {
	Response   string    `json:"response"`
	Model      string    `json:"model"`
	Similarity float64   `json:"similarity"`
	LatencyMs  float64   `json:"latency_ms"`
	CachedAt   time.Time `json:"cached_at"`
}

// Persister is the persistence interface for cache entries. Implementations
// may use SQLite or other backends; a nil Persister keeps the cache
// memory-only. Persister failures never fail cache operations.
type Persister interface {
	SaveEntry(key string, e *Entry) error
	DeleteEntry(key string) error
	LoadEntries() (map[string]*Entry, error)
	DeleteExpired() error
	DeleteAllEntries() error
}

// Stats summarizes cache contents and effectiveness.
type Stats struct {
	Entries             int            `json:"entries"`
	Hits                uint64         `json:"hits"`
	Misses              uint64         `json:"misses"`
	Evictions           uint64         `json:"evictions"`
	HitRate             float64        `json:"hit_rate"`
	AvgHitSimilarity    float64        `json:"avg_hit_similarity"`
	SimilarityThreshold float64        `json:"similarity_threshold"`
	TTLHours            float64        `json:"ttl_hours"`
	ModelDistribution   map[string]int `json:"model_distribution"`
}

// Cache is a semantic response cache backed by an in-memory LRU with an
// optional write-through Persister. All methods are safe for concurrent use.
type Cache struct {
	embedder  Embedder
	memory    *lru.Cache[string, *Entry]
	persister Persister
	threshold float64
	ttl       time.Duration

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	simSum    atomic.Uint64 // sum of hit similarities, as float64 bits

	now func() time.Time
}

// New creates a Cache.
//
//   - embedder produces prompt vectors (nil selects the built-in
//     HashingEmbedder at its default dimensionality).
//   - persister is the persistent backend (may be nil for memory-only).
//   - threshold is the minimum cosine similarity for a hit.
//   - ttl is the entry time-to-live.
//   - maxEntries caps the in-memory LRU.
func New(embedder Embedder, persister Persister, threshold float64, ttl time.Duration, maxEntries int) (*Cache, error) {
	if embedder == nil {
		embedder = NewHashingEmbedder(0)
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.95
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}

	c := &Cache{
		embedder:  embedder,
		persister: persister,
		threshold: threshold,
		ttl:       ttl,
		now:       time.Now,
	}

	memory, err := lru.NewWithEvict[string, *Entry](maxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache: creating LRU: %w", err)
	}
	c.memory = memory

	return c, nil
}

// onEvict runs for every entry removed from the LRU, whether by capacity
// pressure, expiry, or Clear. Removals are mirrored to the persister.
func (c *Cache) onEvict(key string, _ *Entry) {
	c.evictions.Add(1)
	if c.persister != nil {
		if err := c.persister.DeleteEntry(key); err != nil {
			log.Warn().Err(err).Msg("cache: deleting persisted entry")
		}
	}
}

// Len returns the number of entries currently in memory.
func (c *Cache) Len() int {
	return c.memory.Len()
}

// Store caches a completion under its prompt and model. The prompt is
// embedded once at store time. Persister errors are logged and the entry
// stays cached in memory.
func (c *Cache) Store(prompt, response, model string, latency time.Duration) {
	key := Key(prompt, model)
	now := c.now()
	entry := &Entry{
		Prompt:    prompt,
		Response:  response,
		Model:     model,
		Embedding: c.embedder.Embed(prompt),
		LatencyMs: float64(latency) / float64(time.Millisecond),
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.memory.Add(key, entry)

	if c.persister != nil {
		if err := c.persister.SaveEntry(key, entry); err != nil {
			log.Warn().Err(err).Str("model", model).Msg("cache: persisting entry")
		}
	}
}

// Lookup embeds the prompt and scans for the most similar cached entry.
// It returns nil on a miss: no entries, best similarity below the threshold,
// or best match expired. An expired best match is removed; the runner-up is
// not considered. Passing threshold <= 0 uses the configured default.
func (c *Cache) Lookup(prompt string, threshold float64) *Match {
	if threshold <= 0 {
		threshold = c.threshold
	}

	query := c.embedder.Embed(prompt)

	var bestKey string
	var best *Entry
	bestSim := math.Inf(-1)
	for _, key := range c.memory.Keys() {
		entry, ok := c.memory.Peek(key)
		if !ok {
			continue
		}
		sim := Cosine(query, entry.Embedding)
		if sim > bestSim {
			bestSim, best, bestKey = sim, entry, key
		}
	}

	if best == nil || bestSim < threshold {
		c.misses.Add(1)
		return nil
	}
	if c.now().After(best.ExpiresAt) {
		c.memory.Remove(bestKey)
		c.misses.Add(1)
		return nil
	}

	// Touch the entry so the LRU keeps hot prompts resident.
	c.memory.Get(bestKey)
	c.hits.Add(1)
	addFloat64(&c.simSum, bestSim)
	log.Debug().Str("model", best.Model).Float64("similarity", bestSim).Msg("cache: semantic hit")

	return &Match{
		Response:   best.Response,
		Model:      best.Model,
		Similarity: bestSim,
		LatencyMs:  best.LatencyMs,
		CachedAt:   best.CreatedAt,
	}
}

// Stats returns a snapshot of cache contents and counters.
func (c *Cache) Stats() Stats {
	dist := make(map[string]int)
	for _, key := range c.memory.Keys() {
		if entry, ok := c.memory.Peek(key); ok {
			dist[entry.Model]++
		}
	}

	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{
		Entries:             c.memory.Len(),
		Hits:                hits,
		Misses:              misses,
		Evictions:           c.evictions.Load(),
		SimilarityThreshold: c.threshold,
		TTLHours:            c.ttl.Hours(),
		ModelDistribution:   dist,
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	if hits > 0 {
		s.AvgHitSimilarity = math.Float64frombits(c.simSum.Load()) / float64(hits)
	}
	return s
}

// Clear removes every entry from memory and the persister. It returns the
// number of in-memory entries removed.
func (c *Cache) Clear() int {
	n := c.memory.Len()
	c.memory.Purge()
	if c.persister != nil {
		if err := c.persister.DeleteAllEntries(); err != nil {
			log.Warn().Err(err).Msg("cache: clearing persisted entries")
		}
	}
	log.Info().Int("entries", n).Msg("cache: cleared")
	return n
}

// Warm loads unexpired persisted entries into memory. Entries whose stored
// embedding no longer matches the configured dimensionality are re-embedded.
// It returns the number of entries loaded.
func (c *Cache) Warm() (int, error) {
	if c.persister == nil {
		return 0, nil
	}

	entries, err := c.persister.LoadEntries()
	if err != nil {
		return 0, fmt.Errorf("cache: loading persisted entries: %w", err)
	}

	now := c.now()
	loaded := 0
	for key, entry := range entries {
		if entry == nil || now.After(entry.ExpiresAt) {
			continue
		}
		if len(entry.Embedding) != c.embedder.Dimensions() {
			entry.Embedding = c.embedder.Embed(entry.Prompt)
		}
		c.memory.Add(key, entry)
		loaded++
	}
	return loaded, nil
}

// Purge removes expired entries from the persister and the in-memory LRU.
// It returns the number of in-memory entries removed.
func (c *Cache) Purge() int {
	if c.persister != nil {
		if err := c.persister.DeleteExpired(); err != nil {
			log.Warn().Err(err).Msg("cache: purging persisted entries")
		}
	}

	now := c.now()
	removed := 0
	for _, key := range c.memory.Keys() {
		if entry, ok := c.memory.Peek(key); ok && now.After(entry.ExpiresAt) {
			c.memory.Remove(key)
			removed++
		}
	}
	return removed
}

// StartPurger starts a background goroutine that periodically purges expired
// entries. It runs at the given interval (5 minutes when interval <= 0) until
// the context is cancelled. The returned channel is closed when the goroutine
// exits, allowing callers to synchronize shutdown before closing the
// underlying store.
func (c *Cache) StartPurger(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Error().Interface("panic", r).Msg("cache purger: recovered from panic")
						}
					}()
					c.Purge()
				}()
			}
		}
	}()
	return done
}

// addFloat64 accumulates a float64 into an atomic.Uint64 holding float64
// bits, using a compare-and-swap loop.
func addFloat64(bits *atomic.Uint64, delta float64) {
	for {
		old := bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if bits.CompareAndSwap(old, next) {
			return
		}
	}
}
