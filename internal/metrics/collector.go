// Package metrics tracks completed request observations in a bounded
// in-memory window and serves aggregate views over them: time-ranged
// summaries, per-provider health inputs, and a Prometheus text exposition
// endpoint.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// UsageRecord is one completed request observation. Records are produced by
// the gateway for every dispatched attempt and for cache-served responses.
type UsageRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Caller    string    `json:"caller"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	TaskType  string    `json:"task_type"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	CostUSD   float64   `json:"cost_usd"`
	LatencyMs float64   `json:"latency_ms"`
	Success   bool      `json:"success"`
	CacheHit  bool      `json:"cache_hit"`
	Error     string    `json:"error,omitempty"`
}

// Collector keeps a bounded window of recent UsageRecords plus lifetime
// atomic counters for lock-free, concurrent-safe updates. The record window
// feeds aggregate queries and health scoring; the counters feed the
// Prometheus exporter.
type Collector struct {
	mu         sync.RWMutex
	records    []UsageRecord
	maxRecords int
	retention  time.Duration

	healthWindow       int
	defaultWindowHours int

	totalRequests  int64
	totalTokensIn  int64
	totalTokensOut int64

	// Float64 counter stored as uint64 via math.Float64bits/Float64frombits.
	totalCostUSD uint64

	cacheHits     int64
	cacheMisses   int64
	rateLimitHits int64

	activeRequests int64

	providerRequests *counterVec
	latencies        *histogramVec
	circuitStates    *gaugeVec

	startTime time.Time
	now       func() time.Time
}

// Totals is a point-in-time snapshot of the lifetime counters.
type Totals struct {
	UptimeSeconds  float64 `json:"uptime_seconds"`
	TotalRequests  int64   `json:"total_requests"`
	TokensIn       int64   `json:"tokens_in"`
	TokensOut      int64   `json:"tokens_out"`
	CostUSD        float64 `json:"cost_usd"`
	CacheHits      int64   `json:"cache_hits"`
	CacheMisses    int64   `json:"cache_misses"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	RateLimitHits  int64   `json:"rate_limit_hits"`
	ActiveRequests int64   `json:"active_requests"`
}

// NewCollector creates a Collector. maxRecords bounds the in-memory window
// (default 1000); retention bounds its age (default 24h).
func NewCollector(maxRecords int, retention time.Duration) *Collector {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Collector{
		maxRecords:         maxRecords,
		retention:          retention,
		healthWindow:       100,
		defaultWindowHours: 1,
		providerRequests:   newCounterVec(),
		latencies:          newHistogramVec(latencyBuckets()),
		circuitStates:      newGaugeVec(),
		startTime:          time.Now(),
		now:                time.Now,
	}
}

// latencyBuckets returns histogram upper bounds in seconds.
func latencyBuckets() []float64 {
	return []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
}

// Record appends a UsageRecord to the window and updates all counters.
// A zero Timestamp is filled with the current time.
func (c *Collector) Record(rec UsageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = c.now()
	}

	atomic.AddInt64(&c.totalRequests, 1)
	atomic.AddInt64(&c.totalTokensIn, int64(rec.TokensIn))
	atomic.AddInt64(&c.totalTokensOut, int64(rec.TokensOut))
	addFloat64(&c.totalCostUSD, rec.CostUSD)

	outcome := "success"
	if !rec.Success {
		outcome = "failure"
	}
	c.providerRequests.Inc(map[string]string{"provider": rec.Provider, "outcome": outcome})
	c.latencies.Observe(map[string]string{"provider": rec.Provider}, rec.LatencyMs/1000)

	c.mu.Lock()
	c.records = append(c.records, rec)
	c.pruneLocked(c.now())
	c.mu.Unlock()
}

// pruneLocked drops records older than the retention cutoff and trims the
// window down to maxRecords, oldest first. Caller holds c.mu.
func (c *Collector) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.retention)
	drop := 0
	for drop < len(c.records) && c.records[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if over := len(c.records) - c.maxRecords; over > drop {
		drop = over
	}
	if drop > 0 {
		n := copy(c.records, c.records[drop:])
		c.records = c.records[:n]
	}
}

// RecordCacheHit increments the cache hit counter.
func (c *Collector) RecordCacheHit() {
	atomic.AddInt64(&c.cacheHits, 1)
}

// RecordCacheMiss increments the cache miss counter.
func (c *Collector) RecordCacheMiss() {
	atomic.AddInt64(&c.cacheMisses, 1)
}

// RecordRateLimitHit increments the counter of requests denied admission.
func (c *Collector) RecordRateLimitHit() {
	atomic.AddInt64(&c.rateLimitHits, 1)
}

// IncrementActive increments the in-flight request gauge.
func (c *Collector) IncrementActive() {
	atomic.AddInt64(&c.activeRequests, 1)
}

// DecrementActive decrements the in-flight request gauge.
func (c *Collector) DecrementActive() {
	atomic.AddInt64(&c.activeRequests, -1)
}

// SetCircuitState records a provider's circuit breaker state for the
// exporter (0=closed, 1=open, 2=half-open).
func (c *Collector) SetCircuitState(provider string, state int) {
	c.circuitStates.Set(map[string]string{"provider": provider}, float64(state))
}

// Totals returns a snapshot of the lifetime counters.
func (c *Collector) Totals() Totals {
	hits := atomic.LoadInt64(&c.cacheHits)
	misses := atomic.LoadInt64(&c.cacheMisses)

	var hitRate float64
	if ops := hits + misses; ops > 0 {
		hitRate = float64(hits) / float64(ops)
	}

	return Totals{
		UptimeSeconds:  time.Since(c.startTime).Seconds(),
		TotalRequests:  atomic.LoadInt64(&c.totalRequests),
		TokensIn:       atomic.LoadInt64(&c.totalTokensIn),
		TokensOut:      atomic.LoadInt64(&c.totalTokensOut),
		CostUSD:        loadFloat64(&c.totalCostUSD),
		CacheHits:      hits,
		CacheMisses:    misses,
		CacheHitRate:   hitRate,
		RateLimitHits:  atomic.LoadInt64(&c.rateLimitHits),
		ActiveRequests: atomic.LoadInt64(&c.activeRequests),
	}
}

// Window returns a copy of the records newer than now minus d.
func (c *Collector) Window(d time.Duration) []UsageRecord {
	cutoff := c.now().Add(-d)
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]UsageRecord, 0, len(c.records))
	for _, r := range c.records {
		if !r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// Recent returns a copy of the most recent n records (all records when
// n <= 0 or exceeds the window size).
func (c *Collector) Recent(n int) []UsageRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || n > len(c.records) {
		n = len(c.records)
	}
	out := make([]UsageRecord, n)
	copy(out, c.records[len(c.records)-n:])
	return out
}

// ProviderStats reports a provider's success rate, average latency over its
// successful requests, and sample count from the in-memory window. With no
// samples it returns zeros; callers decide what no data means.
func (c *Collector) ProviderStats(provider string) (successRate, avgLatencyMs float64, samples int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var successes int
	var latSum float64
	for _, r := range c.records {
		if r.Provider != provider {
			continue
		}
		samples++
		if r.Success {
			successes++
			latSum += r.LatencyMs
		}
	}
	if samples == 0 {
		return 0, 0, 0
	}
	successRate = float64(successes) / float64(samples)
	if successes > 0 {
		avgLatencyMs = latSum / float64(successes)
	}
	return successRate, avgLatencyMs, samples
}

// SetHealthWindow sets how many recent records HealthScore condenses,
// 100 until set. Non-positive values are ignored.
func (c *Collector) SetHealthWindow(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.healthWindow = n
	c.mu.Unlock()
}

// HealthScore condenses the most recent records (the configured health
// window) into a 0..100 gateway health score: success rate contributes up
// to 50 points and low latency the other 50 (a point lost per 20ms of
// average successful latency). An empty window scores 100.
func (c *Collector) HealthScore() float64 {
	c.mu.RLock()
	window := c.healthWindow
	c.mu.RUnlock()

	recent := c.Recent(window)
	if len(recent) == 0 {
		return 100
	}

	var successes int
	var latSum float64
	for _, r := range recent {
		if r.Success {
			successes++
			latSum += r.LatencyMs
		}
	}

	successRate := float64(successes) / float64(len(recent))
	var latencyTerm float64
	if successes > 0 {
		latencyTerm = 50 - (latSum/float64(successes))/20
		if latencyTerm < 0 {
			latencyTerm = 0
		}
	}

	score := successRate*50 + latencyTerm
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// addFloat64 atomically adds delta to the float64 stored in addr using a CAS loop.
func addFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// loadFloat64 atomically loads a float64 stored in addr.
func loadFloat64(addr *uint64) float64 {
	return math.Float64frombits(atomic.LoadUint64(addr))
}
