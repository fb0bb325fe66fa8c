package router

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthSnapshot is one provider's observed health at a point in time.
type HealthSnapshot struct {
	Provider     string    `json:"provider"`
	Available    bool      `json:"available"`
	SuccessRate  float64   `json:"success_rate"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	CheckedAt    time.Time `json:"checked_at"`
}

// HealthChecker produces a health snapshot for a provider. Implementations
// may probe actively or derive health from recorded traffic.
type HealthChecker interface {
	CheckHealth(ctx context.Context, provider string) (HealthSnapshot, error)
}

// CheckerFunc adapts a function to the HealthChecker interface.
type CheckerFunc func(ctx context.Context, provider string) (HealthSnapshot, error)

func (f CheckerFunc) CheckHealth(ctx context.Context, provider string) (HealthSnapshot, error) {
	return f(ctx, provider)
}

const (
	defaultHealthTTL = 30 * time.Second
	maxHealthTTL     = time.Minute
)

// Monitor caches health snapshots per provider so scoring does not hit the
// checker on every request. Snapshots expire after the TTL, capped at one
// minute so a recovered provider is never ignored for long.
type Monitor struct {
	mu        sync.Mutex
	checker   HealthChecker
	ttl       time.Duration
	snapshots map[string]HealthSnapshot

	now func() time.Time
}

// NewMonitor creates a Monitor around checker. A nil checker reports every
// provider healthy; TTLs outside (0, 1m] are clamped.
func NewMonitor(checker HealthChecker, ttl time.Duration) *Monitor {
	if checker == nil {
		checker = MetricsChecker{}
	}
	if ttl <= 0 {
		ttl = defaultHealthTTL
	}
	if ttl > maxHealthTTL {
		ttl = maxHealthTTL
	}
	return &Monitor{
		checker:   checker,
		ttl:       ttl,
		snapshots: make(map[string]HealthSnapshot),
		now:       time.Now,
	}
}

// Check returns the provider's health, consulting the checker only when the
// cached snapshot has expired. A checker failure degrades to an unavailable
// snapshot, cached like any other so a broken checker is not retried on
// every request.
func (m *Monitor) Check(ctx context.Context, provider string) HealthSnapshot {
	m.mu.Lock()
	if snap, ok := m.snapshots[provider]; ok && m.now().Sub(snap.CheckedAt) < m.ttl {
		m.mu.Unlock()
		return snap
	}
	m.mu.Unlock()

	snap, err := m.checker.CheckHealth(ctx, provider)
	if err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("health check failed")
		snap = HealthSnapshot{Available: false}
	}
	snap.Provider = provider
	snap.CheckedAt = m.now()

	m.mu.Lock()
	m.snapshots[provider] = snap
	m.mu.Unlock()
	return snap
}

// Forget drops the cached snapshot so the next Check consults the checker.
func (m *Monitor) Forget(provider string) {
	m.mu.Lock()
	delete(m.snapshots, provider)
	m.mu.Unlock()
}

// ProviderStatsSource reports recorded success rate and latency for a
// provider. The metrics collector implements it.
type ProviderStatsSource interface {
	ProviderStats(provider string) (successRate, avgLatencyMs float64, samples int)
}

// BreakerProbe reports whether a provider is currently accepting traffic.
type BreakerProbe interface {
	Available(provider string) bool
}

// MetricsChecker derives health from recorded traffic instead of pinging
// providers. With no recorded samples it reports a healthy default so new
// providers stay routable. The zero value is always healthy.
type MetricsChecker struct {
	Stats   ProviderStatsSource
	Breaker BreakerProbe
}

func (c MetricsChecker) CheckHealth(_ context.Context, provider string) (HealthSnapshot, error) {
	snap := HealthSnapshot{Available: true, SuccessRate: 1}
	if c.Stats != nil {
		rate, lat, samples := c.Stats.ProviderStats(provider)
		if samples > 0 {
			snap.SuccessRate = rate
			snap.AvgLatencyMs = lat
		}
	}
	if c.Breaker != nil && !c.Breaker.Available(provider) {
		snap.Available = false
	}
	return snap, nil
}
