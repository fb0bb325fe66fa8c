package gateway

import (
	"context"
	"time"

	"github.com/allaspectsdev/gateman/internal/catalog"
	"github.com/allaspectsdev/gateman/internal/metrics"
	"github.com/allaspectsdev/gateman/internal/router"
)

// ProviderStatus is one provider's health as seen by the router's monitor,
// plus its circuit state when a breaker is tracking it.
type ProviderStatus struct {
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	Available    bool    `json:"available"`
	SuccessRate  float64 `json:"success_rate"`
	LatencyMs    float64 `json:"latency_ms"`
	CircuitState string  `json:"circuit_state,omitempty"`
}

// ProviderStatuses reports every catalog provider, sorted by name. Snapshots
// come from the monitor, so repeated calls inside the health TTL are cheap.
// Providers no request has dispatched to yet carry no circuit state.
func (o *Orchestrator) ProviderStatuses(ctx context.Context) []ProviderStatus {
	circuits := make(map[string]string)
	if o.breakers != nil {
		for name, state := range o.breakers.States() {
			circuits[name] = state.String()
		}
	}

	providers := catalog.Providers()
	statuses := make([]ProviderStatus, 0, len(providers))
	for _, name := range providers {
		snap := o.router.Monitor().Check(ctx, name)
		statuses = append(statuses, ProviderStatus{
			Name:         name,
			Status:       statusLabel(snap),
			Available:    snap.Available,
			SuccessRate:  snap.SuccessRate,
			LatencyMs:    snap.AvgLatencyMs,
			CircuitState: circuits[name],
		})
	}
	return statuses
}

func statusLabel(snap router.HealthSnapshot) string {
	switch {
	case !snap.Available:
		return "down"
	case snap.SuccessRate >= 0.9:
		return "healthy"
	default:
		return "degraded"
	}
}

// UsageMetrics aggregates collected usage for a time range ("1h", "24h",
// "7d", "30d"), optionally filtered to one provider.
func (o *Orchestrator) UsageMetrics(timeRange, provider string) *metrics.Aggregate {
	return o.collector.Metrics(timeRange, provider)
}

// Health is the gateway's own liveness summary.
type Health struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheck grades the gateway from the collector's rolling window:
// healthy at score 80 and above, degraded at 50, unhealthy below that.
func (o *Orchestrator) HealthCheck() Health {
	score := o.collector.HealthScore()
	status := "healthy"
	switch {
	case score < 50:
		status = "unhealthy"
	case score < 80:
		status = "degraded"
	}
	return Health{
		Status:    status,
		Version:   o.version,
		Score:     score,
		Timestamp: o.now(),
	}
}
