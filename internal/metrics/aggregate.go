package metrics

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"
)

// metricsWindows maps time range shorthands to window lengths in hours.
// Unknown ranges fall back to one hour.
var metricsWindows = map[string]int{
	"1h":  1,
	"24h": 24,
	"7d":  168,
	"30d": 720,
}

// LatencyStats describes the latency distribution of successful requests in
// milliseconds. P95 is only populated for samples above 20 and P99 above
// 100; smaller samples report 0.
type LatencyStats struct {
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	MeanMs   float64 `json:"mean_ms"`
	MedianMs float64 `json:"median_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
}

// CostStats describes per-request cost distribution over the window.
type CostStats struct {
	TotalUSD         float64 `json:"total_usd"`
	AvgPerRequestUSD float64 `json:"avg_per_request_usd"`
	MinUSD           float64 `json:"min_usd"`
	MaxUSD           float64 `json:"max_usd"`
}

// ProviderBreakdown summarizes one provider's share of the window.
type ProviderBreakdown struct {
	Requests     int     `json:"requests"`
	Successes    int     `json:"successes"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Aggregate is the windowed metrics view served by the API.
type Aggregate struct {
	TimeRange          string                       `json:"time_range"`
	Provider           string                       `json:"provider,omitempty"`
	TotalRequests      int                          `json:"total_requests"`
	SuccessfulRequests int                          `json:"successful_requests"`
	FailedRequests     int                          `json:"failed_requests"`
	SuccessRate        float64                      `json:"success_rate"`
	CachedRequests     int                          `json:"cached_requests"`
	CacheHitRate       float64                      `json:"cache_hit_rate"`
	RateLimitHits      int64                        `json:"rate_limit_hits"`
	Latency            LatencyStats                 `json:"latency"`
	Cost               CostStats                    `json:"cost"`
	Providers          map[string]ProviderBreakdown `json:"providers"`
	RequestsPerMinute  float64                      `json:"requests_per_minute"`
}

// SetDefaultWindow sets the window, in hours, served when the caller names
// no time range, one hour until set. Non-positive values are ignored.
func (c *Collector) SetDefaultWindow(hours int) {
	if hours <= 0 {
		return
	}
	c.mu.Lock()
	c.defaultWindowHours = hours
	c.mu.Unlock()
}

// Metrics aggregates the records inside the requested time range, optionally
// restricted to a single provider. An empty range uses the collector's
// default window; an unknown range means 1h. An empty window yields an
// all-zero aggregate.
func (c *Collector) Metrics(timeRange, provider string) *Aggregate {
	var hours int
	if timeRange == "" {
		c.mu.RLock()
		hours = c.defaultWindowHours
		c.mu.RUnlock()
		timeRange = fmt.Sprintf("%dh", hours)
	} else if h, ok := metricsWindows[timeRange]; ok {
		hours = h
	} else {
		hours = 1
	}

	recs := c.Window(time.Duration(hours) * time.Hour)
	if provider != "" {
		filtered := recs[:0]
		for _, r := range recs {
			if r.Provider == provider {
				filtered = append(filtered, r)
			}
		}
		recs = filtered
	}

	agg := &Aggregate{
		TimeRange:     timeRange,
		Provider:      provider,
		RateLimitHits: atomic.LoadInt64(&c.rateLimitHits),
		Providers:     make(map[string]ProviderBreakdown),
	}
	if len(recs) == 0 {
		return agg
	}

	var successLatencies []float64
	costMin := math.Inf(1)
	costMax := math.Inf(-1)
	byProvider := make(map[string]*ProviderBreakdown)
	latencySums := make(map[string]float64)

	for _, r := range recs {
		agg.TotalRequests++
		if r.Success {
			agg.SuccessfulRequests++
			successLatencies = append(successLatencies, r.LatencyMs)
		} else {
			agg.FailedRequests++
		}
		if r.CacheHit {
			agg.CachedRequests++
		}

		agg.Cost.TotalUSD += r.CostUSD
		if r.CostUSD < costMin {
			costMin = r.CostUSD
		}
		if r.CostUSD > costMax {
			costMax = r.CostUSD
		}

		pb := byProvider[r.Provider]
		if pb == nil {
			pb = &ProviderBreakdown{}
			byProvider[r.Provider] = pb
		}
		pb.Requests++
		pb.TotalCostUSD += r.CostUSD
		if r.Success {
			pb.Successes++
			latencySums[r.Provider] += r.LatencyMs
		}
	}

	n := float64(agg.TotalRequests)
	agg.SuccessRate = float64(agg.SuccessfulRequests) / n
	agg.CacheHitRate = float64(agg.CachedRequests) / n
	agg.Cost.AvgPerRequestUSD = agg.Cost.TotalUSD / n
	agg.Cost.MinUSD = costMin
	agg.Cost.MaxUSD = costMax
	agg.RequestsPerMinute = n / (float64(hours) * 60)

	agg.Latency = latencyStats(successLatencies)

	for name, pb := range byProvider {
		pb.SuccessRate = float64(pb.Successes) / float64(pb.Requests)
		if pb.Successes > 0 {
			pb.AvgLatencyMs = latencySums[name] / float64(pb.Successes)
		}
		agg.Providers[name] = *pb
	}

	return agg
}

// latencyStats computes the distribution of the given latencies. The slice
// is sorted in place.
func latencyStats(lats []float64) LatencyStats {
	if len(lats) == 0 {
		return LatencyStats{}
	}
	sort.Float64s(lats)

	var sum float64
	for _, v := range lats {
		sum += v
	}

	s := LatencyStats{
		MinMs:    lats[0],
		MaxMs:    lats[len(lats)-1],
		MeanMs:   sum / float64(len(lats)),
		MedianMs: median(lats),
	}
	if len(lats) > 20 {
		s.P95Ms = quantileExclusive(lats, 0.95)
	}
	if len(lats) > 100 {
		s.P99Ms = quantileExclusive(lats, 0.99)
	}
	return s
}

// median returns the middle value of a sorted slice, interpolating between
// the two middle values for even lengths.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// quantileExclusive computes the p-quantile of a sorted slice using the
// exclusive method: the quantile position is p*(n+1), interpolated between
// neighbors and clamped to the observed range.
func quantileExclusive(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	h := p * float64(n+1)
	if h <= 1 {
		return sorted[0]
	}
	if h >= float64(n) {
		return sorted[n-1]
	}
	k := int(math.Floor(h))
	frac := h - float64(k)
	return sorted[k-1] + frac*(sorted[k]-sorted[k-1])
}
