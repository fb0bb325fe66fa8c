// Package costs turns usage history into spend reports, optimization
// recommendations, and pre-request cost predictions. It consumes records
// through the narrow History interface so it stays decoupled from how the
// gateway collects them.
package costs

import (
	"time"

	"github.com/allaspectsdev/gateman/internal/metrics"
)

// History provides usage records for reporting. metrics.Collector
// implements it.
type History interface {
	Window(d time.Duration) []metrics.UsageRecord
	Recent(n int) []metrics.UsageRecord
}

// costWindows maps time range shorthands to window lengths in hours.
// Unknown ranges fall back to 24 hours.
var costWindows = map[string]int{
	"1h":  1,
	"24h": 24,
	"7d":  168,
	"30d": 720,
}

// BucketCost is an aggregated cost/count pair for one provider or model.
type BucketCost struct {
	CostUSD float64 `json:"cost_usd"`
	Count   int     `json:"count"`
}

// Report is the windowed spend breakdown.
type Report struct {
	TimeRange           string                `json:"time_range"`
	TotalCostUSD        float64               `json:"total_cost_usd"`
	TotalRequests       int                   `json:"total_requests"`
	AvgCostPerRequest   float64               `json:"avg_cost_per_request"`
	ByProvider          map[string]BucketCost `json:"by_provider"`
	ByModel             map[string]BucketCost `json:"by_model"`
	HourlyRateUSD       float64               `json:"hourly_rate_usd"`
	ProjectedMonthlyUSD float64               `json:"projected_monthly_usd"`
}

// Reporter builds cost reports and recommendations from usage history.
type Reporter struct {
	history History
	policy  DuplicatePolicy
}

// NewReporter creates a Reporter. A nil policy selects the time-cluster
// duplicate estimator.
func NewReporter(history History, policy DuplicatePolicy) *Reporter {
	if policy == nil {
		policy = TimeClusterPolicy{}
	}
	return &Reporter{history: history, policy: policy}
}

// Report aggregates spend inside the requested time range (default and
// fallback 24h). Projection assumes the window's hourly rate holds for a
// 720-hour month.
func (r *Reporter) Report(timeRange string) *Report {
	if timeRange == "" {
		timeRange = "24h"
	}
	hours, ok := costWindows[timeRange]
	if !ok {
		hours = 24
	}

	rep := &Report{
		TimeRange:  timeRange,
		ByProvider: make(map[string]BucketCost),
		ByModel:    make(map[string]BucketCost),
	}

	for _, rec := range r.history.Window(time.Duration(hours) * time.Hour) {
		rep.TotalCostUSD += rec.CostUSD
		rep.TotalRequests++

		p := rep.ByProvider[rec.Provider]
		p.CostUSD += rec.CostUSD
		p.Count++
		rep.ByProvider[rec.Provider] = p

		m := rep.ByModel[rec.Model]
		m.CostUSD += rec.CostUSD
		m.Count++
		rep.ByModel[rec.Model] = m
	}

	if rep.TotalRequests > 0 {
		rep.AvgCostPerRequest = rep.TotalCostUSD / float64(rep.TotalRequests)
	}
	h := float64(hours)
	rep.HourlyRateUSD = rep.TotalCostUSD / h
	rep.ProjectedMonthlyUSD = rep.TotalCostUSD / h * 720

	return rep
}
