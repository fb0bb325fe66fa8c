package testutil

import (
	"time"

	"github.com/allaspectsdev/gateman/internal/metrics"
)

// SampleUsageRecord returns a successful usage record with plausible token
// and cost figures, suitable for seeding collectors and stores.
func SampleUsageRecord(id, providerName, model string) metrics.UsageRecord {
	return metrics.UsageRecord{
		ID:        id,
		Timestamp: time.Now(),
		Caller:    "default",
		Provider:  providerName,
		Model:     model,
		TaskType:  "general",
		TokensIn:  100,
		TokensOut: 50,
		CostUSD:   0.01,
		LatencyMs: 120,
		Success:   true,
	}
}

// FailedUsageRecord returns a failed usage record carrying an error message.
func FailedUsageRecord(id, providerName, model string) metrics.UsageRecord {
	rec := SampleUsageRecord(id, providerName, model)
	rec.Success = false
	rec.Error = "upstream unavailable"
	rec.CostUSD = 0
	return rec
}
