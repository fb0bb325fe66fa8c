package costs

import (
	"math"
	"testing"
	"time"

	"github.com/allaspectsdev/gateman/internal/metrics"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// ---------- test doubles ----------

type fakeHistory struct {
	now     time.Time
	records []metrics.UsageRecord
}

func (f *fakeHistory) Window(d time.Duration) []metrics.UsageRecord {
	cutoff := f.now.Add(-d)
	var out []metrics.UsageRecord
	for _, rec := range f.records {
		if rec.Timestamp.After(cutoff) {
			out = append(out, rec)
		}
	}
	return out
}

func (f *fakeHistory) Recent(n int) []metrics.UsageRecord {
	if n <= 0 || n > len(f.records) {
		n = len(f.records)
	}
	return f.records[len(f.records)-n:]
}

func usageAt(ts time.Time, provider, model string, cost float64) metrics.UsageRecord {
	return metrics.UsageRecord{
		Timestamp: ts,
		Caller:    "default",
		Provider:  provider,
		Model:     model,
		TokensIn:  100,
		TokensOut: 200,
		CostUSD:   cost,
		Success:   true,
	}
}

// burstRecords returns n records spaced gap apart, ending near testBase.
func burstRecords(n int, gap time.Duration) []metrics.UsageRecord {
	recs := make([]metrics.UsageRecord, 0, n)
	start := testBase.Add(-time.Duration(n) * gap)
	for i := 0; i < n; i++ {
		recs = append(recs, usageAt(start.Add(time.Duration(i)*gap), "openai", "gpt-5", 0.01))
	}
	return recs
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// ---------- reports ----------

func TestReport_AggregatesWindow(t *testing.T) {
	h := &fakeHistory{now: testBase, records: []metrics.UsageRecord{
		usageAt(testBase.Add(-10*time.Minute), "openai", "gpt-5", 0.01),
		usageAt(testBase.Add(-20*time.Minute), "openai", "gpt-5", 0.01),
		usageAt(testBase.Add(-30*time.Minute), "anthropic", "claude-opus-4.1", 0.05),
	}}
	rep := NewReporter(h, nil).Report("24h")

	if rep.TimeRange != "24h" {
		t.Errorf("TimeRange = %q, want 24h", rep.TimeRange)
	}
	if rep.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", rep.TotalRequests)
	}
	if !approx(rep.TotalCostUSD, 0.07) {
		t.Errorf("TotalCostUSD = %v, want 0.07", rep.TotalCostUSD)
	}
	if !approx(rep.AvgCostPerRequest, 0.07/3) {
		t.Errorf("AvgCostPerRequest = %v, want %v", rep.AvgCostPerRequest, 0.07/3)
	}
	if got := rep.ByProvider["openai"]; got.Count != 2 || !approx(got.CostUSD, 0.02) {
		t.Errorf("ByProvider[openai] = %+v, want {0.02 2}", got)
	}
	if got := rep.ByProvider["anthropic"]; got.Count != 1 || !approx(got.CostUSD, 0.05) {
		t.Errorf("ByProvider[anthropic] = %+v, want {0.05 1}", got)
	}
	if got := rep.ByModel["gpt-5"]; got.Count != 2 || !approx(got.CostUSD, 0.02) {
		t.Errorf("ByModel[gpt-5] = %+v, want {0.02 2}", got)
	}
	if !approx(rep.HourlyRateUSD, 0.07/24) {
		t.Errorf("HourlyRateUSD = %v, want %v", rep.HourlyRateUSD, 0.07/24)
	}
	if !approx(rep.ProjectedMonthlyUSD, 0.07/24*720) {
		t.Errorf("ProjectedMonthlyUSD = %v, want %v", rep.ProjectedMonthlyUSD, 0.07/24*720)
	}
}

func TestReport_DefaultRangeIsDay(t *testing.T) {
	h := &fakeHistory{now: testBase}
	rep := NewReporter(h, nil).Report("")
	if rep.TimeRange != "24h" {
		t.Errorf("TimeRange = %q, want 24h", rep.TimeRange)
	}
}

func TestReport_NarrowWindowExcludesOldRecords(t *testing.T) {
	h := &fakeHistory{now: testBase, records: []metrics.UsageRecord{
		usageAt(testBase.Add(-2*time.Hour), "openai", "gpt-5", 5.0),
		usageAt(testBase.Add(-5*time.Minute), "openai", "gpt-5", 0.01),
	}}
	rep := NewReporter(h, nil).Report("1h")

	if rep.TotalRequests != 1 {
		t.Fatalf("TotalRequests = %d, want 1", rep.TotalRequests)
	}
	if !approx(rep.TotalCostUSD, 0.01) {
		t.Errorf("TotalCostUSD = %v, want 0.01", rep.TotalCostUSD)
	}
	if !approx(rep.HourlyRateUSD, 0.01) {
		t.Errorf("HourlyRateUSD = %v, want 0.01", rep.HourlyRateUSD)
	}
}

func TestReport_UnknownRangeFallsBackToDayWindow(t *testing.T) {
	h := &fakeHistory{now: testBase, records: []metrics.UsageRecord{
		usageAt(testBase.Add(-100*time.Hour), "openai", "gpt-5", 1.0),
		usageAt(testBase.Add(-30*time.Minute), "openai", "gpt-5", 0.02),
	}}
	rep := NewReporter(h, nil).Report("90d")

	// The label is echoed back but the window clamps to 24 hours.
	if rep.TimeRange != "90d" {
		t.Errorf("TimeRange = %q, want 90d", rep.TimeRange)
	}
	if rep.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", rep.TotalRequests)
	}
	if !approx(rep.HourlyRateUSD, 0.02/24) {
		t.Errorf("HourlyRateUSD = %v, want %v", rep.HourlyRateUSD, 0.02/24)
	}
}

func TestReport_EmptyHistory(t *testing.T) {
	h := &fakeHistory{now: testBase}
	rep := NewReporter(h, nil).Report("24h")

	if rep.TotalRequests != 0 || rep.TotalCostUSD != 0 {
		t.Errorf("totals = %d/%v, want zero", rep.TotalRequests, rep.TotalCostUSD)
	}
	if rep.AvgCostPerRequest != 0 {
		t.Errorf("AvgCostPerRequest = %v, want 0", rep.AvgCostPerRequest)
	}
	if rep.ByProvider == nil || len(rep.ByProvider) != 0 {
		t.Errorf("ByProvider = %v, want empty map", rep.ByProvider)
	}
	if rep.ByModel == nil || len(rep.ByModel) != 0 {
		t.Errorf("ByModel = %v, want empty map", rep.ByModel)
	}
	if rep.ProjectedMonthlyUSD != 0 {
		t.Errorf("ProjectedMonthlyUSD = %v, want 0", rep.ProjectedMonthlyUSD)
	}
}

// ---------- predictions ----------

func TestPredictCost_SpecificModel(t *testing.T) {
	preds := PredictCost(1000, 500, "gpt-5")
	if len(preds) != 1 {
		t.Fatalf("len(preds) = %d, want 1", len(preds))
	}
	p, ok := preds["gpt-5"]
	if !ok {
		t.Fatal("missing gpt-5 prediction")
	}
	if p.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", p.Provider)
	}
	if !approx(p.InputUSD, 0.00125) {
		t.Errorf("InputUSD = %v, want 0.00125", p.InputUSD)
	}
	if !approx(p.OutputUSD, 0.005) {
		t.Errorf("OutputUSD = %v, want 0.005", p.OutputUSD)
	}
	if !approx(p.TotalUSD, 0.00625) {
		t.Errorf("TotalUSD = %v, want 0.00625", p.TotalUSD)
	}
}

func TestPredictCost_AutoPricesEveryModel(t *testing.T) {
	preds := PredictCost(1000, 500, "auto")
	if len(preds) < 10 {
		t.Fatalf("len(preds) = %d, want the full catalog", len(preds))
	}
	p, ok := preds["mixtral-8x7b"]
	if !ok {
		t.Fatal("missing mixtral-8x7b prediction")
	}
	if p.Provider != "groq" {
		t.Errorf("Provider = %q, want groq", p.Provider)
	}
	if !approx(p.TotalUSD, 0.00036) {
		t.Errorf("TotalUSD = %v, want 0.00036", p.TotalUSD)
	}
}

func TestPredictCost_UnknownModel(t *testing.T) {
	preds := PredictCost(1000, 500, "palm-2")
	if len(preds) != 0 {
		t.Errorf("len(preds) = %d, want 0", len(preds))
	}
}

func TestPredictCost_ZeroTokens(t *testing.T) {
	preds := PredictCost(0, 0, "o3")
	p := preds["o3"]
	if p.InputUSD != 0 || p.OutputUSD != 0 || p.TotalUSD != 0 {
		t.Errorf("prediction = %+v, want zero costs", p)
	}
}
