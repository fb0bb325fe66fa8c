package costs

import (
	"errors"
	"testing"
	"time"

	"github.com/allaspectsdev/gateman/internal/metrics"
)

func findRec(recs []Recommendation, current, recommended string) (Recommendation, bool) {
	for _, rec := range recs {
		if rec.CurrentModel == current && rec.RecommendedModel == recommended {
			return rec, true
		}
	}
	return Recommendation{}, false
}

// ---------- model switch recommendations ----------

func TestRecommend_SuggestsModelsUnderHalfOutputCost(t *testing.T) {
	r := NewReporter(&fakeHistory{now: testBase}, nil)
	recs := r.Recommend(map[string]int{"claude-opus-4.1": 50})

	// Every other cataloged model prices output below half of opus.
	if len(recs) != 10 {
		t.Fatalf("len(recs) = %d, want 10", len(recs))
	}
	for _, rec := range recs {
		if rec.Type != "switch_model" {
			t.Errorf("Type = %q, want switch_model", rec.Type)
		}
		if rec.CurrentModel != "claude-opus-4.1" {
			t.Errorf("CurrentModel = %q, want claude-opus-4.1", rec.CurrentModel)
		}
		if rec.Reason != "significant_cost_reduction" {
			t.Errorf("Reason = %q, want significant_cost_reduction", rec.Reason)
		}
	}
	// Alternatives come back in name order.
	if recs[0].RecommendedModel != "claude-sonnet-4" {
		t.Errorf("recs[0].RecommendedModel = %q, want claude-sonnet-4", recs[0].RecommendedModel)
	}
	if !approx(recs[0].PotentialSavingsPct, 80) {
		t.Errorf("recs[0].PotentialSavingsPct = %v, want 80", recs[0].PotentialSavingsPct)
	}
}

func TestRecommend_SkipsMarginallyCheaperModels(t *testing.T) {
	r := NewReporter(&fakeHistory{now: testBase}, nil)
	// grok-4 prices output at 60% of grok-4-heavy, cheaper but not under
	// the half-cost line.
	recs := r.Recommend(map[string]int{"grok-4-heavy": 5})
	if _, ok := findRec(recs, "grok-4-heavy", "grok-4"); ok {
		t.Error("grok-4 recommended despite costing more than half of grok-4-heavy")
	}
	if _, ok := findRec(recs, "grok-4-heavy", "claude-sonnet-4"); ok {
		t.Error("claude-sonnet-4 recommended above the half-cost line")
	}
	if len(recs) != 7 {
		t.Errorf("len(recs) = %d, want 7", len(recs))
	}
}

func TestRecommend_CheapestModelGetsNoSuggestions(t *testing.T) {
	r := NewReporter(&fakeHistory{now: testBase}, nil)
	recs := r.Recommend(map[string]int{"mixtral-8x7b": 100})
	if len(recs) != 0 {
		t.Errorf("len(recs) = %d, want 0: %+v", len(recs), recs)
	}
}

func TestRecommend_UnknownModelSkipped(t *testing.T) {
	r := NewReporter(&fakeHistory{now: testBase}, nil)
	recs := r.Recommend(map[string]int{"palm-2": 10})
	if len(recs) != 0 {
		t.Errorf("len(recs) = %d, want 0", len(recs))
	}
}

func TestRecommend_EmptyUsageReturnsEmptySlice(t *testing.T) {
	r := NewReporter(&fakeHistory{now: testBase}, nil)
	recs := r.Recommend(nil)
	if recs == nil {
		t.Fatal("recs = nil, want empty slice")
	}
	if len(recs) != 0 {
		t.Errorf("len(recs) = %d, want 0", len(recs))
	}
}

func TestRecommend_OrdersByCurrentModel(t *testing.T) {
	r := NewReporter(&fakeHistory{now: testBase}, nil)
	recs := r.Recommend(map[string]int{"grok-4-heavy": 5, "claude-opus-4.1": 5})
	if len(recs) != 17 {
		t.Fatalf("len(recs) = %d, want 17", len(recs))
	}
	if recs[0].CurrentModel != "claude-opus-4.1" {
		t.Errorf("recs[0].CurrentModel = %q, want claude-opus-4.1", recs[0].CurrentModel)
	}
	if recs[len(recs)-1].CurrentModel != "grok-4-heavy" {
		t.Errorf("last CurrentModel = %q, want grok-4-heavy", recs[len(recs)-1].CurrentModel)
	}
}

func TestRecommend_TradeOffGrades(t *testing.T) {
	r := NewReporter(&fakeHistory{now: testBase}, nil)

	fromOpus := r.Recommend(map[string]int{"claude-opus-4.1": 1})
	if rec, ok := findRec(fromOpus, "claude-opus-4.1", "claude-sonnet-4"); !ok {
		t.Error("missing opus -> sonnet recommendation")
	} else if rec.TradeOff != "Lower quality but significantly cheaper" {
		t.Errorf("opus -> sonnet TradeOff = %q", rec.TradeOff)
	}
	if rec, ok := findRec(fromOpus, "claude-opus-4.1", "gpt-5"); !ok {
		t.Error("missing opus -> gpt-5 recommendation")
	} else if rec.TradeOff != "Slightly lower quality at a fraction of the cost" {
		t.Errorf("opus -> gpt-5 TradeOff = %q", rec.TradeOff)
	}

	fromHeavy := r.Recommend(map[string]int{"grok-4-heavy": 1})
	if rec, ok := findRec(fromHeavy, "grok-4-heavy", "gpt-5"); !ok {
		t.Error("missing grok-4-heavy -> gpt-5 recommendation")
	} else if rec.TradeOff != "Comparable or better quality at lower cost" {
		t.Errorf("grok-4-heavy -> gpt-5 TradeOff = %q", rec.TradeOff)
	}
}

func TestTradeoff_UnknownModelsFallBack(t *testing.T) {
	if got := tradeoff("nope", "gpt-5"); got != "Different capabilities and cost profile" {
		t.Errorf("tradeoff(nope, gpt-5) = %q", got)
	}
	if got := tradeoff("gpt-5", "nope"); got != "Different capabilities and cost profile" {
		t.Errorf("tradeoff(gpt-5, nope) = %q", got)
	}
}

// ---------- caching recommendation ----------

func TestRecommend_CachingOnBurstyTraffic(t *testing.T) {
	h := &fakeHistory{now: testBase, records: burstRecords(150, time.Second)}
	recs := NewReporter(h, nil).Recommend(nil)

	if len(recs) != 1 {
		t.Fatalf("len(recs) = %d, want 1: %+v", len(recs), recs)
	}
	rec := recs[0]
	if rec.Type != "enable_caching" {
		t.Errorf("Type = %q, want enable_caching", rec.Type)
	}
	if rec.Reason != "high_duplicate_rate" {
		t.Errorf("Reason = %q, want high_duplicate_rate", rec.Reason)
	}
	if !approx(rec.DuplicateRate, 0.99) {
		t.Errorf("DuplicateRate = %v, want 0.99", rec.DuplicateRate)
	}
	if !approx(rec.PotentialSavingsPct, 99) {
		t.Errorf("PotentialSavingsPct = %v, want 99", rec.PotentialSavingsPct)
	}
}

func TestRecommend_NoCachingRecOnShortHistory(t *testing.T) {
	h := &fakeHistory{now: testBase, records: burstRecords(100, time.Second)}
	recs := NewReporter(h, nil).Recommend(nil)
	if len(recs) != 0 {
		t.Errorf("len(recs) = %d, want 0 for exactly 100 records", len(recs))
	}
}

func TestRecommend_NoCachingRecOnSpreadTraffic(t *testing.T) {
	h := &fakeHistory{now: testBase, records: burstRecords(150, 2*time.Minute)}
	recs := NewReporter(h, nil).Recommend(nil)
	if len(recs) != 0 {
		t.Errorf("len(recs) = %d, want 0 for spread-out traffic", len(recs))
	}
}

// ---------- duplicate rate policies ----------

func TestTimeClusterPolicy_SmallSampleReportsZero(t *testing.T) {
	recs := burstRecords(9, time.Second)
	if rate := (TimeClusterPolicy{}).DuplicateRate(recs); rate != 0 {
		t.Errorf("rate = %v, want 0 for %d records", rate, len(recs))
	}
}

func TestTimeClusterPolicy_CountsSubMinuteGaps(t *testing.T) {
	recs := burstRecords(20, 30*time.Second)
	if rate := (TimeClusterPolicy{}).DuplicateRate(recs); !approx(rate, 0.95) {
		t.Errorf("rate = %v, want 0.95", rate)
	}
}

func TestTimeClusterPolicy_MixedGaps(t *testing.T) {
	recs := make([]metrics.UsageRecord, 0, 10)
	ts := testBase
	for i := 0; i < 10; i++ {
		recs = append(recs, usageAt(ts, "openai", "gpt-5", 0.01))
		if i%2 == 0 {
			ts = ts.Add(30 * time.Second)
		} else {
			ts = ts.Add(2 * time.Minute)
		}
	}
	if rate := (TimeClusterPolicy{}).DuplicateRate(recs); !approx(rate, 0.5) {
		t.Errorf("rate = %v, want 0.5", rate)
	}
}

func TestTimeClusterPolicy_SamplesLastHundred(t *testing.T) {
	old := burstRecords(50, time.Second)
	spread := burstRecords(100, 2*time.Minute)
	recs := append(append([]metrics.UsageRecord{}, old...), spread...)
	if rate := (TimeClusterPolicy{}).DuplicateRate(recs); rate != 0 {
		t.Errorf("rate = %v, want 0 when the last 100 records are spread out", rate)
	}
}

type stubFingerprints struct {
	distinct int64
	total    int64
	err      error
}

func (s stubFingerprints) FingerprintCounts() (int64, int64, error) {
	return s.distinct, s.total, s.err
}

func TestFingerprintPolicy_Rate(t *testing.T) {
	p := FingerprintPolicy{Source: stubFingerprints{distinct: 60, total: 100}}
	if rate := p.DuplicateRate(nil); !approx(rate, 0.4) {
		t.Errorf("rate = %v, want 0.4", rate)
	}
}

func TestFingerprintPolicy_GuardsAgainstNoise(t *testing.T) {
	cases := []struct {
		name string
		p    FingerprintPolicy
	}{
		{"nil source", FingerprintPolicy{}},
		{"source error", FingerprintPolicy{Source: stubFingerprints{err: errors.New("closed")}}},
		{"tiny sample", FingerprintPolicy{Source: stubFingerprints{distinct: 2, total: 9}}},
	}
	for _, tc := range cases {
		if rate := tc.p.DuplicateRate(nil); rate != 0 {
			t.Errorf("%s: rate = %v, want 0", tc.name, rate)
		}
	}
}
