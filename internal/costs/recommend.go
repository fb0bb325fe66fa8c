package costs

import (
	"sort"
	"time"

	"github.com/allaspectsdev/gateman/internal/catalog"
	"github.com/allaspectsdev/gateman/internal/metrics"
)

// Recommendation suggests a cheaper model or a caching change.
type Recommendation struct {
	Type                string  `json:"type"`
	CurrentModel        string  `json:"current_model,omitempty"`
	RecommendedModel    string  `json:"recommended_model,omitempty"`
	Reason              string  `json:"reason"`
	PotentialSavingsPct float64 `json:"potential_savings_pct"`
	TradeOff            string  `json:"trade_off,omitempty"`
	DuplicateRate       float64 `json:"duplicate_rate,omitempty"`
}

// Recommend proposes model switches for the given usage profile (model name
// to request count) plus a caching recommendation when recent traffic looks
// repetitive. A switch is only suggested when the alternative's output rate
// is under half the current model's.
func (r *Reporter) Recommend(currentUsage map[string]int) []Recommendation {
	recs := []Recommendation{}

	models := make([]string, 0, len(currentUsage))
	for model := range currentUsage {
		models = append(models, model)
	}
	sort.Strings(models)

	alternatives := make([]string, 0, len(catalog.Pricing))
	for model := range catalog.Pricing {
		alternatives = append(alternatives, model)
	}
	sort.Strings(alternatives)

	for _, model := range models {
		cur, ok := catalog.Pricing[model]
		if !ok {
			continue
		}
		for _, alt := range alternatives {
			if alt == model {
				continue
			}
			altP := catalog.Pricing[alt]
			if altP.OutputPer1K >= cur.OutputPer1K*0.5 {
				continue
			}
			recs = append(recs, Recommendation{
				Type:                "switch_model",
				CurrentModel:        model,
				RecommendedModel:    alt,
				Reason:              "significant_cost_reduction",
				PotentialSavingsPct: (1 - altP.OutputPer1K/cur.OutputPer1K) * 100,
				TradeOff:            tradeoff(model, alt),
			})
		}
	}

	history := r.history.Recent(0)
	if len(history) > 100 {
		rate := r.policy.DuplicateRate(history)
		if rate > 0.1 {
			recs = append(recs, Recommendation{
				Type:                "enable_caching",
				Reason:              "high_duplicate_rate",
				DuplicateRate:       rate,
				PotentialSavingsPct: rate * 100,
			})
		}
	}

	return recs
}

// tradeoff summarizes what switching from cur to alt gives up, based on the
// catalog quality scores.
func tradeoff(cur, alt string) string {
	curCaps, okCur := catalog.Lookup(cur)
	altCaps, okAlt := catalog.Lookup(alt)
	if !okCur || !okAlt {
		return "Different capabilities and cost profile"
	}
	switch {
	case altCaps.QualityScore < curCaps.QualityScore-0.05:
		return "Lower quality but significantly cheaper"
	case altCaps.QualityScore < curCaps.QualityScore:
		return "Slightly lower quality at a fraction of the cost"
	default:
		return "Comparable or better quality at lower cost"
	}
}

// DuplicatePolicy estimates what fraction of recent requests were near
// duplicates, used to decide whether caching would pay off.
type DuplicatePolicy interface {
	DuplicateRate(records []metrics.UsageRecord) float64
}

// TimeClusterPolicy approximates duplicates from request timing: bursts of
// requests landing within a minute of each other tend to be retries or
// repeated prompts. It needs no prompt content, only timestamps.
type TimeClusterPolicy struct{}

// DuplicateRate returns the fraction of the last 100 records that arrived
// less than a minute after their predecessor. Fewer than 10 records is too
// little signal and reports 0.
func (TimeClusterPolicy) DuplicateRate(records []metrics.UsageRecord) float64 {
	if len(records) < 10 {
		return 0
	}
	sample := records
	if len(sample) > 100 {
		sample = sample[len(sample)-100:]
	}
	clustered := 0
	for i := 1; i < len(sample); i++ {
		if sample[i].Timestamp.Sub(sample[i-1].Timestamp) < time.Minute {
			clustered++
		}
	}
	return float64(clustered) / float64(len(sample))
}

// FingerprintSource reports how many distinct prompt fingerprints exist
// among the total seen. The persistent store implements it.
type FingerprintSource interface {
	FingerprintCounts() (distinct, total int64, err error)
}

// FingerprintPolicy measures duplicates exactly, from stored prompt
// fingerprints, instead of inferring them from timing.
type FingerprintPolicy struct {
	Source FingerprintSource
}

// DuplicateRate returns the fraction of recorded prompts that repeated an
// earlier fingerprint. Errors and tiny samples report 0.
func (p FingerprintPolicy) DuplicateRate(_ []metrics.UsageRecord) float64 {
	if p.Source == nil {
		return 0
	}
	distinct, total, err := p.Source.FingerprintCounts()
	if err != nil || total < 10 {
		return 0
	}
	return float64(total-distinct) / float64(total)
}
