package costs

import (
	"github.com/allaspectsdev/gateman/internal/catalog"
)

// Prediction is the estimated cost of a prospective request on one model.
type Prediction struct {
	Provider  string  `json:"provider"`
	InputUSD  float64 `json:"input_usd"`
	OutputUSD float64 `json:"output_usd"`
	TotalUSD  float64 `json:"total_usd"`
}

// PredictCost estimates what a request with the given token counts would
// cost. With model "auto" it prices every cataloged model so callers can
// compare; with a specific model it prices just that one. Unknown models
// yield an empty map.
func PredictCost(promptTokens, expectedOutput int, model string) map[string]Prediction {
	predictions := make(map[string]Prediction)
	for name, pricing := range catalog.Pricing {
		if model != "auto" && model != name {
			continue
		}
		in := float64(promptTokens) / 1000 * pricing.InputPer1K
		out := float64(expectedOutput) / 1000 * pricing.OutputPer1K
		predictions[name] = Prediction{
			Provider:  catalog.ProviderFor(name),
			InputUSD:  in,
			OutputUSD: out,
			TotalUSD:  in + out + pricing.PerRequest,
		}
	}
	return predictions
}
