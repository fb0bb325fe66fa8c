package catalog

import "strings"

// ModelPricing holds the per-1K-token costs for a model, plus any fixed
// per-request charge.
type ModelPricing struct {
	InputPer1K  float64
	OutputPer1K float64
	PerRequest  float64
}

// DefaultUnknownCost is the flat cost charged for a request against a model
// with no pricing entry. Unknown models are priced, never rejected.
const DefaultUnknownCost = 0.001

// Pricing maps model identifiers to their token pricing.
var Pricing = map[string]ModelPricing{
	// OpenAI
	"gpt-5":   {0.00125, 0.01, 0},
	"o3":      {0.002, 0.008, 0},
	"o4-mini": {0.0011, 0.0044, 0},

	// Anthropic
	"claude-opus-4.1": {0.015, 0.075, 0},
	"claude-sonnet-4": {0.003, 0.015, 0},

	// Google
	"gemini-2.5-pro":   {0.00125, 0.01, 0},
	"gemini-2.5-flash": {0.0003, 0.0025, 0},

	// xAI
	"grok-4":       {0.003, 0.015, 0},
	"grok-4-heavy": {0.005, 0.025, 0},

	// Mistral
	"mistral-medium": {0.0004, 0.002, 0},

	// Groq-hosted open weights
	"mixtral-8x7b": {0.00024, 0.00024, 0},
}

// GetPricing returns the pricing for the given model. It first attempts an
// exact match, then falls back to a longest-prefix match against known
// model names. The second return value indicates whether pricing was found.
func GetPricing(model string) (ModelPricing, bool) {
	if p, ok := Pricing[model]; ok {
		return p, true
	}
	lower := strings.ToLower(model)
	best := ""
	for name := range Pricing {
		if strings.HasPrefix(lower, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelPricing{}, false
	}
	return Pricing[best], true
}

// Price calculates the cost in USD for a request that consumed the given
// token counts on the specified model. Unknown models are charged the flat
// DefaultUnknownCost so billing never blocks a request.
func Price(model string, tokensIn, tokensOut int) float64 {
	p, ok := GetPricing(model)
	if !ok {
		return DefaultUnknownCost
	}
	return float64(tokensIn)/1000*p.InputPer1K + float64(tokensOut)/1000*p.OutputPer1K + p.PerRequest
}
