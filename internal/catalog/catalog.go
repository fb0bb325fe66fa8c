// Package catalog holds the static model table: which models exist, who
// serves them, what they are good at, and what they cost. Routing and
// pricing both read from it; nothing mutates it after init.
package catalog

import (
	"sort"
	"strings"
)

// ModelCapabilities describes a single model for routing purposes.
// CostPer1K is a blended per-1K-token figure used only for scoring;
// billing uses the Pricing table.
type ModelCapabilities struct {
	Model             string
	Provider          string
	ContextWindow     int
	CostPer1K         float64
	AvgLatencyMs      float64
	QualityScore      float64
	SupportsFunctions bool
	SupportsVision    bool
	SupportsStreaming bool
	Specialties       []string
}

// HasSpecialty reports whether the model carries the given specialty tag.
func (m ModelCapabilities) HasSpecialty(tag string) bool {
	for _, s := range m.Specialties {
		if s == tag {
			return true
		}
	}
	return false
}

// Capabilities maps model identifiers to their routing capabilities.
var Capabilities = map[string]ModelCapabilities{
	"gpt-5": {
		Model:             "gpt-5",
		Provider:          "openai",
		ContextWindow:     400000,
		CostPer1K:         0.004,
		AvgLatencyMs:      2200,
		QualityScore:      0.97,
		SupportsFunctions: true,
		SupportsVision:    true,
		SupportsStreaming: true,
		Specialties:       []string{"reasoning", "code", "analysis", "multimodal"},
	},
	"o3": {
		Model:             "o3",
		Provider:          "openai",
		ContextWindow:     200000,
		CostPer1K:         0.005,
		AvgLatencyMs:      3500,
		QualityScore:      0.96,
		SupportsFunctions: true,
		SupportsVision:    true,
		SupportsStreaming: true,
		Specialties:       []string{"reasoning", "analysis"},
	},
	"o4-mini": {
		Model:             "o4-mini",
		Provider:          "openai",
		ContextWindow:     200000,
		CostPer1K:         0.0006,
		AvgLatencyMs:      900,
		QualityScore:      0.87,
		SupportsFunctions: true,
		SupportsVision:    true,
		SupportsStreaming: true,
		Specialties:       []string{"code", "fast-inference"},
	},
	"claude-opus-4.1": {
		Model:             "claude-opus-4.1",
		Provider:          "anthropic",
		ContextWindow:     200000,
		CostPer1K:         0.009,
		AvgLatencyMs:      2600,
		QualityScore:      0.98,
		SupportsFunctions: true,
		SupportsVision:    true,
		SupportsStreaming: true,
		Specialties:       []string{"reasoning", "analysis", "code", "long-form"},
	},
	"claude-sonnet-4": {
		Model:             "claude-sonnet-4",
		Provider:          "anthropic",
		ContextWindow:     200000,
		CostPer1K:         0.002,
		AvgLatencyMs:      1300,
		QualityScore:      0.92,
		SupportsFunctions: true,
		SupportsVision:    true,
		SupportsStreaming: true,
		Specialties:       []string{"code", "creative", "long-form"},
	},
	"gemini-2.5-pro": {
		Model:             "gemini-2.5-pro",
		Provider:          "google",
		ContextWindow:     1048576,
		CostPer1K:         0.005,
		AvgLatencyMs:      1800,
		QualityScore:      0.95,
		SupportsFunctions: true,
		SupportsVision:    true,
		SupportsStreaming: true,
		Specialties:       []string{"reasoning", "multilingual", "multimodal"},
	},
	"gemini-2.5-flash": {
		Model:             "gemini-2.5-flash",
		Provider:          "google",
		ContextWindow:     1048576,
		CostPer1K:         0.0003,
		AvgLatencyMs:      600,
		QualityScore:      0.88,
		SupportsFunctions: true,
		SupportsVision:    true,
		SupportsStreaming: true,
		Specialties:       []string{"multilingual", "fast-inference", "multimodal"},
	},
	"grok-4": {
		Model:             "grok-4",
		Provider:          "xai",
		ContextWindow:     256000,
		CostPer1K:         0.004,
		AvgLatencyMs:      2000,
		QualityScore:      0.94,
		SupportsFunctions: true,
		SupportsVision:    true,
		SupportsStreaming: true,
		Specialties:       []string{"reasoning", "creative"},
	},
	"grok-4-heavy": {
		Model:             "grok-4-heavy",
		Provider:          "xai",
		ContextWindow:     256000,
		CostPer1K:         0.012,
		AvgLatencyMs:      4000,
		QualityScore:      0.97,
		SupportsFunctions: true,
		SupportsVision:    true,
		SupportsStreaming: true,
		Specialties:       []string{"reasoning", "analysis"},
	},
	"mistral-medium": {
		Model:             "mistral-medium",
		Provider:          "mistral",
		ContextWindow:     131072,
		CostPer1K:         0.0015,
		AvgLatencyMs:      1000,
		QualityScore:      0.90,
		SupportsFunctions: true,
		SupportsStreaming: true,
		Specialties:       []string{"code", "multilingual"},
	},
	"mixtral-8x7b": {
		Model:             "mixtral-8x7b",
		Provider:          "groq",
		ContextWindow:     32768,
		CostPer1K:         0.0005,
		AvgLatencyMs:      250,
		QualityScore:      0.82,
		SupportsStreaming: true,
		Specialties:       []string{"fast-inference"},
	},
}

// Lookup returns the capabilities for the given model. It first attempts an
// exact match, then falls back to a prefix match so versioned identifiers
// like "gpt-5-2025-08-07" resolve to their base model. The longest matching
// name wins, so "grok-4-heavy-beta" resolves to grok-4-heavy, not grok-4.
func Lookup(model string) (ModelCapabilities, bool) {
	if m, ok := Capabilities[model]; ok {
		return m, true
	}
	lower := strings.ToLower(model)
	best := ""
	for name := range Capabilities {
		if strings.HasPrefix(lower, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelCapabilities{}, false
	}
	return Capabilities[best], true
}

// ModelNames returns every catalog model identifier, sorted.
func ModelNames() []string {
	names := make([]string, 0, len(Capabilities))
	for name := range Capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Providers returns every provider that serves at least one catalog model,
// sorted and deduplicated.
func Providers() []string {
	seen := make(map[string]struct{})
	for _, m := range Capabilities {
		seen[m.Provider] = struct{}{}
	}
	providers := make([]string, 0, len(seen))
	for p := range seen {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

// ProviderFor returns the provider serving the given model, or empty if the
// model is not in the catalog.
func ProviderFor(model string) string {
	if m, ok := Lookup(model); ok {
		return m.Provider
	}
	return ""
}
