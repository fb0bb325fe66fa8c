package gateway

import (
	"context"
	"fmt"
	"strings"
)

const (
	optimizeMaxTokens   = 500
	optimizeTemperature = 0.3

	defaultABIterations = 3
	maxABIterations     = 20
)

// optimizeTemplate is the meta-prompt sent to the optimizer model. The
// numbered sections keep answers parseable by eye without committing to a
// structured output format.
const optimizeTemplate = `Optimize this prompt for %s:

Original: %s

Provide:
1. Optimized version
2. Key changes made
3. Expected improvement`

// OptimizeResult carries a rewritten prompt back to the caller.
type OptimizeResult struct {
	Original  string `json:"original"`
	Optimized string `json:"optimized"`
	Goal      string `json:"goal"`
}

// OptimizePrompt asks the configured optimizer model to rewrite prompt for
// the given goal ("clarity" when empty). The rewrite runs through the full
// pipeline, so it is rate limited and metered like any other completion.
func (o *Orchestrator) OptimizePrompt(ctx context.Context, prompt, goal string) (*OptimizeResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if goal == "" {
		goal = "clarity"
	}

	temperature := optimizeTemperature
	res, err := o.Complete(ctx, CompletionRequest{
		Prompt:       fmt.Sprintf(optimizeTemplate, goal, prompt),
		Model:        o.optimizerModel,
		MaxTokens:    optimizeMaxTokens,
		Temperature:  &temperature,
		CallerID:     "optimizer",
		Requirements: map[string]any{"low_cost": true},
	})
	if err != nil {
		return nil, err
	}

	return &OptimizeResult{Original: prompt, Optimized: res.Text, Goal: goal}, nil
}

// ABVariant is one side of an A/B comparison.
type ABVariant struct {
	Text         string   `json:"text"`
	AvgLatencyMs float64  `json:"avg_latency_ms"`
	AvgCostUSD   float64  `json:"avg_cost_usd"`
	Responses    []string `json:"responses"`
}

// ABTestResult compares two prompt variants over repeated runs.
type ABTestResult struct {
	PromptA        ABVariant `json:"prompt_a"`
	PromptB        ABVariant `json:"prompt_b"`
	Iterations     int       `json:"iterations"`
	Recommendation string    `json:"recommendation"`
}

// ABTest runs both prompts iterations times (default 3, capped at 20) and
// recommends the variant that wins on both average latency and average cost.
// Anything short of a strict double win keeps the recommendation at "A".
// Caching is disabled for the duration so every run pays real latency.
func (o *Orchestrator) ABTest(ctx context.Context, promptA, promptB, model string, iterations int) (*ABTestResult, error) {
	if strings.TrimSpace(promptA) == "" {
		return nil, &ValidationError{Field: "prompt_a", Reason: "must not be empty"}
	}
	if strings.TrimSpace(promptB) == "" {
		return nil, &ValidationError{Field: "prompt_b", Reason: "must not be empty"}
	}
	if iterations <= 0 {
		iterations = defaultABIterations
	}
	if iterations > maxABIterations {
		iterations = maxABIterations
	}

	variantA := ABVariant{Text: promptA}
	variantB := ABVariant{Text: promptB}

	for i := 0; i < iterations; i++ {
		if err := o.runVariant(ctx, promptA, model, &variantA); err != nil {
			return nil, fmt.Errorf("variant A iteration %d: %w", i+1, err)
		}
		if err := o.runVariant(ctx, promptB, model, &variantB); err != nil {
			return nil, fmt.Errorf("variant B iteration %d: %w", i+1, err)
		}
	}

	n := float64(iterations)
	variantA.AvgLatencyMs /= n
	variantA.AvgCostUSD /= n
	variantB.AvgLatencyMs /= n
	variantB.AvgCostUSD /= n

	recommendation := "A"
	if variantB.AvgLatencyMs < variantA.AvgLatencyMs && variantB.AvgCostUSD < variantA.AvgCostUSD {
		recommendation = "B"
	}

	return &ABTestResult{
		PromptA:        variantA,
		PromptB:        variantB,
		Iterations:     iterations,
		Recommendation: recommendation,
	}, nil
}

func (o *Orchestrator) runVariant(ctx context.Context, prompt, model string, v *ABVariant) error {
	res, err := o.Complete(ctx, CompletionRequest{
		Prompt:       prompt,
		Model:        model,
		CallerID:     "abtest",
		Requirements: map[string]any{"cache_enabled": false},
	})
	if err != nil {
		return err
	}
	v.AvgLatencyMs += res.LatencyMs
	v.AvgCostUSD += res.CostUSD
	v.Responses = append(v.Responses, res.Text)
	return nil
}
