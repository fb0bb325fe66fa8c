// Package router picks which models should serve a request and in what
// order. Explicit model names resolve directly against the catalog; "auto"
// classifies the prompt and scores every cataloged model against the
// caller's requirements and observed provider health.
package router

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/gateman/internal/catalog"
)

// Requirements are the routing preferences parsed from a completion
// request.
type Requirements struct {
	LowLatency  bool
	LowCost     bool
	HighQuality bool
}

// Candidate is one model in the failover sequence.
type Candidate struct {
	Model    string  `json:"model"`
	Provider string  `json:"provider"`
	TaskType string  `json:"task_type"`
	Score    float64 `json:"score"`
}

// UnknownModelError reports an explicitly requested model the catalog does
// not carry.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q", e.Model)
}

// Router scores catalog models for incoming prompts. Provider health comes
// from the monitor.
type Router struct {
	monitor *Monitor
}

// New creates a Router. A nil monitor gets a default one that treats every
// provider as healthy.
func New(monitor *Monitor) *Router {
	if monitor == nil {
		monitor = NewMonitor(nil, 0)
	}
	return &Router{monitor: monitor}
}

// Monitor returns the health monitor backing this router.
func (r *Router) Monitor() *Monitor {
	return r.monitor
}

// Route returns the candidate models for a request, best first. The order
// is the failover sequence: callers try candidates front to back. An
// explicit model (anything but "auto") skips scoring and yields a single
// candidate, or UnknownModelError when the catalog has no entry for it.
func (r *Router) Route(ctx context.Context, prompt, model string, req Requirements) ([]Candidate, error) {
	task := ClassifyTask(prompt)

	if model != "" && model != "auto" {
		caps, ok := catalog.Lookup(model)
		if !ok {
			return nil, &UnknownModelError{Model: model}
		}
		return []Candidate{{Model: caps.Model, Provider: caps.Provider, TaskType: task}}, nil
	}

	candidates := make([]Candidate, 0, len(catalog.Capabilities))
	for _, name := range catalog.ModelNames() {
		caps := catalog.Capabilities[name]
		candidates = append(candidates, Candidate{
			Model:    name,
			Provider: caps.Provider,
			TaskType: task,
			Score:    r.score(ctx, caps, prompt, task, req),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Model < candidates[j].Model
	})

	log.Debug().
		Str("task", task).
		Str("model", candidates[0].Model).
		Float64("score", candidates[0].Score).
		Msg("routed request")

	return candidates, nil
}

// score rates one model for a prompt. Specialty match, quality, and the
// caller's latency or cost preferences add points; prompts crowding the
// context window lose some. An unavailable provider pins the score at
// -1000 so the model sorts behind every available one.
func (r *Router) score(ctx context.Context, caps catalog.ModelCapabilities, prompt, task string, req Requirements) float64 {
	score := 0.0

	if caps.HasSpecialty(task) {
		score += 20
	}

	if req.HighQuality {
		score += caps.QualityScore * 30
	} else {
		score += caps.QualityScore * 10
	}

	if req.LowLatency {
		score += math.Max(0, 100-caps.AvgLatencyMs/10) * 0.3
	}
	if req.LowCost {
		score += math.Max(0, 100-caps.CostPer1K*1000) * 0.3
	}

	if len(prompt) > caps.ContextWindow/2 {
		score -= 20
	}

	health := r.monitor.Check(ctx, caps.Provider)
	if !health.Available {
		return -1000
	}
	return score + health.SuccessRate*10
}
