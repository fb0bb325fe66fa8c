package router

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
)

// ---------- test doubles ----------

// stubChecker returns canned snapshots per provider and counts checks.
type stubChecker struct {
	mu          sync.Mutex
	unavailable map[string]bool
	rates       map[string]float64
	errs        map[string]error
	calls       map[string]int
}

func newStubChecker() *stubChecker {
	return &stubChecker{
		unavailable: make(map[string]bool),
		rates:       make(map[string]float64),
		errs:        make(map[string]error),
		calls:       make(map[string]int),
	}
}

func (s *stubChecker) CheckHealth(_ context.Context, provider string) (HealthSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[provider]++
	if err := s.errs[provider]; err != nil {
		return HealthSnapshot{}, err
	}
	rate := 1.0
	if r, ok := s.rates[provider]; ok {
		rate = r
	}
	return HealthSnapshot{Available: !s.unavailable[provider], SuccessRate: rate}, nil
}

func (s *stubChecker) callCount(provider string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[provider]
}

func newTestRouter(checker HealthChecker) *Router {
	return New(NewMonitor(checker, 0))
}

func scoreOf(t *testing.T, candidates []Candidate, model string) float64 {
	t.Helper()
	for _, c := range candidates {
		if c.Model == model {
			return c.Score
		}
	}
	t.Fatalf("model %q missing from candidates", model)
	return 0
}

// ---------- explicit model routing ----------

func TestRoute_ExplicitModel(t *testing.T) {
	r := newTestRouter(nil)
	candidates, err := r.Route(context.Background(), "Hello there", "gpt-5", Requirements{})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d, want 1", len(candidates))
	}
	c := candidates[0]
	if c.Model != "gpt-5" || c.Provider != "openai" {
		t.Errorf("candidate = %+v, want gpt-5/openai", c)
	}
	if c.TaskType != TaskGeneral {
		t.Errorf("TaskType = %q, want general", c.TaskType)
	}
}

func TestRoute_ExplicitVersionedModelResolves(t *testing.T) {
	r := newTestRouter(nil)
	candidates, err := r.Route(context.Background(), "Hello", "gpt-5-2025-08-07", Requirements{})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if candidates[0].Model != "gpt-5" {
		t.Errorf("Model = %q, want gpt-5", candidates[0].Model)
	}
}

func TestRoute_UnknownModel(t *testing.T) {
	r := newTestRouter(nil)
	_, err := r.Route(context.Background(), "Hello", "palm-2", Requirements{})
	var unknownErr *UnknownModelError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("err = %v, want UnknownModelError", err)
	}
	if unknownErr.Model != "palm-2" {
		t.Errorf("Model = %q, want palm-2", unknownErr.Model)
	}
}

// ---------- automatic routing ----------

func TestRoute_AutoRanksEveryModel(t *testing.T) {
	r := newTestRouter(nil)
	candidates, err := r.Route(context.Background(), "Hello, how are you today?", "auto", Requirements{})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if len(candidates) != 11 {
		t.Fatalf("len(candidates) = %d, want 11", len(candidates))
	}
	// Without preferences only quality and health score; the best-quality
	// model wins and the gpt-5/grok-4-heavy tie breaks by name.
	if candidates[0].Model != "claude-opus-4.1" {
		t.Errorf("candidates[0] = %q, want claude-opus-4.1", candidates[0].Model)
	}
	if candidates[1].Model != "gpt-5" || candidates[2].Model != "grok-4-heavy" {
		t.Errorf("tie order = %q, %q, want gpt-5 then grok-4-heavy",
			candidates[1].Model, candidates[2].Model)
	}
	if last := candidates[len(candidates)-1].Model; last != "mixtral-8x7b" {
		t.Errorf("last candidate = %q, want mixtral-8x7b", last)
	}
	for _, c := range candidates {
		if c.TaskType != TaskGeneral {
			t.Errorf("%s TaskType = %q, want general", c.Model, c.TaskType)
		}
	}
}

func TestRoute_EmptyModelRoutesAutomatically(t *testing.T) {
	r := newTestRouter(nil)
	candidates, err := r.Route(context.Background(), "Hello", "", Requirements{})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if len(candidates) != 11 {
		t.Errorf("len(candidates) = %d, want 11", len(candidates))
	}
}

func TestRoute_LowCostPrefersCheapModels(t *testing.T) {
	r := newTestRouter(nil)
	candidates, err := r.Route(context.Background(), "What is 2+2?", "auto", Requirements{LowCost: true})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if candidates[0].Model != "gemini-2.5-flash" {
		t.Errorf("candidates[0] = %q, want gemini-2.5-flash", candidates[0].Model)
	}
	// quality 8.8 + cost bonus 29.91 + health 10
	if got := candidates[0].Score; math.Abs(got-48.71) > 1e-9 {
		t.Errorf("Score = %v, want 48.71", got)
	}
	if candidates[1].Model != "claude-sonnet-4" {
		t.Errorf("candidates[1] = %q, want claude-sonnet-4", candidates[1].Model)
	}
}

func TestRoute_HighQualityPrefersTopModels(t *testing.T) {
	r := newTestRouter(nil)
	candidates, err := r.Route(context.Background(), "Hello", "auto", Requirements{HighQuality: true})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	want := []string{"claude-opus-4.1", "gpt-5", "grok-4-heavy"}
	for i, name := range want {
		if candidates[i].Model != name {
			t.Errorf("candidates[%d] = %q, want %q", i, candidates[i].Model, name)
		}
	}
}

func TestRoute_LowLatencyCodeTask(t *testing.T) {
	r := newTestRouter(nil)
	candidates, err := r.Route(context.Background(),
		"Write a function to reverse a string", "auto", Requirements{LowLatency: true})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if candidates[0].TaskType != TaskCode {
		t.Fatalf("TaskType = %q, want code", candidates[0].TaskType)
	}
	// o4-mini combines the code specialty with low latency; mixtral is
	// fastest but carries no code specialty.
	if candidates[0].Model != "o4-mini" {
		t.Errorf("candidates[0] = %q, want o4-mini", candidates[0].Model)
	}
	if candidates[1].Model != "mixtral-8x7b" {
		t.Errorf("candidates[1] = %q, want mixtral-8x7b", candidates[1].Model)
	}
	if got := candidates[0].Score; math.Abs(got-41.7) > 1e-9 {
		t.Errorf("Score = %v, want 41.7", got)
	}
}

func TestRoute_OversizedPromptPenalized(t *testing.T) {
	r := newTestRouter(nil)
	// 20000 chars exceeds half of mixtral's 32768-token window but nobody
	// else's.
	prompt := strings.Repeat("a", 20000)
	candidates, err := r.Route(context.Background(), prompt, "auto", Requirements{})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	got := scoreOf(t, candidates, "mixtral-8x7b")
	if math.Abs(got-(-1.8)) > 1e-9 {
		t.Errorf("mixtral score = %v, want -1.8", got)
	}
	if other := scoreOf(t, candidates, "gpt-5"); other < 0 {
		t.Errorf("gpt-5 score = %v, want positive", other)
	}
}

func TestRoute_UnavailableProviderSinks(t *testing.T) {
	checker := newStubChecker()
	checker.unavailable["openai"] = true
	r := newTestRouter(checker)

	candidates, err := r.Route(context.Background(), "Hello", "auto", Requirements{})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	if candidates[0].Model != "claude-opus-4.1" {
		t.Errorf("candidates[0] = %q, want claude-opus-4.1", candidates[0].Model)
	}
	openaiSeen := 0
	for _, c := range candidates {
		if c.Provider == "openai" {
			openaiSeen++
			if c.Score != -1000 {
				t.Errorf("%s score = %v, want -1000", c.Model, c.Score)
			}
		}
	}
	if openaiSeen != 3 {
		t.Errorf("openai models seen = %d, want 3", openaiSeen)
	}
	// Sunk models keep deterministic name order at the tail.
	tail := candidates[len(candidates)-3:]
	want := []string{"gpt-5", "o3", "o4-mini"}
	for i, name := range want {
		if tail[i].Model != name {
			t.Errorf("tail[%d] = %q, want %q", i, tail[i].Model, name)
		}
	}
}

func TestRoute_DegradedSuccessRateLowersScore(t *testing.T) {
	checker := newStubChecker()
	checker.rates["anthropic"] = 0.5
	r := newTestRouter(checker)

	candidates, err := r.Route(context.Background(), "Hello", "auto", Requirements{})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	// opus drops from 19.8 to 14.8 and falls behind healthy providers.
	if got := scoreOf(t, candidates, "claude-opus-4.1"); math.Abs(got-14.8) > 1e-9 {
		t.Errorf("opus score = %v, want 14.8", got)
	}
	if candidates[0].Model != "gpt-5" {
		t.Errorf("candidates[0] = %q, want gpt-5", candidates[0].Model)
	}
}

func TestRoute_CheckerErrorSinksProvider(t *testing.T) {
	checker := newStubChecker()
	checker.errs["google"] = errors.New("probe timeout")
	r := newTestRouter(checker)

	candidates, err := r.Route(context.Background(), "Hello", "auto", Requirements{})
	if err != nil {
		t.Fatalf("Route error: %v", err)
	}
	for _, c := range candidates {
		if c.Provider == "google" && c.Score != -1000 {
			t.Errorf("%s score = %v, want -1000", c.Model, c.Score)
		}
	}
}

func TestRoute_HealthCheckedOncePerProvider(t *testing.T) {
	checker := newStubChecker()
	r := newTestRouter(checker)

	for i := 0; i < 5; i++ {
		if _, err := r.Route(context.Background(), "Hello", "auto", Requirements{}); err != nil {
			t.Fatalf("Route error: %v", err)
		}
	}
	// Snapshots stay cached across routes within the TTL; openai serves
	// three models but is checked once.
	if got := checker.callCount("openai"); got != 1 {
		t.Errorf("openai checks = %d, want 1", got)
	}
}
