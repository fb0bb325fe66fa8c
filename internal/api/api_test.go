package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/allaspectsdev/gateman/internal/cache"
	"github.com/allaspectsdev/gateman/internal/catalog"
	"github.com/allaspectsdev/gateman/internal/config"
	"github.com/allaspectsdev/gateman/internal/costs"
	"github.com/allaspectsdev/gateman/internal/gateway"
	"github.com/allaspectsdev/gateman/internal/metrics"
	"github.com/allaspectsdev/gateman/internal/provider"
	"github.com/allaspectsdev/gateman/internal/ratelimit"
	"github.com/allaspectsdev/gateman/internal/router"
	"github.com/allaspectsdev/gateman/internal/store"
	"github.com/allaspectsdev/gateman/internal/testutil"
)

// testEnv bundles a Server with the collaborators the tests poke directly.
type testEnv struct {
	srv       *Server
	collector *metrics.Collector
	limiter   *ratelimit.Limiter
	cache     *cache.Cache
	store     *store.Store
}

// newTestServer wires a Server with generous limits and one healthy stub
// client per catalog provider. Explicit stubs replace the defaults.
func newTestServer(t *testing.T, stubs ...*testutil.StubClient) *testEnv {
	t.Helper()
	return newTestServerWithLimiter(t, ratelimit.New(10000, 100000, 10000, false), stubs...)
}

func newTestServerWithLimiter(t *testing.T, limiter *ratelimit.Limiter, stubs ...*testutil.StubClient) *testEnv {
	t.Helper()

	st := testutil.NewTestStore(t)
	collector := metrics.NewCollector(1000, 365*24*time.Hour)
	c, err := cache.New(cache.NewHashingEmbedder(64), nil, 0.95, time.Hour, 100)
	if err != nil {
		t.Fatalf("building cache: %v", err)
	}

	if len(stubs) == 0 {
		for _, name := range catalog.Providers() {
			stubs = append(stubs, testutil.NewStubClient(name))
		}
	}
	clients := provider.NewRegistry()
	for _, s := range stubs {
		if err := clients.Register(s); err != nil {
			t.Fatalf("registering stub %q: %v", s.Name(), err)
		}
	}

	orc := gateway.New(gateway.Options{
		Limiter:      limiter,
		Cache:        c,
		Router:       router.New(nil),
		Clients:      clients,
		Collector:    collector,
		Usage:        st,
		Fingerprints: st,
		Version:      "test",
	})

	srv := NewServer(Options{
		Gateway:   orc,
		Cache:     c,
		Limiter:   limiter,
		Collector: collector,
		Reporter:  costs.NewReporter(collector, costs.FingerprintPolicy{Source: st}),
		Store:     st,
		Server:    config.DefaultConfig().Server,
	})

	return &testEnv{srv: srv, collector: collector, limiter: limiter, cache: c, store: st}
}

// doJSON sends a request with an optional JSON body through the route table.
func doJSON(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

// ---------- completion endpoint ----------

func TestCompleteEndpoint(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodPost, "/v1/complete", map[string]any{
		"prompt": "Write a quicksort function",
		"model":  "claude-sonnet-4",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var res gateway.CompletionResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if res.Model != "claude-sonnet-4" {
		t.Errorf("Model = %q, want claude-sonnet-4", res.Model)
	}
	if res.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", res.Provider)
	}
	if res.Text != "answer from anthropic" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.TokensUsed.Input != 10 || res.TokensUsed.Output != 20 {
		t.Errorf("TokensUsed = %+v, want 10/20", res.TokensUsed)
	}
	if res.CostUSD <= 0 {
		t.Errorf("CostUSD = %v, want > 0", res.CostUSD)
	}
	if res.Cached {
		t.Error("first completion should not be cached")
	}
	if res.RequestID == "" {
		t.Error("RequestID should be set")
	}
}

func TestCompleteEndpoint_InvalidJSON(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/complete", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	env.srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid JSON body") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestCompleteEndpoint_EmptyPrompt(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodPost, "/v1/complete", map[string]any{"prompt": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "prompt") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestCompleteEndpoint_UnknownModel(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodPost, "/v1/complete", map[string]any{
		"prompt": "Say hello",
		"model":  "gpt-99",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unknown model") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestCompleteEndpoint_UnknownRequirement(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodPost, "/v1/complete", map[string]any{
		"prompt":       "Say hello",
		"requirements": map[string]any{"speed": true},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "malformed requirement") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestCompleteEndpoint_RateLimited(t *testing.T) {
	env := newTestServerWithLimiter(t, ratelimit.New(100, 1000, 1, false))
	body := map[string]any{"prompt": "Say hello", "model": "claude-sonnet-4"}

	if w := doJSON(t, env.srv, http.MethodPost, "/v1/complete", body); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, body %s", w.Code, w.Body.String())
	}

	w := doJSON(t, env.srv, http.MethodPost, "/v1/complete", body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Errorf("Retry-After = %q, want a positive integer", w.Header().Get("Retry-After"))
	}
	if !strings.Contains(w.Body.String(), "rate limit exceeded") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestCompleteEndpoint_CallerHeader(t *testing.T) {
	env := newTestServer(t)

	b, err := json.Marshal(map[string]any{"prompt": "Say hello", "model": "claude-sonnet-4"})
	if err != nil {
		t.Fatalf("marshaling body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/complete", bytes.NewReader(b))
	req.Header.Set(callerHeader, "svc-batch")
	w := httptest.NewRecorder()
	env.srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := env.limiter.CallerStats("svc-batch").RequestsLastMinute; got != 1 {
		t.Errorf("requests recorded for svc-batch = %d, want 1", got)
	}
}

func TestCompleteEndpoint_CacheHit(t *testing.T) {
	anthropic := testutil.NewStubClient("anthropic")
	env := newTestServer(t, anthropic)
	body := map[string]any{
		"prompt": "What is the capital of France?",
		"model":  "claude-sonnet-4",
	}

	first := doJSON(t, env.srv, http.MethodPost, "/v1/complete", body)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}

	w := doJSON(t, env.srv, http.MethodPost, "/v1/complete", body)
	if w.Code != http.StatusOK {
		t.Fatalf("second request status = %d", w.Code)
	}
	var res gateway.CompletionResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !res.Cached {
		t.Error("repeat prompt should be served from cache")
	}
	if res.CostUSD != 0 {
		t.Errorf("cached CostUSD = %v, want 0", res.CostUSD)
	}
	if res.Text != "answer from anthropic" {
		t.Errorf("cached Text = %q", res.Text)
	}
	if anthropic.CallCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (second answer from cache)", anthropic.CallCount())
	}
}

func TestCompleteEndpoint_AllProvidersFailed(t *testing.T) {
	failing := testutil.NewStubClient("anthropic")
	failing.Respond = func(provider.Request) (*provider.Completion, error) {
		return nil, errors.New("upstream unreachable")
	}
	env := newTestServer(t, failing)

	w := doJSON(t, env.srv, http.MethodPost, "/v1/complete", map[string]any{
		"prompt": "Say hello",
		"model":  "claude-sonnet-4",
	})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "all providers failed") {
		t.Errorf("body = %s", w.Body.String())
	}
}

// ---------- optimize and abtest ----------

func TestOptimizeEndpoint(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodPost, "/v1/optimize", map[string]any{
		"prompt": "Say hi",
		"goal":   "brevity",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var res gateway.OptimizeResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if res.Original != "Say hi" {
		t.Errorf("Original = %q", res.Original)
	}
	if res.Goal != "brevity" {
		t.Errorf("Goal = %q, want brevity", res.Goal)
	}
	if res.Optimized != "answer from openai" {
		t.Errorf("Optimized = %q", res.Optimized)
	}
}

func TestOptimizeEndpoint_EmptyPrompt(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodPost, "/v1/optimize", map[string]any{"prompt": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestABTestEndpoint(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodPost, "/v1/abtest", map[string]any{
		"prompt_a":   "Variant A",
		"prompt_b":   "Variant B",
		"model":      "claude-sonnet-4",
		"iterations": 2,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var res gateway.ABTestResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if res.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", res.Iterations)
	}
	if len(res.PromptA.Responses) != 2 || len(res.PromptB.Responses) != 2 {
		t.Errorf("response counts = %d/%d, want 2/2",
			len(res.PromptA.Responses), len(res.PromptB.Responses))
	}
	// Identical stub costs mean B can never strictly win on both axes.
	if res.Recommendation != "A" {
		t.Errorf("Recommendation = %q, want A", res.Recommendation)
	}
}

// ---------- read endpoints ----------

func TestProvidersEndpoint(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodGet, "/v1/providers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var statuses []gateway.ProviderStatus
	if err := json.Unmarshal(w.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(statuses) != len(catalog.Providers()) {
		t.Fatalf("got %d providers, want %d", len(statuses), len(catalog.Providers()))
	}
	if statuses[0].Name != "anthropic" {
		t.Errorf("first provider = %q, want anthropic", statuses[0].Name)
	}
	for _, st := range statuses {
		if !st.Available || st.Status != "healthy" {
			t.Errorf("provider %s = %+v, want healthy", st.Name, st)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.collector.Record(testutil.SampleUsageRecord("m-1", "openai", "gpt-5"))
	env.collector.Record(testutil.SampleUsageRecord("m-2", "anthropic", "claude-sonnet-4"))

	w := doJSON(t, env.srv, http.MethodGet, "/v1/metrics?range=24h", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var agg metrics.Aggregate
	if err := json.Unmarshal(w.Body.Bytes(), &agg); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if agg.TimeRange != "24h" || agg.TotalRequests != 2 || agg.SuccessRate != 1 {
		t.Errorf("aggregate = %+v", agg)
	}

	w = doJSON(t, env.srv, http.MethodGet, "/v1/metrics?range=24h&provider=openai", nil)
	var filtered metrics.Aggregate
	if err := json.Unmarshal(w.Body.Bytes(), &filtered); err != nil {
		t.Fatalf("decoding filtered response: %v", err)
	}
	if filtered.Provider != "openai" || filtered.TotalRequests != 1 {
		t.Errorf("filtered aggregate = %+v", filtered)
	}
}

func TestModelsEndpoint(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodGet, "/v1/models", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var models []modelEntry
	if err := json.Unmarshal(w.Body.Bytes(), &models); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(models) != len(catalog.Capabilities) {
		t.Fatalf("got %d models, want %d", len(models), len(catalog.Capabilities))
	}
	if models[0].Model != "claude-opus-4.1" {
		t.Errorf("first model = %q, want claude-opus-4.1", models[0].Model)
	}

	var gpt5 *modelEntry
	for i := range models {
		if models[i].Model == "gpt-5" {
			gpt5 = &models[i]
			break
		}
	}
	if gpt5 == nil {
		t.Fatal("gpt-5 missing from listing")
	}
	if gpt5.Provider != "openai" || gpt5.ContextWindow != 400000 {
		t.Errorf("gpt-5 = %+v", gpt5)
	}
	if gpt5.InputPer1K != 0.00125 || gpt5.OutputPer1K != 0.01 {
		t.Errorf("gpt-5 pricing = %v/%v", gpt5.InputPer1K, gpt5.OutputPer1K)
	}
}

func TestModelsEndpoint_JoinsRecordedUsage(t *testing.T) {
	env := newTestServer(t)
	for _, id := range []string{"u-1", "u-2"} {
		if err := env.store.InsertUsage(context.Background(), testutil.SampleUsageRecord(id, "openai", "gpt-5")); err != nil {
			t.Fatalf("inserting usage: %v", err)
		}
	}

	w := doJSON(t, env.srv, http.MethodGet, "/v1/models", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var models []modelEntry
	if err := json.Unmarshal(w.Body.Bytes(), &models); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	var gpt5, opus *modelEntry
	for i := range models {
		switch models[i].Model {
		case "gpt-5":
			gpt5 = &models[i]
		case "claude-opus-4.1":
			opus = &models[i]
		}
	}
	if gpt5 == nil || opus == nil {
		t.Fatal("catalog models missing from listing")
	}
	if gpt5.Requests != 2 {
		t.Errorf("gpt-5 requests = %d, want 2", gpt5.Requests)
	}
	if math.Abs(gpt5.TotalCostUSD-0.02) > 1e-9 {
		t.Errorf("gpt-5 total cost = %v, want 0.02", gpt5.TotalCostUSD)
	}
	if gpt5.ObservedLatencyMs != 120 {
		t.Errorf("gpt-5 observed latency = %v, want 120", gpt5.ObservedLatencyMs)
	}
	if opus.Requests != 0 {
		t.Errorf("claude-opus-4.1 requests = %d, want 0 (no traffic)", opus.Requests)
	}
}

func TestRecentRequestsEndpoint(t *testing.T) {
	env := newTestServer(t)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"req-old", "req-new"} {
		rec := testutil.SampleUsageRecord(id, "openai", "gpt-5")
		rec.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := env.store.InsertUsage(context.Background(), rec); err != nil {
			t.Fatalf("inserting usage: %v", err)
		}
	}

	w := doJSON(t, env.srv, http.MethodGet, "/v1/requests/recent?limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var records []metrics.UsageRecord
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != "req-new" {
		t.Errorf("first record = %q, want req-new (newest first)", records[0].ID)
	}
}

func TestRecentRequestsEndpoint_EmptyIsArray(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodGet, "/v1/requests/recent", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

// ---------- cost endpoints ----------

func TestCostReportEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.collector.Record(metrics.UsageRecord{
		ID: "c-1", Provider: "openai", Model: "gpt-5", Success: true, CostUSD: 0.01,
	})
	env.collector.Record(metrics.UsageRecord{
		ID: "c-2", Provider: "anthropic", Model: "claude-sonnet-4", Success: true, CostUSD: 0.02,
	})

	w := doJSON(t, env.srv, http.MethodGet, "/v1/costs/report?range=24h", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var rep costs.Report
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if rep.TimeRange != "24h" || rep.TotalRequests != 2 {
		t.Errorf("report = %+v", rep)
	}
	if math.Abs(rep.TotalCostUSD-0.03) > 1e-9 {
		t.Errorf("TotalCostUSD = %v, want 0.03", rep.TotalCostUSD)
	}
	if len(rep.ByProvider) != 2 {
		t.Errorf("ByProvider = %v", rep.ByProvider)
	}
}

func TestCostRecommendationsEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.collector.Record(metrics.UsageRecord{
		ID: "r-1", Provider: "anthropic", Model: "claude-opus-4.1", Success: true, CostUSD: 0.09,
	})

	w := doJSON(t, env.srv, http.MethodGet, "/v1/costs/recommendations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var recs []costs.Recommendation
	if err := json.Unmarshal(w.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("expected switch recommendations for claude-opus-4.1 traffic")
	}
	for _, rec := range recs {
		if rec.Type != "switch_model" || rec.CurrentModel != "claude-opus-4.1" {
			t.Errorf("recommendation = %+v", rec)
		}
	}
}

func TestCostPredictEndpoint(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodGet, "/v1/costs/predict?input=1000&output=500&model=gpt-5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res predictResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if res.Model != "gpt-5" || res.PromptTokens != 1000 || res.ExpectedOutput != 500 {
		t.Errorf("echoed inputs = %+v", res)
	}
	if len(res.Predictions) != 1 {
		t.Fatalf("got %d predictions, want 1", len(res.Predictions))
	}
	p, ok := res.Predictions["gpt-5"]
	if !ok {
		t.Fatal("gpt-5 prediction missing")
	}
	if p.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", p.Provider)
	}
	if math.Abs(p.TotalUSD-0.00625) > 1e-9 {
		t.Errorf("TotalUSD = %v, want 0.00625", p.TotalUSD)
	}
}

func TestCostPredictEndpoint_AutoPricesEveryModel(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodGet, "/v1/costs/predict", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res predictResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if res.Model != "auto" {
		t.Errorf("Model = %q, want auto", res.Model)
	}
	if len(res.Predictions) != len(catalog.Pricing) {
		t.Errorf("got %d predictions, want %d", len(res.Predictions), len(catalog.Pricing))
	}
}

// ---------- cache endpoints ----------

func TestCacheStatsEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.cache.Store("What is Go?", "A programming language.", "gpt-5", 50*time.Millisecond)

	w := doJSON(t, env.srv, http.MethodGet, "/v1/cache/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st cache.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if st.Entries != 1 {
		t.Errorf("Entries = %d, want 1", st.Entries)
	}
	if st.SimilarityThreshold != 0.95 {
		t.Errorf("SimilarityThreshold = %v, want 0.95", st.SimilarityThreshold)
	}
}

func TestCacheClearEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.cache.Store("first prompt", "first answer", "gpt-5", time.Millisecond)
	env.cache.Store("second prompt", "second answer", "gpt-5", time.Millisecond)

	w := doJSON(t, env.srv, http.MethodDelete, "/v1/cache", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if res["cleared"] != 2 {
		t.Errorf("cleared = %d, want 2", res["cleared"])
	}
	if env.cache.Len() != 0 {
		t.Errorf("cache still holds %d entries", env.cache.Len())
	}
}

func TestCacheEndpoints_Disabled(t *testing.T) {
	env := newTestServer(t)
	srv := NewServer(Options{
		Gateway:   env.srv.gateway,
		Limiter:   env.limiter,
		Collector: env.collector,
		Reporter:  env.srv.reporter,
		Store:     env.store,
		Server:    config.DefaultConfig().Server,
	})

	if w := doJSON(t, srv, http.MethodGet, "/v1/cache/stats", nil); w.Code != http.StatusNotFound {
		t.Errorf("stats status = %d, want 404", w.Code)
	}
	if w := doJSON(t, srv, http.MethodDelete, "/v1/cache", nil); w.Code != http.StatusNotFound {
		t.Errorf("clear status = %d, want 404", w.Code)
	}
}

// ---------- rate limit endpoints ----------

func TestRateLimitStatsEndpoint(t *testing.T) {
	env := newTestServer(t)
	doJSON(t, env.srv, http.MethodPost, "/v1/complete", map[string]any{
		"prompt": "Say hello", "model": "claude-sonnet-4",
	})

	w := doJSON(t, env.srv, http.MethodGet, "/v1/ratelimit/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st ratelimit.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if st.ActiveCallers != 1 || st.TotalRequestsLastMinute != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.RequestsPerMinute != 10000 {
		t.Errorf("RequestsPerMinute = %d, want 10000", st.RequestsPerMinute)
	}
}

func TestRateLimitCallerEndpoint(t *testing.T) {
	env := newTestServer(t)
	doJSON(t, env.srv, http.MethodPost, "/v1/complete", map[string]any{
		"prompt": "Say hello", "model": "claude-sonnet-4", "caller_id": "svc-a",
	})

	w := doJSON(t, env.srv, http.MethodGet, "/v1/ratelimit/callers/svc-a", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st ratelimit.CallerStats
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if st.CallerID != "svc-a" || st.RequestsLastMinute != 1 {
		t.Errorf("caller stats = %+v", st)
	}

	w = doJSON(t, env.srv, http.MethodGet, "/v1/ratelimit/callers/ghost", nil)
	var ghost ratelimit.CallerStats
	if err := json.Unmarshal(w.Body.Bytes(), &ghost); err != nil {
		t.Fatalf("decoding unknown caller response: %v", err)
	}
	if ghost.RequestsLastMinute != 0 {
		t.Errorf("unknown caller RequestsLastMinute = %d, want 0", ghost.RequestsLastMinute)
	}
}

// ---------- health and scrape ----------

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodGet, "/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var h healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &h); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if h.Status != "healthy" || h.Score != 100 {
		t.Errorf("health = %+v", h)
	}
	if h.Version != "test" {
		t.Errorf("Version = %q, want test", h.Version)
	}
	if h.Store != "ok" {
		t.Errorf("Store = %q, want ok", h.Store)
	}
}

func TestHealthEndpoint_StoreDown(t *testing.T) {
	env := newTestServer(t)
	env.store.Close()

	w := doJSON(t, env.srv, http.MethodGet, "/v1/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var h healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &h); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if h.Status != "unhealthy" || h.Store != "unreachable" {
		t.Errorf("health = %+v, want unhealthy with unreachable store", h)
	}
}

func TestHealthEndpoint_Unhealthy(t *testing.T) {
	env := newTestServer(t)
	for i := 0; i < 10; i++ {
		env.collector.Record(testutil.FailedUsageRecord("", "openai", "gpt-5"))
	}

	w := doJSON(t, env.srv, http.MethodGet, "/v1/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var h gateway.Health
	if err := json.Unmarshal(w.Body.Bytes(), &h); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if h.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy", h.Status)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.collector.Record(testutil.SampleUsageRecord("p-1", "openai", "gpt-5"))

	w := doJSON(t, env.srv, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{
		"gateman_requests_total 1",
		"# TYPE gateman_health_score gauge",
		`gateman_provider_requests_total{outcome="success",provider="openai"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

// ---------- middleware ----------

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/complete", nil)
	w := httptest.NewRecorder()
	env.srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestCORSHeadersOnGET(t *testing.T) {
	env := newTestServer(t)

	w := doJSON(t, env.srv, http.MethodGet, "/v1/health", nil)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}
