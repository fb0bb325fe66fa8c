// Package api exposes the gateway over HTTP: completion dispatch plus the
// operational endpoints for providers, metrics, costs, cache, and rate
// limits, and the Prometheus scrape surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/gateman/internal/cache"
	"github.com/allaspectsdev/gateman/internal/catalog"
	"github.com/allaspectsdev/gateman/internal/config"
	"github.com/allaspectsdev/gateman/internal/costs"
	"github.com/allaspectsdev/gateman/internal/gateway"
	"github.com/allaspectsdev/gateman/internal/metrics"
	"github.com/allaspectsdev/gateman/internal/ratelimit"
	"github.com/allaspectsdev/gateman/internal/router"
	"github.com/allaspectsdev/gateman/internal/store"
	"github.com/allaspectsdev/gateman/internal/tracing"
)

// callerHeader names the header consulted when the request body carries no
// caller_id.
const callerHeader = "X-Gateman-Caller"

// Server is the HTTP front of the gateway.
type Server struct {
	router    chi.Router
	gateway   *gateway.Orchestrator
	cache     *cache.Cache
	limiter   *ratelimit.Limiter
	collector *metrics.Collector
	reporter  *costs.Reporter
	store     *store.Store
	cfg       config.ServerConfig
	server    *http.Server
}

// Options wires a Server. Cache may be nil when the semantic cache is
// disabled; everything else is required.
type Options struct {
	Gateway   *gateway.Orchestrator
	Cache     *cache.Cache
	Limiter   *ratelimit.Limiter
	Collector *metrics.Collector
	Reporter  *costs.Reporter
	Store     *store.Store
	Server    config.ServerConfig
}

// NewServer builds the route table and returns a Server ready to Start.
func NewServer(opts Options) *Server {
	s := &Server{
		gateway:   opts.Gateway,
		cache:     opts.Cache,
		limiter:   opts.Limiter,
		collector: opts.Collector,
		reporter:  opts.Reporter,
		store:     opts.Store,
		cfg:       opts.Server,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(tracing.HTTPMiddleware)
	if opts.Server.MaxBodySize > 0 {
		r.Use(maxBodyMiddleware(opts.Server.MaxBodySize))
	}

	r.Post("/v1/complete", s.handleComplete)
	r.Get("/v1/providers", s.handleProviders)
	r.Get("/v1/metrics", s.handleMetrics)
	r.Post("/v1/optimize", s.handleOptimize)
	r.Post("/v1/abtest", s.handleABTest)
	r.Get("/v1/costs/report", s.handleCostReport)
	r.Get("/v1/costs/recommendations", s.handleCostRecommendations)
	r.Get("/v1/costs/predict", s.handleCostPredict)
	r.Get("/v1/cache/stats", s.handleCacheStats)
	r.Delete("/v1/cache", s.handleCacheClear)
	r.Get("/v1/ratelimit/stats", s.handleRateLimitStats)
	r.Get("/v1/ratelimit/callers/{id}", s.handleRateLimitCaller)
	r.Get("/v1/models", s.handleModels)
	r.Get("/v1/requests/recent", s.handleRecentRequests)
	r.Get("/v1/health", s.handleHealth)

	// Prometheus scrape endpoint, outside the /v1 namespace.
	r.Get("/metrics", metrics.PrometheusHandler(opts.Collector))

	s.router = r
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Start begins listening on the configured address. It blocks until the
// server is shut down or an error occurs.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeout) * time.Second,
	}

	log.Info().Str("addr", s.server.Addr).Msg("api server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleComplete runs one completion through the full pipeline. The caller
// identity comes from the body, then the X-Gateman-Caller header; the
// pipeline itself falls back to "default".
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req gateway.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CallerID == "" {
		req.CallerID = r.Header.Get(callerHeader)
	}

	res, err := s.gateway.Complete(r.Context(), req)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleProviders reports every catalog provider's health.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.ProviderStatuses(r.Context()))
}

// handleMetrics returns the windowed usage aggregate. Accepts ?range=1h,
// 24h, 7d, 30d and an optional ?provider= filter.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.gateway.UsageMetrics(q.Get("range"), q.Get("provider")))
}

type optimizeRequest struct {
	Prompt string `json:"prompt"`
	Goal   string `json:"goal"`
}

// handleOptimize rewrites a prompt via the optimizer model.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.gateway.OptimizePrompt(r.Context(), req.Prompt, req.Goal)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type abTestRequest struct {
	PromptA    string `json:"prompt_a"`
	PromptB    string `json:"prompt_b"`
	Model      string `json:"model"`
	Iterations int    `json:"iterations"`
}

// handleABTest compares two prompt variants over repeated live runs.
func (s *Server) handleABTest(w http.ResponseWriter, r *http.Request) {
	var req abTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.gateway.ABTest(r.Context(), req.PromptA, req.PromptB, req.Model, req.Iterations)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCostReport returns the windowed spend breakdown. Accepts ?range=
// with the same shorthands as the metrics endpoint (default 24h).
func (s *Server) handleCostReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reporter.Report(r.URL.Query().Get("range")))
}

// handleCostRecommendations suggests cheaper models for the traffic profile
// seen over the last day.
func (s *Server) handleCostRecommendations(w http.ResponseWriter, _ *http.Request) {
	usage := make(map[string]int)
	for _, rec := range s.collector.Window(24 * time.Hour) {
		usage[rec.Model]++
	}
	writeJSON(w, http.StatusOK, s.reporter.Recommend(usage))
}

// predictResponse echoes the estimate inputs next to the per-model cost
// breakdown.
type predictResponse struct {
	Model          string                      `json:"model"`
	PromptTokens   int                         `json:"prompt_tokens"`
	ExpectedOutput int                         `json:"expected_output"`
	Predictions    map[string]costs.Prediction `json:"predictions"`
}

// handleCostPredict prices a prospective request. Accepts ?input= and
// ?output= token counts plus ?model= ("auto" prices every model).
func (s *Server) handleCostPredict(w http.ResponseWriter, r *http.Request) {
	input := queryInt(r, "input", 0)
	output := queryInt(r, "output", 0)
	model := r.URL.Query().Get("model")
	if model == "" {
		model = "auto"
	}

	writeJSON(w, http.StatusOK, predictResponse{
		Model:          model,
		PromptTokens:   input,
		ExpectedOutput: output,
		Predictions:    costs.PredictCost(input, output, model),
	})
}

// handleCacheStats reports semantic cache effectiveness.
func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		writeJSONError(w, http.StatusNotFound, "semantic cache disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

// handleCacheClear drops every cache entry and reports how many were removed.
func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		writeJSONError(w, http.StatusNotFound, "semantic cache disabled")
		return
	}
	n := s.cache.Clear()
	log.Info().Int("entries", n).Msg("semantic cache cleared via api")
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// handleRateLimitStats reports limiter-wide usage.
func (s *Server) handleRateLimitStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.limiter.Stats())
}

// handleRateLimitCaller reports one caller's window usage.
func (s *Server) handleRateLimitCaller(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.limiter.CallerStats(chi.URLParam(r, "id")))
}

// modelEntry is one catalog row joined with its billing rates and, for
// models that have served traffic, the persisted usage totals.
type modelEntry struct {
	Model             string   `json:"model"`
	Provider          string   `json:"provider"`
	ContextWindow     int      `json:"context_window"`
	QualityScore      float64  `json:"quality_score"`
	AvgLatencyMs      float64  `json:"avg_latency_ms"`
	SupportsFunctions bool     `json:"supports_functions"`
	SupportsVision    bool     `json:"supports_vision"`
	SupportsStreaming bool     `json:"supports_streaming"`
	Specialties       []string `json:"specialties"`
	InputPer1K        float64  `json:"input_per_1k"`
	OutputPer1K       float64  `json:"output_per_1k"`
	Requests          int64    `json:"requests,omitempty"`
	TotalCostUSD      float64  `json:"total_cost_usd,omitempty"`
	ObservedLatencyMs float64  `json:"observed_latency_ms,omitempty"`
}

// handleModels lists every model the router can dispatch to. avg_latency_ms
// is the catalog's static figure; observed_latency_ms comes from this
// instance's own history.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	var usage map[string]store.ModelUsage
	if s.store != nil {
		var err error
		usage, err = s.store.ModelStats(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("failed to query model stats")
		}
	}

	names := catalog.ModelNames()
	models := make([]modelEntry, 0, len(names))
	for _, name := range names {
		caps, ok := catalog.Lookup(name)
		if !ok {
			continue
		}
		entry := modelEntry{
			Model:             caps.Model,
			Provider:          caps.Provider,
			ContextWindow:     caps.ContextWindow,
			QualityScore:      caps.QualityScore,
			AvgLatencyMs:      caps.AvgLatencyMs,
			SupportsFunctions: caps.SupportsFunctions,
			SupportsVision:    caps.SupportsVision,
			SupportsStreaming: caps.SupportsStreaming,
			Specialties:       caps.Specialties,
		}
		if p, ok := catalog.GetPricing(name); ok {
			entry.InputPer1K = p.InputPer1K
			entry.OutputPer1K = p.OutputPer1K
		}
		if u, ok := usage[name]; ok {
			entry.Requests = u.Requests
			entry.TotalCostUSD = u.CostUSD
			entry.ObservedLatencyMs = u.AvgLatencyMs
		}
		models = append(models, entry)
	}
	writeJSON(w, http.StatusOK, models)
}

// handleRecentRequests returns persisted usage rows, newest first. Accepts
// ?limit= (default 50, capped at 500).
func (s *Server) handleRecentRequests(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}

	records, err := s.store.RecentUsage(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to query recent usage")
		writeJSONError(w, http.StatusInternalServerError, "database error")
		return
	}
	if records == nil {
		records = []metrics.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// healthResponse is the gateway's health summary extended with the store
// probe the HTTP surface owns.
type healthResponse struct {
	gateway.Health
	Store string `json:"store,omitempty"`
}

// handleHealth reports the gateway's own health plus store reachability. An
// unhealthy score or an unreachable store answers 503 so load balancers can
// take the instance out of rotation.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Health: s.gateway.HealthCheck()}
	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	if s.store != nil {
		resp.Store = "ok"
		if err := s.store.Ping(); err != nil {
			log.Error().Err(err).Msg("store unreachable")
			resp.Store = "unreachable"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}

// --- helpers ---

// writeGatewayError maps pipeline errors onto HTTP status codes: caller
// mistakes are 400s, admission denials are 429 with a Retry-After hint, and
// exhausted or refused upstreams are 502s.
func writeGatewayError(w http.ResponseWriter, err error) {
	var (
		validationErr  *gateway.ValidationError
		requirementErr *gateway.MalformedRequirementsError
		rateLimitErr   *gateway.RateLimitError
		unknownModel   *router.UnknownModelError
		providerErr    *gateway.ProviderError
		exhaustedErr   *gateway.AllProvidersFailedError
	)
	switch {
	case errors.As(err, &rateLimitErr):
		w.Header().Set("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(rateLimitErr.RetryAfter)))
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &validationErr) ||
		errors.As(err, &requirementErr) ||
		errors.As(err, &unknownModel):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &exhaustedErr) || errors.As(err, &providerErr):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		log.Error().Err(err).Msg("completion failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

// writeJSONError writes a JSON error payload with the given status code.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt reads an integer query parameter with a default fallback.
func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}

// maxBodyMiddleware caps how much of a request body a handler will read.
func maxBodyMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware adds permissive CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+callerHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
