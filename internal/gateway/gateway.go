// Package gateway ties the pipeline together: one Complete call runs
// admission control, semantic cache lookup, routing, provider dispatch with
// failover, pricing, and usage accounting. The orchestrator owns no policy of
// its own; it sequences the packages that do.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/gateman/internal/cache"
	"github.com/allaspectsdev/gateman/internal/catalog"
	"github.com/allaspectsdev/gateman/internal/metrics"
	"github.com/allaspectsdev/gateman/internal/provider"
	"github.com/allaspectsdev/gateman/internal/ratelimit"
	"github.com/allaspectsdev/gateman/internal/router"
	"github.com/allaspectsdev/gateman/internal/tracing"
)

// maxTokensCeiling is the hard upper bound on a single completion, matching
// the largest output any catalog model accepts.
const maxTokensCeiling = 32000

// UsageSink persists usage records. The concrete implementation lives in the
// store package; the orchestrator only needs the one method.
type UsageSink interface {
	InsertUsage(ctx context.Context, rec metrics.UsageRecord) error
}

// FingerprintSink tracks repeated prompts for the cost advisor.
type FingerprintSink interface {
	UpsertFingerprint(ctx context.Context, fingerprint string) error
}

// CompletionRequest is a caller's completion ask. Zero values fall back to
// configured defaults; Temperature is a pointer so an explicit 0 survives.
type CompletionRequest struct {
	Prompt       string         `json:"prompt"`
	Model        string         `json:"model,omitempty"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
	Temperature  *float64       `json:"temperature,omitempty"`
	CallerID     string         `json:"caller_id,omitempty"`
	Requirements map[string]any `json:"requirements,omitempty"`
}

// TokenUsage reports billed token counts for one completion.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// CompletionResult is the answer handed back to the caller.
type CompletionResult struct {
	Text       string     `json:"text"`
	Model      string     `json:"model"`
	Provider   string     `json:"provider"`
	Cached     bool       `json:"cached"`
	CostUSD    float64    `json:"cost_usd"`
	LatencyMs  float64    `json:"latency_ms"`
	TokensUsed TokenUsage `json:"tokens_used"`
	RequestID  string     `json:"request_id"`
}

// requestFlags are the parsed caller requirements plus the pipeline toggles
// that ride along in the same map.
type requestFlags struct {
	route    router.Requirements
	cache    bool
	failover bool
}

// Options configures an Orchestrator. Nil collaborators get inert defaults so
// a partially wired orchestrator still works; Cache, Breakers, Usage and
// Fingerprints are optional features that stay off when nil.
type Options struct {
	Limiter      *ratelimit.Limiter
	Cache        *cache.Cache
	Router       *router.Router
	Clients      *provider.Registry
	Breakers     *provider.BreakerRegistry
	Collector    *metrics.Collector
	Usage        UsageSink
	Fingerprints FingerprintSink

	DefaultMaxTokens   int
	DefaultTemperature float64
	OptimizerModel     string
	Version            string
}

// Orchestrator runs the completion pipeline.
type Orchestrator struct {
	limiter      *ratelimit.Limiter
	cache        *cache.Cache
	router       *router.Router
	clients      *provider.Registry
	breakers     *provider.BreakerRegistry
	collector    *metrics.Collector
	usage        UsageSink
	fingerprints FingerprintSink

	defaultMaxTokens   int
	defaultTemperature float64
	optimizerModel     string
	version            string

	now func() time.Time
}

// New builds an Orchestrator from opts, filling in defaults for anything
// unset.
func New(opts Options) *Orchestrator {
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.New(60, 1000, 10, true)
	}
	if opts.Router == nil {
		opts.Router = router.New(nil)
	}
	if opts.Clients == nil {
		opts.Clients = provider.NewRegistry()
	}
	if opts.Collector == nil {
		opts.Collector = metrics.NewCollector(0, 0)
	}
	if opts.DefaultMaxTokens <= 0 {
		opts.DefaultMaxTokens = 1000
	}
	if opts.DefaultTemperature <= 0 {
		opts.DefaultTemperature = 0.7
	}
	if opts.OptimizerModel == "" {
		opts.OptimizerModel = "o4-mini"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Orchestrator{
		limiter:            opts.Limiter,
		cache:              opts.Cache,
		router:             opts.Router,
		clients:            opts.Clients,
		breakers:           opts.Breakers,
		collector:          opts.Collector,
		usage:              opts.Usage,
		fingerprints:       opts.Fingerprints,
		defaultMaxTokens:   opts.DefaultMaxTokens,
		defaultTemperature: opts.DefaultTemperature,
		optimizerModel:     opts.OptimizerModel,
		version:            opts.Version,
		now:                time.Now,
	}
}

// Complete answers req: admission, cache, route, dispatch, account. Every
// dispatched attempt leaves exactly one usage record whether it succeeded or
// not; a cache hit leaves one record with no cost.
func (o *Orchestrator) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	o.collector.IncrementActive()
	defer o.collector.DecrementActive()

	if req.Model == "" {
		req.Model = "auto"
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = o.defaultMaxTokens
	}
	if req.CallerID == "" {
		req.CallerID = "default"
	}

	requestID := uuid.NewString()
	ctx, span := tracing.StartDispatchSpan(ctx, requestID, req.CallerID, req.Model)
	defer span.End()

	result, err := o.dispatch(ctx, req, requestID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	tracing.SetCompletionAttributes(ctx, result.Provider, result.Model,
		result.TokensUsed.Input, result.TokensUsed.Output, result.Cached, result.CostUSD)
	return result, nil
}

// dispatch validates req and runs the pipeline stages under the dispatch
// span.
func (o *Orchestrator) dispatch(ctx context.Context, req CompletionRequest, requestID string) (*CompletionResult, error) {
	temperature := o.defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if req.MaxTokens < 1 || req.MaxTokens > maxTokensCeiling {
		return nil, &ValidationError{
			Field:  "max_tokens",
			Reason: fmt.Sprintf("must be between 1 and %d", maxTokensCeiling),
		}
	}
	if temperature < 0 || temperature > 2 {
		return nil, &ValidationError{Field: "temperature", Reason: "must be between 0 and 2"}
	}

	flags, err := parseRequirements(req.Requirements, o.cache != nil)
	if err != nil {
		return nil, err
	}

	if d := o.limiter.Admit(req.CallerID); !d.Allowed {
		o.collector.RecordRateLimitHit()
		log.Debug().
			Str("caller", req.CallerID).
			Str("limit", d.Limit).
			Dur("retry_after", d.RetryAfter).
			Msg("completion throttled")
		return nil, &RateLimitError{CallerID: req.CallerID, Limit: d.Limit, RetryAfter: d.RetryAfter}
	}

	task := router.ClassifyTask(req.Prompt)

	if flags.cache && o.cache != nil {
		if result := o.serveFromCache(req, requestID, task); result != nil {
			return result, nil
		}
	}

	candidates, err := o.router.Route(ctx, req.Prompt, req.Model, flags.route)
	if err != nil {
		return nil, err
	}

	return o.execute(ctx, req, flags, candidates, requestID, temperature)
}

// parseRequirements interprets the caller's requirements map. Routing hints
// and pipeline toggles are all booleans; anything else is rejected rather
// than silently ignored.
func parseRequirements(raw map[string]any, cacheDefault bool) (requestFlags, error) {
	flags := requestFlags{cache: cacheDefault, failover: true}

	for key, value := range raw {
		var target *bool
		switch key {
		case "low_latency":
			target = &flags.route.LowLatency
		case "low_cost":
			target = &flags.route.LowCost
		case "high_quality":
			target = &flags.route.HighQuality
		case "cache_enabled":
			target = &flags.cache
		case "failover_enabled":
			target = &flags.failover
		default:
			return requestFlags{}, &MalformedRequirementsError{Key: key, Reason: "unknown requirement"}
		}
		b, ok := value.(bool)
		if !ok {
			return requestFlags{}, &MalformedRequirementsError{Key: key, Reason: "expected a boolean"}
		}
		*target = b
	}
	return flags, nil
}

// serveFromCache returns a cached result for req, or nil on a miss. The
// reported latency is the lookup itself, not the provider latency the entry
// was stored with.
func (o *Orchestrator) serveFromCache(req CompletionRequest, requestID, task string) *CompletionResult {
	start := o.now()
	match := o.cache.Lookup(req.Prompt, 0)
	if match == nil {
		o.collector.RecordCacheMiss()
		return nil
	}
	latency := durationMs(o.now().Sub(start))
	prov := catalog.ProviderFor(match.Model)

	o.collector.RecordCacheHit()
	o.record(metrics.UsageRecord{
		ID:        requestID,
		Timestamp: o.now(),
		Caller:    req.CallerID,
		Provider:  prov,
		Model:     match.Model,
		TaskType:  task,
		LatencyMs: latency,
		Success:   true,
		CacheHit:  true,
	})

	log.Debug().
		Str("request_id", requestID).
		Str("model", match.Model).
		Float64("similarity", match.Similarity).
		Msg("completion served from cache")

	return &CompletionResult{
		Text:      match.Response,
		Model:     match.Model,
		Provider:  prov,
		Cached:    true,
		LatencyMs: latency,
		RequestID: requestID,
	}
}

// execute walks the candidate list in order until one provider answers.
func (o *Orchestrator) execute(ctx context.Context, req CompletionRequest, flags requestFlags, candidates []router.Candidate, requestID string, temperature float64) (*CompletionResult, error) {
	var attempts int
	var lastErr error

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("completion aborted after %d attempts: %w", attempts, err)
		}

		client, ok := o.clients.Get(cand.Provider)
		if !ok {
			lastErr = fmt.Errorf("no client configured for provider %q", cand.Provider)
			continue
		}

		var breaker *provider.CircuitBreaker
		if o.breakers != nil {
			breaker = o.breakers.Get(cand.Provider)
			if !breaker.Allow() {
				o.collector.SetCircuitState(cand.Provider, int(breaker.State()))
				lastErr = fmt.Errorf("circuit open for provider %q", cand.Provider)
				log.Debug().
					Str("provider", cand.Provider).
					Str("model", cand.Model).
					Msg("candidate skipped, circuit open")
				continue
			}
		}

		attempts++
		start := o.now()
		completion, err := client.Complete(ctx, provider.Request{
			Prompt:      req.Prompt,
			Model:       cand.Model,
			MaxTokens:   req.MaxTokens,
			Temperature: temperature,
		})
		elapsed := o.now().Sub(start)
		latency := durationMs(elapsed)

		if err != nil {
			if breaker != nil {
				breaker.RecordFailure()
				o.collector.SetCircuitState(cand.Provider, int(breaker.State()))
				if !breaker.Available() {
					// The failure tripped the circuit; the cached health
					// snapshot predates it, so drop it rather than serving
					// it until the TTL runs out.
					o.router.Monitor().Forget(cand.Provider)
				}
			}
			perr := &ProviderError{Provider: cand.Provider, Model: cand.Model, Err: err}
			lastErr = perr
			o.record(metrics.UsageRecord{
				ID:        uuid.NewString(),
				Timestamp: o.now(),
				Caller:    req.CallerID,
				Provider:  cand.Provider,
				Model:     cand.Model,
				TaskType:  cand.TaskType,
				LatencyMs: latency,
				Success:   false,
				Error:     err.Error(),
			})
			log.Warn().
				Err(err).
				Str("request_id", requestID).
				Str("provider", cand.Provider).
				Str("model", cand.Model).
				Msg("provider attempt failed")
			if !flags.failover {
				return nil, perr
			}
			continue
		}

		if breaker != nil {
			breaker.RecordSuccess()
			o.collector.SetCircuitState(cand.Provider, int(breaker.State()))
		}

		cost := catalog.Price(cand.Model, completion.TokensIn, completion.TokensOut)
		o.record(metrics.UsageRecord{
			ID:        requestID,
			Timestamp: o.now(),
			Caller:    req.CallerID,
			Provider:  cand.Provider,
			Model:     cand.Model,
			TaskType:  cand.TaskType,
			TokensIn:  completion.TokensIn,
			TokensOut: completion.TokensOut,
			CostUSD:   cost,
			LatencyMs: latency,
			Success:   true,
		})

		if flags.cache && o.cache != nil {
			o.cache.Store(req.Prompt, completion.Text, cand.Model, elapsed)
		}
		if o.fingerprints != nil {
			if err := o.fingerprints.UpsertFingerprint(ctx, Fingerprint(req.Prompt)); err != nil {
				log.Warn().Err(err).Msg("recording prompt fingerprint")
			}
		}

		log.Info().
			Str("request_id", requestID).
			Str("caller", req.CallerID).
			Str("provider", cand.Provider).
			Str("model", cand.Model).
			Str("task", cand.TaskType).
			Float64("cost_usd", cost).
			Float64("latency_ms", latency).
			Msg("completion served")

		return &CompletionResult{
			Text:       completion.Text,
			Model:      cand.Model,
			Provider:   cand.Provider,
			CostUSD:    cost,
			LatencyMs:  latency,
			TokensUsed: TokenUsage{Input: completion.TokensIn, Output: completion.TokensOut},
			RequestID:  requestID,
		}, nil
	}

	failed := &AllProvidersFailedError{Model: req.Model, Attempts: attempts, LastErr: lastErr}
	log.Error().
		Err(lastErr).
		Str("request_id", requestID).
		Str("model", req.Model).
		Int("attempts", attempts).
		Msg("all providers failed")
	return nil, failed
}

// record forwards rec to the in-memory collector and, when wired, the
// persistent store. Persistence failures are logged, never fatal.
func (o *Orchestrator) record(rec metrics.UsageRecord) {
	o.collector.Record(rec)
	if o.usage != nil {
		if err := o.usage.InsertUsage(context.Background(), rec); err != nil {
			log.Warn().Err(err).Str("record_id", rec.ID).Msg("persisting usage record")
		}
	}
}

// Fingerprint returns the stable identity of a prompt used for duplicate
// tracking: SHA-256 over the trimmed, lowercased text.
func Fingerprint(prompt string) string {
	normalized := strings.ToLower(strings.TrimSpace(prompt))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
