package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}

	// Log validation
	if !isValidEnum(cfg.Log.Level, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("log.level must be one of %v, got %q", ValidLogLevels, cfg.Log.Level))
	}
	if !isValidEnum(cfg.Log.Format, ValidLogFormats) {
		errs = append(errs, fmt.Sprintf("log.format must be one of %v, got %q", ValidLogFormats, cfg.Log.Format))
	}

	// RateLimit validation
	if cfg.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, fmt.Sprintf("ratelimit.requests_per_minute must be at least 1, got %d", cfg.RateLimit.RequestsPerMinute))
	}
	if cfg.RateLimit.RequestsPerHour < 1 {
		errs = append(errs, fmt.Sprintf("ratelimit.requests_per_hour must be at least 1, got %d", cfg.RateLimit.RequestsPerHour))
	}
	if cfg.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Sprintf("ratelimit.burst must be at least 1, got %d", cfg.RateLimit.Burst))
	}

	// Cache validation
	if cfg.Cache.SimilarityThreshold < 0 || cfg.Cache.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Sprintf("cache.similarity_threshold must be between 0 and 1, got %f", cfg.Cache.SimilarityThreshold))
	}
	if cfg.Cache.TTLHours < 1 {
		errs = append(errs, fmt.Sprintf("cache.ttl_hours must be at least 1, got %d", cfg.Cache.TTLHours))
	}
	if cfg.Cache.MaxEntries < 1 {
		errs = append(errs, fmt.Sprintf("cache.max_entries must be at least 1, got %d", cfg.Cache.MaxEntries))
	}
	if cfg.Cache.Dimensions < 1 {
		errs = append(errs, fmt.Sprintf("cache.dimensions must be at least 1, got %d", cfg.Cache.Dimensions))
	}

	// Router validation
	if cfg.Router.HealthTTLSeconds < 1 {
		errs = append(errs, fmt.Sprintf("router.health_ttl_seconds must be at least 1, got %d", cfg.Router.HealthTTLSeconds))
	}
	if !isValidEnum(cfg.Router.HealthMode, ValidHealthModes) {
		errs = append(errs, fmt.Sprintf("router.health_mode must be one of %v, got %q", ValidHealthModes, cfg.Router.HealthMode))
	}

	// Provider validation
	for name, p := range cfg.Providers {
		if p.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.base_url must not be empty", name))
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.timeout must be non-negative", name))
		}
	}

	// Store validation
	if cfg.Store.Path == "" {
		errs = append(errs, "store.path must not be empty")
	}
	if cfg.Store.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("store.retention_days must be at least 1, got %d", cfg.Store.RetentionDays))
	}

	// Metrics validation
	if cfg.Metrics.WindowHours < 1 {
		errs = append(errs, fmt.Sprintf("metrics.window_hours must be at least 1, got %d", cfg.Metrics.WindowHours))
	}
	if cfg.Metrics.HealthWindow < 1 {
		errs = append(errs, fmt.Sprintf("metrics.health_window must be at least 1, got %d", cfg.Metrics.HealthWindow))
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp-grpc", "otlp-http"}
		if !isValidEnum(cfg.Tracing.Exporter, validExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	// Completion validation
	if cfg.Completion.DefaultMaxTokens < 1 {
		errs = append(errs, fmt.Sprintf("completion.default_max_tokens must be at least 1, got %d", cfg.Completion.DefaultMaxTokens))
	}
	if cfg.Completion.DefaultTemperature < 0 || cfg.Completion.DefaultTemperature > 2 {
		errs = append(errs, fmt.Sprintf("completion.default_temperature must be between 0 and 2, got %f", cfg.Completion.DefaultTemperature))
	}
	if cfg.Completion.OptimizerModel == "" {
		errs = append(errs, "completion.optimizer_model must not be empty")
	}

	// Resilience validation
	if cfg.Resilience.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("resilience.retry_max_attempts must be at least 1, got %d", cfg.Resilience.RetryMaxAttempts))
	}
	if cfg.Resilience.RetryBaseDelayMs < 0 {
		errs = append(errs, fmt.Sprintf("resilience.retry_base_delay_ms must be non-negative, got %d", cfg.Resilience.RetryBaseDelayMs))
	}
	if cfg.Resilience.RetryMaxDelayMs < cfg.Resilience.RetryBaseDelayMs {
		errs = append(errs, fmt.Sprintf("resilience.retry_max_delay_ms must be at least the base delay, got %d", cfg.Resilience.RetryMaxDelayMs))
	}
	if cfg.Resilience.BreakerFailureThreshold < 1 {
		errs = append(errs, fmt.Sprintf("resilience.breaker_failure_threshold must be at least 1, got %d", cfg.Resilience.BreakerFailureThreshold))
	}
	if cfg.Resilience.BreakerResetTimeoutSec < 1 {
		errs = append(errs, fmt.Sprintf("resilience.breaker_reset_timeout_seconds must be at least 1, got %d", cfg.Resilience.BreakerResetTimeoutSec))
	}
	if cfg.Resilience.BreakerHalfOpenMax < 1 {
		errs = append(errs, fmt.Sprintf("resilience.breaker_half_open_max_calls must be at least 1, got %d", cfg.Resilience.BreakerHalfOpenMax))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
