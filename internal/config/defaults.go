package config

// DefaultHost is the default bind address (localhost only for security).
const DefaultHost = "127.0.0.1"

// DefaultPort is the default port for the gateway API server.
const DefaultPort = 7680

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultLogFormat is the default log output format.
const DefaultLogFormat = "console"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.gateman"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "gateman.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// Set high (5 minutes) to accommodate slow completions.
const DefaultWriteTimeout = 300

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum request body size in bytes (10 MB).
const DefaultMaxBodySize int64 = 10 << 20

// DefaultRequestsPerMinute is the default per-caller request budget for the
// one-minute window.
const DefaultRequestsPerMinute = 60

// DefaultRequestsPerHour is the default per-caller request budget for the
// one-hour window.
const DefaultRequestsPerHour = 1000

// DefaultBurst is the default number of requests allowed in any ten-second
// burst window.
const DefaultBurst = 10

// DefaultSimilarityThreshold is the minimum cosine similarity for a
// semantic cache hit.
const DefaultSimilarityThreshold = 0.95

// DefaultCacheTTLHours is the default semantic cache entry lifetime in hours.
const DefaultCacheTTLHours = 24

// DefaultCacheMaxEntries is the default semantic cache capacity.
const DefaultCacheMaxEntries = 1000

// DefaultEmbeddingDimensions is the dimensionality of prompt embeddings.
const DefaultEmbeddingDimensions = 384

// DefaultHealthTTLSeconds is how long a provider health probe result is
// trusted before being refreshed.
const DefaultHealthTTLSeconds = 60

// DefaultHealthMode is the default provider health strategy.
const DefaultHealthMode = "passive"

// DefaultStorePath is the default SQLite database path (before tilde expansion).
const DefaultStorePath = "~/.gateman/gateman.db"

// DefaultRetentionDays is the default usage record retention in days.
const DefaultRetentionDays = 30

// DefaultMetricsWindowHours is the default reporting window for cost and
// usage summaries in hours.
const DefaultMetricsWindowHours = 24

// DefaultHealthWindow is the number of recent records used to compute a
// provider health score.
const DefaultHealthWindow = 100

// DefaultProviderTimeout is the default provider request timeout in seconds.
const DefaultProviderTimeout = 30

// DefaultMaxTokens is the default completion token limit when the caller
// does not set one.
const DefaultMaxTokens = 1000

// DefaultTemperature is the default sampling temperature.
const DefaultTemperature = 0.7

// DefaultOptimizerModel is the low-cost model used to rewrite prompts.
const DefaultOptimizerModel = "o4-mini"

// DefaultRetryMaxAttempts is the maximum number of tries per provider call.
const DefaultRetryMaxAttempts = 3

// DefaultRetryBaseDelayMs is the base delay for exponential backoff in milliseconds.
const DefaultRetryBaseDelayMs = 200

// DefaultRetryMaxDelayMs caps a single backoff delay in milliseconds.
const DefaultRetryMaxDelayMs = 5000

// DefaultBreakerFailureThreshold is how many consecutive failures open a
// provider's circuit.
const DefaultBreakerFailureThreshold = 5

// DefaultBreakerResetTimeout is the open-circuit cooldown in seconds.
const DefaultBreakerResetTimeout = 60

// DefaultBreakerHalfOpenMax is how many half-open successes close the circuit.
const DefaultBreakerHalfOpenMax = 1

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "gateman"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidLogFormats lists the allowed log output formats.
var ValidLogFormats = []string{"console", "json"}

// ValidHealthModes lists the allowed router health strategies.
var ValidHealthModes = []string{"passive", "active"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			DataDir:      DefaultDataDir,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
			File:   "",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: DefaultRequestsPerMinute,
			RequestsPerHour:   DefaultRequestsPerHour,
			Burst:             DefaultBurst,
			Adaptive:          true,
		},
		Cache: CacheConfig{
			Enabled:             true,
			SimilarityThreshold: DefaultSimilarityThreshold,
			TTLHours:            DefaultCacheTTLHours,
			MaxEntries:          DefaultCacheMaxEntries,
			Dimensions:          DefaultEmbeddingDimensions,
			Persist:             true,
		},
		Router: RouterConfig{
			HealthTTLSeconds: DefaultHealthTTLSeconds,
			HealthMode:       DefaultHealthMode,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Name:    "OpenAI",
				BaseURL: "https://api.openai.com",
				KeyRef:  "keyring://gateman/openai",
				Enabled: true,
				Timeout: DefaultProviderTimeout,
			},
			"anthropic": {
				Name:    "Anthropic",
				BaseURL: "https://api.anthropic.com",
				KeyRef:  "keyring://gateman/anthropic",
				Enabled: true,
				Timeout: DefaultProviderTimeout,
			},
			"google": {
				Name:    "Google",
				BaseURL: "https://generativelanguage.googleapis.com",
				KeyRef:  "keyring://gateman/google",
				Enabled: true,
				Timeout: DefaultProviderTimeout,
			},
			"xai": {
				Name:    "xAI",
				BaseURL: "https://api.x.ai",
				KeyRef:  "keyring://gateman/xai",
				Enabled: true,
				Timeout: DefaultProviderTimeout,
			},
			"mistral": {
				Name:    "Mistral",
				BaseURL: "https://api.mistral.ai",
				KeyRef:  "keyring://gateman/mistral",
				Enabled: true,
				Timeout: DefaultProviderTimeout,
			},
			"groq": {
				Name:    "Groq",
				BaseURL: "https://api.groq.com",
				KeyRef:  "keyring://gateman/groq",
				Enabled: true,
				Timeout: DefaultProviderTimeout,
			},
		},
		Store: StoreConfig{
			Path:          DefaultStorePath,
			RetentionDays: DefaultRetentionDays,
		},
		Metrics: MetricsConfig{
			WindowHours:  DefaultMetricsWindowHours,
			HealthWindow: DefaultHealthWindow,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
		Completion: CompletionConfig{
			DefaultMaxTokens:   DefaultMaxTokens,
			DefaultTemperature: DefaultTemperature,
			OptimizerModel:     DefaultOptimizerModel,
		},
		Resilience: ResilienceConfig{
			RetryMaxAttempts:        DefaultRetryMaxAttempts,
			RetryBaseDelayMs:        DefaultRetryBaseDelayMs,
			RetryMaxDelayMs:         DefaultRetryMaxDelayMs,
			BreakerEnabled:          true,
			BreakerFailureThreshold: DefaultBreakerFailureThreshold,
			BreakerResetTimeoutSec:  DefaultBreakerResetTimeout,
			BreakerHalfOpenMax:      DefaultBreakerHalfOpenMax,
		},
	}
}
