package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for Gateman.
type Config struct {
	Server     ServerConfig              `mapstructure:"server"     toml:"server"`
	Log        LogConfig                 `mapstructure:"log"        toml:"log"`
	RateLimit  RateLimitConfig           `mapstructure:"ratelimit"  toml:"ratelimit"`
	Cache      CacheConfig               `mapstructure:"cache"      toml:"cache"`
	Router     RouterConfig              `mapstructure:"router"     toml:"router"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"  toml:"providers"`
	Store      StoreConfig               `mapstructure:"store"      toml:"store"`
	Metrics    MetricsConfig             `mapstructure:"metrics"    toml:"metrics"`
	Tracing    TracingConfig             `mapstructure:"tracing"    toml:"tracing"`
	Completion CompletionConfig          `mapstructure:"completion" toml:"completion"`
	Resilience ResilienceConfig          `mapstructure:"resilience" toml:"resilience"`
}

// ServerConfig holds the gateway API server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"          toml:"host"`
	Port         int    `mapstructure:"port"          toml:"port"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"` // seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`  // seconds
	MaxBodySize  int64  `mapstructure:"max_body_size" toml:"max_body_size"`
}

// LogConfig holds the structured logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"  toml:"level"`
	Format string `mapstructure:"format" toml:"format"` // "console" or "json"
	File   string `mapstructure:"file"   toml:"file"`   // empty means stderr
}

// RateLimitConfig holds the per-caller admission limits.
type RateLimitConfig struct {
	RequestsPerMinute int  `mapstructure:"requests_per_minute" toml:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour"   toml:"requests_per_hour"`
	Burst             int  `mapstructure:"burst"               toml:"burst"`
	Adaptive          bool `mapstructure:"adaptive"            toml:"adaptive"`
}

// CacheConfig holds the semantic cache settings.
type CacheConfig struct {
	Enabled             bool    `mapstructure:"enabled"              toml:"enabled"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" toml:"similarity_threshold"`
	TTLHours            int     `mapstructure:"ttl_hours"            toml:"ttl_hours"`
	MaxEntries          int     `mapstructure:"max_entries"          toml:"max_entries"`
	Dimensions          int     `mapstructure:"dimensions"           toml:"dimensions"`
	Persist             bool    `mapstructure:"persist"              toml:"persist"`
}

// TTL returns the cache entry lifetime as a time.Duration.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLHours <= 0 {
		return time.Duration(DefaultCacheTTLHours) * time.Hour
	}
	return time.Duration(c.TTLHours) * time.Hour
}

// RouterConfig holds the model routing settings.
type RouterConfig struct {
	HealthTTLSeconds int    `mapstructure:"health_ttl_seconds" toml:"health_ttl_seconds"`
	HealthMode       string `mapstructure:"health_mode"        toml:"health_mode"` // "passive" or "active"
}

// HealthTTL returns how long a health probe result stays fresh.
func (r RouterConfig) HealthTTL() time.Duration {
	if r.HealthTTLSeconds <= 0 {
		return DefaultHealthTTLSeconds * time.Second
	}
	return time.Duration(r.HealthTTLSeconds) * time.Second
}

// ProviderConfig describes a single LLM provider endpoint.
type ProviderConfig struct {
	Name    string `mapstructure:"name"     toml:"name"`
	BaseURL string `mapstructure:"base_url" toml:"base_url"`
	KeyRef  string `mapstructure:"key_ref"  toml:"key_ref"`
	Enabled bool   `mapstructure:"enabled"  toml:"enabled"`
	Timeout int    `mapstructure:"timeout"  toml:"timeout"` // seconds
}

// TimeoutDuration returns the provider timeout as a time.Duration.
func (p ProviderConfig) TimeoutDuration() time.Duration {
	if p.Timeout <= 0 {
		return DefaultProviderTimeout * time.Second
	}
	return time.Duration(p.Timeout) * time.Second
}

// StoreConfig holds the SQLite persistence settings.
type StoreConfig struct {
	Path          string `mapstructure:"path"           toml:"path"`
	RetentionDays int    `mapstructure:"retention_days" toml:"retention_days"`
}

// MetricsConfig holds the usage reporting settings.
type MetricsConfig struct {
	WindowHours  int `mapstructure:"window_hours"  toml:"window_hours"`
	HealthWindow int `mapstructure:"health_window" toml:"health_window"`
}

// Window returns the default reporting window as a time.Duration.
func (m MetricsConfig) Window() time.Duration {
	if m.WindowHours <= 0 {
		return DefaultMetricsWindowHours * time.Hour
	}
	return time.Duration(m.WindowHours) * time.Hour
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "gateman"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// CompletionConfig holds defaults applied to completion requests.
type CompletionConfig struct {
	DefaultMaxTokens   int     `mapstructure:"default_max_tokens"  toml:"default_max_tokens"`
	DefaultTemperature float64 `mapstructure:"default_temperature" toml:"default_temperature"`
	OptimizerModel     string  `mapstructure:"optimizer_model"     toml:"optimizer_model"`
}

// ResilienceConfig controls upstream retries and per-provider circuit breakers.
type ResilienceConfig struct {
	RetryMaxAttempts        int  `mapstructure:"retry_max_attempts"        toml:"retry_max_attempts"`
	RetryBaseDelayMs        int  `mapstructure:"retry_base_delay_ms"       toml:"retry_base_delay_ms"`
	RetryMaxDelayMs         int  `mapstructure:"retry_max_delay_ms"        toml:"retry_max_delay_ms"`
	BreakerEnabled          bool `mapstructure:"breaker_enabled"           toml:"breaker_enabled"`
	BreakerFailureThreshold int  `mapstructure:"breaker_failure_threshold" toml:"breaker_failure_threshold"`
	BreakerResetTimeoutSec  int  `mapstructure:"breaker_reset_timeout_seconds" toml:"breaker_reset_timeout_seconds"`
	BreakerHalfOpenMax      int  `mapstructure:"breaker_half_open_max_calls"   toml:"breaker_half_open_max_calls"`
}

// BreakerResetTimeout returns the open-circuit cooldown as a time.Duration.
func (r ResilienceConfig) BreakerResetTimeout() time.Duration {
	if r.BreakerResetTimeoutSec <= 0 {
		return DefaultBreakerResetTimeout * time.Second
	}
	return time.Duration(r.BreakerResetTimeoutSec) * time.Second
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (GATEMAN_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.gateman/gateman.toml or ~/.config/gateman/gateman.toml
//  4. ./gateman.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: GATEMAN_SERVER_PORT etc.
	v.SetEnvPrefix("GATEMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".gateman"))
			v.AddConfigPath(filepath.Join(homeDir, ".config", "gateman"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("gateman")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Expand ~ in filesystem paths.
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.Log.File = expandHome(cfg.Log.File)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.gateman/gateman.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".gateman")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig reads a TOML config file and merges it into the current config.
// The imported config is also persisted to the active config file so changes
// survive restarts.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	// Persist to the active config file so changes survive restart.
	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}

	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)

	// Log
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)

	// RateLimit
	v.SetDefault("ratelimit.requests_per_minute", d.RateLimit.RequestsPerMinute)
	v.SetDefault("ratelimit.requests_per_hour", d.RateLimit.RequestsPerHour)
	v.SetDefault("ratelimit.burst", d.RateLimit.Burst)
	v.SetDefault("ratelimit.adaptive", d.RateLimit.Adaptive)

	// Cache
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.similarity_threshold", d.Cache.SimilarityThreshold)
	v.SetDefault("cache.ttl_hours", d.Cache.TTLHours)
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("cache.dimensions", d.Cache.Dimensions)
	v.SetDefault("cache.persist", d.Cache.Persist)

	// Router
	v.SetDefault("router.health_ttl_seconds", d.Router.HealthTTLSeconds)
	v.SetDefault("router.health_mode", d.Router.HealthMode)

	// Store
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.retention_days", d.Store.RetentionDays)

	// Metrics
	v.SetDefault("metrics.window_hours", d.Metrics.WindowHours)
	v.SetDefault("metrics.health_window", d.Metrics.HealthWindow)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	// Completion
	v.SetDefault("completion.default_max_tokens", d.Completion.DefaultMaxTokens)
	v.SetDefault("completion.default_temperature", d.Completion.DefaultTemperature)
	v.SetDefault("completion.optimizer_model", d.Completion.OptimizerModel)

	// Resilience
	v.SetDefault("resilience.retry_max_attempts", d.Resilience.RetryMaxAttempts)
	v.SetDefault("resilience.retry_base_delay_ms", d.Resilience.RetryBaseDelayMs)
	v.SetDefault("resilience.retry_max_delay_ms", d.Resilience.RetryMaxDelayMs)
	v.SetDefault("resilience.breaker_enabled", d.Resilience.BreakerEnabled)
	v.SetDefault("resilience.breaker_failure_threshold", d.Resilience.BreakerFailureThreshold)
	v.SetDefault("resilience.breaker_reset_timeout_seconds", d.Resilience.BreakerResetTimeoutSec)
	v.SetDefault("resilience.breaker_half_open_max_calls", d.Resilience.BreakerHalfOpenMax)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
