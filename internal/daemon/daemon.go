// Package daemon owns the gateway process lifecycle: it wires every
// subsystem together, runs the API server, and handles PID files, config
// reloads, and graceful shutdown.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/gateman/internal/api"
	"github.com/allaspectsdev/gateman/internal/cache"
	"github.com/allaspectsdev/gateman/internal/config"
	"github.com/allaspectsdev/gateman/internal/costs"
	"github.com/allaspectsdev/gateman/internal/gateway"
	"github.com/allaspectsdev/gateman/internal/metrics"
	"github.com/allaspectsdev/gateman/internal/provider"
	"github.com/allaspectsdev/gateman/internal/ratelimit"
	"github.com/allaspectsdev/gateman/internal/router"
	"github.com/allaspectsdev/gateman/internal/store"
	"github.com/allaspectsdev/gateman/internal/tracing"
	"github.com/allaspectsdev/gateman/internal/vault"
	"github.com/allaspectsdev/gateman/internal/version"
)

// collectorMaxRecords caps the in-memory metrics ring. Older history stays
// queryable through the store.
const collectorMaxRecords = 10000

// Run is the main daemon orchestrator. It initialises all subsystems,
// starts the API server, and blocks until a shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	zerolog.SetGlobalLevel(parseLogLevel(cfg.Log.Level))

	logPath := cfg.Log.File
	if logPath == "" {
		logPath = filepath.Join(dataDir, "gateman.log")
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()

	// The file always gets structured JSON; foreground adds a human-readable
	// stdout stream unless the operator asked for JSON there too.
	writers := []io.Writer{logFile}
	if foreground {
		if cfg.Log.Format == "json" {
			writers = append(writers, os.Stdout)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: "15:04:05",
			})
		}
	}
	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "gateman").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("gateman starting")

	// 2. Refuse to double-start; a stale PID file left by a crash is
	// replaced inside ClaimPIDFile.
	if err := ClaimPIDFile(dataDir); err != nil {
		return err
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()
	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 3. Distributed tracing (optional).
	var shutdownTracing func(context.Context) error
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(context.Background(), tracing.Options{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     version.Version,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRate:  cfg.Tracing.SampleRate,
			Insecure:    cfg.Tracing.Insecure,
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialise tracing; continuing without it")
		} else {
			shutdownTracing = shutdown
			log.Info().Str("exporter", cfg.Tracing.Exporter).Str("endpoint", cfg.Tracing.Endpoint).Msg("tracing initialised")
		}
	}

	// 4. Open the store.
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "gateman.db")
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	schemaVersion, err := st.SchemaVersion()
	if err != nil {
		log.Warn().Err(err).Msg("reading schema version")
	}
	usageRows, err := st.CountUsage(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("counting usage records")
	}
	log.Info().
		Str("db_path", dbPath).
		Int("schema_version", schemaVersion).
		Int64("usage_rows", usageRows).
		Msg("store opened")

	// 5. Metrics collector, warmed with persisted usage so the reporting
	// windows survive restarts.
	retention := time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour
	collector := metrics.NewCollector(collectorMaxRecords, retention)
	collector.SetHealthWindow(cfg.Metrics.HealthWindow)
	collector.SetDefaultWindow(int(cfg.Metrics.Window() / time.Hour))

	if replay, err := st.UsageSince(context.Background(), time.Now().Add(-retention)); err != nil {
		log.Warn().Err(err).Msg("replaying usage history")
	} else {
		for _, rec := range replay {
			collector.Record(rec)
		}
		log.Info().Int("records", len(replay)).Msg("metrics window replayed from store")
	}

	// 6. Rate limiter.
	limiter := ratelimit.New(
		cfg.RateLimit.RequestsPerMinute,
		cfg.RateLimit.RequestsPerHour,
		cfg.RateLimit.Burst,
		cfg.RateLimit.Adaptive,
	)

	// bgCtx governs every background goroutine: cache purger, store pruner,
	// load sampler.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// 7. Semantic cache (optional), warmed from the store when persistent.
	var semCache *cache.Cache
	var purgerDone <-chan struct{}
	if cfg.Cache.Enabled {
		var persister cache.Persister
		if cfg.Cache.Persist {
			persister = store.NewCachePersister(st)
		}
		semCache, err = cache.New(
			cache.NewHashingEmbedder(cfg.Cache.Dimensions),
			persister,
			cfg.Cache.SimilarityThreshold,
			cfg.Cache.TTL(),
			cfg.Cache.MaxEntries,
		)
		if err != nil {
			return fmt.Errorf("creating semantic cache: %w", err)
		}
		if persister != nil {
			warmed, err := semCache.Warm()
			if err != nil {
				log.Warn().Err(err).Msg("warming semantic cache")
			} else {
				log.Info().Int("entries", warmed).Msg("semantic cache warmed from store")
			}
		}
		purgerDone = semCache.StartPurger(bgCtx, 0)
	}

	// 8. Resolve provider API keys and build one HTTP client per enabled
	// provider. A provider whose key cannot be resolved is skipped, not fatal.
	v := vault.New()
	clients := provider.NewRegistry()
	defer clients.CloseAll()

	retry := provider.RetryPolicy{
		MaxAttempts: cfg.Resilience.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.Resilience.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Resilience.RetryMaxDelayMs) * time.Millisecond,
	}
	for name, pcfg := range cfg.Providers {
		if !pcfg.Enabled {
			continue
		}
		apiKey := ""
		if pcfg.KeyRef != "" {
			key, err := v.ResolveKeyRef(pcfg.KeyRef)
			if err != nil {
				log.Warn().Err(err).Str("provider", name).Msg("failed to resolve API key; provider will be unavailable")
				continue
			}
			apiKey = key
		}
		client := provider.NewHTTPClient(provider.HTTPClientOptions{
			Name:    name,
			BaseURL: pcfg.BaseURL,
			APIKey:  apiKey,
			Timeout: pcfg.TimeoutDuration(),
			Retry:   retry,
		})
		if err := clients.Register(client); err != nil {
			log.Warn().Err(err).Str("provider", name).Msg("registering provider client")
		}
	}
	registered := clients.Names()
	if len(registered) == 0 {
		log.Warn().Msg("no provider clients registered; completions will fail until API keys are configured")
	} else {
		log.Info().Strs("providers", registered).Msg("provider clients registered")
	}

	var breakers *provider.BreakerRegistry
	if cfg.Resilience.BreakerEnabled {
		breakers = provider.NewBreakerRegistry(
			cfg.Resilience.BreakerFailureThreshold,
			cfg.Resilience.BreakerResetTimeout(),
			cfg.Resilience.BreakerHalfOpenMax,
		)
	}

	// 9. Health monitor and router. Passive mode derives health from
	// recorded traffic; active mode probes provider endpoints directly.
	var checker router.HealthChecker
	if cfg.Router.HealthMode == "active" {
		checker = provider.ActiveChecker{Registry: clients}
	} else {
		mc := router.MetricsChecker{Stats: collector}
		if breakers != nil {
			mc.Breaker = breakers
		}
		checker = mc
	}
	rtr := router.New(router.NewMonitor(checker, cfg.Router.HealthTTL()))
	log.Info().Str("health_mode", cfg.Router.HealthMode).Msg("router initialised")

	// 10. Cost reporting.
	reporter := costs.NewReporter(collector, costs.FingerprintPolicy{Source: st})

	// 11. The orchestrator ties the pipeline together.
	orc := gateway.New(gateway.Options{
		Limiter:            limiter,
		Cache:              semCache,
		Router:             rtr,
		Clients:            clients,
		Breakers:           breakers,
		Collector:          collector,
		Usage:              st,
		Fingerprints:       st,
		DefaultMaxTokens:   cfg.Completion.DefaultMaxTokens,
		DefaultTemperature: cfg.Completion.DefaultTemperature,
		OptimizerModel:     cfg.Completion.OptimizerModel,
		Version:            version.Version,
	})

	// 12. API server.
	srv := api.NewServer(api.Options{
		Gateway:   orc,
		Cache:     semCache,
		Limiter:   limiter,
		Collector: collector,
		Reporter:  reporter,
		Store:     st,
		Server:    cfg.Server,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// 13. Config watcher for hot-reload of the runtime-adjustable settings.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}
	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(_, newCfg *config.Config) {
				applyRuntimeConfig(newCfg, limiter)
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 14. Background maintenance: store pruning and the adaptive-load sampler.
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(bgCtx, st, cfg.Store.RetentionDays)
	}()

	samplerDone := make(chan struct{})
	go func() {
		defer close(samplerDone)
		runLoadSampler(bgCtx, limiter)
	}()

	log.Info().Str("addr", srv.Addr()).Msg("gateman is ready")
	if foreground {
		fmt.Printf("\n  Gateman is running!\n")
		fmt.Printf("  API: http://%s\n\n", srv.Addr())
	}

	// 15. Block until a shutdown signal or fatal server error. SIGHUP reloads
	// the config file in place.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var fatalErr error
waitLoop:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				log.Info().Msg("SIGHUP received; reloading configuration")
				reloaded, err := config.Load(config.ConfigFilePath())
				if err != nil {
					log.Error().Err(err).Msg("config reload failed, keeping previous config")
					continue
				}
				applyRuntimeConfig(reloaded, limiter)
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			break waitLoop
		case err := <-errCh:
			log.Error().Err(err).Msg("fatal server error")
			fatalErr = err
			break waitLoop
		}
	}

	// 16. Graceful shutdown: stop accepting requests, then background
	// goroutines, then flush tracing. The store closes last, via defer, after
	// everything that writes to it has stopped.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}

	bgCancel()
	if purgerDone != nil {
		<-purgerDone
	}
	<-prunerDone
	<-samplerDone

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown error")
		}
	}

	log.Info().Msg("gateman stopped")
	return fatalErr
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("gateman does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("gateman is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to gateman (PID %d)\n", pid)

	// Wait briefly for the process to exit.
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}
	return nil
}

// Reload sends SIGHUP to the running daemon so it re-reads its config file.
func Reload() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("gateman does not appear to be running: %w", err)
	}
	if !isProcessAlive(pid) {
		return fmt.Errorf("gateman is not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("sending SIGHUP to process %d: %w", pid, err)
	}
	fmt.Printf("Sent SIGHUP to gateman (PID %d)\n", pid)
	return nil
}

// Status checks whether the daemon is running and prints a summary pulled
// from its API.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("gateman is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("gateman is running (PID %d)\n", pid)

	base := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	client := &http.Client{Timeout: 3 * time.Second}

	var health gateway.Health
	if err := fetchJSON(client, base+"/v1/health", &health); err != nil {
		fmt.Println("  (API unreachable)")
		return nil
	}
	fmt.Printf("\n  Status:        %s\n", health.Status)
	fmt.Printf("  Version:       %s\n", health.Version)
	fmt.Printf("  Health Score:  %.1f\n", health.Score)

	var agg metrics.Aggregate
	if err := fetchJSON(client, base+"/v1/metrics?range=24h", &agg); err != nil {
		return nil
	}
	fmt.Printf("\n  Requests (24h): %d\n", agg.TotalRequests)
	fmt.Printf("  Success Rate:   %.1f%%\n", agg.SuccessRate*100)
	fmt.Printf("  Cache Hits:     %d (%.1f%%)\n", agg.CachedRequests, agg.CacheHitRate*100)
	fmt.Printf("  Rate Limited:   %d\n", agg.RateLimitHits)
	fmt.Printf("  Cost:           $%.4f\n", agg.Cost.TotalUSD)
	return nil
}

// fetchJSON GETs a URL and decodes the JSON body regardless of status code;
// the health endpoint answers 503 with a body worth showing.
func fetchJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// applyRuntimeConfig applies the hot-reloadable settings: log level and rate
// limit ceilings. Everything else requires a restart.
func applyRuntimeConfig(cfg *config.Config, limiter *ratelimit.Limiter) {
	zerolog.SetGlobalLevel(parseLogLevel(cfg.Log.Level))
	limiter.SetLimits(
		cfg.RateLimit.RequestsPerMinute,
		cfg.RateLimit.RequestsPerHour,
		cfg.RateLimit.Burst,
	)
	log.Info().Msg("configuration reloaded")
}

// runPruner periodically prunes old data from the store.
func runPruner(ctx context.Context, st *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("data pruner: recovered from panic")
					}
				}()
				n, err := st.Prune(retentionDays)
				if err != nil {
					log.Error().Err(err).Msg("data pruning failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old data")
				}
			}()
		}
	}
}

// runLoadSampler feeds the limiter's adaptive multiplier. Load is defined as
// aggregate admission-budget utilisation: total requests in the last minute
// across all callers, over the per-minute ceiling times the number of active
// callers. Denied traffic lowers the observed count, so a tightened ceiling
// relaxes again once pressure drops.
func runLoadSampler(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := limiter.Stats()
			callers := stats.ActiveCallers
			if callers < 1 {
				callers = 1
			}
			capacity := stats.RequestsPerMinute * callers
			if capacity < 1 {
				capacity = 1
			}
			load := float64(stats.TotalRequestsLastMinute) / float64(capacity)
			if load > 1 {
				load = 1
			}
			limiter.UpdateLoad(load)
		}
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
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
