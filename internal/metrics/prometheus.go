package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// PrometheusHandler returns an http.HandlerFunc that writes the collector's
// metrics in Prometheus text exposition format (version 0.0.4). Metrics are
// formatted manually; the exporter has no dependency on the Prometheus
// client library.
func PrometheusHandler(collector *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		totals := collector.Totals()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		writeMetric(w, "gateman_requests_total",
			"Total number of completion requests handled.",
			"counter", totals.TotalRequests)

		writeMetric(w, "gateman_tokens_in_total",
			"Total number of input tokens processed.",
			"counter", totals.TokensIn)

		writeMetric(w, "gateman_tokens_out_total",
			"Total number of output tokens received.",
			"counter", totals.TokensOut)

		writeMetricFloat(w, "gateman_cost_usd_total",
			"Total provider spend in USD.",
			"counter", totals.CostUSD)

		writeMetric(w, "gateman_cache_hits_total",
			"Total number of semantic cache hits.",
			"counter", totals.CacheHits)

		writeMetric(w, "gateman_cache_misses_total",
			"Total number of semantic cache misses.",
			"counter", totals.CacheMisses)

		writeMetricFloat(w, "gateman_cache_hit_rate",
			"Fraction of cache lookups that hit.",
			"gauge", totals.CacheHitRate)

		writeMetric(w, "gateman_rate_limited_total",
			"Total number of requests denied admission by the rate limiter.",
			"counter", totals.RateLimitHits)

		writeMetric(w, "gateman_active_requests",
			"Number of requests currently being processed.",
			"gauge", totals.ActiveRequests)

		writeMetricFloat(w, "gateman_health_score",
			"Gateway health score over recent requests (0-100).",
			"gauge", collector.HealthScore())

		writeMetricFloat(w, "gateman_uptime_seconds",
			"Number of seconds since the service started.",
			"gauge", totals.UptimeSeconds)

		writeCounterVec(w, "gateman_provider_requests_total",
			"Total requests per provider and outcome.",
			collector.providerRequests)

		writeHistogramVec(w, "gateman_request_duration_seconds",
			"Request duration in seconds by provider.",
			collector.latencies)

		writeGaugeVec(w, "gateman_provider_circuit_state",
			"Circuit breaker state per provider (0=closed, 1=open, 2=half-open).",
			collector.circuitStates)
	}
}

// writeMetric writes a single integer metric in Prometheus text format.
func writeMetric(w http.ResponseWriter, name, help, metricType string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

// writeMetricFloat writes a single float64 metric in Prometheus text format.
func writeMetricFloat(w http.ResponseWriter, name, help, metricType string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %g\n", name, value)
}

// formatLabels formats a label map as a Prometheus label string, e.g.
// {outcome="success",provider="openai"}.
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// writeCounterVec writes a labeled counter vec in Prometheus text format.
func writeCounterVec(w http.ResponseWriter, name, help string, cv *counterVec) {
	entries := cv.snapshot()
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, e := range entries {
		fmt.Fprintf(w, "%s%s %d\n", name, formatLabels(e.labels), e.value)
	}
}

// writeGaugeVec writes a labeled gauge vec in Prometheus text format.
func writeGaugeVec(w http.ResponseWriter, name, help string, gv *gaugeVec) {
	entries := gv.snapshot()
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	for _, e := range entries {
		fmt.Fprintf(w, "%s%s %g\n", name, formatLabels(e.labels), e.value)
	}
}

// writeHistogramVec writes a labeled histogram vec in Prometheus text format.
// Bucket counts are emitted cumulatively per the exposition format.
func writeHistogramVec(w http.ResponseWriter, name, help string, hv *histogramVec) {
	histograms := hv.snapshot()
	if len(histograms) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s histogram\n", name)
	for _, h := range histograms {
		labels := formatLabels(h.labels)
		var cumulative int64
		for i, bound := range h.buckets {
			cumulative += h.counts[i]
			le := fmt.Sprintf("%g", bound)
			fmt.Fprintf(w, "%s_bucket%s %d\n", name, formatLabelsWithLe(h.labels, le), cumulative)
		}
		fmt.Fprintf(w, "%s_bucket%s %d\n", name, formatLabelsWithLe(h.labels, "+Inf"), h.count)
		fmt.Fprintf(w, "%s_sum%s %g\n", name, labels, h.sum)
		fmt.Fprintf(w, "%s_count%s %d\n", name, labels, h.count)
	}
}

// formatLabelsWithLe formats labels with an additional "le" label for
// histogram buckets.
func formatLabelsWithLe(labels map[string]string, le string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
		b.WriteByte(',')
	}
	fmt.Fprintf(&b, "le=%q", le)
	b.WriteByte('}')
	return b.String()
}
