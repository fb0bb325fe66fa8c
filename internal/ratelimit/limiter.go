// Package ratelimit implements per-caller sliding-window admission control
// with an adaptive, load-driven multiplier on the steady-state ceilings.
package ratelimit

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Limit identifiers reported in a denial.
const (
	LimitBurst     = "burst"
	LimitPerMinute = "rpm"
	LimitPerHour   = "rph"
)

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // how long until the denying window frees a slot
	Limit      string        // which ceiling denied, empty when allowed
}

// CallerStats describes one caller's current window usage.
type CallerStats struct {
	CallerID           string    `json:"caller_id"`
	RequestsLastMinute int       `json:"requests_last_minute"`
	RequestsLastHour   int       `json:"requests_last_hour"`
	LastRequest        time.Time `json:"last_request"`
	RPMLimit           int       `json:"rpm_limit"`
	RPHLimit           int       `json:"rph_limit"`
	BurstLimit         int       `json:"burst_limit"`
}

// Stats describes the limiter as a whole.
type Stats struct {
	ActiveCallers           int     `json:"active_callers"`
	TotalRequestsLastMinute int     `json:"total_requests_last_minute"`
	TotalRequestsLastHour   int     `json:"total_requests_last_hour"`
	CurrentLoad             float64 `json:"current_load"`
	AdaptiveMultiplier      float64 `json:"adaptive_multiplier"`
	RequestsPerMinute       int     `json:"requests_per_minute"`
	RequestsPerHour         int     `json:"requests_per_hour"`
	Burst                   int     `json:"burst"`
}

// window holds one caller's request timestamps. Each caller has its own
// mutex so admission checks for different callers never serialize.
type window struct {
	mu          sync.Mutex
	minute      []time.Time
	hour        []time.Time
	lastRequest time.Time
}

// prune drops timestamps that have left the minute and hour windows.
func (w *window) prune(now time.Time) {
	minuteCutoff := now.Add(-time.Minute)
	i := 0
	for i < len(w.minute) && w.minute[i].Before(minuteCutoff) {
		i++
	}
	w.minute = w.minute[i:]

	hourCutoff := now.Add(-time.Hour)
	i = 0
	for i < len(w.hour) && w.hour[i].Before(hourCutoff) {
		i++
	}
	w.hour = w.hour[i:]
}

// ceilings are the configured request limits, swapped as a unit on reload.
type ceilings struct {
	rpm   int
	rph   int
	burst int
}

// Limiter enforces per-caller request ceilings over sliding minute and hour
// windows, with a burst cap inside the minute window. A check and its
// recording happen atomically under the caller's lock, so two racing
// requests from the same caller can never both slip past the ceiling.
type Limiter struct {
	limits   atomic.Pointer[ceilings]
	adaptive bool

	mu      sync.RWMutex
	callers map[string]*window

	// load and multiplier are float64 bit patterns for lock-free reads on
	// the admission path.
	load       atomic.Uint64
	multiplier atomic.Uint64

	now func() time.Time // injectable for tests
}

// New creates a Limiter with the given ceilings. When adaptive is true,
// UpdateLoad scales the rpm/rph ceilings with system load.
func New(rpm, rph, burst int, adaptive bool) *Limiter {
	l := &Limiter{
		adaptive: adaptive,
		callers:  make(map[string]*window),
		now:      time.Now,
	}
	l.limits.Store(&ceilings{rpm: rpm, rph: rph, burst: burst})
	l.multiplier.Store(math.Float64bits(1.0))
	return l
}

// SetLimits replaces the configured ceilings. Existing caller windows are
// kept, so a lowered ceiling takes effect on the very next admission check.
func (l *Limiter) SetLimits(rpm, rph, burst int) {
	l.limits.Store(&ceilings{rpm: rpm, rph: rph, burst: burst})
	log.Info().Int("rpm", rpm).Int("rph", rph).Int("burst", burst).Msg("rate limit ceilings updated")
}

// Admit checks the caller against the burst, per-minute, and per-hour
// ceilings in that order, recording the request only when every check
// passes. Denials leave the caller's windows untouched and report which
// ceiling denied plus a retry-after derived from the oldest timestamp of
// the denying window.
func (l *Limiter) Admit(callerID string) Decision {
	now := l.now()
	w := l.getOrCreateWindow(callerID)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)

	lim := l.limits.Load()
	if len(w.minute) >= lim.burst {
		d := Decision{RetryAfter: retryAfter(w.minute, time.Minute, now), Limit: LimitBurst}
		log.Debug().Str("caller", callerID).Str("limit", d.Limit).Msg("request throttled")
		return d
	}

	mult := l.Multiplier()
	if rpmLimit := scaledLimit(lim.rpm, mult); len(w.minute) >= rpmLimit {
		d := Decision{RetryAfter: retryAfter(w.minute, time.Minute, now), Limit: LimitPerMinute}
		log.Debug().Str("caller", callerID).Str("limit", d.Limit).Int("ceiling", rpmLimit).Msg("request throttled")
		return d
	}
	if rphLimit := scaledLimit(lim.rph, mult); len(w.hour) >= rphLimit {
		d := Decision{RetryAfter: retryAfter(w.hour, time.Hour, now), Limit: LimitPerHour}
		log.Debug().Str("caller", callerID).Str("limit", d.Limit).Int("ceiling", rphLimit).Msg("request throttled")
		return d
	}

	w.minute = append(w.minute, now)
	w.hour = append(w.hour, now)
	w.lastRequest = now
	return Decision{Allowed: true}
}

// UpdateLoad records the current system load (0.0 to 1.0) and, when the
// limiter is adaptive, adjusts the ceiling multiplier: heavy load halves
// the ceilings, light load grants 20% headroom.
func (l *Limiter) UpdateLoad(load float64) {
	l.load.Store(math.Float64bits(load))
	if !l.adaptive {
		return
	}

	var mult float64
	switch {
	case load > 0.8:
		mult = 0.5
	case load > 0.6:
		mult = 0.7
	case load < 0.3:
		mult = 1.2
	default:
		mult = 1.0
	}
	old := l.Multiplier()
	l.multiplier.Store(math.Float64bits(mult))
	if mult != old {
		log.Info().Float64("load", load).Float64("multiplier", mult).Msg("adaptive rate limit multiplier updated")
	}
}

// Multiplier returns the current adaptive multiplier.
func (l *Limiter) Multiplier() float64 {
	return math.Float64frombits(l.multiplier.Load())
}

// Load returns the most recently reported system load.
func (l *Limiter) Load() float64 {
	return math.Float64frombits(l.load.Load())
}

// CallerStats reports the current window usage for one caller without
// creating state for unknown callers.
func (l *Limiter) CallerStats(callerID string) CallerStats {
	mult := l.Multiplier()
	lim := l.limits.Load()
	stats := CallerStats{
		CallerID:   callerID,
		RPMLimit:   scaledLimit(lim.rpm, mult),
		RPHLimit:   scaledLimit(lim.rph, mult),
		BurstLimit: lim.burst,
	}

	l.mu.RLock()
	w, ok := l.callers[callerID]
	l.mu.RUnlock()
	if !ok {
		return stats
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(l.now())
	stats.RequestsLastMinute = len(w.minute)
	stats.RequestsLastHour = len(w.hour)
	stats.LastRequest = w.lastRequest
	return stats
}

// Stats reports limiter-wide usage across all callers.
func (l *Limiter) Stats() Stats {
	now := l.now()
	lim := l.limits.Load()
	stats := Stats{
		CurrentLoad:        l.Load(),
		AdaptiveMultiplier: l.Multiplier(),
		RequestsPerMinute:  lim.rpm,
		RequestsPerHour:    lim.rph,
		Burst:              lim.burst,
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, w := range l.callers {
		w.mu.Lock()
		w.prune(now)
		if len(w.minute) > 0 || len(w.hour) > 0 {
			stats.ActiveCallers++
			stats.TotalRequestsLastMinute += len(w.minute)
			stats.TotalRequestsLastHour += len(w.hour)
		}
		w.mu.Unlock()
	}
	return stats
}

// Reset clears all recorded requests for a caller.
func (l *Limiter) Reset(callerID string) {
	l.mu.Lock()
	delete(l.callers, callerID)
	l.mu.Unlock()
	log.Info().Str("caller", callerID).Msg("rate limits reset")
}

// getOrCreateWindow returns the window for a caller, creating one if it
// does not exist yet.
func (l *Limiter) getOrCreateWindow(callerID string) *window {
	l.mu.RLock()
	w, ok := l.callers[callerID]
	l.mu.RUnlock()

	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock.
	if w, ok = l.callers[callerID]; ok {
		return w
	}

	w = &window{}
	l.callers[callerID] = w
	return w
}

// scaledLimit applies the adaptive multiplier to a ceiling, truncating like
// integer math and never dropping below one so a caller cannot be locked
// out with a zero retry-after.
func scaledLimit(limit int, mult float64) int {
	scaled := int(float64(limit) * mult)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

// retryAfter reports how long until the oldest timestamp leaves a window of
// the given length. The window has been pruned, so a non-empty window always
// yields a positive duration.
func retryAfter(window []time.Time, length time.Duration, now time.Time) time.Duration {
	if len(window) == 0 {
		return 0
	}
	d := length - now.Sub(window[0])
	if d < 0 {
		d = 0
	}
	return d
}

// RetryAfterSeconds converts a retry-after duration to whole seconds,
// rounding up so callers never retry early.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
