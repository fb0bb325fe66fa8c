package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(rpm, rph, burst int, adaptive bool) (*Limiter, *fakeClock) {
	l := New(rpm, rph, burst, adaptive)
	clock := newFakeClock()
	l.now = clock.Now
	return l, clock
}

func TestAdmit_AllowsUpToBurst(t *testing.T) {
	l, _ := newTestLimiter(10, 100, 3, false)

	for i := 0; i < 3; i++ {
		d := l.Admit("alice")
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	d := l.Admit("alice")
	if d.Allowed {
		t.Fatal("4th request should be denied by burst limit")
	}
	if d.Limit != LimitBurst {
		t.Errorf("Limit: got %q, want %q", d.Limit, LimitBurst)
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter should be positive, got %v", d.RetryAfter)
	}
}

func TestAdmit_PerMinuteCeiling(t *testing.T) {
	l, clock := newTestLimiter(5, 1000, 100, false)

	// Spread requests so the burst cap (100) is irrelevant.
	for i := 0; i < 5; i++ {
		if d := l.Admit("bob"); !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		clock.Advance(time.Second)
	}

	d := l.Admit("bob")
	if d.Allowed {
		t.Fatal("6th request within a minute should be denied")
	}
	if d.Limit != LimitPerMinute {
		t.Errorf("Limit: got %q, want %q", d.Limit, LimitPerMinute)
	}
}

func TestAdmit_PerHourCeiling(t *testing.T) {
	l, clock := newTestLimiter(1000, 5, 1000, false)

	// Spread requests beyond the minute window so only the hour ceiling bites.
	for i := 0; i < 5; i++ {
		if d := l.Admit("carol"); !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		clock.Advance(2 * time.Minute)
	}

	d := l.Admit("carol")
	if d.Allowed {
		t.Fatal("6th request within an hour should be denied")
	}
	if d.Limit != LimitPerHour {
		t.Errorf("Limit: got %q, want %q", d.Limit, LimitPerHour)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Hour {
		t.Errorf("RetryAfter out of range: %v", d.RetryAfter)
	}
}

func TestAdmit_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(10, 100, 2, false)

	l.Admit("dave")
	clock.Advance(10 * time.Second)
	l.Admit("dave")

	if d := l.Admit("dave"); d.Allowed {
		t.Fatal("3rd request should be denied by burst limit")
	}

	// After the first timestamp leaves the minute window a slot frees up.
	clock.Advance(51 * time.Second)
	if d := l.Admit("dave"); !d.Allowed {
		t.Fatalf("request after window slide should be allowed, denied by %q", d.Limit)
	}
}

func TestAdmit_RetryAfterExact(t *testing.T) {
	l, clock := newTestLimiter(10, 100, 2, false)

	l.Admit("erin")
	clock.Advance(20 * time.Second)
	l.Admit("erin")

	d := l.Admit("erin")
	if d.Allowed {
		t.Fatal("expected denial")
	}
	// Oldest request is 20s old; the minute window frees it in 40s.
	if d.RetryAfter != 40*time.Second {
		t.Errorf("RetryAfter: got %v, want 40s", d.RetryAfter)
	}
}

func TestAdmit_DenialDoesNotConsume(t *testing.T) {
	l, _ := newTestLimiter(10, 100, 3, false)

	for i := 0; i < 3; i++ {
		l.Admit("frank")
	}
	for i := 0; i < 5; i++ {
		if d := l.Admit("frank"); d.Allowed {
			t.Fatal("expected denial")
		}
	}

	stats := l.CallerStats("frank")
	if stats.RequestsLastMinute != 3 {
		t.Errorf("denied requests should not be recorded: got %d, want 3", stats.RequestsLastMinute)
	}
}

func TestAdmit_CallersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(10, 100, 2, false)

	l.Admit("grace")
	l.Admit("grace")
	if d := l.Admit("grace"); d.Allowed {
		t.Fatal("grace should be throttled")
	}

	if d := l.Admit("heidi"); !d.Allowed {
		t.Fatal("heidi should not be affected by grace's limit")
	}
}

func TestUpdateLoad_MultiplierThresholds(t *testing.T) {
	tests := []struct {
		load float64
		want float64
	}{
		{0.9, 0.5},
		{0.81, 0.5},
		{0.7, 0.7},
		{0.61, 0.7},
		{0.5, 1.0},
		{0.3, 1.0},
		{0.29, 1.2},
		{0.1, 1.2},
	}

	for _, tt := range tests {
		l, _ := newTestLimiter(60, 1000, 10, true)
		l.UpdateLoad(tt.load)
		if got := l.Multiplier(); got != tt.want {
			t.Errorf("UpdateLoad(%.2f): multiplier got %.1f, want %.1f", tt.load, got, tt.want)
		}
	}
}

func TestUpdateLoad_ScalesCeiling(t *testing.T) {
	l, clock := newTestLimiter(10, 1000, 100, true)
	l.UpdateLoad(0.9) // multiplier 0.5, effective rpm 5

	for i := 0; i < 5; i++ {
		if d := l.Admit("ivan"); !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		clock.Advance(time.Second)
	}
	d := l.Admit("ivan")
	if d.Allowed || d.Limit != LimitPerMinute {
		t.Errorf("expected rpm denial under load, got allowed=%v limit=%q", d.Allowed, d.Limit)
	}
}

func TestUpdateLoad_IgnoredWhenNotAdaptive(t *testing.T) {
	l, _ := newTestLimiter(60, 1000, 10, false)
	l.UpdateLoad(0.9)
	if got := l.Multiplier(); got != 1.0 {
		t.Errorf("non-adaptive multiplier: got %.1f, want 1.0", got)
	}
	if got := l.Load(); got != 0.9 {
		t.Errorf("load should still be recorded: got %.1f", got)
	}
}

func TestScaledLimit_FloorsAtOne(t *testing.T) {
	if got := scaledLimit(1, 0.5); got != 1 {
		t.Errorf("scaledLimit(1, 0.5): got %d, want 1", got)
	}
	if got := scaledLimit(60, 0.5); got != 30 {
		t.Errorf("scaledLimit(60, 0.5): got %d, want 30", got)
	}
	if got := scaledLimit(60, 1.2); got != 72 {
		t.Errorf("scaledLimit(60, 1.2): got %d, want 72", got)
	}
}

func TestSetLimits_TakesEffectImmediately(t *testing.T) {
	l, _ := newTestLimiter(60, 1000, 10, false)

	l.Admit("nina")
	l.Admit("nina")

	l.SetLimits(60, 1000, 2)
	if d := l.Admit("nina"); d.Allowed {
		t.Fatal("lowered burst ceiling should deny the 3rd request")
	}

	l.SetLimits(60, 1000, 5)
	if d := l.Admit("nina"); !d.Allowed {
		t.Fatalf("raised ceiling should admit, denied by %q", d.Limit)
	}

	stats := l.Stats()
	if stats.RequestsPerMinute != 60 || stats.Burst != 5 {
		t.Errorf("Stats should report new ceilings: %+v", stats)
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(10, 100, 2, false)

	l.Admit("judy")
	l.Admit("judy")
	if d := l.Admit("judy"); d.Allowed {
		t.Fatal("judy should be throttled")
	}

	l.Reset("judy")
	if d := l.Admit("judy"); !d.Allowed {
		t.Fatal("judy should be admitted after reset")
	}
}

func TestCallerStats(t *testing.T) {
	l, _ := newTestLimiter(60, 1000, 10, false)

	l.Admit("kim")
	l.Admit("kim")

	stats := l.CallerStats("kim")
	if stats.RequestsLastMinute != 2 {
		t.Errorf("RequestsLastMinute: got %d, want 2", stats.RequestsLastMinute)
	}
	if stats.RequestsLastHour != 2 {
		t.Errorf("RequestsLastHour: got %d, want 2", stats.RequestsLastHour)
	}
	if stats.RPMLimit != 60 || stats.RPHLimit != 1000 || stats.BurstLimit != 10 {
		t.Errorf("limits: got rpm=%d rph=%d burst=%d", stats.RPMLimit, stats.RPHLimit, stats.BurstLimit)
	}
	if stats.LastRequest.IsZero() {
		t.Error("LastRequest should be set")
	}
}

func TestCallerStats_UnknownCallerCreatesNoState(t *testing.T) {
	l, _ := newTestLimiter(60, 1000, 10, false)

	stats := l.CallerStats("nobody")
	if stats.RequestsLastMinute != 0 || stats.RequestsLastHour != 0 {
		t.Errorf("unknown caller should report zero usage: %+v", stats)
	}

	l.mu.RLock()
	_, exists := l.callers["nobody"]
	l.mu.RUnlock()
	if exists {
		t.Error("CallerStats should not create caller state")
	}
}

func TestStats(t *testing.T) {
	l, _ := newTestLimiter(60, 1000, 10, true)

	l.Admit("lee")
	l.Admit("lee")
	l.Admit("max")
	l.UpdateLoad(0.2)

	stats := l.Stats()
	if stats.ActiveCallers != 2 {
		t.Errorf("ActiveCallers: got %d, want 2", stats.ActiveCallers)
	}
	if stats.TotalRequestsLastMinute != 3 {
		t.Errorf("TotalRequestsLastMinute: got %d, want 3", stats.TotalRequestsLastMinute)
	}
	if stats.AdaptiveMultiplier != 1.2 {
		t.Errorf("AdaptiveMultiplier: got %.1f, want 1.2", stats.AdaptiveMultiplier)
	}
	if stats.RequestsPerMinute != 60 || stats.RequestsPerHour != 1000 || stats.Burst != 10 {
		t.Errorf("configured limits: %+v", stats)
	}
}

func TestAdmit_ConcurrentSameCallerNeverExceedsCeiling(t *testing.T) {
	l, _ := newTestLimiter(1000, 10000, 10, false)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := l.Admit("shared"); d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 10 {
		t.Errorf("concurrent admissions: got %d allowed, want exactly 10", got)
	}
}

func TestAdmit_ConcurrentDistinctCallers(t *testing.T) {
	l, _ := newTestLimiter(60, 1000, 10, false)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			for j := 0; j < 5; j++ {
				l.Admit(id)
			}
		}(i)
	}
	wg.Wait()

	stats := l.Stats()
	if stats.ActiveCallers != 20 {
		t.Errorf("ActiveCallers: got %d, want 20", stats.ActiveCallers)
	}
	if stats.TotalRequestsLastMinute != 100 {
		t.Errorf("TotalRequestsLastMinute: got %d, want 100", stats.TotalRequestsLastMinute)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{500 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{40 * time.Second, 40},
	}
	for _, tt := range tests {
		if got := RetryAfterSeconds(tt.d); got != tt.want {
			t.Errorf("RetryAfterSeconds(%v): got %d, want %d", tt.d, got, tt.want)
		}
	}
}
