package provider

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// RetryPolicy bounds the transient-error retries inside a single Complete
// call. Retries never extend beyond the one provider being attempted;
// failover across providers is the orchestrator's job.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// nextDelay picks the wait before the retry following attempt (zero-based):
// the provider's Retry-After hint when it gave one, otherwise jittered
// exponential backoff.
func (p RetryPolicy) nextDelay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	return p.backoff(attempt)
}

// backoff grows BaseDelay exponentially with the attempt number, caps the
// result at MaxDelay, then draws uniformly from [0, cap) so clients that
// failed together do not retry together.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	ceil := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	if ceil > p.MaxDelay {
		ceil = p.MaxDelay
	}
	if ceil <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceil)))
}

// isRetryableStatus reports whether the HTTP status code indicates a
// transient condition that may clear on retry.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// parseRetryAfter interprets a Retry-After header value, either delta
// seconds or an HTTP-date. Absent, malformed, or already-elapsed values
// come back as 0.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// sleepWithContext sleeps for d, returning early with ctx.Err() if the
// context is cancelled first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
