package gateway

import (
	"fmt"
	"time"
)

// ValidationError reports a request field that failed validation before any
// admission or routing work was done.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// MalformedRequirementsError reports a requirements map the gateway refuses
// to guess about: an unknown key or a value of the wrong type.
type MalformedRequirementsError struct {
	Key    string
	Reason string
}

func (e *MalformedRequirementsError) Error() string {
	return fmt.Sprintf("malformed requirement %q: %s", e.Key, e.Reason)
}

// RateLimitError reports a denied admission. RetryAfter is the wait until the
// binding window frees a slot.
type RateLimitError struct {
	CallerID   string
	Limit      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for caller %q (%s limit), retry in %s",
		e.CallerID, e.Limit, e.RetryAfter.Round(time.Millisecond))
}

// ProviderError wraps the failure of a single provider attempt.
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed for model %s: %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AllProvidersFailedError reports an exhausted candidate list. Attempts counts
// only dispatched calls; candidates skipped by an open circuit or a missing
// client do not count.
type AllProvidersFailedError struct {
	Model    string
	Attempts int
	LastErr  error
}

func (e *AllProvidersFailedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("all providers failed for model %q after %d attempts: %v",
			e.Model, e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("all providers failed for model %q after %d attempts", e.Model, e.Attempts)
}

func (e *AllProvidersFailedError) Unwrap() error { return e.LastErr }
