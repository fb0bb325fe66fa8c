// Package provider contains the upstream LLM clients: an OpenAI-compatible
// HTTP client, a named client registry, per-provider circuit breakers, and
// the retry primitives the clients share.
package provider

import (
	"context"

	"github.com/allaspectsdev/gateman/internal/router"
)

// Request is a single completion request to one provider.
type Request struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Completion is a provider's answer with its reported token counts.
type Completion struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Client is an upstream LLM provider. Implementations must be safe for
// concurrent use.
type Client interface {
	// Name returns the provider name this client serves.
	Name() string

	// Complete runs one completion request.
	Complete(ctx context.Context, req Request) (*Completion, error)

	// CheckHealth actively probes the provider.
	CheckHealth(ctx context.Context) (router.HealthSnapshot, error)

	// Close releases any held connections.
	Close() error
}
