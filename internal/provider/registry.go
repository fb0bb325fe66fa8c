package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/gateman/internal/router"
)

// Registry holds the configured provider clients by name.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
	}
}

// Register adds a client under its provider name.
func (r *Registry) Register(c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if name == "" {
		return fmt.Errorf("client has no provider name")
	}
	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.clients[name] = c

	log.Info().Str("provider", name).Msg("provider client registered")
	return nil
}

// Get returns the client for the provider, if registered.
func (r *Registry) Get(provider string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[provider]
	return c, ok
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every registered client and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, c := range r.clients {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("provider", name).Msg("error closing provider client")
		}
	}
	r.clients = make(map[string]Client)
}

// ActiveChecker probes registered clients directly, satisfying the health
// monitor's checker interface. Unregistered providers fail the check, which
// the monitor caches as unavailable.
type ActiveChecker struct {
	Registry *Registry
}

// CheckHealth pings the named provider's own endpoint.
func (a ActiveChecker) CheckHealth(ctx context.Context, provider string) (router.HealthSnapshot, error) {
	client, ok := a.Registry.Get(provider)
	if !ok {
		return router.HealthSnapshot{}, fmt.Errorf("no client registered for provider %q", provider)
	}
	return client.CheckHealth(ctx)
}
