package testutil

import (
	"context"
	"sync"

	"github.com/allaspectsdev/gateman/internal/provider"
	"github.com/allaspectsdev/gateman/internal/router"
)

// StubClient is a scripted provider client. Without a Respond function it
// answers every completion with a fixed payload, so tests can assert on
// routing decisions without real upstreams.
type StubClient struct {
	// Provider is the name reported to the registry and the monitor.
	Provider string
	// Respond overrides the canned completion when set.
	Respond func(req provider.Request) (*provider.Completion, error)

	mu    sync.Mutex
	calls int
	last  provider.Request
}

// NewStubClient returns an always-healthy stub for the named provider.
func NewStubClient(name string) *StubClient {
	return &StubClient{Provider: name}
}

func (s *StubClient) Name() string { return s.Provider }

func (s *StubClient) Complete(_ context.Context, req provider.Request) (*provider.Completion, error) {
	s.mu.Lock()
	s.calls++
	s.last = req
	s.mu.Unlock()
	if s.Respond != nil {
		return s.Respond(req)
	}
	return &provider.Completion{Text: "answer from " + s.Provider, TokensIn: 10, TokensOut: 20}, nil
}

func (s *StubClient) CheckHealth(context.Context) (router.HealthSnapshot, error) {
	return router.HealthSnapshot{Provider: s.Provider, Available: true, SuccessRate: 1}, nil
}

func (s *StubClient) Close() error { return nil }

// CallCount reports how many completions the stub has served.
func (s *StubClient) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastRequest returns the most recent request dispatched to the stub.
func (s *StubClient) LastRequest() provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
