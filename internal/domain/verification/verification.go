// Package verification defines the identity-check collaborator used by the
// clock-in flow, plus a simulated provider for kiosks without a reader.
package verification

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const (
	defaultMinLatency  = 300 * time.Millisecond
	defaultMaxLatency  = 900 * time.Millisecond
	defaultSuccessRate = 0.9
	defaultRandomSeed  = 42
)

// Request is what the provider needs to decide a match. Capture is opaque.
type Request struct {
	EmployeeID string
	Matricule  string
	Capture    []byte
}

// Provider confirms that a captured artifact belongs to the identified employee.
type Provider interface {
	Verify(ctx context.Context, req Request) (bool, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (bool, error)

func (f ProviderFunc) Verify(ctx context.Context, req Request) (bool, error) { return f(ctx, req) }

// Option applies a configuration option to the SimulatedProvider.
type Option func(*SimulatedProvider)

// WithLatencyRange sets the simulated matching delay.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(p *SimulatedProvider) {
		if minLatency >= 0 && maxLatency > minLatency {
			p.minLatency = minLatency
			p.maxLatency = maxLatency
		}
	}
}

// WithSuccessRate sets the probability of a positive match, clamped to [0,1].
func WithSuccessRate(rate float64) Option {
	return func(p *SimulatedProvider) {
		p.successRate = min(1, max(0, rate))
	}
}

// WithSeed makes the outcomes reproducible.
func WithSeed(seed int64) Option {
	return func(p *SimulatedProvider) {
		p.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // simulation only
	}
}

// SimulatedProvider stands in for a fingerprint reader: it waits a random
// delay then answers with a configured success rate. An empty capture never matches.
type SimulatedProvider struct {
	minLatency  time.Duration
	maxLatency  time.Duration
	successRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedProvider creates a simulated provider.
func NewSimulatedProvider(opts ...Option) *SimulatedProvider {
	p := &SimulatedProvider{
		minLatency:  defaultMinLatency,
		maxLatency:  defaultMaxLatency,
		successRate: defaultSuccessRate,
		rng:         rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic for tests
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Verify implements Provider.
func (p *SimulatedProvider) Verify(ctx context.Context, req Request) (bool, error) {
	p.mu.Lock()
	latency := p.minLatency
	if span := int64(p.maxLatency - p.minLatency); span > 0 {
		latency += time.Duration(p.rng.Int63n(span))
	}
	roll := p.rng.Float64()
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("verification cancelled: %w", ctx.Err())
	case <-time.After(latency):
	}

	if len(req.Capture) == 0 {
		return false, nil
	}
	return roll < p.successRate, nil
}
