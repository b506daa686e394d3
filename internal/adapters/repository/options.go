package repository

import "time"

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithLatency delays every call by d, honouring context cancellation.
// Used to exercise the bounded-time paths of callers.
func WithLatency(d time.Duration) Option {
	return func(s *MemoryStore) {
		if d > 0 {
			s.latency = d
		}
	}
}

// WithFixture seeds the store.
func WithFixture(f Fixture) Option {
	return func(s *MemoryStore) {
		s.seed = &f
	}
}
