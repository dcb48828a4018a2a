package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// Registry hands out one Breaker per dependency key, creating them
// lazily with the registry's defaults. Safe for concurrent use.
type Registry struct {
	failMax int
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// Option configures a Registry.
type Option func(*Registry)

// WithFailMax sets the consecutive-failure threshold that opens a
// circuit.
func WithFailMax(n int) Option {
	return func(r *Registry) { r.failMax = n }
}

// WithTimeout sets how long an open circuit waits before probing.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a Registry. Defaults: 5 consecutive failures,
// 60s recovery timeout.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		failMax:  5,
		timeout:  time.Minute,
		logger:   slog.Default(),
		breakers: make(map[string]*Breaker),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = newBreaker(key, r.failMax, r.timeout, r.logger)
		r.breakers[key] = b
	}
	return b
}

// Stats returns snapshots for all known breakers.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Stats())
	}
	return out
}

// Reset closes the circuit for key if it exists.
func (r *Registry) Reset(key string) {
	r.mu.Lock()
	b, ok := r.breakers[key]
	r.mu.Unlock()
	if ok {
		b.Reset()
	}
}
