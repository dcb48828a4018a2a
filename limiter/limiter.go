// Package limiter throttles task dispatch per task type with a
// token-bucket rate limiter (golang.org/x/time/rate) and an
// active-count concurrency gate.
//
// The engine consults the limiter before dispatching a ready task; a
// task that cannot acquire a slot stays pending and is retried on the
// next scheduling pass. Task types without a [Config] have no limits
// beyond the engine's pool-wide concurrency.
package limiter

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines dispatch limits for one task type.
type Config struct {
	// Type is the task type identifier (must match the handler type).
	Type string

	// MaxConcurrency limits how many tasks of this type may run
	// simultaneously. Zero means no type-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained dispatches per second for
	// this type. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// typeState tracks runtime state for a single task type.
type typeState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager enforces per-type rate limits and concurrency caps at
// dispatch time. It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// NewManager creates a Manager with the given type configurations.
// Types not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		types: make(map[string]*typeState, len(configs)),
	}
	for _, cfg := range configs {
		m.types[cfg.Type] = newTypeState(cfg)
	}
	return m
}

func newTypeState(cfg Config) *typeState {
	ts := &typeState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Acquire checks rate and concurrency limits for the given task type.
// If dispatch is allowed it increments the active counter and returns
// true. The caller MUST call Release when the task finishes.
func (m *Manager) Acquire(taskType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.types[taskType]
	if ts == nil {
		return true
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
		return false
	}
	ts.active++
	return true
}

// Release decrements the active count for the task type.
func (m *Manager) Release(taskType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.types[taskType]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetConfig dynamically updates (or creates) a type configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.types[cfg.Type]
	ts := newTypeState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	m.types[cfg.Type] = ts
}

// ActiveCount returns the current number of active tasks for a type.
func (m *Manager) ActiveCount(taskType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.types[taskType]; ts != nil {
		return ts.active
	}
	return 0
}
