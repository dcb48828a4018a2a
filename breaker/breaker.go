// Package breaker protects external dependencies from cascading
// failures. One Breaker guards one dependency key; a Registry hands out
// breakers keyed by the task type (or an explicit override).
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
)

// State of a circuit.
type State string

const (
	// Closed is normal operation; calls pass through.
	Closed State = "closed"
	// Open rejects calls without invoking the dependency.
	Open State = "open"
	// HalfOpen admits a single probe call to test recovery.
	HalfOpen State = "half_open"
)

// Stats is a snapshot of a breaker's counters.
type Stats struct {
	Key             string
	State           State
	TotalCalls      uint64
	TotalFailures   uint64
	TotalRejections uint64
	// ConsecutiveFailures resets on any success.
	ConsecutiveFailures int
	LastFailure         time.Time
}

// Breaker is a circuit breaker for one dependency key.
// Safe for concurrent use.
type Breaker struct {
	key     string
	failMax int
	timeout time.Duration
	logger  *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool

	totalCalls      uint64
	totalFailures   uint64
	totalRejections uint64
}

func newBreaker(key string, failMax int, timeout time.Duration, logger *slog.Logger) *Breaker {
	return &Breaker{
		key:     key,
		failMax: failMax,
		timeout: timeout,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		state:   Closed,
	}
}

// Do runs fn under the circuit. When the circuit is open and the
// recovery timeout has not elapsed, fn is not invoked and Do returns an
// error wrapping orchestrate.ErrCircuitOpen. Context cancellation
// inside fn counts as a failure only if fn reports it.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// admit decides whether a call may proceed, moving Open→HalfOpen when
// the recovery timeout has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++

	if b.state == Open && b.now().Sub(b.lastFailure) >= b.timeout {
		b.state = HalfOpen
		b.probing = false
		b.logger.Info("circuit half-open, probing", "key", b.key)
	}

	switch b.state {
	case Open:
		b.totalRejections++
		return orchestrate.ErrCircuitOpen
	case HalfOpen:
		// One probe at a time.
		if b.probing {
			b.totalRejections++
			return orchestrate.ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state == HalfOpen {
			b.state = Closed
			b.probing = false
			b.logger.Info("circuit recovered", "key", b.key)
		}
		return
	}

	b.failures++
	b.totalFailures++
	b.lastFailure = b.now()

	if b.state == HalfOpen {
		b.state = Open
		b.probing = false
		b.logger.Warn("circuit probe failed, reopening", "key", b.key)
		return
	}
	if b.failures >= b.failMax {
		b.state = Open
		b.logger.Warn("circuit opened",
			"key", b.key,
			"consecutive_failures", b.failures,
			"timeout", b.timeout,
		)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Key:                 b.key,
		State:               b.state,
		TotalCalls:          b.totalCalls,
		TotalFailures:       b.totalFailures,
		TotalRejections:     b.totalRejections,
		ConsecutiveFailures: b.failures,
		LastFailure:         b.lastFailure,
	}
}

// Reset closes the circuit and clears consecutive failures. Lifetime
// counters are preserved.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probing = false
	b.lastFailure = time.Time{}
	b.logger.Info("circuit manually reset", "key", b.key)
}
