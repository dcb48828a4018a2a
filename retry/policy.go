// Package retry decides whether and when a failed task attempt should
// be re-dispatched. Policies are value types and safe for concurrent use.
package retry

import (
	"math"
	"math/rand/v2"
	"time"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
)

// Jitter bounds for retry delays. The computed delay is multiplied by a
// uniform random factor in [jitterMin, jitterMax] so that tasks failing
// together do not re-dispatch together.
const (
	jitterMin = 0.8
	jitterMax = 1.2
)

// Policy configures retry behavior for a task definition.
// The zero value permits a single attempt and never retries.
type Policy struct {
	// MaxAttempts is the total number of executions allowed, including
	// the first. Values <= 1 disable retries.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`

	// Multiplier grows the delay exponentially per attempt. Values < 1
	// are treated as 1 (constant delay).
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`

	// MaxDelay caps the computed delay. Zero means no cap.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// RetryableKinds lists the error kinds eligible for retry. Failures
	// of any other kind exhaust immediately. An empty list retries
	// nothing.
	RetryableKinds []orchestrate.ErrorKind `json:"retryable_kinds" yaml:"retryable_kinds"`
}

// DefaultPolicy returns the engine default: 3 attempts, exponential
// backoff from 1s capped at 1m, retrying handler, timeout, and
// circuit-open failures.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    time.Minute,
		RetryableKinds: []orchestrate.ErrorKind{
			orchestrate.KindHandler,
			orchestrate.KindTimeout,
			orchestrate.KindCircuitOpen,
		},
	}
}

// Retryable reports whether failures of the given kind are eligible
// for retry under this policy.
func (p Policy) Retryable(kind orchestrate.ErrorKind) bool {
	for _, k := range p.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Delay returns the jittered backoff before retry attempt n (1-indexed:
// attempt 1 is the first retry after the initial failure).
// Delay = min(BaseDelay * Multiplier^(attempt-1), MaxDelay), perturbed
// by a uniform factor in [0.8, 1.2].
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	factor := jitterMin + rand.Float64()*(jitterMax-jitterMin) //nolint:gosec // jitter intentionally uses non-crypto rand
	return time.Duration(d * factor)
}

// Decision is the outcome of evaluating a failed attempt.
type Decision struct {
	// Retry is true when the task should be re-dispatched.
	Retry bool
	// NotBefore is the earliest time the next attempt may start.
	// Meaningful only when Retry is true.
	NotBefore time.Time
}

// Decide evaluates a failure of the given kind on the given attempt
// number (1-indexed, the attempt that just failed). It returns a retry
// decision with a jittered not-before timestamp, or an exhaust decision
// when the kind is not retryable or attempts are spent.
func (p Policy) Decide(attempt int, kind orchestrate.ErrorKind, now time.Time) Decision {
	if !p.Retryable(kind) {
		return Decision{}
	}
	if attempt >= p.MaxAttempts {
		return Decision{}
	}

	return Decision{
		Retry:     true,
		NotBefore: now.Add(p.Delay(attempt)),
	}
}
