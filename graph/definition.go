// Package graph defines the immutable task graph model: workflow
// definitions, task definitions, dependency validation, and the
// precomputed adjacency used by the scheduler and compensator.
package graph

import (
	"time"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/retry"
)

// FailurePolicy selects how a workflow reacts when a task exhausts its
// retries.
type FailurePolicy string

const (
	// FailFast terminates the workflow with status Failed.
	FailFast FailurePolicy = "fail-fast"
	// Compensate runs saga compensations for succeeded predecessors in
	// reverse topological order.
	Compensate FailurePolicy = "compensate"
)

// TaskDefinition describes one task within a workflow definition.
// Task IDs are author-assigned names unique within the graph.
// Definitions are immutable once the graph is compiled.
type TaskDefinition struct {
	// ID uniquely identifies the task within its graph.
	ID string `json:"id" yaml:"id"`

	// Type names the handler that executes this task. It doubles as the
	// circuit-breaker dependency key unless BreakerKey overrides it.
	Type string `json:"type" yaml:"type"`

	// Payload is opaque to the engine and passed to the handler verbatim.
	Payload []byte `json:"payload,omitempty" yaml:"payload,omitempty"`

	// Predecessors lists task IDs that must reach Succeeded or Skipped
	// before this task may run.
	Predecessors []string `json:"predecessors,omitempty" yaml:"depends_on,omitempty"`

	// CompensationOf, when non-empty, marks this definition as the
	// compensation body for the referenced task. Compensation tasks are
	// never scheduled during forward execution.
	CompensationOf string `json:"compensation_of,omitempty" yaml:"compensation_of,omitempty"`

	// Retry configures the retry policy for this task's attempts.
	Retry retry.Policy `json:"retry" yaml:"retry"`

	// Timeout bounds a single handler invocation. Zero falls back to the
	// engine default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// IdempotencyKey is a template expanded per invocation; "{workflow}"
	// and "{task}" are replaced with the instance IDs. A prior successful
	// result under the expanded key short-circuits execution.
	IdempotencyKey string `json:"idempotency_key,omitempty" yaml:"idempotency_key,omitempty"`

	// Priority orders dispatch among simultaneously ready tasks: lower
	// values first, insertion order breaks ties.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Branch marks a conditional branching task. Its successful result
	// payload is JSON {"select": ["<task id>", ...]} naming the active
	// direct successors; unnamed successors are skipped.
	Branch bool `json:"branch,omitempty" yaml:"branch,omitempty"`

	// BreakerKey overrides the circuit-breaker dependency key. Empty
	// means the task Type is used.
	BreakerKey string `json:"breaker_key,omitempty" yaml:"breaker_key,omitempty"`
}

// Definition is an immutable directed acyclic graph of task
// definitions. Build one with New, which validates the graph and
// precomputes adjacency; creation fails on cycles or dangling
// references.
type Definition struct {
	orchestrate.Entity

	ID            id.DefinitionID   `json:"id"`
	Name          string            `json:"name"`
	FailurePolicy FailurePolicy     `json:"failure_policy"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Tasks         []TaskDefinition  `json:"tasks"`

	// Priority ranks whole workflows for operators and dashboards.
	// Lower values are more urgent. It does not affect task dispatch
	// order within an instance.
	Priority int `json:"priority,omitempty"`

	// Precomputed by Compile; rebuilt by stores after decode.
	index         map[string]int
	successors    map[string][]string
	compensations map[string]string
}

// Option configures a Definition at construction time.
type Option func(*Definition)

// WithFailurePolicy sets the workflow failure policy.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(d *Definition) { d.FailurePolicy = p }
}

// WithMetadata attaches free-form metadata to the definition.
func WithMetadata(md map[string]string) Option {
	return func(d *Definition) { d.Metadata = md }
}

// WithPriority sets the workflow-level priority rank.
func WithPriority(p int) Option {
	return func(d *Definition) { d.Priority = p }
}

// New builds and validates a workflow definition. It returns an error
// wrapping orchestrate.ErrGraphCycle, orchestrate.ErrDanglingReference,
// or orchestrate.ErrInvalidDefinition when the graph is unsound.
// Validation runs once here, never at instance-run time.
func New(name string, tasks []TaskDefinition, opts ...Option) (*Definition, error) {
	d := &Definition{
		Entity:        orchestrate.NewEntity(),
		ID:            id.NewDefinitionID(),
		Name:          name,
		FailurePolicy: FailFast,
		Tasks:         tasks,
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.Compile(); err != nil {
		return nil, err
	}

	return d, nil
}

// Compile validates the graph and rebuilds the precomputed adjacency.
// Stores call this after decoding a persisted definition.
func (d *Definition) Compile() error {
	if err := validate(d); err != nil {
		return err
	}

	d.index = make(map[string]int, len(d.Tasks))
	d.successors = make(map[string][]string)
	d.compensations = make(map[string]string)

	for i, t := range d.Tasks {
		d.index[t.ID] = i
	}
	// Successor lists follow task insertion order, which keeps dispatch
	// tie-breaking deterministic.
	for _, t := range d.Tasks {
		if t.CompensationOf != "" {
			d.compensations[t.CompensationOf] = t.ID
			continue
		}
		for _, pred := range t.Predecessors {
			d.successors[pred] = append(d.successors[pred], t.ID)
		}
	}

	return nil
}

// Task returns the task definition with the given ID.
func (d *Definition) Task(taskID string) (*TaskDefinition, bool) {
	i, ok := d.index[taskID]
	if !ok {
		return nil, false
	}
	return &d.Tasks[i], true
}

// Successors returns the IDs of forward tasks that list taskID as a
// predecessor, in insertion order.
func (d *Definition) Successors(taskID string) []string {
	return d.successors[taskID]
}

// CompensationFor returns the ID of the compensation task defined for
// taskID, if any.
func (d *Definition) CompensationFor(taskID string) (string, bool) {
	c, ok := d.compensations[taskID]
	return c, ok
}

// IsCompensation reports whether taskID names a compensation body.
func (d *Definition) IsCompensation(taskID string) bool {
	t, ok := d.Task(taskID)
	return ok && t.CompensationOf != ""
}

// ForwardTasks returns the task definitions scheduled during forward
// execution (everything that is not a compensation body), in insertion
// order.
func (d *Definition) ForwardTasks() []TaskDefinition {
	out := make([]TaskDefinition, 0, len(d.Tasks))
	for _, t := range d.Tasks {
		if t.CompensationOf == "" {
			out = append(out, t)
		}
	}
	return out
}
