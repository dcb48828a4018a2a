// Package saga undoes partially completed workflows. When a task
// exhausts its retries under the compensate failure policy, the
// Compensator walks the succeeded predecessors of the failed task in
// reverse topological order and runs their compensation bodies.
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/event"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/graph"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/runner"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/store"
)

// Plan returns the task IDs to compensate after failedID failed: every
// Succeeded transitive predecessor of the failed task, ordered so that
// a task appears only after all of its dependents in the plan. Tasks
// without compensation bodies are included; they compensate as no-ops
// but still gate the tasks they depend on.
func Plan(def *graph.Definition, inst *instance.Instance, failedID string) []string {
	closure := make(map[string]bool)
	seen := make(map[string]bool)
	var visit func(taskID string)
	visit = func(taskID string) {
		td, ok := def.Task(taskID)
		if !ok {
			return
		}
		for _, pred := range td.Predecessors {
			if seen[pred] {
				continue
			}
			seen[pred] = true
			if t, ok := inst.Task(pred); ok && t.Status == instance.TaskSucceeded {
				closure[pred] = true
			}
			visit(pred)
		}
	}
	visit(failedID)

	// Kahn's algorithm over the closure-induced subgraph, walking
	// against the forward edges: a task is ready once all of its
	// dependents in the closure are already in the plan.
	remaining := make(map[string]int, len(closure))
	for taskID := range closure {
		n := 0
		for _, succ := range def.Successors(taskID) {
			if closure[succ] {
				n++
			}
		}
		remaining[taskID] = n
	}

	order := make([]string, 0, len(closure))
	for len(order) < len(closure) {
		var wave []string
		for taskID, n := range remaining {
			if n == 0 {
				wave = append(wave, taskID)
			}
		}
		sort.Strings(wave)
		for _, taskID := range wave {
			order = append(order, taskID)
			delete(remaining, taskID)
			td, _ := def.Task(taskID)
			for _, pred := range td.Predecessors {
				if _, ok := remaining[pred]; ok {
					remaining[pred]--
				}
			}
		}
	}
	return order
}

// Compensator runs compensation plans. It owns the task transitions of
// the tasks it compensates; the engine owns the instance status.
type Compensator struct {
	store  store.Store
	runner *runner.Runner
	sink   event.Sink
	logger *slog.Logger
}

// Option configures a Compensator.
type Option func(*Compensator)

// WithSink sets the lifecycle event sink.
func WithSink(s event.Sink) Option {
	return func(c *Compensator) { c.sink = s }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compensator) { c.logger = l }
}

// New creates a Compensator.
func New(st store.Store, run *runner.Runner, opts ...Option) *Compensator {
	c := &Compensator{
		store:  st,
		runner: run,
		sink:   event.NopSink,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compensate runs the compensation plan for a failure of failedID,
// sequentially and strictly in plan order. On success every planned
// task ends Compensated and nil is returned. If a compensation body
// exhausts its retries, the plan stops and the error wraps
// orchestrate.ErrCompensationExhausted; the remaining plan is never
// attempted, since re-running compensations risks double side effects.
func (c *Compensator) Compensate(ctx context.Context, def *graph.Definition, inst *instance.Instance, failedID string) error {
	plan := Plan(def, inst, failedID)
	c.logger.InfoContext(ctx, "compensation plan computed",
		"workflow_id", inst.ID, "failed_task", failedID, "plan", plan)

	for _, taskID := range plan {
		if err := c.compensateOne(ctx, def, inst, taskID); err != nil {
			return err
		}
	}
	return nil
}

// compensateOne undoes a single succeeded task: marks it Compensating,
// runs its compensation body to completion (or exhaustion), then marks
// it Compensated.
func (c *Compensator) compensateOne(ctx context.Context, def *graph.Definition, inst *instance.Instance, taskID string) error {
	target, ok := inst.Task(taskID)
	if !ok {
		return fmt.Errorf("saga: %w: %s", orchestrate.ErrTaskNotFound, taskID)
	}

	if err := c.swap(ctx, target, instance.TaskSucceeded, instance.TaskCompensating); err != nil {
		return err
	}
	c.sink.Emit(ctx, event.NewTask(event.CompensationStarted, inst.ID, taskID, 0))

	if compID, ok := def.CompensationFor(taskID); ok {
		if err := c.runBody(ctx, def, inst, target, compID); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	target.FinishedAt = &now
	if err := c.swap(ctx, target, instance.TaskCompensating, instance.TaskCompensated); err != nil {
		return err
	}
	c.sink.Emit(ctx, event.NewTask(event.CompensationFinished, inst.ID, taskID, 0))
	return nil
}

// runBody drives the compensation task record through its attempts,
// retrying under the body's own policy. Exhaustion fails both the body
// and its target.
func (c *Compensator) runBody(ctx context.Context, def *graph.Definition, inst *instance.Instance, target *instance.Task, compID string) error {
	td, ok := def.Task(compID)
	if !ok {
		return fmt.Errorf("saga: %w: %s", orchestrate.ErrTaskNotFound, compID)
	}
	body, ok := inst.Task(compID)
	if !ok {
		return fmt.Errorf("saga: %w: %s", orchestrate.ErrTaskNotFound, compID)
	}

	for {
		if err := c.swap(ctx, body, instance.TaskPending, instance.TaskQueued); err != nil {
			return err
		}

		body.Attempt++
		now := time.Now().UTC()
		body.StartedAt = &now
		if err := c.swap(ctx, body, instance.TaskQueued, instance.TaskRunning); err != nil {
			return err
		}

		res := c.runner.Run(ctx, body, td)
		if res.Err == nil {
			body.Result = res.Output
			body.LastError = nil
			body.FinishedAt = &res.FinishedAt
			return c.swap(ctx, body, instance.TaskRunning, instance.TaskSucceeded)
		}

		body.LastError = &instance.TaskError{Kind: res.Kind, Message: res.Err.Error()}
		decision := td.Retry.Decide(body.Attempt, res.Kind, time.Now().UTC())
		if !decision.Retry {
			body.FinishedAt = &res.FinishedAt
			if err := c.swap(ctx, body, instance.TaskRunning, instance.TaskFailed); err != nil {
				return err
			}
			target.LastError = &instance.TaskError{
				Kind:    orchestrate.KindCompensation,
				Message: res.Err.Error(),
			}
			if err := c.swap(ctx, target, instance.TaskCompensating, instance.TaskFailed); err != nil {
				return err
			}
			return fmt.Errorf("saga: compensate %s: %w", target.DefinitionID, orchestrate.ErrCompensationExhausted)
		}

		body.NotBefore = decision.NotBefore
		if err := c.swap(ctx, body, instance.TaskRunning, instance.TaskPending); err != nil {
			return err
		}
		c.sink.Emit(ctx, event.NewTask(event.TaskRetrying, inst.ID, compID, body.Attempt))
		if err := sleepUntil(ctx, decision.NotBefore); err != nil {
			return err
		}
	}
}

// swap persists a task transition through the store's compare-and-swap.
func (c *Compensator) swap(ctx context.Context, t *instance.Task, from, to instance.TaskStatus) error {
	t.Status = to
	if err := c.store.CompareAndSwapTask(ctx, t.WorkflowID, t.DefinitionID, from, t); err != nil {
		t.Status = from
		return fmt.Errorf("saga: %s %s->%s: %w", t.DefinitionID, from, to, err)
	}
	return nil
}

func sleepUntil(ctx context.Context, at time.Time) error {
	d := time.Until(at)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
