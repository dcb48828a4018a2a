// Package engine drives workflow instances end to end: it plans with
// the scheduler, dispatches through the runner, routes failures to
// retry or saga compensation, and persists every transition before
// taking the next step. Because persistence precedes progress, a
// crashed loop resumes by reloading the instance and re-entering at
// the planning step.
//
// Dispatch is continuous: every task completion wakes the loop to
// re-plan, so independent branches never wait on each other.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/event"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/graph"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/limiter"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/runner"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/saga"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/scheduler"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/store"
)

// Engine runs workflow control loops. One Engine serves many
// instances; each instance is driven by exactly one Run call.
type Engine struct {
	store  store.Store
	runner *runner.Runner
	comp   *saga.Compensator
	limits *limiter.Manager
	sink   event.Sink
	cfg    orchestrate.Config
	logger *slog.Logger

	mu      sync.Mutex
	handles map[string]*handle

	// emitMu serializes sink calls so events keep the order their
	// transitions were persisted in, even across concurrent tasks.
	emitMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig overrides the default engine configuration.
func WithConfig(cfg orchestrate.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithSink sets the lifecycle event sink.
func WithSink(s event.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLimits sets the per-task-type dispatch limiter.
func WithLimits(m *limiter.Manager) Option {
	return func(e *Engine) { e.limits = m }
}

// WithCompensator overrides the default saga compensator.
func WithCompensator(c *saga.Compensator) Option {
	return func(e *Engine) { e.comp = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over the given store and task runner.
func New(st store.Store, run *runner.Runner, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		runner:  run,
		sink:    event.NopSink,
		cfg:     orchestrate.DefaultConfig(),
		logger:  slog.Default(),
		handles: make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.comp == nil {
		e.comp = saga.New(st, run, saga.WithSink(e.sink), saga.WithLogger(e.logger))
	}
	return e
}

// handle carries the external control state of one running loop.
type handle struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
	stop      context.CancelFunc
	wake      chan struct{}
}

func (h *handle) notify() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// bind attaches the loop's task-context cancel func. A cancel that
// raced ahead of the bind fires immediately.
func (h *handle) bind(stop context.CancelFunc) {
	h.mu.Lock()
	h.stop = stop
	cancelled := h.cancelled
	h.mu.Unlock()
	if cancelled {
		stop()
	}
}

func (h *handle) setPaused(v bool) {
	h.mu.Lock()
	h.paused = v
	h.mu.Unlock()
	h.notify()
}

func (h *handle) setCancelled() {
	h.mu.Lock()
	h.cancelled = true
	stop := h.stop
	h.mu.Unlock()
	if stop != nil {
		stop()
	}
	h.notify()
}

func (h *handle) state() (paused, cancelled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused, h.cancelled
}

// wait blocks until woken, the delay elapses, or ctx ends. A
// non-positive delay waits on the wake signal alone.
func (h *handle) wait(ctx context.Context, d time.Duration) error {
	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.wake:
		return nil
	case <-timeout:
		return nil
	}
}

// flight is the state one Run loop shares with the task goroutines it
// launches. rec serializes access to the instance snapshot; mu guards
// the bookkeeping fields.
type flight struct {
	rec sync.Mutex

	mu       sync.Mutex
	active   map[string]struct{}
	conflict bool
	failed   bool

	g errgroup.Group
}

func newFlight() *flight {
	return &flight{active: make(map[string]struct{})}
}

// claim reserves a task for launch; it fails while the task is already
// in the air. A launched task stays Pending in the snapshot until its
// goroutine's first compare-and-swap, so the planner keeps offering it.
func (f *flight) claim(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[taskID]; ok {
		return false
	}
	f.active[taskID] = struct{}{}
	return true
}

func (f *flight) land(taskID string) {
	f.mu.Lock()
	delete(f.active, taskID)
	f.mu.Unlock()
}

func (f *flight) inFlight(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[taskID]
	return ok
}

func (f *flight) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

// flagConflict records a compare-and-swap conflict for the loop to
// resolve with a reload. Conflicts are transient and never cancel or
// fail sibling tasks.
func (f *flight) flagConflict() {
	f.mu.Lock()
	f.conflict = true
	f.mu.Unlock()
}

func (f *flight) takeConflict() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.conflict
	f.conflict = false
	return c
}

func (f *flight) interrupt() {
	f.mu.Lock()
	f.failed = true
	f.mu.Unlock()
}

func (f *flight) interrupted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

func (e *Engine) register(wfID id.WorkflowID) *handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := &handle{wake: make(chan struct{}, 1)}
	e.handles[wfID.String()] = h
	return h
}

func (e *Engine) unregister(wfID id.WorkflowID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handles, wfID.String())
}

func (e *Engine) handle(wfID id.WorkflowID) *handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handles[wfID.String()]
}

// Pause suspends dispatch for a running instance. In-flight tasks run
// to completion; no new tasks are queued until Resume.
func (e *Engine) Pause(wfID id.WorkflowID) error {
	h := e.handle(wfID)
	if h == nil {
		return orchestrate.ErrWorkflowNotFound
	}
	h.setPaused(true)
	return nil
}

// Resume re-enters the dispatch loop of a paused instance.
func (e *Engine) Resume(wfID id.WorkflowID) error {
	h := e.handle(wfID)
	if h == nil {
		return orchestrate.ErrWorkflowNotFound
	}
	h.setPaused(false)
	return nil
}

// Cancel stops an instance. The cancel signal propagates into in-flight
// handler invocations immediately; interrupted tasks end Cancelled with
// their results discarded, remaining tasks are marked Cancelled, and
// the instance ends Cancelled. Compensation does not run.
func (e *Engine) Cancel(wfID id.WorkflowID) error {
	h := e.handle(wfID)
	if h == nil {
		return orchestrate.ErrWorkflowNotFound
	}
	h.setCancelled()
	return nil
}

// Wake nudges a loop to re-plan immediately, after an operator edit
// such as retry-task or skip-task.
func (e *Engine) Wake(wfID id.WorkflowID) {
	if h := e.handle(wfID); h != nil {
		h.notify()
	}
}

// Running reports whether the engine currently drives the instance.
func (e *Engine) Running(wfID id.WorkflowID) bool {
	return e.handle(wfID) != nil
}

// Run drives one instance to a terminal status. It blocks until the
// instance terminates or ctx ends, and must be called at most once per
// instance at a time; the store's compare-and-swap rejects competing
// drivers.
func (e *Engine) Run(ctx context.Context, def *graph.Definition, inst *instance.Instance) error {
	h := e.register(inst.ID)
	defer e.unregister(inst.ID)

	// taskCtx carries the cancel signal into handler invocations:
	// Cancel cancels it directly, so in-flight handlers stop without
	// waiting for a loop pass. Non-cooperative handlers are abandoned
	// by the runner after the grace period.
	taskCtx, stopTasks := context.WithCancel(ctx)
	h.bind(stopTasks)

	fl := newFlight()
	defer func() {
		stopTasks()
		fl.g.Wait() //nolint:errcheck // drain only; errors already routed
	}()

	if inst.Status == instance.StatusPending {
		now := time.Now().UTC()
		inst.Status = instance.StatusRunning
		inst.StartedAt = &now
		if err := e.store.UpdateInstance(ctx, inst); err != nil {
			return fmt.Errorf("engine: start %s: %w", inst.ID, err)
		}
		e.emit(ctx, event.New(event.WorkflowStarted, inst.ID))
	}
	if inst.Status == instance.StatusPaused {
		h.setPaused(true)
	}

	if err := e.recoverInFlight(ctx, inst); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if fl.interrupted() {
			stopTasks()
			return fl.g.Wait()
		}

		paused, cancelled := h.state()
		if cancelled {
			if fl.count() > 0 {
				// Interrupted tasks settle before the sweep.
				if err := h.wait(ctx, e.cfg.PollInterval); err != nil {
					return err
				}
				continue
			}
			return e.cancel(ctx, def, inst)
		}
		if paused {
			if inst.Status != instance.StatusPaused {
				fl.rec.Lock()
				inst.Status = instance.StatusPaused
				err := e.store.UpdateInstance(ctx, inst)
				fl.rec.Unlock()
				if err != nil {
					return fmt.Errorf("engine: pause %s: %w", inst.ID, err)
				}
				e.emit(ctx, event.New(event.WorkflowPaused, inst.ID))
			}
			if err := h.wait(ctx, 0); err != nil {
				return err
			}
			continue
		}
		if inst.Status == instance.StatusPaused {
			fl.rec.Lock()
			inst.Status = instance.StatusRunning
			err := e.store.UpdateInstance(ctx, inst)
			fl.rec.Unlock()
			if err != nil {
				return fmt.Errorf("engine: resume %s: %w", inst.ID, err)
			}
			e.emit(ctx, event.New(event.WorkflowResumed, inst.ID))
		}

		if fl.takeConflict() {
			if err := e.reload(ctx, inst, fl); err != nil {
				return err
			}
		}

		fl.rec.Lock()
		plan := scheduler.Plan(def, inst, time.Now().UTC(), e.cfg.MaxInFlight)
		conflicted, skipErr := e.applySkips(ctx, inst, plan.Skip)
		outcome, finished := scheduler.Outcome(def, inst)
		var failMsg string
		if finished && outcome == instance.StatusFailed {
			if t := firstFailed(def, inst); t != nil && t.LastError != nil {
				failMsg = t.LastError.Message
			}
		}
		fl.rec.Unlock()

		if skipErr != nil {
			return skipErr
		}
		if conflicted {
			if err := e.reload(ctx, inst, fl); err != nil {
				return err
			}
			continue
		}

		if finished {
			if fl.count() > 0 {
				// Terminal actions run quiescent; late completions
				// re-plan.
				if err := h.wait(ctx, e.cfg.PollInterval); err != nil {
					return err
				}
				continue
			}
			switch outcome {
			case instance.StatusCompensating:
				return e.compensate(ctx, def, inst)
			case instance.StatusCancelled:
				return e.finish(ctx, inst, instance.StatusCancelled, event.WorkflowCancelled)
			case instance.StatusFailed:
				if failMsg != "" {
					inst.Error = failMsg
				}
				return e.finish(ctx, inst, instance.StatusFailed, event.WorkflowFailed)
			default:
				return e.finish(ctx, inst, instance.StatusCompleted, event.WorkflowCompleted)
			}
		}

		for _, taskID := range plan.Dispatch {
			if e.cfg.MaxInFlight > 0 && fl.count() >= e.cfg.MaxInFlight {
				break
			}
			td, ok := def.Task(taskID)
			if !ok {
				return fmt.Errorf("engine: %w: %s", orchestrate.ErrTaskNotFound, taskID)
			}
			t, ok := inst.Task(taskID)
			if !ok {
				return fmt.Errorf("engine: %w: %s", orchestrate.ErrTaskNotFound, taskID)
			}
			if !fl.claim(taskID) {
				continue // already in the air
			}
			if e.limits != nil && !e.limits.Acquire(td.Type) {
				fl.land(taskID)
				continue // stays Pending; the next pass retries
			}
			fl.g.Go(func() error {
				defer h.notify()
				defer fl.land(taskID)
				defer func() {
					if e.limits != nil {
						e.limits.Release(td.Type)
					}
				}()
				err := e.runTask(ctx, taskCtx, fl, td, t)
				if err != nil {
					fl.interrupt()
				}
				return err
			})
		}

		// Block until a task lands or the poll interval elapses. Retry
		// delays, limiter backoff, and completions all funnel through
		// here.
		if err := h.wait(ctx, e.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// recoverInFlight returns tasks left Queued or Running by a crashed
// process to Pending. Their attempt count stands; idempotency replay
// guards against double execution.
func (e *Engine) recoverInFlight(ctx context.Context, inst *instance.Instance) error {
	for _, t := range inst.Tasks {
		switch t.Status {
		case instance.TaskQueued:
			if err := e.swap(ctx, t, instance.TaskQueued, instance.TaskRunning); err != nil {
				return err
			}
			fallthrough
		case instance.TaskRunning:
			if err := e.swap(ctx, t, instance.TaskRunning, instance.TaskPending); err != nil {
				return err
			}
			e.logger.InfoContext(ctx, "recovered in-flight task",
				"workflow_id", inst.ID, "task_id", t.DefinitionID, "attempt", t.Attempt)
		}
	}
	return nil
}

// applySkips persists the planner's skip set. It reports whether a
// compare-and-swap conflict requires a reload instead of failing.
func (e *Engine) applySkips(ctx context.Context, inst *instance.Instance, skips []string) (conflicted bool, err error) {
	for _, taskID := range skips {
		t, ok := inst.Task(taskID)
		if !ok {
			return false, fmt.Errorf("engine: %w: %s", orchestrate.ErrTaskNotFound, taskID)
		}
		if err := e.swap(ctx, t, instance.TaskPending, instance.TaskSkipped); err != nil {
			if errors.Is(err, orchestrate.ErrConcurrentModification) {
				return true, nil
			}
			return false, err
		}
		e.emit(ctx, event.NewTask(event.TaskSkipped, inst.ID, taskID, 0))
	}
	return false, nil
}

// runTask drives one attempt: Pending→Queued→Running, handler
// execution, then Succeeded, a retry re-arm, or Failed. Interrupted
// invocations settle separately. The returned error is fatal to the
// loop; compare-and-swap conflicts are flagged for a reload instead.
func (e *Engine) runTask(ctx, taskCtx context.Context, fl *flight, td *graph.TaskDefinition, t *instance.Task) error {
	// Transition events are emitted while the record lock is held, so
	// sink order always matches persistence order: the loop cannot plan
	// against a transition before its event is out.
	fl.rec.Lock()
	if err := e.swap(ctx, t, instance.TaskPending, instance.TaskQueued); err != nil {
		fl.rec.Unlock()
		return e.conflictOrFail(fl, err)
	}
	e.emit(ctx, event.NewTask(event.TaskQueued, t.WorkflowID, t.DefinitionID, t.Attempt))
	fl.rec.Unlock()

	fl.rec.Lock()
	t.Attempt++
	now := time.Now().UTC()
	t.StartedAt = &now
	t.NotBefore = time.Time{}
	if err := e.swap(ctx, t, instance.TaskQueued, instance.TaskRunning); err != nil {
		fl.rec.Unlock()
		return e.conflictOrFail(fl, err)
	}
	attempt := t.Attempt
	e.emit(ctx, event.NewTask(event.TaskStarted, t.WorkflowID, t.DefinitionID, attempt))
	fl.rec.Unlock()

	res := e.runner.Run(taskCtx, t, td)

	if res.Err != nil && taskCtx.Err() != nil {
		return e.settleInterrupted(ctx, fl, t, res)
	}

	if res.Err == nil {
		fl.rec.Lock()
		t.Result = res.Output
		t.LastError = nil
		t.FinishedAt = &res.FinishedAt
		if err := e.swap(ctx, t, instance.TaskRunning, instance.TaskSucceeded); err != nil {
			fl.rec.Unlock()
			return e.conflictOrFail(fl, err)
		}
		e.emit(ctx, event.NewTask(event.TaskSucceeded, t.WorkflowID, t.DefinitionID, attempt))
		fl.rec.Unlock()
		return nil
	}

	fl.rec.Lock()
	t.LastError = &instance.TaskError{Kind: res.Kind, Message: res.Err.Error()}
	decision := td.Retry.Decide(t.Attempt, res.Kind, time.Now().UTC())
	if decision.Retry {
		t.NotBefore = decision.NotBefore
		if err := e.swap(ctx, t, instance.TaskRunning, instance.TaskPending); err != nil {
			fl.rec.Unlock()
			return e.conflictOrFail(fl, err)
		}
		e.emit(ctx, event.NewTask(event.TaskRetrying, t.WorkflowID, t.DefinitionID, attempt).WithError(res.Err.Error()))
		fl.rec.Unlock()
		return nil
	}
	t.FinishedAt = &res.FinishedAt
	if err := e.swap(ctx, t, instance.TaskRunning, instance.TaskFailed); err != nil {
		fl.rec.Unlock()
		return e.conflictOrFail(fl, err)
	}
	e.emit(ctx, event.NewTask(event.TaskFailed, t.WorkflowID, t.DefinitionID, attempt).WithError(res.Err.Error()))
	fl.rec.Unlock()
	return nil
}

// settleInterrupted resolves a task whose handler the task context cut
// short. An engine shutdown re-arms it Pending for the next process;
// the attempt stands and idempotency replay guards re-execution. A
// workflow cancel marks it Cancelled and discards the result.
func (e *Engine) settleInterrupted(ctx context.Context, fl *flight, t *instance.Task, res runner.Result) error {
	// Store writes outlive the cancelled contexts.
	sctx := context.WithoutCancel(ctx)

	fl.rec.Lock()
	defer fl.rec.Unlock()

	if ctx.Err() != nil {
		return e.conflictOrFail(fl, e.swap(sctx, t, instance.TaskRunning, instance.TaskPending))
	}

	now := time.Now().UTC()
	t.Result = nil
	t.FinishedAt = &now
	t.LastError = &instance.TaskError{Kind: orchestrate.KindCancelled, Message: res.Err.Error()}
	return e.conflictOrFail(fl, e.swap(sctx, t, instance.TaskRunning, instance.TaskCancelled))
}

// conflictOrFail converts a compare-and-swap conflict into a reload
// flag and passes every other error through.
func (e *Engine) conflictOrFail(fl *flight, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, orchestrate.ErrConcurrentModification) {
		fl.flagConflict()
		return nil
	}
	return err
}

// compensate strands the remaining forward tasks and hands the
// instance to the saga compensator.
func (e *Engine) compensate(ctx context.Context, def *graph.Definition, inst *instance.Instance) error {
	failed := firstFailed(def, inst)
	if failed == nil {
		return fmt.Errorf("engine: %w: no failed task to compensate", orchestrate.ErrInvalidState)
	}
	if failed.LastError != nil {
		inst.Error = failed.LastError.Message
	}

	inst.Status = instance.StatusCompensating
	if err := e.store.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("engine: compensating %s: %w", inst.ID, err)
	}

	for _, td := range def.ForwardTasks() {
		t, ok := inst.Task(td.ID)
		if !ok {
			continue
		}
		switch t.Status {
		case instance.TaskPending, instance.TaskQueued:
			if err := e.swap(ctx, t, t.Status, instance.TaskSkipped); err != nil {
				return err
			}
			e.emit(ctx, event.NewTask(event.TaskSkipped, inst.ID, td.ID, 0))
		}
	}

	err := e.comp.Compensate(ctx, def, inst, failed.DefinitionID)
	if err != nil {
		if errors.Is(err, orchestrate.ErrCompensationExhausted) {
			inst.CompensationFailed = true
			inst.Error = err.Error()
			return e.finish(ctx, inst, instance.StatusFailed, event.WorkflowFailed)
		}
		return err
	}
	return e.finish(ctx, inst, instance.StatusCompensated, event.WorkflowCompensated)
}

// cancel marks every non-terminal task Cancelled and terminates the
// instance. It runs after all in-flight tasks settled. Compensation
// does not run on cancellation.
func (e *Engine) cancel(ctx context.Context, def *graph.Definition, inst *instance.Instance) error {
	for _, td := range def.Tasks {
		t, ok := inst.Task(td.ID)
		if !ok {
			continue
		}
		switch t.Status {
		case instance.TaskPending, instance.TaskQueued, instance.TaskRunning:
			if err := e.swap(ctx, t, t.Status, instance.TaskCancelled); err != nil {
				return err
			}
		}
	}
	return e.finish(ctx, inst, instance.StatusCancelled, event.WorkflowCancelled)
}

// finish persists the terminal status and emits the closing event.
func (e *Engine) finish(ctx context.Context, inst *instance.Instance, status instance.Status, typ event.Type) error {
	now := time.Now().UTC()
	inst.Status = status
	inst.CompletedAt = &now
	if err := e.store.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("engine: finish %s: %w", inst.ID, err)
	}
	ev := event.New(typ, inst.ID)
	if inst.Error != "" {
		ev = ev.WithError(inst.Error)
	}
	e.emit(ctx, ev)
	e.logger.InfoContext(ctx, "workflow finished",
		"workflow_id", inst.ID, "status", status, "progress", inst.Progress())
	return nil
}

// reload refreshes the in-memory snapshot after a compare-and-swap
// conflict. Records of in-flight tasks are left alone; their goroutines
// own them until they land.
func (e *Engine) reload(ctx context.Context, inst *instance.Instance, fl *flight) error {
	fresh, err := e.store.GetInstance(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("engine: reload %s: %w", inst.ID, err)
	}
	fl.rec.Lock()
	defer fl.rec.Unlock()
	inst.Entity = fresh.Entity
	inst.Status = fresh.Status
	inst.Error = fresh.Error
	inst.CompensationFailed = fresh.CompensationFailed
	inst.StartedAt = fresh.StartedAt
	inst.CompletedAt = fresh.CompletedAt
	for taskID, ft := range fresh.Tasks {
		if fl.inFlight(taskID) {
			continue
		}
		if cur, ok := inst.Tasks[taskID]; ok {
			*cur = *ft
		} else {
			inst.Tasks[taskID] = ft
		}
	}
	return nil
}

// swap persists a task transition through the store's compare-and-swap.
func (e *Engine) swap(ctx context.Context, t *instance.Task, from, to instance.TaskStatus) error {
	t.Status = to
	if err := e.store.CompareAndSwapTask(ctx, t.WorkflowID, t.DefinitionID, from, t); err != nil {
		t.Status = from
		return fmt.Errorf("engine: %s %s->%s: %w", t.DefinitionID, from, to, err)
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, ev event.Event) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.sink.Emit(ctx, ev)
}

// firstFailed returns the first Failed forward task in definition
// order.
func firstFailed(def *graph.Definition, inst *instance.Instance) *instance.Task {
	for _, td := range def.ForwardTasks() {
		if t, ok := inst.Task(td.ID); ok && t.Status == instance.TaskFailed {
			return t
		}
	}
	return nil
}
