// Package orchestrator wires the subsystems into one coordinator:
// handler registry, task runner, control-loop engine, saga
// compensator, circuit breakers, dispatch limits, and cron triggers.
//
// This package exists to break the import cycle: the root orchestrate
// package defines Entity and the error taxonomy (imported by graph,
// instance, store) and so cannot import those packages back. The
// orchestrator sits above all subsystem packages and below the
// application layer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/breaker"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/cron"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/engine"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/event"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/graph"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/limiter"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/middleware"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/runner"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/store"
)

// Orchestrator is the central coordinator. Create one with New and
// functional options, register handlers and definitions, then Start.
type Orchestrator struct {
	cfg      orchestrate.Config
	logger   *slog.Logger
	store    store.Store
	sink     event.Sink
	registry *runner.Registry
	breakers *breaker.Registry
	limits   *limiter.Manager
	mws      []middleware.Middleware
	cronTick time.Duration

	runner *runner.Runner
	eng    *engine.Engine
	crons  *cron.Scheduler

	mu      sync.Mutex
	started bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore sets the persistence backend. Required.
func WithStore(st store.Store) Option {
	return func(o *Orchestrator) { o.store = st }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg orchestrate.Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithSink sets the lifecycle event sink.
func WithSink(s event.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithMiddleware appends middleware to the task execution chain, after
// the built-in Recover/Logging/Metrics/Tracing.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *Orchestrator) { o.mws = append(o.mws, mws...) }
}

// WithLimits configures per-task-type dispatch limits.
func WithLimits(configs ...limiter.Config) Option {
	return func(o *Orchestrator) { o.limits = limiter.NewManager(configs...) }
}

// WithBreakers sets a pre-built circuit-breaker registry.
func WithBreakers(reg *breaker.Registry) Option {
	return func(o *Orchestrator) { o.breakers = reg }
}

// WithCronTickInterval sets how often cron entries are checked.
func WithCronTickInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.cronTick = d }
}

// New creates an Orchestrator. A store must be provided.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:      orchestrate.DefaultConfig(),
		logger:   slog.Default(),
		sink:     event.NopSink,
		registry: runner.NewRegistry(),
		cronTick: time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		return nil, orchestrate.ErrNoStore
	}
	if o.breakers == nil {
		o.breakers = breaker.NewRegistry(
			breaker.WithFailMax(o.cfg.BreakerFailMax),
			breaker.WithTimeout(o.cfg.BreakerTimeout),
			breaker.WithLogger(o.logger),
		)
	}

	chain := append([]middleware.Middleware{
		middleware.Recover(o.logger),
		middleware.Logging(o.logger),
		middleware.Metrics(),
		middleware.Tracing(),
	}, o.mws...)

	o.runner = runner.New(o.registry, o.store,
		runner.WithConfig(o.cfg),
		runner.WithBreakers(o.breakers),
		runner.WithMiddleware(chain...),
		runner.WithLogger(o.logger),
	)
	engOpts := []engine.Option{
		engine.WithConfig(o.cfg),
		engine.WithSink(o.sink),
		engine.WithLogger(o.logger),
	}
	if o.limits != nil {
		engOpts = append(engOpts, engine.WithLimits(o.limits))
	}
	o.eng = engine.New(o.store, o.runner, engOpts...)

	o.crons = cron.NewScheduler(func(ctx context.Context, defID id.DefinitionID) (id.WorkflowID, error) {
		inst, err := o.Submit(ctx, defID)
		if err != nil {
			return id.Nil, err
		}
		return inst.ID, nil
	}, cron.WithLogger(o.logger), cron.WithTickInterval(o.cronTick))

	return o, nil
}

// Breakers exposes circuit-breaker statistics.
func (o *Orchestrator) Breakers() *breaker.Registry { return o.breakers }

// RegisterHandler binds a handler to a task type.
func (o *Orchestrator) RegisterHandler(taskType string, h runner.Handler) {
	o.registry.Register(taskType, h)
}

// RegisterDefinition validates and persists a workflow definition.
// Unsound graphs and oversized definitions are rejected here,
// synchronously; instances never run validation again.
func (o *Orchestrator) RegisterDefinition(ctx context.Context, name string, tasks []graph.TaskDefinition, opts ...graph.Option) (*graph.Definition, error) {
	if len(tasks) > o.cfg.MaxTasksPerWorkflow {
		return nil, fmt.Errorf("orchestrator: %d tasks: %w", len(tasks), orchestrate.ErrTooManyTasks)
	}
	def, err := graph.New(name, tasks, opts...)
	if err != nil {
		return nil, err
	}
	if err := o.store.CreateDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("orchestrator: register %s: %w", name, err)
	}
	return def, nil
}

// Definition retrieves a registered definition.
func (o *Orchestrator) Definition(ctx context.Context, defID id.DefinitionID) (*graph.Definition, error) {
	return o.store.GetDefinition(ctx, defID)
}

// Definitions lists all registered definitions.
func (o *Orchestrator) Definitions(ctx context.Context) ([]*graph.Definition, error) {
	return o.store.ListDefinitions(ctx)
}

// Submit materializes a new instance of a registered definition and,
// when the orchestrator is started, begins driving it. Instances
// submitted before Start stay Pending and are picked up by Start.
func (o *Orchestrator) Submit(ctx context.Context, defID id.DefinitionID) (*instance.Instance, error) {
	def, err := o.store.GetDefinition(ctx, defID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: submit: %w", err)
	}

	inst := instance.New(def)
	if err := o.store.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("orchestrator: submit %s: %w", def.Name, err)
	}
	o.logger.InfoContext(ctx, "workflow submitted",
		"workflow_id", inst.ID, "definition", def.Name, "tasks", len(inst.Tasks))

	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if started {
		o.drive(def, inst)
	}
	return inst, nil
}

// Workflow returns the current instance state, tasks included.
func (o *Orchestrator) Workflow(ctx context.Context, wfID id.WorkflowID) (*instance.Instance, error) {
	return o.store.GetInstance(ctx, wfID)
}

// Workflows lists instances matching opts.
func (o *Orchestrator) Workflows(ctx context.Context, opts instance.ListOpts) ([]*instance.Instance, error) {
	return o.store.ListInstances(ctx, opts)
}

// Attempts returns the attempt history of one task.
func (o *Orchestrator) Attempts(ctx context.Context, wfID id.WorkflowID, taskDefID string) ([]*instance.Attempt, error) {
	return o.store.ListAttempts(ctx, wfID, taskDefID)
}

// Pause suspends dispatch for a running instance.
func (o *Orchestrator) Pause(wfID id.WorkflowID) error {
	return o.eng.Pause(wfID)
}

// Resume re-enters the dispatch loop of a paused instance. Instances
// paused by a previous process are reloaded and driven again.
func (o *Orchestrator) Resume(ctx context.Context, wfID id.WorkflowID) error {
	err := o.eng.Resume(wfID)
	if err == nil || !errors.Is(err, orchestrate.ErrWorkflowNotFound) {
		return err
	}

	inst, err := o.store.GetInstance(ctx, wfID)
	if err != nil {
		return err
	}
	if inst.Status != instance.StatusPaused {
		return fmt.Errorf("orchestrator: resume %s in %s: %w", wfID, inst.Status, orchestrate.ErrInvalidState)
	}
	inst.Status = instance.StatusRunning
	if err := o.store.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("orchestrator: resume %s: %w", wfID, err)
	}
	def, err := o.store.GetDefinition(ctx, inst.DefinitionID)
	if err != nil {
		return err
	}
	o.drive(def, inst)
	return nil
}

// Cancel stops an instance without compensation.
func (o *Orchestrator) Cancel(wfID id.WorkflowID) error {
	return o.eng.Cancel(wfID)
}

// RetryTask re-arms a Failed task for another attempt, reviving the
// workflow if its loop already terminated.
func (o *Orchestrator) RetryTask(ctx context.Context, wfID id.WorkflowID, taskDefID string) error {
	inst, err := o.store.GetInstance(ctx, wfID)
	if err != nil {
		return err
	}
	t, ok := inst.Task(taskDefID)
	if !ok {
		return fmt.Errorf("orchestrator: %w: %s", orchestrate.ErrTaskNotFound, taskDefID)
	}
	if t.Status != instance.TaskFailed {
		return fmt.Errorf("orchestrator: retry %s in %s: %w", taskDefID, t.Status, orchestrate.ErrInvalidState)
	}

	t.NotBefore = time.Time{}
	t.Status = instance.TaskPending
	if err := o.store.CompareAndSwapTask(ctx, wfID, taskDefID, instance.TaskFailed, t); err != nil {
		return fmt.Errorf("orchestrator: retry %s: %w", taskDefID, err)
	}

	if o.eng.Running(wfID) {
		o.eng.Wake(wfID)
		return nil
	}
	// The loop terminated with the failure; revive it.
	inst.Status = instance.StatusRunning
	inst.CompletedAt = nil
	inst.Error = ""
	if err := o.store.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("orchestrator: revive %s: %w", wfID, err)
	}
	def, err := o.store.GetDefinition(ctx, inst.DefinitionID)
	if err != nil {
		return err
	}
	o.drive(def, inst)
	return nil
}

// SkipTask marks a Pending task Skipped, unblocking its successors as
// if it had settled.
func (o *Orchestrator) SkipTask(ctx context.Context, wfID id.WorkflowID, taskDefID string) error {
	inst, err := o.store.GetInstance(ctx, wfID)
	if err != nil {
		return err
	}
	t, ok := inst.Task(taskDefID)
	if !ok {
		return fmt.Errorf("orchestrator: %w: %s", orchestrate.ErrTaskNotFound, taskDefID)
	}
	t.Status = instance.TaskSkipped
	if err := o.store.CompareAndSwapTask(ctx, wfID, taskDefID, instance.TaskPending, t); err != nil {
		return fmt.Errorf("orchestrator: skip %s: %w", taskDefID, err)
	}
	o.eng.Wake(wfID)
	return nil
}

// RegisterCron schedules recurring submissions of a definition.
func (o *Orchestrator) RegisterCron(name, expr string, defID id.DefinitionID) (*cron.Entry, error) {
	return o.crons.Register(name, expr, defID)
}

// Crons lists the registered cron entries.
func (o *Orchestrator) Crons() []cron.Entry {
	return o.crons.Entries()
}

// Start migrates the store, resumes unfinished instances, and starts
// the cron scheduler.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.runCtx, o.cancel = context.WithCancel(context.Background())
	o.started = true
	o.mu.Unlock()

	if err := o.store.Migrate(ctx); err != nil {
		return fmt.Errorf("orchestrator: migrate: %w", err)
	}
	if err := o.resumeAll(ctx); err != nil {
		return err
	}
	if err := o.crons.Start(ctx); err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "orchestrator started")
	return nil
}

// Stop shuts down: cron triggers stop, loops are cancelled, and the
// store is closed. Waits up to ShutdownTimeout for loops to drain.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = false
	cancel := o.cancel
	o.mu.Unlock()

	if err := o.crons.Stop(ctx); err != nil {
		o.logger.ErrorContext(ctx, "cron stop error", "error", err)
	}
	cancel()

	drained := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(o.cfg.ShutdownTimeout):
		o.logger.WarnContext(ctx, "shutdown timeout, loops abandoned")
	}

	err := o.store.Close()
	o.logger.InfoContext(ctx, "orchestrator stopped")
	return err
}

// resumeAll reloads unfinished instances and drives them again.
// Because every transition persisted before the previous process
// moved on, re-entering the loop at the planning step is safe.
func (o *Orchestrator) resumeAll(ctx context.Context) error {
	var unfinished []*instance.Instance
	for _, status := range []instance.Status{
		instance.StatusPending,
		instance.StatusRunning,
		instance.StatusCompensating,
		instance.StatusPaused,
	} {
		insts, err := o.store.ListInstances(ctx, instance.ListOpts{Status: status})
		if err != nil {
			return fmt.Errorf("orchestrator: resume all: %w", err)
		}
		unfinished = append(unfinished, insts...)
	}
	if len(unfinished) == 0 {
		return nil
	}

	ready, err := o.store.ListReadyTasks(ctx, 0)
	if err != nil {
		return fmt.Errorf("orchestrator: resume all: %w", err)
	}
	o.logger.InfoContext(ctx, "resuming unfinished workflows",
		"workflows", len(unfinished), "ready_tasks", len(ready))

	for _, inst := range unfinished {
		if o.eng.Running(inst.ID) {
			continue
		}
		def, err := o.store.GetDefinition(ctx, inst.DefinitionID)
		if err != nil {
			o.logger.ErrorContext(ctx, "resume: definition missing",
				"workflow_id", inst.ID, "definition_id", inst.DefinitionID, "error", err)
			continue
		}
		o.drive(def, inst)
	}
	return nil
}

// drive runs one instance loop in the background.
func (o *Orchestrator) drive(def *graph.Definition, inst *instance.Instance) {
	o.mu.Lock()
	ctx := o.runCtx
	o.mu.Unlock()
	if ctx == nil {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.eng.Run(ctx, def, inst); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("workflow loop error",
				"workflow_id", inst.ID, "error", err)
		}
	}()
}
