// Package runner executes single task attempts: idempotency replay,
// handler invocation under a deadline, circuit breaking, and attempt
// recording. It never touches task status; transitions belong to the
// engine's control loop.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/breaker"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/graph"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/middleware"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/store"
)

// Result reports the outcome of one attempt.
type Result struct {
	// Output is the handler's return payload, valid when Err is nil.
	Output []byte

	// Err is the execution failure, nil on success.
	Err error

	// Kind classifies Err for retry-policy matching.
	Kind orchestrate.ErrorKind

	// Replayed is true when a stored idempotent result short-circuited
	// execution and the handler was never invoked.
	Replayed bool

	StartedAt  time.Time
	FinishedAt time.Time
}

// Runner executes task attempts through the middleware chain.
type Runner struct {
	registry *Registry
	store    store.Store
	breakers *breaker.Registry
	chain    middleware.Middleware
	cfg      orchestrate.Config
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithConfig overrides the default engine configuration.
func WithConfig(cfg orchestrate.Config) Option {
	return func(r *Runner) { r.cfg = cfg }
}

// WithBreakers sets the circuit-breaker registry shared with the rest
// of the engine.
func WithBreakers(reg *breaker.Registry) Option {
	return func(r *Runner) { r.breakers = reg }
}

// WithMiddleware replaces the default middleware chain (Recover,
// Logging). The first middleware is outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(r *Runner) { r.chain = middleware.Chain(mws...) }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a Runner backed by the given handler registry and store.
func New(registry *Registry, st store.Store, opts ...Option) *Runner {
	r := &Runner{
		registry: registry,
		store:    st,
		cfg:      orchestrate.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breakers == nil {
		r.breakers = breaker.NewRegistry(
			breaker.WithFailMax(r.cfg.BreakerFailMax),
			breaker.WithTimeout(r.cfg.BreakerTimeout),
			breaker.WithLogger(r.logger),
		)
	}
	if r.chain == nil {
		r.chain = middleware.Chain(
			middleware.Recover(r.logger),
			middleware.Logging(r.logger),
		)
	}
	return r
}

// Breakers exposes the runner's circuit-breaker registry.
func (r *Runner) Breakers() *breaker.Registry { return r.breakers }

// ExpandKey expands an idempotency key template for one task:
// "{workflow}" becomes the workflow instance ID and "{task}" the task
// definition ID. An empty template disables idempotency.
func ExpandKey(template string, t *instance.Task) string {
	if template == "" {
		return ""
	}
	return strings.NewReplacer(
		"{workflow}", t.WorkflowID.String(),
		"{task}", t.DefinitionID,
	).Replace(template)
}

// Run executes one attempt of the task described by def. The task must
// already be in Running with Attempt set; Run records the attempt and
// returns the outcome without writing task status.
func (r *Runner) Run(ctx context.Context, t *instance.Task, def *graph.TaskDefinition) Result {
	res := Result{StartedAt: time.Now().UTC()}

	key := ExpandKey(def.IdempotencyKey, t)
	if key != "" {
		stored, ok, err := r.store.GetIdempotentResult(ctx, key)
		if err != nil {
			r.logger.WarnContext(ctx, "idempotency lookup failed",
				"workflow_id", t.WorkflowID, "task_id", t.DefinitionID, "error", err)
		} else if ok {
			res.Output = stored
			res.Replayed = true
			res.FinishedAt = time.Now().UTC()
			r.record(ctx, t, res)
			return res
		}
	}

	exec := &middleware.Exec{Task: t, Def: def}
	err := r.chain(ctx, exec, func(ctx context.Context) error {
		out, err := r.invoke(ctx, t, def)
		res.Output = out
		return err
	})
	res.FinishedAt = time.Now().UTC()

	if err != nil {
		res.Output = nil
		res.Err = err
		res.Kind = orchestrate.KindOf(err)
		r.record(ctx, t, res)
		return res
	}

	if key != "" {
		if err := r.store.SaveIdempotentResult(ctx, key, res.Output); err != nil {
			r.logger.WarnContext(ctx, "idempotency save failed",
				"workflow_id", t.WorkflowID, "task_id", t.DefinitionID, "error", err)
		}
	}
	r.record(ctx, t, res)
	return res
}

// invoke runs the handler under the task deadline, inside the circuit
// breaker for the task's dependency key.
func (r *Runner) invoke(ctx context.Context, t *instance.Task, def *graph.TaskDefinition) ([]byte, error) {
	h, ok := r.registry.Get(def.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", orchestrate.ErrHandlerNotFound, def.Type)
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTaskTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	key := def.BreakerKey
	if key == "" {
		key = def.Type
	}

	var out []byte
	err := r.breakers.Get(key).Do(hctx, func(ctx context.Context) error {
		var err error
		out, err = r.call(ctx, h, def.Payload)
		return err
	})
	return out, err
}

// call invokes the handler in its own goroutine so a handler that
// ignores cancellation cannot wedge the dispatch slot. After the
// deadline it waits AbandonGrace for the handler to notice, then
// abandons it and discards whatever it eventually returns.
func (r *Runner) call(ctx context.Context, h Handler, payload []byte) ([]byte, error) {
	type reply struct {
		out []byte
		err error
	}
	done := make(chan reply, 1)
	go func() {
		// The handler goroutine outlives the middleware chain when
		// abandoned, so panics must be contained here.
		defer func() {
			if p := recover(); p != nil {
				done <- reply{nil, fmt.Errorf("panic in handler: %v", p)}
			}
		}()
		out, err := h.Execute(ctx, payload)
		done <- reply{out, err}
	}()

	select {
	case rep := <-done:
		return rep.out, rep.err
	case <-ctx.Done():
	}

	grace := time.NewTimer(r.cfg.AbandonGrace)
	defer grace.Stop()
	select {
	case rep := <-done:
		return rep.out, rep.err
	case <-grace.C:
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("handler abandoned: %w", orchestrate.ErrTimeout)
		}
		return nil, fmt.Errorf("handler abandoned: %w", ctx.Err())
	}
}

// record appends the attempt row. Attempt history is observability
// data; a write failure is logged, not propagated.
func (r *Runner) record(ctx context.Context, t *instance.Task, res Result) {
	att := &instance.Attempt{
		ID:           id.NewAttemptID(),
		WorkflowID:   t.WorkflowID,
		TaskID:       t.ID,
		DefinitionID: t.DefinitionID,
		Number:       t.Attempt,
		StartedAt:    res.StartedAt,
		FinishedAt:   res.FinishedAt,
		Outcome:      instance.TaskSucceeded,
		Replayed:     res.Replayed,
	}
	if res.Err != nil {
		att.Outcome = instance.TaskFailed
		att.Error = &instance.TaskError{Kind: res.Kind, Message: res.Err.Error()}
	}
	if err := r.store.RecordAttempt(ctx, att); err != nil {
		r.logger.WarnContext(ctx, "attempt record failed",
			"workflow_id", t.WorkflowID, "task_id", t.DefinitionID, "error", err)
	}
}
