package event

import (
	"context"
	"log/slog"
	"sync"
)

// Sink consumes lifecycle events. Emit is called synchronously from the
// engine's control loop, after the corresponding transition persisted;
// implementations must not block for long.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, e Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// NopSink discards all events.
var NopSink Sink = SinkFunc(func(context.Context, Event) {})

// SlogSink logs every event through a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink that logs events at Info level (Warn for
// failure-flavored types).
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit implements Sink.
func (s *SlogSink) Emit(ctx context.Context, e Event) {
	attrs := []any{
		"workflow_id", e.WorkflowID,
	}
	if e.TaskID != "" {
		attrs = append(attrs, "task_id", e.TaskID)
	}
	if e.Attempt > 0 {
		attrs = append(attrs, "attempt", e.Attempt)
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}

	switch e.Type {
	case WorkflowFailed, TaskFailed:
		s.logger.WarnContext(ctx, string(e.Type), attrs...)
	default:
		s.logger.InfoContext(ctx, string(e.Type), attrs...)
	}
}

// Multi fans one event out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, e Event) {
		for _, s := range sinks {
			s.Emit(ctx, e)
		}
	})
}

// Recorder is a Sink that collects events for assertions in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
