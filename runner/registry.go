package runner

import (
	"context"
	"sort"
	"sync"
)

// Handler executes one task type. The payload comes verbatim from the
// task definition; the returned bytes are stored as the task result.
//
// Handlers must honor ctx cancellation: the runner bounds every
// invocation with the task's timeout.
type Handler interface {
	Execute(ctx context.Context, payload []byte) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// Registry maps task types to handlers. Safe for concurrent use;
// registration typically happens once at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a task type, replacing any previous
// binding.
func (r *Registry) Register(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

// Get returns the handler for a task type.
func (r *Registry) Get(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Types returns the registered task types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
