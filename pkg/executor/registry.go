package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/pulp/pulp-service-sub000/pkg/types"
)

// Handler runs a single task. workDir is a private scratch directory
// created for the task's lifetime; the handler owns its contents and
// cleanup is the caller's responsibility. A non-nil return marks the task
// FAILED with the error's message as the diagnostic.
type Handler func(ctx context.Context, task *types.Task, workDir string) error

// Registry maps a task's Name to the Handler that executes it.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates name with handler. Registering the same name twice
// replaces the previous handler.
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Lookup returns the handler registered for name, if any.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// ErrNoHandler is returned by Dispatch when no handler is registered for a
// task's name.
type ErrNoHandler struct {
	TaskName string
}

func (e *ErrNoHandler) Error() string {
	return fmt.Sprintf("executor: no handler registered for task %q", e.TaskName)
}

// Dispatch looks up and runs the handler for task.Name. It is the single
// entry point used both by the in-process immediate-task path and by the
// forked child process's own main, so the two execution modes can never
// diverge in how a task name resolves to behavior.
func (r *Registry) Dispatch(ctx context.Context, task *types.Task, workDir string) error {
	handler, ok := r.Lookup(task.Name)
	if !ok {
		return &ErrNoHandler{TaskName: task.Name}
	}
	return handler(ctx, task, workDir)
}
