package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Registry maps executor kinds to implementations. Registration happens
// once at process start; lookups are concurrent.
type Registry struct {
	executors map[string]Executor
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// Register registers an executor under its kind.
func (r *Registry) Register(e Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := e.Kind()
	if _, exists := r.executors[kind]; exists {
		return fmt.Errorf("executor for kind '%s' is already registered", kind)
	}

	r.executors[kind] = e
	return nil
}

// MustRegister registers an executor, panicking on error.
func (r *Registry) MustRegister(e Executor) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Get retrieves an executor by kind.
func (r *Registry) Get(kind string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.executors[kind]
	return e, exists
}

// Execute dispatches a request to the executor registered for its kind.
// Failures never cross the boundary as Go errors: an unknown kind or an
// executor that errors out both surface through Response.Error.
func (r *Registry) Execute(ctx context.Context, req *Request) *Response {
	e, exists := r.Get(req.Kind)
	if !exists {
		return &Response{Error: fmt.Sprintf("unknown executor: %s", req.Kind)}
	}

	resp, err := e.Execute(ctx, req)
	if err != nil {
		return &Response{Error: err.Error()}
	}
	if resp == nil {
		resp = &Response{}
	}
	return resp
}

// Kinds returns all registered executor kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.executors))
	for kind := range r.executors {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Count returns the number of registered executors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// aliasExecutor exposes an existing executor under a second kind.
type aliasExecutor struct {
	kind     string
	delegate Executor
}

// NewAlias wraps an executor so it also answers to the given kind. The
// catalog stores long-form execution method names; those resolve to the
// same implementations as the short kinds.
func NewAlias(kind string, delegate Executor) Executor {
	return &aliasExecutor{kind: kind, delegate: delegate}
}

func (a *aliasExecutor) Kind() string { return a.kind }

func (a *aliasExecutor) Execute(ctx context.Context, req *Request) (*Response, error) {
	return a.delegate.Execute(ctx, req)
}

// DefaultRegistry initializes the registry with all built-in executors
// and the long-form aliases used by catalog rows.
func DefaultRegistry(pool *pgxpool.Pool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	python := NewPythonExecutor(logger)
	bash := NewBashExecutor(logger)
	procedure := NewStoredProcedureExecutor(pool, logger)
	function := NewStoredFunctionExecutor(pool, logger)
	httpExec := NewHTTPExecutor(logger)

	registry := NewRegistry()
	registry.MustRegister(python)
	registry.MustRegister(bash)
	registry.MustRegister(procedure)
	registry.MustRegister(function)
	registry.MustRegister(httpExec)

	registry.MustRegister(NewAlias("executors.python.execute", python))
	registry.MustRegister(NewAlias("executors.bash.execute", bash))
	registry.MustRegister(NewAlias("executors.stored_procedure.execute", procedure))
	registry.MustRegister(NewAlias("executors.stored_function.execute", function))
	registry.MustRegister(NewAlias("executors.http.execute", httpExec))

	return registry
}
