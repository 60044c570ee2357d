package executor

import (
	"context"
	"time"
)

// Executor kinds. Long-form names from the catalog's execution methods
// are registered as aliases of these.
const (
	KindPython          = "python"
	KindBash            = "bash"
	KindStoredProcedure = "stored_procedure"
	KindStoredFunction  = "stored_function"
	KindHTTP            = "http"
)

// Executor runs one task invocation for a specific kind.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
	Kind() string
}

// Descriptor locates the unit of work for an executor. Which fields are
// meaningful depends on the kind: script executors use ScriptPath (falling
// back to ScriptName), database executors treat ScriptName as the routine
// name, the HTTP executor treats ScriptPath as the target URL.
type Descriptor struct {
	TaskName     string `json:"task_name"`
	UserTaskName string `json:"user_task_name"`
	ScriptName   string `json:"script_name"`
	ScriptPath   string `json:"script_path"`
}

// Request is the uniform invocation contract.
type Request struct {
	Kind       string
	Descriptor Descriptor

	// Positional carries the schedule envelope threaded through every
	// dispatch: script location, user task name, task name, user schedule
	// name, store entry name, schedule type, schedule payload.
	Positional []any

	// Named maps parameter names to values; supplied by the engine from
	// node attributes merged with the running context, or by the
	// scheduler from the validated parameter map.
	Named map[string]any

	Timeout time.Duration
}

// Response is the structured executor outcome. A non-empty Error marks
// the invocation failed even when Result is populated.
type Response struct {
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Failed reports whether the response carries a task-level error.
func (r *Response) Failed() bool {
	return r != nil && r.Error != ""
}
