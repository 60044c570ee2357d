// Package catalog persists reusable task definitions: tasks, their
// declared parameters, and execution method descriptors.
package catalog

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTaskNotFound   = errors.New("catalog: task not found")
	ErrParamNotFound  = errors.New("catalog: task parameter not found")
	ErrMethodExists   = errors.New("catalog: execution method already exists")
	ErrMethodNotFound = errors.New("catalog: execution method not found")
)

// Task is a reusable unit of work referenced by schedules and by
// workflow task nodes.
type Task struct {
	TaskID       int64     `json:"def_task_id"`
	TaskName     string    `json:"task_name"`
	UserTaskName string    `json:"user_task_name"`
	Executor     string    `json:"executor"`
	ScriptName   string    `json:"script_name"`
	ScriptPath   string    `json:"script_path"`
	Description  string    `json:"description,omitempty"`
	CancelledYN  string    `json:"cancelled_yn"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreationDate time.Time `json:"creation_date"`
	UpdatedBy    string    `json:"last_updated_by,omitempty"`
	UpdateDate   time.Time `json:"last_update_date"`
}

// Cancelled reports whether the task is cancelled and must not be
// scheduled or executed.
func (t *Task) Cancelled() bool {
	return t != nil && t.CancelledYN == "Y"
}

// TaskParam is a declared input of a task, unique per
// (task_name, parameter_name).
type TaskParam struct {
	ParamID       int64     `json:"def_param_id"`
	TaskName      string    `json:"task_name"`
	ParameterName string    `json:"parameter_name"`
	DataType      string    `json:"data_type"`
	Description   string    `json:"description,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreationDate  time.Time `json:"creation_date"`
	UpdatedBy     string    `json:"last_updated_by,omitempty"`
	UpdateDate    time.Time `json:"last_update_date"`
}

// ExecutionMethod describes a named executor, unique on its internal
// name.
type ExecutionMethod struct {
	ExecutionMethod         string    `json:"execution_method"`
	InternalExecutionMethod string    `json:"internal_execution_method"`
	Executor                string    `json:"executor"`
	Description             string    `json:"description,omitempty"`
	CreatedBy               string    `json:"created_by,omitempty"`
	CreationDate            time.Time `json:"creation_date"`
	UpdatedBy               string    `json:"last_updated_by,omitempty"`
	UpdateDate              time.Time `json:"last_update_date"`
}

// Store is the task catalog persistence interface.
type Store interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, taskName string) (*Task, error)
	ListTasks(ctx context.Context) ([]*Task, error)

	CreateTaskParams(ctx context.Context, params []*TaskParam) error
	ListTaskParams(ctx context.Context, taskName string) ([]*TaskParam, error)
	ListTaskParamsPage(ctx context.Context, taskName string, page, limit int) ([]*TaskParam, int, error)
	UpdateTaskParam(ctx context.Context, param *TaskParam) error
	DeleteTaskParam(ctx context.Context, taskName string, paramID int64) error

	// BatchTaskParams returns declared parameter names for several tasks
	// in one read, keyed by task name.
	BatchTaskParams(ctx context.Context, taskNames []string) (map[string][]string, error)

	CreateExecutionMethod(ctx context.Context, method *ExecutionMethod) error
	GetExecutionMethod(ctx context.Context, internalName string) (*ExecutionMethod, error)
	ListExecutionMethods(ctx context.Context) ([]*ExecutionMethod, error)
	ListExecutionMethodsPage(ctx context.Context, page, limit int) ([]*ExecutionMethod, int, error)
	SearchExecutionMethods(ctx context.Context, term string, page, limit int) ([]*ExecutionMethod, int, error)
	UpdateExecutionMethod(ctx context.Context, method *ExecutionMethod) error
	DeleteExecutionMethod(ctx context.Context, internalName string) error
}
