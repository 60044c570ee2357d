// Package engine walks workflow graphs, dispatching task nodes through
// the executor registry and recording every node visit as a step.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/procflow/orchestrator/internal/catalog"
	"github.com/procflow/orchestrator/internal/executor"
	"github.com/procflow/orchestrator/internal/workflow"
	wfstore "github.com/procflow/orchestrator/internal/workflow/store"
)

var ErrProcessCancelled = errors.New("engine: process is cancelled")

// Config holds engine tuning knobs.
type Config struct {
	// MaxSteps bounds a single run. Graphs may contain cycles through
	// gateways; the bound turns a runaway loop into a failed execution.
	MaxSteps int

	// StepTimeout caps each task node's execution.
	StepTimeout time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxSteps:    1000,
		StepTimeout: 5 * time.Minute,
	}
}

// RunOptions adjusts a single run.
type RunOptions struct {
	// StructureOverride executes the given structure instead of the
	// stored one. Used by ad-hoc runs of edited, unsaved workflows.
	StructureOverride json.RawMessage

	// OnStep is called after each step reaches a terminal status.
	OnStep func(step *workflow.Step)
}

// Engine executes workflow processes.
type Engine struct {
	workflows wfstore.Store
	catalog   catalog.Store
	registry  *executor.Registry
	logger    *slog.Logger
	config    Config
}

// New creates a workflow engine.
func New(workflows wfstore.Store, cat catalog.Store, registry *executor.Registry, logger *slog.Logger, config Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxSteps < 1 {
		config.MaxSteps = DefaultConfig().MaxSteps
	}
	if config.StepTimeout <= 0 {
		config.StepTimeout = DefaultConfig().StepTimeout
	}
	return &Engine{
		workflows: workflows,
		catalog:   cat,
		registry:  registry,
		logger:    logger,
		config:    config,
	}
}

// InitializeExecution creates a queued execution for a process. The
// returned execution id is handed to the caller before the run starts
// so that streams can attach immediately.
func (e *Engine) InitializeExecution(ctx context.Context, processName string, input map[string]any, createdBy string) (*workflow.Execution, error) {
	proc, err := e.workflows.GetProcess(ctx, processName)
	if err != nil {
		return nil, err
	}
	if proc.CancelledYN == "Y" {
		return nil, ErrProcessCancelled
	}

	exec := &workflow.Execution{
		ExecutionID:  uuid.NewString(),
		ProcessID:    proc.ProcessID,
		ProcessName:  proc.ProcessName,
		Status:       workflow.StatusQueued,
		InputData:    input,
		CreatedBy:    createdBy,
		CreationDate: time.Now().UTC(),
	}
	if err := e.workflows.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// InitializeDynamicExecution creates a queued execution for an ad-hoc
// structure that was never saved as a process. The run is driven
// through Execute with a structure override.
func (e *Engine) InitializeDynamicExecution(ctx context.Context, input map[string]any, createdBy string) (*workflow.Execution, error) {
	exec := &workflow.Execution{
		ExecutionID:  uuid.NewString(),
		ProcessName:  "dynamic",
		Status:       workflow.StatusQueued,
		InputData:    input,
		CreatedBy:    createdBy,
		CreationDate: time.Now().UTC(),
	}
	if err := e.workflows.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// Execute runs a queued execution to a terminal status. The returned
// error reports infrastructure failures only; a workflow that fails on
// its own terms ends as a FAILED execution with a nil error. Either
// way the row leaves QUEUED: infrastructure failures mid-run mark it
// FAILED before the error propagates.
func (e *Engine) Execute(ctx context.Context, executionID string, opts *RunOptions) error {
	if opts == nil {
		opts = &RunOptions{}
	}

	exec, err := e.workflows.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	structure := opts.StructureOverride
	if len(structure) == 0 {
		proc, err := e.workflows.GetProcess(ctx, exec.ProcessName)
		if err != nil {
			return e.abortExecution(ctx, exec, err)
		}
		structure = proc.Structure
	}

	graph, err := workflow.ParseGraph(structure)
	if err != nil {
		return e.failExecution(ctx, exec, fmt.Sprintf("invalid process structure: %v", err))
	}
	if err := e.resolveBehaviors(ctx, graph); err != nil {
		return e.abortExecution(ctx, exec, err)
	}
	start, err := graph.Start()
	if err != nil {
		return e.failExecution(ctx, exec, "no start event node found")
	}

	now := time.Now().UTC()
	exec.Status = workflow.StatusRunning
	exec.StartedAt = &now
	if err := e.workflows.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	e.logger.Info("execution started",
		slog.String("execution_id", exec.ExecutionID),
		slog.String("process", exec.ProcessName),
	)

	execCtx := make(map[string]any, len(exec.InputData))
	for k, v := range exec.InputData {
		execCtx[k] = v
	}

	current := start
	for visited := 0; ; visited++ {
		if visited >= e.config.MaxSteps {
			return e.failExecution(ctx, exec,
				fmt.Sprintf("step limit of %d exceeded at node %s", e.config.MaxSteps, current.ID))
		}
		if err := ctx.Err(); err != nil {
			return e.failExecution(ctx, exec, fmt.Sprintf("execution aborted: %v", err))
		}

		behavior := graph.BehaviorOf(current)
		failure, err := e.runNode(ctx, exec, current, behavior, execCtx, opts)
		if err != nil {
			return e.abortExecution(ctx, exec, err)
		}
		if failure != "" {
			return e.failExecution(ctx, exec, failure)
		}

		if behavior == workflow.BehaviorEvent && current.EventType() == workflow.EventStop {
			return e.completeExecution(ctx, exec, execCtx)
		}

		edges := graph.EdgesFrom(current.ID)
		if len(edges) == 0 {
			if behavior == workflow.BehaviorGateway {
				return e.failExecution(ctx, exec,
					fmt.Sprintf("gateway %s has no outgoing edges", current.ID))
			}
			return e.completeExecution(ctx, exec, execCtx)
		}

		var next *workflow.Edge
		if behavior == workflow.BehaviorGateway {
			next = chooseEdge(edges, execCtx)
		} else {
			next = edges[0]
		}

		current = graph.Node(next.Target)
		if current == nil {
			return e.failExecution(ctx, exec,
				fmt.Sprintf("edge target %s not found", next.Target))
		}
	}
}

// resolveBehaviors loads the node type catalog into the graph so that
// custom shapes classify the way their catalog row says.
func (e *Engine) resolveBehaviors(ctx context.Context, graph *workflow.Graph) error {
	types, err := e.workflows.ListNodeTypes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load node types: %w", err)
	}
	graph.UseNodeTypes(types)
	return nil
}

// runNode records and executes one node visit. A non-empty failure
// string means the workflow failed on its own terms. The node's static
// attributes overlay the context for this invocation only; they reach
// downstream nodes only if the executor returns them.
func (e *Engine) runNode(ctx context.Context, exec *workflow.Execution, node *workflow.Node, behavior string, execCtx map[string]any, opts *RunOptions) (string, error) {
	stepCtx := snapshot(execCtx)
	for _, attr := range node.Data.Attributes {
		stepCtx[attr.AttributeName] = attr.AttributeValue
	}

	step := &workflow.Step{
		ExecutionID: exec.ExecutionID,
		NodeID:      node.ID,
		TaskName:    strings.TrimSpace(node.Data.StepFunction),
		Label:       node.Data.Label,
		Status:      workflow.StepRunning,
		InputData:   stepCtx,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.workflows.CreateStep(ctx, step); err != nil {
		return "", err
	}

	switch behavior {
	case workflow.BehaviorEvent, workflow.BehaviorGateway:
		if err := e.finishStep(ctx, step, workflow.StepPassed, nil, "", opts); err != nil {
			return "", err
		}
		return "", nil
	}

	if step.TaskName == "" {
		if err := e.finishStep(ctx, step, workflow.StepSkipped, nil, "", opts); err != nil {
			return "", err
		}
		return "", nil
	}

	task, err := e.catalog.GetTask(ctx, step.TaskName)
	if err != nil {
		if errors.Is(err, catalog.ErrTaskNotFound) {
			msg := fmt.Sprintf("Task not found: %s", step.TaskName)
			if err := e.finishStep(ctx, step, workflow.StepFailed, nil, msg, opts); err != nil {
				return "", err
			}
			return msg, nil
		}
		return "", err
	}

	resp := e.registry.Execute(ctx, &executor.Request{
		Kind: task.Executor,
		Descriptor: executor.Descriptor{
			TaskName:     task.TaskName,
			UserTaskName: task.UserTaskName,
			ScriptName:   task.ScriptName,
			ScriptPath:   task.ScriptPath,
		},
		Positional: []any{task.ScriptName, task.UserTaskName, task.TaskName, nil, nil, nil, nil},
		Named:      snapshot(stepCtx),
		Timeout:    e.config.StepTimeout,
	})
	if resp.Failed() {
		if err := e.finishStep(ctx, step, workflow.StepFailed, resp.Result, resp.Error, opts); err != nil {
			return "", err
		}
		return resp.Error, nil
	}

	for k, v := range resp.Result {
		execCtx[k] = v
	}
	if err := e.finishStep(ctx, step, workflow.StepCompleted, resp.Result, "", opts); err != nil {
		return "", err
	}
	return "", nil
}

func (e *Engine) finishStep(ctx context.Context, step *workflow.Step, status string, output map[string]any, errMsg string, opts *RunOptions) error {
	now := time.Now().UTC()
	step.Status = status
	step.OutputData = output
	step.ErrorMessage = errMsg
	step.CompletedAt = &now
	if err := e.workflows.UpdateStep(ctx, step); err != nil {
		return err
	}
	if opts.OnStep != nil {
		opts.OnStep(step)
	}
	return nil
}

func (e *Engine) completeExecution(ctx context.Context, exec *workflow.Execution, execCtx map[string]any) error {
	now := time.Now().UTC()
	exec.Status = workflow.StatusCompleted
	exec.OutputData = snapshot(execCtx)
	exec.CompletedAt = &now
	if err := e.workflows.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	e.logger.Info("execution completed",
		slog.String("execution_id", exec.ExecutionID),
		slog.String("process", exec.ProcessName),
	)
	return nil
}

// abortExecution handles an infrastructure failure mid-run: the row is
// marked FAILED so it cannot strand in QUEUED or RUNNING, and the
// underlying error still propagates to the caller.
func (e *Engine) abortExecution(ctx context.Context, exec *workflow.Execution, cause error) error {
	if err := e.failExecution(ctx, exec, cause.Error()); err != nil {
		e.logger.Error("failed to record aborted execution",
			slog.String("execution_id", exec.ExecutionID),
			slog.String("error", err.Error()),
		)
	}
	return cause
}

func (e *Engine) failExecution(ctx context.Context, exec *workflow.Execution, reason string) error {
	now := time.Now().UTC()
	exec.Status = workflow.StatusFailed
	exec.ErrorMessage = reason
	exec.CompletedAt = &now
	if err := e.workflows.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	e.logger.Warn("execution failed",
		slog.String("execution_id", exec.ExecutionID),
		slog.String("process", exec.ProcessName),
		slog.String("reason", reason),
	)
	return nil
}

// Validate checks a structure for execution-blocking problems: graph
// issues plus task nodes whose step function is missing from the
// catalog.
func (e *Engine) Validate(ctx context.Context, structure json.RawMessage) []workflow.ValidationIssue {
	graph, err := workflow.ParseGraph(structure)
	if err != nil {
		return []workflow.ValidationIssue{{Message: err.Error()}}
	}
	if err := e.resolveBehaviors(ctx, graph); err != nil {
		return []workflow.ValidationIssue{{Message: err.Error()}}
	}

	issues := graph.Validate()
	for i := range graph.Structure.Nodes {
		node := &graph.Structure.Nodes[i]
		if graph.BehaviorOf(node) != workflow.BehaviorTask {
			continue
		}
		fn := strings.TrimSpace(node.Data.StepFunction)
		if fn == "" {
			continue
		}
		if _, err := e.catalog.GetTask(ctx, fn); errors.Is(err, catalog.ErrTaskNotFound) {
			issues = append(issues, workflow.ValidationIssue{
				NodeID:  node.ID,
				Message: fmt.Sprintf("Task not found: %s", fn),
			})
		}
	}
	return issues
}

func snapshot(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
