// Package analyzer computes which input parameters a workflow needs
// from its caller: everything a task reads that no upstream task
// produces.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/procflow/orchestrator/internal/catalog"
	"github.com/procflow/orchestrator/internal/introspect"
	"github.com/procflow/orchestrator/internal/workflow"
)

// RequiredParam is one parameter the caller must supply, annotated with
// the task that first needs it.
type RequiredParam struct {
	Name        string `json:"name"`
	SourceTask  string `json:"source_task"`
	SourceLabel string `json:"source_label"`
}

// Analyzer resolves required parameters for a process structure.
type Analyzer struct {
	catalog catalog.Store
	logger  *slog.Logger

	// Script introspection is swappable in tests.
	inputs  func(scriptPath string) []string
	outputs func(scriptPath string) []string
}

// New creates an analyzer backed by the task catalog.
func New(cat catalog.Store, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		catalog: cat,
		logger:  logger,
		inputs:  introspect.Inputs,
		outputs: introspect.Outputs,
	}
}

// Analyze walks the structure's task nodes in document order. Each
// task's inputs come from its declared catalog parameters, falling back
// to script introspection when none are declared. An input satisfied by
// any upstream task's outputs, or pre-bound as a node attribute, is not
// required from the caller. Name matching is case-insensitive and
// results are deduplicated on name.
func (a *Analyzer) Analyze(ctx context.Context, structure json.RawMessage) ([]RequiredParam, error) {
	graph, err := workflow.ParseGraph(structure)
	if err != nil {
		return nil, err
	}

	type taskNode struct {
		node *workflow.Node
		task *catalog.Task
	}

	var nodes []taskNode
	var taskNames []string
	for i := range graph.Structure.Nodes {
		node := &graph.Structure.Nodes[i]
		if node.Behavior() != workflow.BehaviorTask {
			continue
		}
		fn := strings.TrimSpace(node.Data.StepFunction)
		if fn == "" {
			continue
		}

		task, err := a.catalog.GetTask(ctx, fn)
		if err != nil {
			if errors.Is(err, catalog.ErrTaskNotFound) {
				a.logger.Warn("skipping unknown task during analysis", slog.String("task", fn))
				continue
			}
			return nil, err
		}
		nodes = append(nodes, taskNode{node: node, task: task})
		taskNames = append(taskNames, fn)
	}

	declared, err := a.catalog.BatchTaskParams(ctx, taskNames)
	if err != nil {
		return nil, err
	}

	outputCache := make(map[string][]string)
	outputsOf := func(task *catalog.Task) []string {
		if cached, ok := outputCache[task.TaskName]; ok {
			return cached
		}
		outs := a.outputs(task.ScriptPath)
		outputCache[task.TaskName] = outs
		return outs
	}

	required := []RequiredParam{}
	seen := make(map[string]bool)
	for _, tn := range nodes {
		inputs := declared[tn.task.TaskName]
		if len(inputs) == 0 {
			inputs = a.inputs(tn.task.ScriptPath)
		}
		if len(inputs) == 0 {
			continue
		}

		available := make(map[string]bool)
		for _, attr := range tn.node.Data.Attributes {
			// Values bound on the node at design time never come from
			// the caller.
			available[strings.ToLower(attr.AttributeName)] = true
		}
		for _, ancestor := range graph.Ancestors(tn.node.ID) {
			if ancestor.Behavior() != workflow.BehaviorTask {
				continue
			}
			fn := strings.TrimSpace(ancestor.Data.StepFunction)
			if fn == "" {
				continue
			}
			task, err := a.catalog.GetTask(ctx, fn)
			if err != nil {
				continue
			}
			for _, out := range outputsOf(task) {
				available[strings.ToLower(out)] = true
			}
		}

		for _, name := range inputs {
			key := strings.ToLower(name)
			if available[key] || seen[key] {
				continue
			}
			seen[key] = true
			required = append(required, RequiredParam{
				Name:        name,
				SourceTask:  tn.task.TaskName,
				SourceLabel: tn.node.Data.Label,
			})
		}
	}
	return required, nil
}
