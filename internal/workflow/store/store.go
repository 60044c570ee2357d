// Package store persists workflow definitions, executions, and steps.
package store

import (
	"context"

	"github.com/procflow/orchestrator/internal/workflow"
)

// Store is the workflow persistence interface.
type Store interface {
	CreateProcess(ctx context.Context, p *workflow.Process) error
	GetProcess(ctx context.Context, processName string) (*workflow.Process, error)
	GetProcessByID(ctx context.Context, processID int64) (*workflow.Process, error)
	ListProcesses(ctx context.Context) ([]*workflow.Process, error)
	UpdateProcess(ctx context.Context, p *workflow.Process) error
	UpdateProcessStructure(ctx context.Context, processName string, structure []byte, updatedBy string) error
	SetProcessCancelled(ctx context.Context, processName string, cancelled bool, updatedBy string) error
	DeleteProcess(ctx context.Context, processID int64) error

	CreateNodeType(ctx context.Context, nt *workflow.NodeType) error
	GetNodeType(ctx context.Context, nodeTypeID int64) (*workflow.NodeType, error)
	GetNodeTypeByShape(ctx context.Context, shapeName string) (*workflow.NodeType, error)
	ListNodeTypes(ctx context.Context) ([]*workflow.NodeType, error)
	UpdateNodeType(ctx context.Context, nt *workflow.NodeType) error
	DeleteNodeType(ctx context.Context, nodeTypeID int64) error

	CreateExecution(ctx context.Context, e *workflow.Execution) error
	GetExecution(ctx context.Context, executionID string) (*workflow.Execution, error)
	ListExecutions(ctx context.Context, processName string, limit int) ([]*workflow.Execution, error)
	UpdateExecution(ctx context.Context, e *workflow.Execution) error

	CreateStep(ctx context.Context, s *workflow.Step) error
	UpdateStep(ctx context.Context, s *workflow.Step) error
	ListSteps(ctx context.Context, executionID string) ([]*workflow.Step, error)
}
