package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/procflow/orchestrator/internal/workflow"
)

// MemoryStore is an in-memory workflow store used in tests and local
// development.
type MemoryStore struct {
	mu         sync.RWMutex
	processes  map[string]*workflow.Process
	nodeTypes  map[int64]*workflow.NodeType
	executions map[string]*workflow.Execution
	steps      map[string][]*workflow.Step

	nextProcessID  int64
	nextNodeTypeID int64
	nextStepID     int64
}

// NewMemoryStore creates an empty in-memory workflow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		processes:  make(map[string]*workflow.Process),
		nodeTypes:  make(map[int64]*workflow.NodeType),
		executions: make(map[string]*workflow.Execution),
		steps:      make(map[string][]*workflow.Step),
	}
}

func (s *MemoryStore) CreateProcess(ctx context.Context, p *workflow.Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processes[p.ProcessName]; ok {
		return workflow.ErrProcessExists
	}
	s.nextProcessID++
	p.ProcessID = s.nextProcessID
	clone := *p
	s.processes[p.ProcessName] = &clone
	return nil
}

func (s *MemoryStore) GetProcess(ctx context.Context, processName string) (*workflow.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.processes[processName]
	if !ok {
		return nil, workflow.ErrProcessNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *MemoryStore) GetProcessByID(ctx context.Context, processID int64) (*workflow.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.findProcessByID(processID)
	if p == nil {
		return nil, workflow.ErrProcessNotFound
	}
	clone := *p
	return &clone, nil
}

// findProcessByID must be called with the lock held.
func (s *MemoryStore) findProcessByID(processID int64) *workflow.Process {
	for _, p := range s.processes {
		if p.ProcessID == processID {
			return p
		}
	}
	return nil
}

func (s *MemoryStore) ListProcesses(ctx context.Context) ([]*workflow.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	processes := make([]*workflow.Process, 0, len(s.processes))
	for _, p := range s.processes {
		clone := *p
		processes = append(processes, &clone)
	}
	sort.Slice(processes, func(i, j int) bool { return processes[i].ProcessName < processes[j].ProcessName })
	return processes, nil
}

func (s *MemoryStore) UpdateProcess(ctx context.Context, p *workflow.Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.findProcessByID(p.ProcessID)
	if existing == nil {
		return workflow.ErrProcessNotFound
	}
	if existing.ProcessName != p.ProcessName {
		delete(s.processes, existing.ProcessName)
	}
	clone := *p
	s.processes[p.ProcessName] = &clone
	return nil
}

func (s *MemoryStore) UpdateProcessStructure(ctx context.Context, processName string, structure []byte, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.processes[processName]
	if !ok {
		return workflow.ErrProcessNotFound
	}
	p.Structure = append([]byte(nil), structure...)
	p.UpdatedBy = updatedBy
	p.UpdateDate = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetProcessCancelled(ctx context.Context, processName string, cancelled bool, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.processes[processName]
	if !ok {
		return workflow.ErrProcessNotFound
	}
	p.CancelledYN = "N"
	if cancelled {
		p.CancelledYN = "Y"
	}
	p.UpdatedBy = updatedBy
	p.UpdateDate = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteProcess(ctx context.Context, processID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findProcessByID(processID)
	if p == nil {
		return workflow.ErrProcessNotFound
	}
	delete(s.processes, p.ProcessName)
	return nil
}

func (s *MemoryStore) CreateNodeType(ctx context.Context, nt *workflow.NodeType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.nodeTypes {
		if existing.ShapeName == nt.ShapeName {
			return workflow.ErrNodeTypeExists
		}
	}
	s.nextNodeTypeID++
	nt.NodeTypeID = s.nextNodeTypeID
	clone := *nt
	s.nodeTypes[nt.NodeTypeID] = &clone
	return nil
}

func (s *MemoryStore) GetNodeType(ctx context.Context, nodeTypeID int64) (*workflow.NodeType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nt, ok := s.nodeTypes[nodeTypeID]
	if !ok {
		return nil, workflow.ErrNodeTypeNotFound
	}
	clone := *nt
	return &clone, nil
}

func (s *MemoryStore) GetNodeTypeByShape(ctx context.Context, shapeName string) (*workflow.NodeType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, nt := range s.nodeTypes {
		if nt.ShapeName == shapeName {
			clone := *nt
			return &clone, nil
		}
	}
	return nil, workflow.ErrNodeTypeNotFound
}

func (s *MemoryStore) ListNodeTypes(ctx context.Context) ([]*workflow.NodeType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodeTypes := make([]*workflow.NodeType, 0, len(s.nodeTypes))
	for _, nt := range s.nodeTypes {
		clone := *nt
		nodeTypes = append(nodeTypes, &clone)
	}
	sort.Slice(nodeTypes, func(i, j int) bool { return nodeTypes[i].NodeTypeID < nodeTypes[j].NodeTypeID })
	return nodeTypes, nil
}

func (s *MemoryStore) UpdateNodeType(ctx context.Context, nt *workflow.NodeType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodeTypes[nt.NodeTypeID]; !ok {
		return workflow.ErrNodeTypeNotFound
	}
	for id, existing := range s.nodeTypes {
		if id != nt.NodeTypeID && existing.ShapeName == nt.ShapeName {
			return workflow.ErrNodeTypeExists
		}
	}
	clone := *nt
	s.nodeTypes[nt.NodeTypeID] = &clone
	return nil
}

func (s *MemoryStore) DeleteNodeType(ctx context.Context, nodeTypeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodeTypes[nodeTypeID]; !ok {
		return workflow.ErrNodeTypeNotFound
	}
	delete(s.nodeTypes, nodeTypeID)
	return nil
}

func (s *MemoryStore) CreateExecution(ctx context.Context, e *workflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *e
	s.executions[e.ExecutionID] = &clone
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, executionID string) (*workflow.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.executions[executionID]
	if !ok {
		return nil, workflow.ErrExecutionNotFound
	}
	clone := *e
	return &clone, nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, processName string, limit int) ([]*workflow.Execution, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var executions []*workflow.Execution
	for _, e := range s.executions {
		if e.ProcessName != processName {
			continue
		}
		clone := *e
		executions = append(executions, &clone)
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreationDate.After(executions[j].CreationDate)
	})
	if len(executions) > limit {
		executions = executions[:limit]
	}
	return executions, nil
}

func (s *MemoryStore) UpdateExecution(ctx context.Context, e *workflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[e.ExecutionID]; !ok {
		return workflow.ErrExecutionNotFound
	}
	clone := *e
	s.executions[e.ExecutionID] = &clone
	return nil
}

func (s *MemoryStore) CreateStep(ctx context.Context, step *workflow.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextStepID++
	step.StepID = s.nextStepID
	clone := *step
	s.steps[step.ExecutionID] = append(s.steps[step.ExecutionID], &clone)
	return nil
}

func (s *MemoryStore) UpdateStep(ctx context.Context, step *workflow.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.steps[step.ExecutionID] {
		if existing.StepID == step.StepID {
			clone := *step
			s.steps[step.ExecutionID][i] = &clone
			return nil
		}
	}
	return workflow.ErrStepNotFound
}

func (s *MemoryStore) ListSteps(ctx context.Context, executionID string) ([]*workflow.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var steps []*workflow.Step
	for _, step := range s.steps[executionID] {
		clone := *step
		steps = append(steps, &clone)
	}
	return steps, nil
}
