package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory catalog store used in tests and local
// development.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	params  map[string][]*TaskParam
	methods map[string]*ExecutionMethod

	nextTaskID  int64
	nextParamID int64
}

// NewMemoryStore creates an empty in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*Task),
		params:  make(map[string][]*TaskParam),
		methods: make(map[string]*ExecutionMethod),
	}
}

func (s *MemoryStore) CreateTask(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTaskID++
	t.TaskID = s.nextTaskID
	clone := *t
	s.tasks[t.TaskName] = &clone
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, taskName string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[taskName]
	if !ok {
		return nil, ErrTaskNotFound
	}
	clone := *t
	return &clone, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		clone := *t
		tasks = append(tasks, &clone)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskName < tasks[j].TaskName })
	return tasks, nil
}

func (s *MemoryStore) CreateTaskParams(ctx context.Context, params []*TaskParam) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range params {
		s.nextParamID++
		p.ParamID = s.nextParamID
		clone := *p
		s.params[p.TaskName] = append(s.params[p.TaskName], &clone)
	}
	return nil
}

func (s *MemoryStore) ListTaskParams(ctx context.Context, taskName string) ([]*TaskParam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	params := make([]*TaskParam, 0, len(s.params[taskName]))
	for _, p := range s.params[taskName] {
		clone := *p
		params = append(params, &clone)
	}
	return params, nil
}

func (s *MemoryStore) ListTaskParamsPage(ctx context.Context, taskName string, page, limit int) ([]*TaskParam, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.params[taskName]
	total := len(all)

	// Newest first, like the SQL store.
	desc := make([]*TaskParam, total)
	for i, p := range all {
		clone := *p
		desc[total-1-i] = &clone
	}

	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return desc[start:end], total, nil
}

func (s *MemoryStore) UpdateTaskParam(ctx context.Context, param *TaskParam) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.params[param.TaskName] {
		if p.ParamID == param.ParamID {
			p.ParameterName = param.ParameterName
			p.DataType = param.DataType
			p.Description = param.Description
			p.UpdatedBy = param.UpdatedBy
			p.UpdateDate = param.UpdateDate
			return nil
		}
	}
	return ErrParamNotFound
}

func (s *MemoryStore) DeleteTaskParam(ctx context.Context, taskName string, paramID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	params := s.params[taskName]
	for i, p := range params {
		if p.ParamID == paramID {
			s.params[taskName] = append(params[:i], params[i+1:]...)
			return nil
		}
	}
	return ErrParamNotFound
}

func (s *MemoryStore) BatchTaskParams(ctx context.Context, taskNames []string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]string)
	for _, name := range taskNames {
		for _, p := range s.params[name] {
			result[name] = append(result[name], p.ParameterName)
		}
	}
	return result, nil
}

func (s *MemoryStore) CreateExecutionMethod(ctx context.Context, m *ExecutionMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.methods[m.InternalExecutionMethod]; ok {
		return ErrMethodExists
	}
	clone := *m
	s.methods[m.InternalExecutionMethod] = &clone
	return nil
}

func (s *MemoryStore) GetExecutionMethod(ctx context.Context, internalName string) (*ExecutionMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.methods[internalName]
	if !ok {
		return nil, ErrMethodNotFound
	}
	clone := *m
	return &clone, nil
}

func (s *MemoryStore) ListExecutionMethods(ctx context.Context) ([]*ExecutionMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedMethods(), nil
}

func (s *MemoryStore) ListExecutionMethodsPage(ctx context.Context, page, limit int) ([]*ExecutionMethod, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return paginateMethods(s.sortedMethods(), page, limit)
}

func (s *MemoryStore) SearchExecutionMethods(ctx context.Context, term string, page, limit int) ([]*ExecutionMethod, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(term))
	var matched []*ExecutionMethod
	for _, m := range s.sortedMethods() {
		if needle == "" ||
			strings.Contains(strings.ToLower(m.ExecutionMethod), needle) ||
			strings.Contains(strings.ToLower(m.InternalExecutionMethod), needle) {
			matched = append(matched, m)
		}
	}
	return paginateMethods(matched, page, limit)
}

func (s *MemoryStore) UpdateExecutionMethod(ctx context.Context, m *ExecutionMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.methods[m.InternalExecutionMethod]
	if !ok {
		return ErrMethodNotFound
	}
	stored.ExecutionMethod = m.ExecutionMethod
	stored.Executor = m.Executor
	stored.Description = m.Description
	stored.UpdatedBy = m.UpdatedBy
	stored.UpdateDate = m.UpdateDate
	return nil
}

func (s *MemoryStore) DeleteExecutionMethod(ctx context.Context, internalName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.methods[internalName]; !ok {
		return ErrMethodNotFound
	}
	delete(s.methods, internalName)
	return nil
}

// sortedMethods returns clones ordered like the SQL store. Callers hold
// the lock.
func (s *MemoryStore) sortedMethods() []*ExecutionMethod {
	methods := make([]*ExecutionMethod, 0, len(s.methods))
	for _, m := range s.methods {
		clone := *m
		methods = append(methods, &clone)
	}
	sort.Slice(methods, func(i, j int) bool {
		return strings.Compare(methods[i].InternalExecutionMethod, methods[j].InternalExecutionMethod) > 0
	})
	return methods
}

func paginateMethods(methods []*ExecutionMethod, page, limit int) ([]*ExecutionMethod, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	total := len(methods)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return methods[start:end], total, nil
}

