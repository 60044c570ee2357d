package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRowStore is an in-memory schedule row store used in tests and
// local development.
type MemoryRowStore struct {
	mu     sync.RWMutex
	rows   map[int64]*TaskSchedule
	nextID int64
}

// NewMemoryRowStore creates an empty in-memory row store.
func NewMemoryRowStore() *MemoryRowStore {
	return &MemoryRowStore{rows: make(map[int64]*TaskSchedule)}
}

func (s *MemoryRowStore) Create(ctx context.Context, row *TaskSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	row.ScheduleID = s.nextID
	clone := *row
	s.rows[row.ScheduleID] = &clone
	return nil
}

func (s *MemoryRowStore) Get(ctx context.Context, scheduleID int64, userScheduleName, taskName string) (*TaskSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[scheduleID]
	if !ok || row.UserScheduleName != userScheduleName || row.TaskName != taskName {
		return nil, ErrScheduleNotFound
	}
	clone := *row
	return &clone, nil
}

func (s *MemoryRowStore) GetByTaskID(ctx context.Context, taskID string) (*TaskSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if row.TaskID == taskID && taskID != "" {
			clone := *row
			return &clone, nil
		}
	}
	return nil, ErrScheduleNotFound
}

func (s *MemoryRowStore) GetByTaskName(ctx context.Context, taskName string) (*TaskSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.sorted() {
		if row.TaskName == taskName {
			return row, nil
		}
	}
	return nil, ErrScheduleNotFound
}

func (s *MemoryRowStore) GetByRedbeatName(ctx context.Context, taskName, redbeatName string) (*TaskSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if row.TaskName == taskName && row.RedbeatName == redbeatName && redbeatName != "" {
			clone := *row
			return &clone, nil
		}
	}
	return nil, ErrScheduleNotFound
}

func (s *MemoryRowStore) List(ctx context.Context) ([]*TaskSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(), nil
}

func (s *MemoryRowStore) Page(ctx context.Context, page, limit int) ([]*TaskSchedule, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return paginate(s.sorted(), page, limit)
}

func (s *MemoryRowStore) Search(ctx context.Context, term string, page, limit int) ([]*TaskSchedule, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needles := searchTerms(term)
	var matched []*TaskSchedule
	for _, row := range s.sorted() {
		if len(needles) == 0 || matchesAny(row, needles) {
			matched = append(matched, row)
		}
	}
	return paginate(matched, page, limit)
}

func (s *MemoryRowStore) Update(ctx context.Context, row *TaskSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[row.ScheduleID]; !ok {
		return ErrScheduleNotFound
	}
	clone := *row
	s.rows[row.ScheduleID] = &clone
	return nil
}

func (s *MemoryRowStore) SetCancelled(ctx context.Context, scheduleID int64, cancelled bool, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[scheduleID]
	if !ok {
		return ErrScheduleNotFound
	}
	row.CancelledYN = "N"
	if cancelled {
		row.CancelledYN = "Y"
	}
	row.UpdatedBy = updatedBy
	row.UpdateDate = time.Now().UTC()
	return nil
}

// sorted returns clones newest first. Callers hold the lock.
func (s *MemoryRowStore) sorted() []*TaskSchedule {
	rows := make([]*TaskSchedule, 0, len(s.rows))
	for _, row := range s.rows {
		clone := *row
		rows = append(rows, &clone)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ScheduleID > rows[j].ScheduleID })
	return rows
}

// searchTerms folds the query so that spaces and underscores match
// interchangeably.
func searchTerms(term string) []string {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return nil
	}
	terms := []string{needle}
	if underscored := strings.ReplaceAll(needle, " ", "_"); underscored != needle {
		terms = append(terms, underscored)
	}
	if spaced := strings.ReplaceAll(needle, "_", " "); spaced != needle {
		terms = append(terms, spaced)
	}
	return terms
}

func matchesAny(row *TaskSchedule, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(strings.ToLower(row.UserScheduleName), needle) ||
			strings.Contains(strings.ToLower(row.TaskName), needle) ||
			strings.Contains(strings.ToLower(row.ScheduleType), needle) {
			return true
		}
	}
	return false
}

func paginate(rows []*TaskSchedule, page, limit int) ([]*TaskSchedule, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	total := len(rows)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return rows[start:end], total, nil
}
