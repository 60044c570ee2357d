package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/procflow/orchestrator/internal/catalog"
	"github.com/procflow/orchestrator/internal/executor"
	"github.com/procflow/orchestrator/internal/scheduler/redbeat"
)

// Service coordinates schedule rows, the Redis entry store, and task
// dispatch.
type Service struct {
	rows     RowStore
	entries  *redbeat.Store
	catalog  catalog.Store
	registry *executor.Registry
	logger   *slog.Logger

	dispatchTimeout time.Duration
}

// NewService creates a scheduler service.
func NewService(rows RowStore, entries *redbeat.Store, cat catalog.Store, registry *executor.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		rows:            rows,
		entries:         entries,
		catalog:         cat,
		registry:        registry,
		logger:          logger,
		dispatchTimeout: 5 * time.Minute,
	}
}

// CreateRequest describes a new schedule.
type CreateRequest struct {
	UserScheduleName string
	TaskName         string
	ScheduleType     string
	ScheduleData     map[string]any
	Parameters       map[string]any
	CreatedBy        string
}

// Create validates and persists a schedule. Recurring schedules are
// written to the entry store first and the row after, so a row never
// points at a missing entry; a failed row insert rolls the entry back.
// IMMEDIATE dispatches get no entry: the task fires right away in the
// background, revocable through its task id.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*TaskSchedule, error) {
	task, err := s.catalog.GetTask(ctx, req.TaskName)
	if err != nil {
		return nil, err
	}
	if task.Cancelled() {
		return nil, ErrTaskCancelled
	}

	declared, err := s.catalog.ListTaskParams(ctx, req.TaskName)
	if err != nil {
		return nil, err
	}
	for _, p := range declared {
		if _, ok := req.Parameters[p.ParameterName]; !ok {
			return nil, &MissingParameterError{Parameter: p.ParameterName}
		}
	}

	now := time.Now().UTC()
	row := &TaskSchedule{
		UserScheduleName: req.UserScheduleName,
		TaskName:         req.TaskName,
		ScheduleType:     req.ScheduleType,
		ScheduleData:     req.ScheduleData,
		Parameters:       req.Parameters,
		CancelledYN:      "N",
		CreatedBy:        req.CreatedBy,
		CreationDate:     now,
		UpdatedBy:        req.CreatedBy,
		UpdateDate:       now,
	}

	if req.ScheduleType == TypeImmediate {
		row.TaskID = uuid.NewString()
		if err := s.rows.Create(ctx, row); err != nil {
			return nil, err
		}
		go s.dispatchImmediate(row.TaskID, task, row)
		return row, nil
	}

	sched, err := translate(req.ScheduleType, req.ScheduleData)
	if err != nil {
		return nil, err
	}

	row.RedbeatName = fmt.Sprintf("%s_%s", req.UserScheduleName, uuid.NewString())
	entry := s.buildEntry(row, task, sched)
	if err := s.entries.Save(ctx, entry); err != nil {
		return nil, err
	}
	if err := s.rows.Create(ctx, row); err != nil {
		if delErr := s.entries.Delete(ctx, row.RedbeatName); delErr != nil {
			s.logger.Error("failed to roll back schedule entry",
				slog.String("entry", row.RedbeatName),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, err
	}
	return row, nil
}

// Show returns one schedule row.
func (s *Service) Show(ctx context.Context, scheduleID int64, userScheduleName, taskName string) (*TaskSchedule, error) {
	return s.rows.Get(ctx, scheduleID, userScheduleName, taskName)
}

// ShowByTaskName returns the most recent schedule row for a task.
func (s *Service) ShowByTaskName(ctx context.Context, taskName string) (*TaskSchedule, error) {
	return s.rows.GetByTaskName(ctx, taskName)
}

// List returns all schedule rows, newest first.
func (s *Service) List(ctx context.Context) ([]*TaskSchedule, error) {
	return s.rows.List(ctx)
}

// Page returns one page of schedule rows plus the total count.
func (s *Service) Page(ctx context.Context, page, limit int) ([]*TaskSchedule, int, error) {
	return s.rows.Page(ctx, page, limit)
}

// Search returns schedule rows matching the term.
func (s *Service) Search(ctx context.Context, term string, page, limit int) ([]*TaskSchedule, int, error) {
	return s.rows.Search(ctx, term, page, limit)
}

// Cancel stops a schedule. The row is flagged cancelled before the
// entry is removed; if the entry removal fails the flag is rolled back
// so the row never claims a stop that did not happen.
func (s *Service) Cancel(ctx context.Context, scheduleID int64, userScheduleName, taskName, updatedBy string) error {
	row, err := s.rows.Get(ctx, scheduleID, userScheduleName, taskName)
	if err != nil {
		return err
	}
	return s.cancelRow(ctx, row, updatedBy)
}

// CancelByName cancels a schedule identified by task name and entry
// name, the way schedule management clients address rows.
func (s *Service) CancelByName(ctx context.Context, taskName, redbeatName, updatedBy string) error {
	row, err := s.rows.GetByRedbeatName(ctx, taskName, redbeatName)
	if err != nil {
		return err
	}
	return s.cancelRow(ctx, row, updatedBy)
}

func (s *Service) cancelRow(ctx context.Context, row *TaskSchedule, updatedBy string) error {
	if err := s.rows.SetCancelled(ctx, row.ScheduleID, true, updatedBy); err != nil {
		return err
	}

	if row.RedbeatName == "" {
		// IMMEDIATE dispatch: revoke the pending fire instead.
		if row.TaskID != "" {
			if err := s.entries.Revoke(ctx, row.TaskID); err != nil {
				s.rollbackCancel(ctx, row.ScheduleID, updatedBy)
				return err
			}
		}
		return nil
	}

	if err := s.entries.Delete(ctx, row.RedbeatName); err != nil && !errors.Is(err, redbeat.ErrEntryNotFound) {
		s.rollbackCancel(ctx, row.ScheduleID, updatedBy)
		return err
	}
	return nil
}

func (s *Service) rollbackCancel(ctx context.Context, scheduleID int64, updatedBy string) {
	if err := s.rows.SetCancelled(ctx, scheduleID, false, updatedBy); err != nil {
		s.logger.Error("failed to roll back schedule cancellation",
			slog.Int64("schedule_id", scheduleID),
			slog.String("error", err.Error()),
		)
	}
}

// Reschedule re-arms a cancelled schedule under a fresh entry name,
// optionally with new schedule data.
func (s *Service) Reschedule(ctx context.Context, scheduleID int64, userScheduleName, taskName, scheduleType string, scheduleData map[string]any, updatedBy string) (*TaskSchedule, error) {
	row, err := s.rows.Get(ctx, scheduleID, userScheduleName, taskName)
	if err != nil {
		return nil, err
	}
	return s.rescheduleRow(ctx, row, scheduleType, scheduleData, updatedBy)
}

// RescheduleByName re-arms a cancelled schedule addressed by task name
// and entry name, reusing its saved schedule type and data.
func (s *Service) RescheduleByName(ctx context.Context, taskName, redbeatName, updatedBy string) (*TaskSchedule, error) {
	row, err := s.rows.GetByRedbeatName(ctx, taskName, redbeatName)
	if err != nil {
		return nil, err
	}
	return s.rescheduleRow(ctx, row, "", nil, updatedBy)
}

func (s *Service) rescheduleRow(ctx context.Context, row *TaskSchedule, scheduleType string, scheduleData map[string]any, updatedBy string) (*TaskSchedule, error) {
	if row.CancelledYN != "Y" {
		return nil, ErrNotCancelled
	}

	task, err := s.catalog.GetTask(ctx, row.TaskName)
	if err != nil {
		return nil, err
	}
	if task.Cancelled() {
		return nil, ErrTaskCancelled
	}

	if scheduleType == "" {
		scheduleType = row.ScheduleType
	}
	if scheduleData == nil {
		scheduleData = row.ScheduleData
	}
	sched, err := translate(scheduleType, scheduleData)
	if err != nil {
		return nil, err
	}

	row.RedbeatName = fmt.Sprintf("%s_%s", row.UserScheduleName, uuid.NewString())
	row.ScheduleType = scheduleType
	row.ScheduleData = scheduleData
	row.CancelledYN = "N"
	row.UpdatedBy = updatedBy
	row.UpdateDate = time.Now().UTC()

	entry := s.buildEntry(row, task, sched)
	if err := s.entries.Save(ctx, entry); err != nil {
		return nil, err
	}
	if err := s.rows.Update(ctx, row); err != nil {
		if delErr := s.entries.Delete(ctx, row.RedbeatName); delErr != nil {
			s.logger.Error("failed to roll back rescheduled entry",
				slog.String("entry", row.RedbeatName),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, err
	}
	return row, nil
}

// UpdateRequest carries the editable fields of a schedule. Nil maps
// leave the stored values alone.
type UpdateRequest struct {
	ScheduleType string
	ScheduleData map[string]any
	Parameters   map[string]any
	UpdatedBy    string
}

// Update edits a schedule in place. Recurring schedules keep their
// entry name: the new definition is saved over the old entry first and
// restored if the row write fails. IMMEDIATE rows have no entry, so
// only the row changes.
func (s *Service) Update(ctx context.Context, taskName, redbeatName string, req *UpdateRequest) (*TaskSchedule, error) {
	row, err := s.rows.GetByRedbeatName(ctx, taskName, redbeatName)
	if err != nil {
		if !errors.Is(err, ErrScheduleNotFound) || redbeatName != "" {
			return nil, err
		}
		// IMMEDIATE rows carry no entry name.
		if row, err = s.rows.GetByTaskName(ctx, taskName); err != nil {
			return nil, err
		}
	}

	task, err := s.catalog.GetTask(ctx, row.TaskName)
	if err != nil {
		return nil, err
	}
	if task.Cancelled() {
		return nil, ErrTaskCancelled
	}

	if req.ScheduleType != "" {
		row.ScheduleType = req.ScheduleType
	}
	if req.ScheduleData != nil {
		row.ScheduleData = req.ScheduleData
	}
	if req.Parameters != nil {
		declared, err := s.catalog.ListTaskParams(ctx, row.TaskName)
		if err != nil {
			return nil, err
		}
		for _, p := range declared {
			if _, ok := req.Parameters[p.ParameterName]; !ok {
				return nil, &MissingParameterError{Parameter: p.ParameterName}
			}
		}
		row.Parameters = req.Parameters
	}
	row.UpdatedBy = req.UpdatedBy
	row.UpdateDate = time.Now().UTC()

	if row.RedbeatName == "" {
		if err := s.rows.Update(ctx, row); err != nil {
			return nil, err
		}
		return row, nil
	}

	sched, err := translate(row.ScheduleType, row.ScheduleData)
	if err != nil {
		return nil, err
	}
	oldEntry, err := s.entries.Get(ctx, row.RedbeatName)
	if err != nil && !errors.Is(err, redbeat.ErrEntryNotFound) {
		return nil, err
	}

	entry := s.buildEntry(row, task, sched)
	if err := s.entries.Save(ctx, entry); err != nil {
		return nil, err
	}
	if err := s.rows.Update(ctx, row); err != nil {
		if oldEntry != nil {
			if saveErr := s.entries.Save(ctx, oldEntry); saveErr != nil {
				s.logger.Error("failed to restore schedule entry",
					slog.String("entry", row.RedbeatName),
					slog.String("error", saveErr.Error()),
				)
			}
		}
		return nil, err
	}
	return row, nil
}

// CancelAdhoc revokes a pending immediate dispatch by its task id and
// flags its row.
func (s *Service) CancelAdhoc(ctx context.Context, taskID, updatedBy string) error {
	row, err := s.rows.GetByTaskID(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.rows.SetCancelled(ctx, row.ScheduleID, true, updatedBy); err != nil {
		return err
	}
	if err := s.entries.Revoke(ctx, taskID); err != nil {
		s.rollbackCancel(ctx, row.ScheduleID, updatedBy)
		return err
	}
	return nil
}

// FireEntry executes one due entry through the executor registry. The
// beat loop calls this after claiming the entry's slot.
func (s *Service) FireEntry(ctx context.Context, entry *redbeat.Entry) error {
	if !entry.Enabled {
		return nil
	}
	if entry.TaskID != "" {
		revoked, err := s.entries.IsRevoked(ctx, entry.TaskID)
		if err != nil {
			return err
		}
		if revoked {
			s.logger.Info("skipping revoked entry", slog.String("entry", entry.Name))
			return nil
		}
	}

	task, err := s.catalog.GetTask(ctx, entry.TaskName)
	if err != nil {
		return fmt.Errorf("entry %s: %w", entry.Name, err)
	}
	if task.Cancelled() {
		s.logger.Warn("skipping entry of cancelled task",
			slog.String("entry", entry.Name),
			slog.String("task", entry.TaskName),
		)
		return nil
	}

	resp := s.registry.Execute(ctx, &executor.Request{
		Kind: task.Executor,
		Descriptor: executor.Descriptor{
			TaskName:     task.TaskName,
			UserTaskName: task.UserTaskName,
			ScriptName:   task.ScriptName,
			ScriptPath:   task.ScriptPath,
		},
		Positional: entry.Args,
		Named:      entry.Kwargs,
		Timeout:    s.dispatchTimeout,
	})
	if resp.Failed() {
		return fmt.Errorf("entry %s failed: %s", entry.Name, resp.Error)
	}
	return nil
}

func (s *Service) dispatchImmediate(taskID string, task *catalog.Task, row *TaskSchedule) {
	ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
	defer cancel()

	revoked, err := s.entries.IsRevoked(ctx, taskID)
	if err != nil {
		s.logger.Error("failed to check revocation before dispatch",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		return
	}
	if revoked {
		s.logger.Info("immediate dispatch revoked before firing", slog.String("task_id", taskID))
		return
	}

	resp := s.registry.Execute(ctx, &executor.Request{
		Kind: task.Executor,
		Descriptor: executor.Descriptor{
			TaskName:     task.TaskName,
			UserTaskName: task.UserTaskName,
			ScriptName:   task.ScriptName,
			ScriptPath:   task.ScriptPath,
		},
		Positional: positionalArgs(row, task),
		Named:      row.Parameters,
		Timeout:    s.dispatchTimeout,
	})
	if resp.Failed() {
		s.logger.Error("immediate dispatch failed",
			slog.String("task", task.TaskName),
			slog.String("task_id", taskID),
			slog.String("error", resp.Error),
		)
		return
	}
	s.logger.Info("immediate dispatch completed",
		slog.String("task", task.TaskName),
		slog.String("task_id", taskID),
	)
}

func (s *Service) buildEntry(row *TaskSchedule, task *catalog.Task, sched redbeat.Schedule) *redbeat.Entry {
	return &redbeat.Entry{
		Name:             row.RedbeatName,
		Task:             fmt.Sprintf("executors.%s.execute", task.Executor),
		TaskName:         task.TaskName,
		UserScheduleName: row.UserScheduleName,
		ScheduleType:     row.ScheduleType,
		Args:             positionalArgs(row, task),
		Kwargs:           row.Parameters,
		Schedule:         sched,
		Enabled:          true,
	}
}

// positionalArgs is the fixed argument tuple handed to executors for
// scheduled dispatches.
func positionalArgs(row *TaskSchedule, task *catalog.Task) []any {
	return []any{
		task.ScriptName,
		task.UserTaskName,
		task.TaskName,
		row.UserScheduleName,
		row.RedbeatName,
		row.ScheduleType,
		row.ScheduleData,
	}
}
