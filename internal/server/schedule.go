package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/procflow/orchestrator/internal/authn"
	"github.com/procflow/orchestrator/internal/catalog"
	"github.com/procflow/orchestrator/internal/scheduler"
)

// ScheduleRequest is the create body of a task schedule.
type ScheduleRequest struct {
	UserScheduleName string         `json:"user_schedule_name"`
	TaskName         string         `json:"task_name"`
	ScheduleType     string         `json:"schedule_type"`
	Schedule         map[string]any `json:"schedule"`
	Parameters       map[string]any `json:"parameters"`
}

// POST /Create_TaskSchedule.
func (s *Server) CreateTaskSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.UserScheduleName == "" || req.TaskName == "" || req.ScheduleType == "" {
		s.writeError(w, http.StatusBadRequest, "user_schedule_name, task_name, and schedule_type are required")
		return
	}

	_, err := s.scheduler.Create(r.Context(), &scheduler.CreateRequest{
		UserScheduleName: req.UserScheduleName,
		TaskName:         req.TaskName,
		ScheduleType:     req.ScheduleType,
		ScheduleData:     req.Schedule,
		Parameters:       req.Parameters,
		CreatedBy:        authn.Subject(r.Context()),
	})
	if err != nil {
		s.respondScheduleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"message": "Added successfully"})
}

// GET /Show_TaskSchedules.
func (s *Server) ShowTaskSchedules(w http.ResponseWriter, r *http.Request) {
	rows, err := s.scheduler.List(r.Context())
	if err != nil {
		s.writeServerError(w, "Failed to list schedules", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": rows})
}

// GET /def_async_task_schedules/{page}/{limit}.
func (s *Server) PageTaskSchedules(w http.ResponseWriter, r *http.Request) {
	page := pathInt(r, "page", 1)
	limit := pathInt(r, "limit", 10)

	rows, total, err := s.scheduler.Page(r.Context(), page, limit)
	if err != nil {
		s.writeServerError(w, "Failed to page schedules", err)
		return
	}
	s.writeJSON(w, http.StatusOK, pageEnvelope(rows, total, page, limit))
}

// GET /def_async_task_schedules/search/{page}/{limit}?task_name=….
func (s *Server) SearchTaskSchedules(w http.ResponseWriter, r *http.Request) {
	page := pathInt(r, "page", 1)
	limit := pathInt(r, "limit", 10)
	term := r.URL.Query().Get("task_name")

	rows, total, err := s.scheduler.Search(r.Context(), term, page, limit)
	if err != nil {
		s.writeServerError(w, "Failed to search schedules", err)
		return
	}
	s.writeJSON(w, http.StatusOK, pageEnvelope(rows, total, page, limit))
}

// GET /Show_TaskSchedule/{task_name}.
func (s *Server) ShowTaskSchedule(w http.ResponseWriter, r *http.Request) {
	row, err := s.scheduler.ShowByTaskName(r.Context(), r.PathValue("task_name"))
	if err != nil {
		s.respondScheduleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": row})
}

// ScheduleUpdateRequest is the update body; the entry is addressed by
// its redbeat_schedule_name.
type ScheduleUpdateRequest struct {
	RedbeatScheduleName string         `json:"redbeat_schedule_name"`
	ScheduleType        string         `json:"schedule_type"`
	Schedule            map[string]any `json:"schedule"`
	Parameters          map[string]any `json:"parameters"`
}

// PUT /Update_TaskSchedule/{task_name}.
func (s *Server) UpdateTaskSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleUpdateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	row, err := s.scheduler.Update(r.Context(), r.PathValue("task_name"), req.RedbeatScheduleName, &scheduler.UpdateRequest{
		ScheduleType: req.ScheduleType,
		ScheduleData: req.Schedule,
		Parameters:   req.Parameters,
		UpdatedBy:    authn.Subject(r.Context()),
	})
	if err != nil {
		s.respondScheduleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Edited successfully",
		"result":  row,
	})
}

// PUT /Cancel_TaskSchedule/{task_name}.
func (s *Server) CancelTaskSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleUpdateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.RedbeatScheduleName == "" {
		s.writeError(w, http.StatusBadRequest, "redbeat_schedule_name is required")
		return
	}

	err := s.scheduler.CancelByName(r.Context(), r.PathValue("task_name"), req.RedbeatScheduleName, authn.Subject(r.Context()))
	if err != nil {
		s.respondScheduleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Cancelled successfully"})
}

// PUT /Reschedule_Task/{task_name}.
func (s *Server) RescheduleTask(w http.ResponseWriter, r *http.Request) {
	var req ScheduleUpdateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.RedbeatScheduleName == "" {
		s.writeError(w, http.StatusBadRequest, "redbeat_schedule_name is required")
		return
	}

	row, err := s.scheduler.RescheduleByName(r.Context(), r.PathValue("task_name"), req.RedbeatScheduleName, authn.Subject(r.Context()))
	if err != nil {
		s.respondScheduleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Rescheduled successfully",
		"result":  row,
	})
}

// PUT /Cancel_AdHoc_Task/{task_name}/{user_schedule_name}/{schedule_id}/{task_id}.
func (s *Server) CancelAdhocTask(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := strconv.ParseInt(r.PathValue("schedule_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid schedule_id")
		return
	}

	// The row is verified against all three identifiers before the
	// task id is revoked.
	row, err := s.scheduler.Show(r.Context(), scheduleID, r.PathValue("user_schedule_name"), r.PathValue("task_name"))
	if err != nil {
		s.respondScheduleError(w, err)
		return
	}
	if row.TaskID != r.PathValue("task_id") {
		s.writeError(w, http.StatusNotFound, "Schedule not found")
		return
	}

	if err := s.scheduler.CancelAdhoc(r.Context(), row.TaskID, authn.Subject(r.Context())); err != nil {
		s.respondScheduleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Cancelled successfully"})
}

func (s *Server) respondScheduleError(w http.ResponseWriter, err error) {
	var missing *scheduler.MissingParameterError
	switch {
	case errors.As(err, &missing):
		s.writeError(w, http.StatusBadRequest, missing.Error())
	case errors.Is(err, scheduler.ErrBadScheduleData):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrScheduleNotFound):
		s.writeError(w, http.StatusNotFound, "Schedule not found")
	case errors.Is(err, catalog.ErrTaskNotFound):
		s.writeError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, scheduler.ErrTaskCancelled):
		s.writeError(w, http.StatusConflict, "Task is cancelled")
	case errors.Is(err, scheduler.ErrNotCancelled):
		s.writeError(w, http.StatusConflict, "Schedule is not cancelled")
	default:
		s.writeServerError(w, "Schedule operation failed", err)
	}
}
