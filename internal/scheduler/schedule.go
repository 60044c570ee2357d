// Package scheduler manages task schedules: durable rows describing
// what runs when, mirrored into a Redis entry store that the beat loop
// fires from.
package scheduler

import (
	"context"
	"errors"
	"time"
)

var (
	ErrScheduleNotFound = errors.New("scheduler: schedule not found")
	ErrTaskCancelled    = errors.New("scheduler: task is cancelled")
	ErrNotCancelled     = errors.New("scheduler: schedule is not cancelled")
)

// Schedule types.
const (
	TypeImmediate = "IMMEDIATE"
	TypeOnce      = "ONCE"
	TypeWeekly    = "WEEKLY_SPECIFIC_DAYS"
	TypeMonthly   = "MONTHLY_SPECIFIC_DATES"
	TypePeriodic  = "PERIODIC"
)

// MissingParameterError reports a declared task parameter absent from a
// schedule request.
type MissingParameterError struct {
	Parameter string
}

func (e *MissingParameterError) Error() string {
	return "Missing value for parameter: " + e.Parameter
}

// TaskSchedule is one durable schedule row. RedbeatName links the row
// to its Redis entry; it is empty for IMMEDIATE dispatches, which have
// no entry and are revoked through TaskID instead.
type TaskSchedule struct {
	ScheduleID       int64          `json:"def_task_sche_id"`
	UserScheduleName string         `json:"user_schedule_name"`
	TaskName         string         `json:"task_name"`
	TaskID           string         `json:"task_id,omitempty"`
	RedbeatName      string         `json:"redbeat_name,omitempty"`
	ScheduleType     string         `json:"schedule_type"`
	ScheduleData     map[string]any `json:"schedule_data,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	CancelledYN      string         `json:"cancelled_yn"`
	CreatedBy        string         `json:"created_by,omitempty"`
	CreationDate     time.Time      `json:"creation_date"`
	UpdatedBy        string         `json:"last_updated_by,omitempty"`
	UpdateDate       time.Time      `json:"last_update_date"`
}

// RowStore is the durable schedule row persistence interface.
type RowStore interface {
	Create(ctx context.Context, s *TaskSchedule) error
	Get(ctx context.Context, scheduleID int64, userScheduleName, taskName string) (*TaskSchedule, error)
	GetByTaskID(ctx context.Context, taskID string) (*TaskSchedule, error)
	GetByTaskName(ctx context.Context, taskName string) (*TaskSchedule, error)
	GetByRedbeatName(ctx context.Context, taskName, redbeatName string) (*TaskSchedule, error)
	List(ctx context.Context) ([]*TaskSchedule, error)
	Page(ctx context.Context, page, limit int) ([]*TaskSchedule, int, error)

	// Search matches the term against schedule, task, and type names,
	// case-insensitively and with spaces and underscores interchangeable,
	// returning one page plus the total match count.
	Search(ctx context.Context, term string, page, limit int) ([]*TaskSchedule, int, error)

	Update(ctx context.Context, s *TaskSchedule) error
	SetCancelled(ctx context.Context, scheduleID int64, cancelled bool, updatedBy string) error
}
