package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const scheduleColumns = `
	def_task_sche_id, user_schedule_name, task_name,
	COALESCE(task_id, ''), COALESCE(redbeat_name, ''), schedule_type,
	COALESCE(schedule_data, '{}'), COALESCE(parameters, '{}'),
	cancelled_yn, COALESCE(created_by, ''), creation_date,
	COALESCE(last_updated_by, ''), last_update_date`

// PostgresRowStore is the pgx-backed schedule row store.
type PostgresRowStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRowStore creates a PostgreSQL schedule row store.
func NewPostgresRowStore(pool *pgxpool.Pool) *PostgresRowStore {
	return &PostgresRowStore{pool: pool}
}

func (s *PostgresRowStore) Create(ctx context.Context, row *TaskSchedule) error {
	scheduleData, err := json.Marshal(row.ScheduleData)
	if err != nil {
		return fmt.Errorf("failed to encode schedule data: %w", err)
	}
	params, err := json.Marshal(row.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode schedule parameters: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO def_async_task_schedules (
			user_schedule_name, task_name, task_id, redbeat_name, schedule_type,
			schedule_data, parameters, cancelled_yn,
			created_by, creation_date, last_updated_by, last_update_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING def_task_sche_id
	`,
		row.UserScheduleName, row.TaskName, row.TaskID, row.RedbeatName, row.ScheduleType,
		scheduleData, params, row.CancelledYN,
		row.CreatedBy, row.CreationDate, row.UpdatedBy, row.UpdateDate,
	).Scan(&row.ScheduleID)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

func (s *PostgresRowStore) Get(ctx context.Context, scheduleID int64, userScheduleName, taskName string) (*TaskSchedule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM def_async_task_schedules
		WHERE def_task_sche_id = $1 AND user_schedule_name = $2 AND task_name = $3
	`, scheduleID, userScheduleName, taskName)
	return scanSchedule(row)
}

func (s *PostgresRowStore) GetByTaskID(ctx context.Context, taskID string) (*TaskSchedule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM def_async_task_schedules
		WHERE task_id = $1
	`, taskID)
	return scanSchedule(row)
}

func (s *PostgresRowStore) GetByTaskName(ctx context.Context, taskName string) (*TaskSchedule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM def_async_task_schedules
		WHERE task_name = $1
		ORDER BY def_task_sche_id DESC
		LIMIT 1
	`, taskName)
	return scanSchedule(row)
}

func (s *PostgresRowStore) GetByRedbeatName(ctx context.Context, taskName, redbeatName string) (*TaskSchedule, error) {
	if redbeatName == "" {
		return nil, ErrScheduleNotFound
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM def_async_task_schedules
		WHERE task_name = $1 AND redbeat_name = $2
	`, taskName, redbeatName)
	return scanSchedule(row)
}

func (s *PostgresRowStore) List(ctx context.Context) ([]*TaskSchedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM def_async_task_schedules
		ORDER BY def_task_sche_id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (s *PostgresRowStore) Page(ctx context.Context, page, limit int) ([]*TaskSchedule, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM def_async_task_schedules`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count schedules: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM def_async_task_schedules
		ORDER BY def_task_sche_id DESC
		LIMIT $1 OFFSET $2
	`, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to page schedules: %w", err)
	}
	defer rows.Close()

	schedules, err := scanSchedules(rows)
	return schedules, total, err
}

func (s *PostgresRowStore) Search(ctx context.Context, term string, page, limit int) ([]*TaskSchedule, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	patterns := make([]string, 0, 3)
	for _, needle := range searchTerms(term) {
		patterns = append(patterns, "%"+needle+"%")
	}
	if len(patterns) == 0 {
		return s.Page(ctx, page, limit)
	}

	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM def_async_task_schedules
		WHERE user_schedule_name ILIKE ANY($1)
			OR task_name ILIKE ANY($1)
			OR schedule_type ILIKE ANY($1)
	`, patterns).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count schedule matches: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM def_async_task_schedules
		WHERE user_schedule_name ILIKE ANY($1)
			OR task_name ILIKE ANY($1)
			OR schedule_type ILIKE ANY($1)
		ORDER BY def_task_sche_id DESC
		LIMIT $2 OFFSET $3
	`, patterns, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search schedules: %w", err)
	}
	defer rows.Close()

	schedules, err := scanSchedules(rows)
	return schedules, total, err
}

func (s *PostgresRowStore) Update(ctx context.Context, row *TaskSchedule) error {
	scheduleData, err := json.Marshal(row.ScheduleData)
	if err != nil {
		return fmt.Errorf("failed to encode schedule data: %w", err)
	}
	params, err := json.Marshal(row.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode schedule parameters: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE def_async_task_schedules
		SET task_id = $1, redbeat_name = $2, schedule_type = $3,
			schedule_data = $4, parameters = $5, cancelled_yn = $6,
			last_updated_by = $7, last_update_date = $8
		WHERE def_task_sche_id = $9
	`,
		row.TaskID, row.RedbeatName, row.ScheduleType,
		scheduleData, params, row.CancelledYN,
		row.UpdatedBy, row.UpdateDate, row.ScheduleID,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (s *PostgresRowStore) SetCancelled(ctx context.Context, scheduleID int64, cancelled bool, updatedBy string) error {
	flag := "N"
	if cancelled {
		flag = "Y"
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE def_async_task_schedules
		SET cancelled_yn = $1, last_updated_by = $2, last_update_date = $3
		WHERE def_task_sche_id = $4
	`, flag, updatedBy, time.Now().UTC(), scheduleID)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func scanSchedule(row pgx.Row) (*TaskSchedule, error) {
	var ts TaskSchedule
	var scheduleData, params []byte
	err := row.Scan(
		&ts.ScheduleID, &ts.UserScheduleName, &ts.TaskName,
		&ts.TaskID, &ts.RedbeatName, &ts.ScheduleType,
		&scheduleData, &params,
		&ts.CancelledYN, &ts.CreatedBy, &ts.CreationDate,
		&ts.UpdatedBy, &ts.UpdateDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	if err := json.Unmarshal(scheduleData, &ts.ScheduleData); err != nil {
		return nil, fmt.Errorf("failed to decode schedule data: %w", err)
	}
	if err := json.Unmarshal(params, &ts.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode schedule parameters: %w", err)
	}
	return &ts, nil
}

func scanSchedules(rows pgx.Rows) ([]*TaskSchedule, error) {
	var schedules []*TaskSchedule
	for rows.Next() {
		ts, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, ts)
	}
	return schedules, rows.Err()
}
