package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed catalog store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL catalog store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// CreateTask inserts a task definition.
func (s *PostgresStore) CreateTask(ctx context.Context, t *Task) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO def_async_tasks (
			task_name, user_task_name, executor, script_name, script_path,
			description, cancelled_yn, created_by, creation_date, last_updated_by, last_update_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING def_task_id
	`,
		t.TaskName, t.UserTaskName, t.Executor, t.ScriptName, t.ScriptPath,
		t.Description, t.CancelledYN, t.CreatedBy, t.CreationDate, t.UpdatedBy, t.UpdateDate,
	).Scan(&t.TaskID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by name.
func (s *PostgresStore) GetTask(ctx context.Context, taskName string) (*Task, error) {
	var t Task
	err := s.pool.QueryRow(ctx, `
		SELECT def_task_id, task_name, user_task_name, executor,
			   COALESCE(script_name, ''), COALESCE(script_path, ''),
			   COALESCE(description, ''), cancelled_yn,
			   COALESCE(created_by, ''), creation_date,
			   COALESCE(last_updated_by, ''), last_update_date
		FROM def_async_tasks
		WHERE task_name = $1
	`, taskName).Scan(
		&t.TaskID, &t.TaskName, &t.UserTaskName, &t.Executor,
		&t.ScriptName, &t.ScriptPath, &t.Description, &t.CancelledYN,
		&t.CreatedBy, &t.CreationDate, &t.UpdatedBy, &t.UpdateDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &t, nil
}

// ListTasks returns all task definitions.
func (s *PostgresStore) ListTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT def_task_id, task_name, user_task_name, executor,
			   COALESCE(script_name, ''), COALESCE(script_path, ''),
			   COALESCE(description, ''), cancelled_yn,
			   COALESCE(created_by, ''), creation_date,
			   COALESCE(last_updated_by, ''), last_update_date
		FROM def_async_tasks
		ORDER BY task_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.TaskID, &t.TaskName, &t.UserTaskName, &t.Executor,
			&t.ScriptName, &t.ScriptPath, &t.Description, &t.CancelledYN,
			&t.CreatedBy, &t.CreationDate, &t.UpdatedBy, &t.UpdateDate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// CreateTaskParams inserts several parameters in one transaction.
func (s *PostgresStore) CreateTaskParams(ctx context.Context, params []*TaskParam) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range params {
		err := tx.QueryRow(ctx, `
			INSERT INTO def_async_task_params (
				task_name, parameter_name, data_type, description,
				created_by, creation_date, last_updated_by, last_update_date
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING def_param_id
		`,
			p.TaskName, p.ParameterName, p.DataType, p.Description,
			p.CreatedBy, p.CreationDate, p.UpdatedBy, p.UpdateDate,
		).Scan(&p.ParamID)
		if err != nil {
			return fmt.Errorf("failed to create task parameter: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ListTaskParams returns the declared parameters of a task in insertion
// order.
func (s *PostgresStore) ListTaskParams(ctx context.Context, taskName string) ([]*TaskParam, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT def_param_id, task_name, parameter_name, data_type,
			   COALESCE(description, ''),
			   COALESCE(created_by, ''), creation_date,
			   COALESCE(last_updated_by, ''), last_update_date
		FROM def_async_task_params
		WHERE task_name = $1
		ORDER BY def_param_id
	`, taskName)
	if err != nil {
		return nil, fmt.Errorf("failed to list task parameters: %w", err)
	}
	defer rows.Close()
	return scanParams(rows)
}

// ListTaskParamsPage returns one page of parameters plus the total count.
func (s *PostgresStore) ListTaskParamsPage(ctx context.Context, taskName string, page, limit int) ([]*TaskParam, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM def_async_task_params WHERE task_name = $1`, taskName,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count task parameters: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT def_param_id, task_name, parameter_name, data_type,
			   COALESCE(description, ''),
			   COALESCE(created_by, ''), creation_date,
			   COALESCE(last_updated_by, ''), last_update_date
		FROM def_async_task_params
		WHERE task_name = $1
		ORDER BY def_param_id DESC
		LIMIT $2 OFFSET $3
	`, taskName, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list task parameters: %w", err)
	}
	defer rows.Close()

	params, err := scanParams(rows)
	return params, total, err
}

// UpdateTaskParam updates a parameter identified by task name and id.
func (s *PostgresStore) UpdateTaskParam(ctx context.Context, p *TaskParam) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE def_async_task_params
		SET parameter_name = $1, data_type = $2, description = $3,
			last_updated_by = $4, last_update_date = $5
		WHERE task_name = $6 AND def_param_id = $7
	`, p.ParameterName, p.DataType, p.Description, p.UpdatedBy, p.UpdateDate, p.TaskName, p.ParamID)
	if err != nil {
		return fmt.Errorf("failed to update task parameter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrParamNotFound
	}
	return nil
}

// DeleteTaskParam removes a parameter.
func (s *PostgresStore) DeleteTaskParam(ctx context.Context, taskName string, paramID int64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM def_async_task_params WHERE task_name = $1 AND def_param_id = $2
	`, taskName, paramID)
	if err != nil {
		return fmt.Errorf("failed to delete task parameter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrParamNotFound
	}
	return nil
}

// BatchTaskParams reads parameter names for several tasks in one query.
func (s *PostgresStore) BatchTaskParams(ctx context.Context, taskNames []string) (map[string][]string, error) {
	result := make(map[string][]string)
	if len(taskNames) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT task_name, parameter_name
		FROM def_async_task_params
		WHERE task_name = ANY($1)
		ORDER BY def_param_id
	`, taskNames)
	if err != nil {
		return nil, fmt.Errorf("failed to batch task parameters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskName, paramName string
		if err := rows.Scan(&taskName, &paramName); err != nil {
			return nil, fmt.Errorf("failed to scan task parameter: %w", err)
		}
		result[taskName] = append(result[taskName], paramName)
	}
	return result, rows.Err()
}

// CreateExecutionMethod inserts a method descriptor; ErrMethodExists on a
// duplicate internal name.
func (s *PostgresStore) CreateExecutionMethod(ctx context.Context, m *ExecutionMethod) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM def_async_execution_methods WHERE internal_execution_method = $1)`,
		m.InternalExecutionMethod,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check execution method: %w", err)
	}
	if exists {
		return ErrMethodExists
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO def_async_execution_methods (
			execution_method, internal_execution_method, executor, description,
			created_by, creation_date, last_updated_by, last_update_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		m.ExecutionMethod, m.InternalExecutionMethod, m.Executor, m.Description,
		m.CreatedBy, m.CreationDate, m.UpdatedBy, m.UpdateDate,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution method: %w", err)
	}
	return nil
}

const methodColumns = `
	execution_method, internal_execution_method, COALESCE(executor, ''),
	COALESCE(description, ''),
	COALESCE(created_by, ''), creation_date,
	COALESCE(last_updated_by, ''), last_update_date`

// GetExecutionMethod retrieves a method by its internal name.
func (s *PostgresStore) GetExecutionMethod(ctx context.Context, internalName string) (*ExecutionMethod, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+methodColumns+`
		FROM def_async_execution_methods
		WHERE internal_execution_method = $1
	`, internalName)
	return scanMethod(row)
}

// ListExecutionMethods returns all method descriptors.
func (s *PostgresStore) ListExecutionMethods(ctx context.Context) ([]*ExecutionMethod, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+methodColumns+`
		FROM def_async_execution_methods
		ORDER BY internal_execution_method DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution methods: %w", err)
	}
	defer rows.Close()
	return scanMethods(rows)
}

// ListExecutionMethodsPage returns one page of methods plus the total
// count.
func (s *PostgresStore) ListExecutionMethodsPage(ctx context.Context, page, limit int) ([]*ExecutionMethod, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM def_async_execution_methods`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count execution methods: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+methodColumns+`
		FROM def_async_execution_methods
		ORDER BY internal_execution_method DESC
		LIMIT $1 OFFSET $2
	`, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to page execution methods: %w", err)
	}
	defer rows.Close()

	methods, err := scanMethods(rows)
	return methods, total, err
}

// SearchExecutionMethods matches the term against method names.
func (s *PostgresStore) SearchExecutionMethods(ctx context.Context, term string, page, limit int) ([]*ExecutionMethod, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	pattern := "%" + term + "%"

	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM def_async_execution_methods
		WHERE execution_method ILIKE $1 OR internal_execution_method ILIKE $1
	`, pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count execution method matches: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+methodColumns+`
		FROM def_async_execution_methods
		WHERE execution_method ILIKE $1 OR internal_execution_method ILIKE $1
		ORDER BY internal_execution_method DESC
		LIMIT $2 OFFSET $3
	`, pattern, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search execution methods: %w", err)
	}
	defer rows.Close()

	methods, err := scanMethods(rows)
	return methods, total, err
}

// UpdateExecutionMethod updates a method identified by its internal
// name.
func (s *PostgresStore) UpdateExecutionMethod(ctx context.Context, m *ExecutionMethod) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE def_async_execution_methods
		SET execution_method = $1, executor = $2, description = $3,
			last_updated_by = $4, last_update_date = $5
		WHERE internal_execution_method = $6
	`, m.ExecutionMethod, m.Executor, m.Description, m.UpdatedBy, m.UpdateDate, m.InternalExecutionMethod)
	if err != nil {
		return fmt.Errorf("failed to update execution method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMethodNotFound
	}
	return nil
}

// DeleteExecutionMethod removes a method descriptor.
func (s *PostgresStore) DeleteExecutionMethod(ctx context.Context, internalName string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM def_async_execution_methods WHERE internal_execution_method = $1
	`, internalName)
	if err != nil {
		return fmt.Errorf("failed to delete execution method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMethodNotFound
	}
	return nil
}

func scanMethod(row pgx.Row) (*ExecutionMethod, error) {
	var m ExecutionMethod
	err := row.Scan(
		&m.ExecutionMethod, &m.InternalExecutionMethod, &m.Executor, &m.Description,
		&m.CreatedBy, &m.CreationDate, &m.UpdatedBy, &m.UpdateDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMethodNotFound
		}
		return nil, fmt.Errorf("failed to scan execution method: %w", err)
	}
	return &m, nil
}

func scanMethods(rows pgx.Rows) ([]*ExecutionMethod, error) {
	var methods []*ExecutionMethod
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

func scanParams(rows pgx.Rows) ([]*TaskParam, error) {
	var params []*TaskParam
	for rows.Next() {
		var p TaskParam
		if err := rows.Scan(
			&p.ParamID, &p.TaskName, &p.ParameterName, &p.DataType, &p.Description,
			&p.CreatedBy, &p.CreationDate, &p.UpdatedBy, &p.UpdateDate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task parameter: %w", err)
		}
		params = append(params, &p)
	}
	return params, rows.Err()
}
