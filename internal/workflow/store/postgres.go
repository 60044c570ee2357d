package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/procflow/orchestrator/internal/workflow"
)

// PostgresStore is the pgx-backed workflow store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL workflow store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateProcess(ctx context.Context, p *workflow.Process) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM def_processes WHERE process_name = $1)
	`, p.ProcessName).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check process name: %w", err)
	}
	if exists {
		return workflow.ErrProcessExists
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO def_processes (
			process_name, user_process_name, structure, description,
			cancelled_yn, created_by, creation_date, last_updated_by, last_update_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING def_process_id
	`,
		p.ProcessName, p.UserProcessName, p.Structure, p.Description,
		p.CancelledYN, p.CreatedBy, p.CreationDate, p.UpdatedBy, p.UpdateDate,
	).Scan(&p.ProcessID)
	if err != nil {
		return fmt.Errorf("failed to create process: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProcess(ctx context.Context, processName string) (*workflow.Process, error) {
	var p workflow.Process
	err := s.pool.QueryRow(ctx, `
		SELECT def_process_id, process_name, user_process_name, structure,
			   COALESCE(description, ''), cancelled_yn,
			   COALESCE(created_by, ''), creation_date,
			   COALESCE(last_updated_by, ''), last_update_date
		FROM def_processes
		WHERE process_name = $1
	`, processName).Scan(
		&p.ProcessID, &p.ProcessName, &p.UserProcessName, &p.Structure,
		&p.Description, &p.CancelledYN,
		&p.CreatedBy, &p.CreationDate, &p.UpdatedBy, &p.UpdateDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, workflow.ErrProcessNotFound
		}
		return nil, fmt.Errorf("failed to get process: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetProcessByID(ctx context.Context, processID int64) (*workflow.Process, error) {
	var p workflow.Process
	err := s.pool.QueryRow(ctx, `
		SELECT def_process_id, process_name, user_process_name, structure,
			   COALESCE(description, ''), cancelled_yn,
			   COALESCE(created_by, ''), creation_date,
			   COALESCE(last_updated_by, ''), last_update_date
		FROM def_processes
		WHERE def_process_id = $1
	`, processID).Scan(
		&p.ProcessID, &p.ProcessName, &p.UserProcessName, &p.Structure,
		&p.Description, &p.CancelledYN,
		&p.CreatedBy, &p.CreationDate, &p.UpdatedBy, &p.UpdateDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, workflow.ErrProcessNotFound
		}
		return nil, fmt.Errorf("failed to get process: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListProcesses(ctx context.Context) ([]*workflow.Process, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT def_process_id, process_name, user_process_name, structure,
			   COALESCE(description, ''), cancelled_yn,
			   COALESCE(created_by, ''), creation_date,
			   COALESCE(last_updated_by, ''), last_update_date
		FROM def_processes
		ORDER BY process_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	defer rows.Close()

	var processes []*workflow.Process
	for rows.Next() {
		var p workflow.Process
		if err := rows.Scan(
			&p.ProcessID, &p.ProcessName, &p.UserProcessName, &p.Structure,
			&p.Description, &p.CancelledYN,
			&p.CreatedBy, &p.CreationDate, &p.UpdatedBy, &p.UpdateDate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan process: %w", err)
		}
		processes = append(processes, &p)
	}
	return processes, rows.Err()
}

func (s *PostgresStore) UpdateProcess(ctx context.Context, p *workflow.Process) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE def_processes
		SET process_name = $1, user_process_name = $2, structure = $3,
			description = $4, last_updated_by = $5, last_update_date = $6
		WHERE def_process_id = $7
	`, p.ProcessName, p.UserProcessName, p.Structure, p.Description, p.UpdatedBy, p.UpdateDate, p.ProcessID)
	if err != nil {
		return fmt.Errorf("failed to update process: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrProcessNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateProcessStructure(ctx context.Context, processName string, structure []byte, updatedBy string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE def_processes
		SET structure = $1, last_updated_by = $2, last_update_date = $3
		WHERE process_name = $4
	`, structure, updatedBy, time.Now().UTC(), processName)
	if err != nil {
		return fmt.Errorf("failed to update process structure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrProcessNotFound
	}
	return nil
}

func (s *PostgresStore) SetProcessCancelled(ctx context.Context, processName string, cancelled bool, updatedBy string) error {
	flag := "N"
	if cancelled {
		flag = "Y"
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE def_processes
		SET cancelled_yn = $1, last_updated_by = $2, last_update_date = $3
		WHERE process_name = $4
	`, flag, updatedBy, time.Now().UTC(), processName)
	if err != nil {
		return fmt.Errorf("failed to update process: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrProcessNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteProcess(ctx context.Context, processID int64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM def_processes WHERE def_process_id = $1
	`, processID)
	if err != nil {
		return fmt.Errorf("failed to delete process: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrProcessNotFound
	}
	return nil
}

func (s *PostgresStore) CreateNodeType(ctx context.Context, nt *workflow.NodeType) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM def_process_node_types WHERE shape_name = $1)
	`, nt.ShapeName).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check shape name: %w", err)
	}
	if exists {
		return workflow.ErrNodeTypeExists
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO def_process_node_types (
			shape_name, behavior, display_name, requires_step_function, description,
			created_by, creation_date, last_updated_by, last_update_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING def_node_type_id
	`,
		nt.ShapeName, nt.Behavior, nt.DisplayName, nt.RequiresStepFunction, nt.Description,
		nt.CreatedBy, nt.CreationDate, nt.UpdatedBy, nt.UpdateDate,
	).Scan(&nt.NodeTypeID)
	if err != nil {
		return fmt.Errorf("failed to create node type: %w", err)
	}
	return nil
}

const nodeTypeColumns = `def_node_type_id, shape_name, behavior,
	   COALESCE(display_name, ''), requires_step_function, COALESCE(description, ''),
	   COALESCE(created_by, ''), creation_date,
	   COALESCE(last_updated_by, ''), last_update_date`

func scanNodeType(row pgx.Row) (*workflow.NodeType, error) {
	var nt workflow.NodeType
	err := row.Scan(
		&nt.NodeTypeID, &nt.ShapeName, &nt.Behavior,
		&nt.DisplayName, &nt.RequiresStepFunction, &nt.Description,
		&nt.CreatedBy, &nt.CreationDate, &nt.UpdatedBy, &nt.UpdateDate,
	)
	if err != nil {
		return nil, err
	}
	return &nt, nil
}

func (s *PostgresStore) GetNodeType(ctx context.Context, nodeTypeID int64) (*workflow.NodeType, error) {
	nt, err := scanNodeType(s.pool.QueryRow(ctx, `
		SELECT `+nodeTypeColumns+`
		FROM def_process_node_types
		WHERE def_node_type_id = $1
	`, nodeTypeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, workflow.ErrNodeTypeNotFound
		}
		return nil, fmt.Errorf("failed to get node type: %w", err)
	}
	return nt, nil
}

func (s *PostgresStore) GetNodeTypeByShape(ctx context.Context, shapeName string) (*workflow.NodeType, error) {
	nt, err := scanNodeType(s.pool.QueryRow(ctx, `
		SELECT `+nodeTypeColumns+`
		FROM def_process_node_types
		WHERE shape_name = $1
	`, shapeName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, workflow.ErrNodeTypeNotFound
		}
		return nil, fmt.Errorf("failed to get node type: %w", err)
	}
	return nt, nil
}

func (s *PostgresStore) ListNodeTypes(ctx context.Context) ([]*workflow.NodeType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+nodeTypeColumns+`
		FROM def_process_node_types
		ORDER BY def_node_type_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list node types: %w", err)
	}
	defer rows.Close()

	var nodeTypes []*workflow.NodeType
	for rows.Next() {
		nt, err := scanNodeType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node type: %w", err)
		}
		nodeTypes = append(nodeTypes, nt)
	}
	return nodeTypes, rows.Err()
}

func (s *PostgresStore) UpdateNodeType(ctx context.Context, nt *workflow.NodeType) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE def_process_node_types
		SET shape_name = $1, behavior = $2, display_name = $3,
			requires_step_function = $4, description = $5,
			last_updated_by = $6, last_update_date = $7
		WHERE def_node_type_id = $8
	`,
		nt.ShapeName, nt.Behavior, nt.DisplayName,
		nt.RequiresStepFunction, nt.Description,
		nt.UpdatedBy, nt.UpdateDate, nt.NodeTypeID,
	)
	if err != nil {
		return fmt.Errorf("failed to update node type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrNodeTypeNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteNodeType(ctx context.Context, nodeTypeID int64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM def_process_node_types WHERE def_node_type_id = $1
	`, nodeTypeID)
	if err != nil {
		return fmt.Errorf("failed to delete node type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrNodeTypeNotFound
	}
	return nil
}

func (s *PostgresStore) CreateExecution(ctx context.Context, e *workflow.Execution) error {
	input, err := json.Marshal(e.InputData)
	if err != nil {
		return fmt.Errorf("failed to encode execution input: %w", err)
	}

	// Ad-hoc runs have no stored process; a zero id becomes NULL so the
	// execution survives without a definition row.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO def_process_executions (
			def_process_execution_id, def_process_id, process_name, status,
			input_data, created_by, creation_date
		) VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7)
	`,
		e.ExecutionID, e.ProcessID, e.ProcessName, e.Status,
		input, e.CreatedBy, e.CreationDate,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, executionID string) (*workflow.Execution, error) {
	var e workflow.Execution
	var input, output []byte
	err := s.pool.QueryRow(ctx, `
		SELECT def_process_execution_id, COALESCE(def_process_id, 0), process_name, status,
			   COALESCE(input_data, '{}'), COALESCE(output_data, '{}'),
			   COALESCE(error_message, ''), started_at, completed_at,
			   COALESCE(created_by, ''), creation_date
		FROM def_process_executions
		WHERE def_process_execution_id = $1
	`, executionID).Scan(
		&e.ExecutionID, &e.ProcessID, &e.ProcessName, &e.Status,
		&input, &output, &e.ErrorMessage, &e.StartedAt, &e.CompletedAt,
		&e.CreatedBy, &e.CreationDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, workflow.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	if err := json.Unmarshal(input, &e.InputData); err != nil {
		return nil, fmt.Errorf("failed to decode execution input: %w", err)
	}
	if err := json.Unmarshal(output, &e.OutputData); err != nil {
		return nil, fmt.Errorf("failed to decode execution output: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, processName string, limit int) ([]*workflow.Execution, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT def_process_execution_id, COALESCE(def_process_id, 0), process_name, status,
			   COALESCE(input_data, '{}'), COALESCE(output_data, '{}'),
			   COALESCE(error_message, ''), started_at, completed_at,
			   COALESCE(created_by, ''), creation_date
		FROM def_process_executions
		WHERE process_name = $1
		ORDER BY creation_date DESC
		LIMIT $2
	`, processName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*workflow.Execution
	for rows.Next() {
		var e workflow.Execution
		var input, output []byte
		if err := rows.Scan(
			&e.ExecutionID, &e.ProcessID, &e.ProcessName, &e.Status,
			&input, &output, &e.ErrorMessage, &e.StartedAt, &e.CompletedAt,
			&e.CreatedBy, &e.CreationDate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		if err := json.Unmarshal(input, &e.InputData); err != nil {
			return nil, fmt.Errorf("failed to decode execution input: %w", err)
		}
		if err := json.Unmarshal(output, &e.OutputData); err != nil {
			return nil, fmt.Errorf("failed to decode execution output: %w", err)
		}
		executions = append(executions, &e)
	}
	return executions, rows.Err()
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, e *workflow.Execution) error {
	output, err := json.Marshal(e.OutputData)
	if err != nil {
		return fmt.Errorf("failed to encode execution output: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE def_process_executions
		SET status = $1, output_data = $2, error_message = $3,
			started_at = $4, completed_at = $5
		WHERE def_process_execution_id = $6
	`, e.Status, output, e.ErrorMessage, e.StartedAt, e.CompletedAt, e.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrExecutionNotFound
	}
	return nil
}

func (s *PostgresStore) CreateStep(ctx context.Context, step *workflow.Step) error {
	input, err := json.Marshal(step.InputData)
	if err != nil {
		return fmt.Errorf("failed to encode step input: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO def_process_execution_steps (
			def_process_execution_id, node_id, task_name, label, status,
			input_data, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING def_process_execution_step_id
	`,
		step.ExecutionID, step.NodeID, step.TaskName, step.Label, step.Status,
		input, step.StartedAt,
	).Scan(&step.StepID)
	if err != nil {
		return fmt.Errorf("failed to create step: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStep(ctx context.Context, step *workflow.Step) error {
	output, err := json.Marshal(step.OutputData)
	if err != nil {
		return fmt.Errorf("failed to encode step output: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE def_process_execution_steps
		SET status = $1, output_data = $2, error_message = $3, completed_at = $4
		WHERE def_process_execution_step_id = $5
	`, step.Status, output, step.ErrorMessage, step.CompletedAt, step.StepID)
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrStepNotFound
	}
	return nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, executionID string) ([]*workflow.Step, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT def_process_execution_step_id, def_process_execution_id, node_id,
			   COALESCE(task_name, ''), COALESCE(label, ''), status,
			   COALESCE(input_data, '{}'), COALESCE(output_data, '{}'),
			   COALESCE(error_message, ''), started_at, completed_at
		FROM def_process_execution_steps
		WHERE def_process_execution_id = $1
		ORDER BY def_process_execution_step_id
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*workflow.Step
	for rows.Next() {
		var step workflow.Step
		var input, output []byte
		if err := rows.Scan(
			&step.StepID, &step.ExecutionID, &step.NodeID,
			&step.TaskName, &step.Label, &step.Status,
			&input, &output, &step.ErrorMessage, &step.StartedAt, &step.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal(input, &step.InputData); err != nil {
			return nil, fmt.Errorf("failed to decode step input: %w", err)
		}
		if err := json.Unmarshal(output, &step.OutputData); err != nil {
			return nil, fmt.Errorf("failed to decode step output: %w", err)
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}
