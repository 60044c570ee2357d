package executor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultDatabaseTimeout = 2 * time.Minute

// Routine names come from catalog rows, not request bodies, but they are
// still interpolated into SQL and must stay a bare identifier.
var routineNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// StoredProcedureExecutor invokes a database procedure named by the task
// descriptor. Named parameters bind in sorted key order.
type StoredProcedureExecutor struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStoredProcedureExecutor creates a stored procedure executor.
func NewStoredProcedureExecutor(pool *pgxpool.Pool, logger *slog.Logger) *StoredProcedureExecutor {
	return &StoredProcedureExecutor{pool: pool, logger: logger}
}

func (e *StoredProcedureExecutor) Kind() string { return KindStoredProcedure }

func (e *StoredProcedureExecutor) Execute(ctx context.Context, req *Request) (*Response, error) {
	routine, args, resp := prepareRoutineCall(e.pool, req)
	if resp != nil {
		return resp, nil
	}

	ctx, cancel := context.WithTimeout(ctx, routineTimeout(req))
	defer cancel()

	sql := fmt.Sprintf("CALL %s(%s)", routine, placeholders(len(args)))
	if _, err := e.pool.Exec(ctx, sql, args...); err != nil {
		return &Response{Error: fmt.Sprintf("procedure %s failed: %v", routine, err)}, nil
	}

	e.logger.Debug("stored procedure executed", slog.String("routine", routine))
	return &Response{Result: map[string]any{"procedure": routine, "executed": true}}, nil
}

// StoredFunctionExecutor invokes a database function and returns its rows.
// A single row comes back keyed by column name; multiple rows come back
// under "rows".
type StoredFunctionExecutor struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStoredFunctionExecutor creates a stored function executor.
func NewStoredFunctionExecutor(pool *pgxpool.Pool, logger *slog.Logger) *StoredFunctionExecutor {
	return &StoredFunctionExecutor{pool: pool, logger: logger}
}

func (e *StoredFunctionExecutor) Kind() string { return KindStoredFunction }

func (e *StoredFunctionExecutor) Execute(ctx context.Context, req *Request) (*Response, error) {
	routine, args, resp := prepareRoutineCall(e.pool, req)
	if resp != nil {
		return resp, nil
	}

	ctx, cancel := context.WithTimeout(ctx, routineTimeout(req))
	defer cancel()

	sql := fmt.Sprintf("SELECT * FROM %s(%s)", routine, placeholders(len(args)))
	rows, err := e.pool.Query(ctx, sql, args...)
	if err != nil {
		return &Response{Error: fmt.Sprintf("function %s failed: %v", routine, err)}, nil
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var collected []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return &Response{Error: fmt.Sprintf("function %s scan failed: %v", routine, err)}, nil
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		collected = append(collected, row)
	}
	if err := rows.Err(); err != nil {
		return &Response{Error: fmt.Sprintf("function %s failed: %v", routine, err)}, nil
	}

	e.logger.Debug("stored function executed",
		slog.String("routine", routine),
		slog.Int("rows", len(collected)),
	)

	switch len(collected) {
	case 0:
		return &Response{Result: map[string]any{}}, nil
	case 1:
		return &Response{Result: collected[0]}, nil
	default:
		return &Response{Result: map[string]any{"rows": collected}}, nil
	}
}

func prepareRoutineCall(pool *pgxpool.Pool, req *Request) (string, []any, *Response) {
	if pool == nil {
		return "", nil, &Response{Error: "database executors are not configured"}
	}

	routine := req.Descriptor.ScriptName
	if routine == "" {
		routine = req.Descriptor.ScriptPath
	}
	if routine == "" {
		return "", nil, &Response{Error: fmt.Sprintf("task %s has no routine name", req.Descriptor.TaskName)}
	}
	if !routineNamePattern.MatchString(routine) {
		return "", nil, &Response{Error: fmt.Sprintf("invalid routine name: %s", routine)}
	}

	keys := make([]string, 0, len(req.Named))
	for k := range req.Named {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, req.Named[k])
	}
	return routine, args, nil
}

func routineTimeout(req *Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return defaultDatabaseTimeout
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}
