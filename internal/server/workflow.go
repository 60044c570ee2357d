package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/procflow/orchestrator/internal/authn"
	"github.com/procflow/orchestrator/internal/engine"
	"github.com/procflow/orchestrator/internal/workflow"
)

// WorkflowRequest is the create/update body of a workflow definition.
type WorkflowRequest struct {
	ProcessName      string          `json:"process_name"`
	UserProcessName  string          `json:"user_process_name"`
	ProcessStructure json.RawMessage `json:"process_structure"`
	Description      string          `json:"description"`
}

// POST /workflow.
func (s *Server) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req WorkflowRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.ProcessName == "" {
		s.writeError(w, http.StatusBadRequest, "process_name is required")
		return
	}
	if len(req.ProcessStructure) == 0 {
		s.writeError(w, http.StatusBadRequest, "process_structure is required")
		return
	}
	if _, err := workflow.ParseGraph(req.ProcessStructure); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	caller := authn.Subject(r.Context())
	proc := &workflow.Process{
		ProcessName:     req.ProcessName,
		UserProcessName: req.UserProcessName,
		Structure:       req.ProcessStructure,
		Description:     req.Description,
		CancelledYN:     "N",
		CreatedBy:       caller,
		CreationDate:    now,
		UpdatedBy:       caller,
		UpdateDate:      now,
	}
	if err := s.workflows.CreateProcess(r.Context(), proc); err != nil {
		if errors.Is(err, workflow.ErrProcessExists) {
			s.writeError(w, http.StatusConflict, "Workflow name already exists")
			return
		}
		s.writeServerError(w, "Failed to create workflow", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Added successfully",
		"result":  proc,
	})
}

// PUT /workflow?process_id=N.
func (s *Server) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	processID, err := strconv.ParseInt(r.URL.Query().Get("process_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "process_id is required")
		return
	}
	var req WorkflowRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	proc, err := s.workflows.GetProcessByID(r.Context(), processID)
	if err != nil {
		if errors.Is(err, workflow.ErrProcessNotFound) {
			s.writeError(w, http.StatusNotFound, "Workflow not found")
			return
		}
		s.writeServerError(w, "Failed to load workflow", err)
		return
	}

	if req.ProcessName != "" {
		proc.ProcessName = req.ProcessName
	}
	if req.UserProcessName != "" {
		proc.UserProcessName = req.UserProcessName
	}
	if len(req.ProcessStructure) > 0 {
		if _, err := workflow.ParseGraph(req.ProcessStructure); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		proc.Structure = req.ProcessStructure
	}
	if req.Description != "" {
		proc.Description = req.Description
	}
	proc.UpdatedBy = authn.Subject(r.Context())
	proc.UpdateDate = time.Now().UTC()

	if err := s.workflows.UpdateProcess(r.Context(), proc); err != nil {
		if errors.Is(err, workflow.ErrProcessNotFound) {
			s.writeError(w, http.StatusNotFound, "Workflow not found")
			return
		}
		s.writeServerError(w, "Failed to update workflow", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Edited successfully",
		"result":  proc,
	})
}

// GET /workflow[?process_id|process_name].
func (s *Server) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if idParam := q.Get("process_id"); idParam != "" {
		processID, err := strconv.ParseInt(idParam, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid process_id")
			return
		}
		proc, err := s.workflows.GetProcessByID(r.Context(), processID)
		if err != nil {
			s.respondProcessError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"result": proc})
		return
	}

	if name := q.Get("process_name"); name != "" {
		proc, err := s.workflows.GetProcess(r.Context(), name)
		if err != nil {
			s.respondProcessError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"result": proc})
		return
	}

	procs, err := s.workflows.ListProcesses(r.Context())
	if err != nil {
		s.writeServerError(w, "Failed to list workflows", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": procs})
}

// DELETE /workflow?process_id|process_name.
func (s *Server) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	idParam := q.Get("process_id")
	if idParam == "" {
		name := q.Get("process_name")
		if name == "" {
			s.writeError(w, http.StatusBadRequest, "process_id or process_name is required")
			return
		}
		proc, err := s.workflows.GetProcess(r.Context(), name)
		if err != nil {
			s.respondProcessError(w, err)
			return
		}
		idParam = strconv.FormatInt(proc.ProcessID, 10)
	}

	processID, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid process_id")
		return
	}
	if err := s.workflows.DeleteProcess(r.Context(), processID); err != nil {
		s.respondProcessError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted successfully"})
}

func (s *Server) respondProcessError(w http.ResponseWriter, err error) {
	if errors.Is(err, workflow.ErrProcessNotFound) {
		s.writeError(w, http.StatusNotFound, "Workflow not found")
		return
	}
	s.writeServerError(w, "Workflow lookup failed", err)
}

// POST /workflow/validate.
func (s *Server) ValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProcessStructure json.RawMessage `json:"process_structure"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if len(req.ProcessStructure) == 0 {
		s.writeError(w, http.StatusBadRequest, "process_structure is required")
		return
	}

	issues := s.engine.Validate(r.Context(), req.ProcessStructure)
	errs := make([]string, 0, len(issues))
	for _, issue := range issues {
		errs = append(errs, issue.Message)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"valid":  len(errs) == 0,
		"errors": errs,
	})
}

// POST /workflow/required_params. The body is the structure document
// itself: {nodes, edges}.
func (s *Server) RequiredParams(w http.ResponseWriter, r *http.Request) {
	var structure json.RawMessage
	if !s.decodeJSON(w, r, &structure) {
		return
	}

	params, err := s.analyzer.Analyze(r.Context(), structure)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"workflow_inputs":     params,
		"has_required_inputs": len(params) > 0,
		"total_inputs":        len(params),
	})
}

// POST /workflow/run/{process_id}.
func (s *Server) RunWorkflow(w http.ResponseWriter, r *http.Request) {
	processID, err := strconv.ParseInt(r.PathValue("process_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid process_id")
		return
	}

	var req struct {
		Context map[string]any `json:"context"`
	}
	if r.ContentLength > 0 {
		if !s.decodeJSON(w, r, &req) {
			return
		}
	}

	proc, err := s.workflows.GetProcessByID(r.Context(), processID)
	if err != nil {
		s.respondProcessError(w, err)
		return
	}

	exec, err := s.engine.InitializeExecution(r.Context(), proc.ProcessName, req.Context, authn.Subject(r.Context()))
	if err != nil {
		if errors.Is(err, engine.ErrProcessCancelled) {
			s.writeError(w, http.StatusConflict, "Workflow is cancelled")
			return
		}
		s.writeServerError(w, "Failed to start workflow", err)
		return
	}

	s.startRun(exec.ExecutionID, nil)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"message":                  "Workflow started",
		"def_process_execution_id": exec.ExecutionID,
		"status":                   workflow.StatusRunning,
	})
}

// POST /workflow/run_dynamic. Validates the structure before starting.
func (s *Server) RunDynamic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProcessStructure json.RawMessage `json:"process_structure"`
		Context          map[string]any  `json:"context"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if len(req.ProcessStructure) == 0 {
		s.writeError(w, http.StatusBadRequest, "process_structure is required")
		return
	}

	issues := s.engine.Validate(r.Context(), req.ProcessStructure)
	if len(issues) > 0 {
		errs := make([]string, 0, len(issues))
		for _, issue := range issues {
			errs = append(errs, issue.Message)
		}
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"valid":  false,
			"errors": errs,
		})
		return
	}

	exec, err := s.engine.InitializeDynamicExecution(r.Context(), req.Context, authn.Subject(r.Context()))
	if err != nil {
		s.writeServerError(w, "Failed to start workflow", err)
		return
	}

	s.startRun(exec.ExecutionID, req.ProcessStructure)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"message":                  "Workflow started",
		"def_process_execution_id": exec.ExecutionID,
		"status":                   workflow.StatusRunning,
	})
}

// startRun hands the execution to a background goroutine. The request
// context dies with the response, so the run gets its own.
func (s *Server) startRun(executionID string, override json.RawMessage) {
	go func() {
		opts := &engine.RunOptions{StructureOverride: override}
		if err := s.engine.Execute(context.Background(), executionID, opts); err != nil {
			s.logger.Error("background run failed",
				slog.String("execution_id", executionID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// GET /workflow/executions?process_id=…|def_process_execution_id=….
func (s *Server) ListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if execID := q.Get("def_process_execution_id"); execID != "" {
		exec, err := s.workflows.GetExecution(r.Context(), execID)
		if err != nil {
			if errors.Is(err, workflow.ErrExecutionNotFound) {
				s.writeError(w, http.StatusNotFound, "Execution not found")
				return
			}
			s.writeServerError(w, "Failed to load execution", err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"result": exec})
		return
	}

	processName := q.Get("process_name")
	if idParam := q.Get("process_id"); idParam != "" {
		processID, err := strconv.ParseInt(idParam, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid process_id")
			return
		}
		proc, err := s.workflows.GetProcessByID(r.Context(), processID)
		if err != nil {
			s.respondProcessError(w, err)
			return
		}
		processName = proc.ProcessName
	}
	if processName == "" {
		s.writeError(w, http.StatusBadRequest, "process_id or def_process_execution_id is required")
		return
	}

	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = n
	}
	execs, err := s.workflows.ListExecutions(r.Context(), processName, limit)
	if err != nil {
		s.writeServerError(w, "Failed to list executions", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": execs})
}

// GET /workflow/execution_steps?def_process_execution_id=…[&node_id=…].
func (s *Server) ListExecutionSteps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	execID := q.Get("def_process_execution_id")
	if execID == "" {
		s.writeError(w, http.StatusBadRequest, "def_process_execution_id is required")
		return
	}

	steps, err := s.workflows.ListSteps(r.Context(), execID)
	if err != nil {
		s.writeServerError(w, "Failed to list execution steps", err)
		return
	}
	if nodeID := q.Get("node_id"); nodeID != "" {
		filtered := steps[:0]
		for _, step := range steps {
			if step.NodeID == nodeID {
				filtered = append(filtered, step)
			}
		}
		steps = filtered
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": steps})
}

// GET /workflow/execution_stream/{execution_id}.
func (s *Server) StreamExecution(w http.ResponseWriter, r *http.Request) {
	s.streamer.Stream(w, r, r.PathValue("execution_id"))
}

// NodeTypeRequest is the create/update body of a node type.
type NodeTypeRequest struct {
	NodeTypeID           int64  `json:"def_node_type_id"`
	ShapeName            string `json:"shape_name"`
	Behavior             string `json:"behavior"`
	DisplayName          string `json:"display_name"`
	RequiresStepFunction string `json:"requires_step_function"`
	Description          string `json:"description"`
}

// GET /workflow/node_types[?def_node_type_id=…].
func (s *Server) ListNodeTypes(w http.ResponseWriter, r *http.Request) {
	if idParam := r.URL.Query().Get("def_node_type_id"); idParam != "" {
		nodeTypeID, err := strconv.ParseInt(idParam, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid def_node_type_id")
			return
		}
		nt, err := s.workflows.GetNodeType(r.Context(), nodeTypeID)
		if err != nil {
			s.respondNodeTypeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"result": nt})
		return
	}

	types, err := s.workflows.ListNodeTypes(r.Context())
	if err != nil {
		s.writeServerError(w, "Failed to list node types", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": types})
}

// POST /workflow/node_types.
func (s *Server) CreateNodeType(w http.ResponseWriter, r *http.Request) {
	var req NodeTypeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.ShapeName == "" || req.Behavior == "" {
		s.writeError(w, http.StatusBadRequest, "shape_name and behavior are required")
		return
	}

	now := time.Now().UTC()
	caller := authn.Subject(r.Context())
	nt := &workflow.NodeType{
		ShapeName:            req.ShapeName,
		Behavior:             req.Behavior,
		DisplayName:          req.DisplayName,
		RequiresStepFunction: req.RequiresStepFunction,
		Description:          req.Description,
		CreatedBy:            caller,
		CreationDate:         now,
		UpdatedBy:            caller,
		UpdateDate:           now,
	}
	if err := s.workflows.CreateNodeType(r.Context(), nt); err != nil {
		if errors.Is(err, workflow.ErrNodeTypeExists) {
			s.writeError(w, http.StatusConflict, "Shape name already exists")
			return
		}
		s.writeServerError(w, "Failed to create node type", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Added successfully",
		"result":  nt,
	})
}

// PUT /workflow/node_types?def_node_type_id=….
func (s *Server) UpdateNodeType(w http.ResponseWriter, r *http.Request) {
	nodeTypeID, err := strconv.ParseInt(r.URL.Query().Get("def_node_type_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "def_node_type_id is required")
		return
	}
	var req NodeTypeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	nt, err := s.workflows.GetNodeType(r.Context(), nodeTypeID)
	if err != nil {
		s.respondNodeTypeError(w, err)
		return
	}
	if req.ShapeName != "" {
		nt.ShapeName = req.ShapeName
	}
	if req.Behavior != "" {
		nt.Behavior = req.Behavior
	}
	if req.DisplayName != "" {
		nt.DisplayName = req.DisplayName
	}
	if req.RequiresStepFunction != "" {
		nt.RequiresStepFunction = req.RequiresStepFunction
	}
	if req.Description != "" {
		nt.Description = req.Description
	}
	nt.UpdatedBy = authn.Subject(r.Context())
	nt.UpdateDate = time.Now().UTC()

	if err := s.workflows.UpdateNodeType(r.Context(), nt); err != nil {
		if errors.Is(err, workflow.ErrNodeTypeExists) {
			s.writeError(w, http.StatusConflict, "Shape name already exists")
			return
		}
		s.respondNodeTypeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Edited successfully",
		"result":  nt,
	})
}

// DELETE /workflow/node_types?def_node_type_id=….
func (s *Server) DeleteNodeType(w http.ResponseWriter, r *http.Request) {
	nodeTypeID, err := strconv.ParseInt(r.URL.Query().Get("def_node_type_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "def_node_type_id is required")
		return
	}
	if err := s.workflows.DeleteNodeType(r.Context(), nodeTypeID); err != nil {
		s.respondNodeTypeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted successfully"})
}

func (s *Server) respondNodeTypeError(w http.ResponseWriter, err error) {
	if errors.Is(err, workflow.ErrNodeTypeNotFound) {
		s.writeError(w, http.StatusNotFound, "Node type not found")
		return
	}
	s.writeServerError(w, "Node type lookup failed", err)
}
