package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/procflow/orchestrator/internal/authn"
	"github.com/procflow/orchestrator/internal/catalog"
)

// ExecutionMethodRequest is the create/update body of an execution
// method descriptor.
type ExecutionMethodRequest struct {
	ExecutionMethod         string `json:"execution_method"`
	InternalExecutionMethod string `json:"internal_execution_method"`
	Executor                string `json:"executor"`
	Description             string `json:"description"`
}

// POST /Create_ExecutionMethod.
func (s *Server) CreateExecutionMethod(w http.ResponseWriter, r *http.Request) {
	var req ExecutionMethodRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.ExecutionMethod == "" || req.InternalExecutionMethod == "" {
		s.writeError(w, http.StatusBadRequest, "execution_method and internal_execution_method are required")
		return
	}

	now := time.Now().UTC()
	caller := authn.Subject(r.Context())
	method := &catalog.ExecutionMethod{
		ExecutionMethod:         req.ExecutionMethod,
		InternalExecutionMethod: req.InternalExecutionMethod,
		Executor:                req.Executor,
		Description:             req.Description,
		CreatedBy:               caller,
		CreationDate:            now,
		UpdatedBy:               caller,
		UpdateDate:              now,
	}
	if err := s.catalog.CreateExecutionMethod(r.Context(), method); err != nil {
		if errors.Is(err, catalog.ErrMethodExists) {
			s.writeError(w, http.StatusConflict, "Execution method already exists")
			return
		}
		s.writeServerError(w, "Failed to create execution method", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Added successfully",
		"result":  method,
	})
}

// GET /Show_ExecutionMethods.
func (s *Server) ShowExecutionMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := s.catalog.ListExecutionMethods(r.Context())
	if err != nil {
		s.writeServerError(w, "Failed to list execution methods", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": methods})
}

// GET /Show_ExecutionMethods/{page}/{limit}.
func (s *Server) PageExecutionMethods(w http.ResponseWriter, r *http.Request) {
	page := pathInt(r, "page", 1)
	limit := pathInt(r, "limit", 10)

	methods, total, err := s.catalog.ListExecutionMethodsPage(r.Context(), page, limit)
	if err != nil {
		s.writeServerError(w, "Failed to page execution methods", err)
		return
	}
	s.writeJSON(w, http.StatusOK, pageEnvelope(methods, total, page, limit))
}

// GET /def_async_execution_methods/search/{page}/{limit}?execution_method=….
func (s *Server) SearchExecutionMethods(w http.ResponseWriter, r *http.Request) {
	page := pathInt(r, "page", 1)
	limit := pathInt(r, "limit", 10)
	term := r.URL.Query().Get("execution_method")

	methods, total, err := s.catalog.SearchExecutionMethods(r.Context(), term, page, limit)
	if err != nil {
		s.writeServerError(w, "Failed to search execution methods", err)
		return
	}
	s.writeJSON(w, http.StatusOK, pageEnvelope(methods, total, page, limit))
}

// GET /Show_ExecutionMethod/{internal_execution_method}.
func (s *Server) ShowExecutionMethod(w http.ResponseWriter, r *http.Request) {
	method, err := s.catalog.GetExecutionMethod(r.Context(), r.PathValue("internal_execution_method"))
	if err != nil {
		s.respondMethodError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": method})
}

// PUT /Update_ExecutionMethod/{internal_execution_method}.
func (s *Server) UpdateExecutionMethod(w http.ResponseWriter, r *http.Request) {
	var req ExecutionMethodRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	method, err := s.catalog.GetExecutionMethod(r.Context(), r.PathValue("internal_execution_method"))
	if err != nil {
		s.respondMethodError(w, err)
		return
	}
	if req.ExecutionMethod != "" {
		method.ExecutionMethod = req.ExecutionMethod
	}
	if req.Executor != "" {
		method.Executor = req.Executor
	}
	if req.Description != "" {
		method.Description = req.Description
	}
	method.UpdatedBy = authn.Subject(r.Context())
	method.UpdateDate = time.Now().UTC()

	if err := s.catalog.UpdateExecutionMethod(r.Context(), method); err != nil {
		s.respondMethodError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Edited successfully",
		"result":  method,
	})
}

// DELETE /Delete_ExecutionMethod/{internal_execution_method}.
func (s *Server) DeleteExecutionMethod(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteExecutionMethod(r.Context(), r.PathValue("internal_execution_method")); err != nil {
		s.respondMethodError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted successfully"})
}

func (s *Server) respondMethodError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrMethodNotFound) {
		s.writeError(w, http.StatusNotFound, "Execution method not found")
		return
	}
	s.writeServerError(w, "Execution method lookup failed", err)
}

// TaskParamRequest is one declared parameter in an Add_TaskParams body.
type TaskParamRequest struct {
	ParameterName string `json:"parameter_name"`
	DataType      string `json:"data_type"`
	Description   string `json:"description"`
}

// POST /Add_TaskParams/{task_name}. The body carries one or more
// parameters under "parameters".
func (s *Server) AddTaskParams(w http.ResponseWriter, r *http.Request) {
	taskName := r.PathValue("task_name")
	var req struct {
		Parameters []TaskParamRequest `json:"parameters"`
	}
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if len(req.Parameters) == 0 {
		s.writeError(w, http.StatusBadRequest, "parameters are required")
		return
	}

	if _, err := s.catalog.GetTask(r.Context(), taskName); err != nil {
		if errors.Is(err, catalog.ErrTaskNotFound) {
			s.writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		s.writeServerError(w, "Task lookup failed", err)
		return
	}

	now := time.Now().UTC()
	caller := authn.Subject(r.Context())
	params := make([]*catalog.TaskParam, 0, len(req.Parameters))
	for _, p := range req.Parameters {
		if p.ParameterName == "" {
			s.writeError(w, http.StatusBadRequest, "parameter_name is required")
			return
		}
		params = append(params, &catalog.TaskParam{
			TaskName:      taskName,
			ParameterName: p.ParameterName,
			DataType:      p.DataType,
			Description:   p.Description,
			CreatedBy:     caller,
			CreationDate:  now,
			UpdatedBy:     caller,
			UpdateDate:    now,
		})
	}
	if err := s.catalog.CreateTaskParams(r.Context(), params); err != nil {
		s.writeServerError(w, "Failed to create task parameters", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Added successfully",
		"result":  params,
	})
}

// GET /Show_TaskParams/{task_name}.
func (s *Server) ShowTaskParams(w http.ResponseWriter, r *http.Request) {
	params, err := s.catalog.ListTaskParams(r.Context(), r.PathValue("task_name"))
	if err != nil {
		s.writeServerError(w, "Failed to list task parameters", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": params})
}

// GET /Show_TaskParams/{task_name}/{page}/{limit}.
func (s *Server) PageTaskParams(w http.ResponseWriter, r *http.Request) {
	page := pathInt(r, "page", 1)
	limit := pathInt(r, "limit", 10)

	params, total, err := s.catalog.ListTaskParamsPage(r.Context(), r.PathValue("task_name"), page, limit)
	if err != nil {
		s.writeServerError(w, "Failed to page task parameters", err)
		return
	}
	s.writeJSON(w, http.StatusOK, pageEnvelope(params, total, page, limit))
}

// PUT /Update_TaskParams/{task_name}/{def_param_id}.
func (s *Server) UpdateTaskParam(w http.ResponseWriter, r *http.Request) {
	paramID, err := strconv.ParseInt(r.PathValue("def_param_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid def_param_id")
		return
	}
	var req TaskParamRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.ParameterName == "" {
		s.writeError(w, http.StatusBadRequest, "parameter_name is required")
		return
	}

	param := &catalog.TaskParam{
		ParamID:       paramID,
		TaskName:      r.PathValue("task_name"),
		ParameterName: req.ParameterName,
		DataType:      req.DataType,
		Description:   req.Description,
		UpdatedBy:     authn.Subject(r.Context()),
		UpdateDate:    time.Now().UTC(),
	}
	if err := s.catalog.UpdateTaskParam(r.Context(), param); err != nil {
		if errors.Is(err, catalog.ErrParamNotFound) {
			s.writeError(w, http.StatusNotFound, "Task parameter not found")
			return
		}
		s.writeServerError(w, "Failed to update task parameter", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Edited successfully",
		"result":  param,
	})
}

// DELETE /Delete_TaskParams/{task_name}/{def_param_id}.
func (s *Server) DeleteTaskParam(w http.ResponseWriter, r *http.Request) {
	paramID, err := strconv.ParseInt(r.PathValue("def_param_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid def_param_id")
		return
	}
	if err := s.catalog.DeleteTaskParam(r.Context(), r.PathValue("task_name"), paramID); err != nil {
		if errors.Is(err, catalog.ErrParamNotFound) {
			s.writeError(w, http.StatusNotFound, "Task parameter not found")
			return
		}
		s.writeServerError(w, "Failed to delete task parameter", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted successfully"})
}
