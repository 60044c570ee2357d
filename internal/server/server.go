// Package server exposes the orchestrator's JSON-over-HTTP API.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/procflow/orchestrator/internal/analyzer"
	"github.com/procflow/orchestrator/internal/authn"
	"github.com/procflow/orchestrator/internal/catalog"
	"github.com/procflow/orchestrator/internal/engine"
	"github.com/procflow/orchestrator/internal/ratelimit"
	"github.com/procflow/orchestrator/internal/scheduler"
	"github.com/procflow/orchestrator/internal/stream"
	wfstore "github.com/procflow/orchestrator/internal/workflow/store"
)

// MaxRequestBodySize limits request body to 1MB to prevent memory exhaustion.
const MaxRequestBodySize = 1 << 20 // 1 MB

// Server wires the domain services to their HTTP routes.
type Server struct {
	engine    *engine.Engine
	scheduler *scheduler.Service
	analyzer  *analyzer.Analyzer
	catalog   catalog.Store
	workflows wfstore.Store
	streamer  *stream.Streamer
	auth      *authn.Validator
	limits    *ratelimit.Limiter
	logger    *slog.Logger
}

// New creates a server. A nil auth validator disables authentication
// and a nil limiter disables rate limiting; both are for local
// development and tests.
func New(
	eng *engine.Engine,
	sched *scheduler.Service,
	an *analyzer.Analyzer,
	cat catalog.Store,
	workflows wfstore.Store,
	streamer *stream.Streamer,
	auth *authn.Validator,
	limits *ratelimit.Limiter,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    eng,
		scheduler: sched,
		analyzer:  an,
		catalog:   cat,
		workflows: workflows,
		streamer:  streamer,
		auth:      auth,
		limits:    limits,
		logger:    logger,
	}
}

// RegisterRoutes registers all HTTP routes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Workflow definitions and runs
	mux.HandleFunc("POST /workflow", s.secured(s.CreateWorkflow))
	mux.HandleFunc("PUT /workflow", s.secured(s.UpdateWorkflow))
	mux.HandleFunc("GET /workflow", s.secured(s.GetWorkflow))
	mux.HandleFunc("DELETE /workflow", s.secured(s.DeleteWorkflow))
	mux.HandleFunc("POST /workflow/validate", s.secured(s.ValidateWorkflow))
	mux.HandleFunc("POST /workflow/required_params", s.secured(s.RequiredParams))
	mux.HandleFunc("POST /workflow/run/{process_id}", s.secured(s.RunWorkflow))
	mux.HandleFunc("POST /workflow/run_dynamic", s.secured(s.RunDynamic))
	mux.HandleFunc("GET /workflow/executions", s.secured(s.ListExecutions))
	mux.HandleFunc("GET /workflow/execution_steps", s.secured(s.ListExecutionSteps))
	mux.HandleFunc("GET /workflow/execution_stream/{execution_id}", s.secured(s.StreamExecution))

	// Node type catalog
	mux.HandleFunc("GET /workflow/node_types", s.secured(s.ListNodeTypes))
	mux.HandleFunc("POST /workflow/node_types", s.secured(s.CreateNodeType))
	mux.HandleFunc("PUT /workflow/node_types", s.secured(s.UpdateNodeType))
	mux.HandleFunc("DELETE /workflow/node_types", s.secured(s.DeleteNodeType))

	// Task schedules
	mux.HandleFunc("POST /Create_TaskSchedule", s.secured(s.CreateTaskSchedule))
	mux.HandleFunc("GET /Show_TaskSchedules", s.secured(s.ShowTaskSchedules))
	mux.HandleFunc("GET /def_async_task_schedules/{page}/{limit}", s.secured(s.PageTaskSchedules))
	mux.HandleFunc("GET /def_async_task_schedules/search/{page}/{limit}", s.secured(s.SearchTaskSchedules))
	mux.HandleFunc("GET /Show_TaskSchedule/{task_name}", s.secured(s.ShowTaskSchedule))
	mux.HandleFunc("PUT /Update_TaskSchedule/{task_name}", s.secured(s.UpdateTaskSchedule))
	mux.HandleFunc("PUT /Cancel_TaskSchedule/{task_name}", s.secured(s.CancelTaskSchedule))
	mux.HandleFunc("PUT /Reschedule_Task/{task_name}", s.secured(s.RescheduleTask))
	mux.HandleFunc("PUT /Cancel_AdHoc_Task/{task_name}/{user_schedule_name}/{schedule_id}/{task_id}", s.secured(s.CancelAdhocTask))

	// Execution methods
	mux.HandleFunc("POST /Create_ExecutionMethod", s.secured(s.CreateExecutionMethod))
	mux.HandleFunc("GET /Show_ExecutionMethods", s.secured(s.ShowExecutionMethods))
	mux.HandleFunc("GET /Show_ExecutionMethods/{page}/{limit}", s.secured(s.PageExecutionMethods))
	mux.HandleFunc("GET /Show_ExecutionMethod/{internal_execution_method}", s.secured(s.ShowExecutionMethod))
	mux.HandleFunc("PUT /Update_ExecutionMethod/{internal_execution_method}", s.secured(s.UpdateExecutionMethod))
	mux.HandleFunc("DELETE /Delete_ExecutionMethod/{internal_execution_method}", s.secured(s.DeleteExecutionMethod))
	mux.HandleFunc("GET /def_async_execution_methods/search/{page}/{limit}", s.secured(s.SearchExecutionMethods))

	// Task parameters
	mux.HandleFunc("POST /Add_TaskParams/{task_name}", s.secured(s.AddTaskParams))
	mux.HandleFunc("GET /Show_TaskParams/{task_name}", s.secured(s.ShowTaskParams))
	mux.HandleFunc("GET /Show_TaskParams/{task_name}/{page}/{limit}", s.secured(s.PageTaskParams))
	mux.HandleFunc("PUT /Update_TaskParams/{task_name}/{def_param_id}", s.secured(s.UpdateTaskParam))
	mux.HandleFunc("DELETE /Delete_TaskParams/{task_name}/{def_param_id}", s.secured(s.DeleteTaskParam))

	// Health check (no middleware needed for health endpoints)
	mux.HandleFunc("GET /health", s.Health)
	mux.HandleFunc("GET /ready", s.Ready)
}

// secured wraps a handler with security headers, the request body cap,
// bearer authentication, and rate limiting.
func (s *Server) secured(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
		}

		caller := ""
		if s.auth != nil {
			token, err := authn.ExtractToken(r)
			if err != nil {
				s.writeError(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}
			claims, err := s.auth.Validate(token)
			if err != nil {
				s.writeError(w, http.StatusUnauthorized, "Invalid bearer token")
				return
			}
			caller = claims.Subject
			r = r.WithContext(authn.WithSubject(r.Context(), caller))
		}

		if s.limits != nil && !s.limits.Allow(caller) {
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		next(w, r)
	}
}

// Health check endpoint.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready check endpoint.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeServerError(w http.ResponseWriter, message string, err error) {
	s.logger.Error(message, slog.String("error", err.Error()))
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{
		"message": message,
		"error":   err.Error(),
	})
}

// decodeJSON reads the request body into dst, mapping the body-cap
// error to 413. Returns false after writing the error response.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err.Error() == "http: request body too large" {
			s.writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// pageEnvelope is the paginated list shape shared by schedule, method,
// and parameter listings.
func pageEnvelope(items any, total, page, limit int) map[string]any {
	pages := (total + limit - 1) / limit
	if pages == 0 {
		pages = 1
	}
	return map[string]any{
		"items": items,
		"total": total,
		"pages": pages,
		"page":  page,
	}
}

// pathInt parses a positive integer path segment, falling back when
// absent or malformed.
func pathInt(r *http.Request, name string, fallback int) int {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
