package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/procflow/orchestrator/internal/workflow"
)

const linearStructure = `{
	"nodes": [
		{"id": "start", "data": {"type": "EVENT", "attributes": [{"attribute_name": "type", "attribute_value": "Start"}]}},
		{"id": "t1", "data": {"type": "TASK", "step_function": "echo", "label": "Echo"}},
		{"id": "stop", "data": {"type": "EVENT", "attributes": [{"attribute_name": "type", "attribute_value": "Stop"}]}}
	],
	"edges": [
		{"source": "start", "target": "t1", "data": {}},
		{"source": "t1", "target": "stop", "data": {}}
	]
}`

func createWorkflow(t *testing.T, f *fixture, name string) int64 {
	t.Helper()
	w := f.do(t, "POST", "/workflow", map[string]any{
		"process_name":      name,
		"process_structure": json.RawMessage(linearStructure),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /workflow = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	result := body["result"].(map[string]any)
	return int64(result["def_process_id"].(float64))
}

func TestWorkflowCRUD(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "echo")

	processID := createWorkflow(t, f, "etl")

	// Duplicate names conflict.
	w := f.do(t, "POST", "/workflow", map[string]any{
		"process_name":      "etl",
		"process_structure": json.RawMessage(linearStructure),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate POST /workflow = %d, want 409", w.Code)
	}

	w = f.do(t, "GET", "/workflow?process_name=etl", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /workflow = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["result"].(map[string]any)["process_name"] != "etl" {
		t.Errorf("GET result = %v", body["result"])
	}

	w = f.do(t, "PUT", "/workflow?process_id="+itoa(processID), map[string]any{
		"description": "nightly etl",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /workflow = %d: %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["message"] != "Edited successfully" {
		t.Errorf("PUT message = %v", decodeBody(t, w)["message"])
	}

	w = f.do(t, "DELETE", "/workflow?process_id="+itoa(processID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE /workflow = %d", w.Code)
	}
	w = f.do(t, "GET", "/workflow?process_name=etl", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", w.Code)
	}
}

func TestValidateWorkflow(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "echo")

	w := f.do(t, "POST", "/workflow/validate", map[string]any{
		"process_structure": json.RawMessage(linearStructure),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /workflow/validate = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["valid"] != true {
		t.Errorf("valid = %v, errors = %v", body["valid"], body["errors"])
	}

	// A structure referencing an unknown task is invalid.
	unknown := strings.ReplaceAll(linearStructure, "echo", "ghost")
	w = f.do(t, "POST", "/workflow/validate", map[string]any{
		"process_structure": json.RawMessage(unknown),
	})
	body = decodeBody(t, w)
	if body["valid"] != false {
		t.Error("structure with unknown task must be invalid")
	}
}

func TestRequiredParams(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "echo", "region")

	w := f.do(t, "POST", "/workflow/required_params", json.RawMessage(linearStructure))
	if w.Code != http.StatusOK {
		t.Fatalf("POST /workflow/required_params = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["has_required_inputs"] != true || body["total_inputs"] != float64(1) {
		t.Errorf("response = %v", body)
	}
	inputs := body["workflow_inputs"].([]any)
	if inputs[0].(map[string]any)["name"] != "region" {
		t.Errorf("workflow_inputs = %v", inputs)
	}
}

func waitForTerminal(t *testing.T, f *fixture, executionID string) *workflow.Execution {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := f.workflows.GetExecution(context.Background(), executionID)
		if err == nil && exec.Terminal() {
			return exec
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("execution did not reach a terminal status")
	return nil
}

func TestRunWorkflow(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "echo")
	f.exec.results["echo"] = map[string]any{"x": "1"}
	processID := createWorkflow(t, f, "etl")

	w := f.do(t, "POST", "/workflow/run/"+itoa(processID), map[string]any{
		"context": map[string]any{"region": "eu"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /workflow/run = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != workflow.StatusRunning {
		t.Errorf("status = %v", body["status"])
	}
	executionID := body["def_process_execution_id"].(string)

	exec := waitForTerminal(t, f, executionID)
	if exec.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, error = %q", exec.Status, exec.ErrorMessage)
	}
	if exec.OutputData["x"] != "1" {
		t.Errorf("output = %v", exec.OutputData)
	}
}

func TestRunWorkflowUnknownProcess(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/workflow/run/999", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("POST /workflow/run/999 = %d, want 404", w.Code)
	}
}

func TestRunDynamic(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "echo")
	f.exec.results["echo"] = map[string]any{"x": "1"}

	w := f.do(t, "POST", "/workflow/run_dynamic", map[string]any{
		"process_structure": json.RawMessage(linearStructure),
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /workflow/run_dynamic = %d: %s", w.Code, w.Body.String())
	}
	executionID := decodeBody(t, w)["def_process_execution_id"].(string)

	exec := waitForTerminal(t, f, executionID)
	if exec.Status != workflow.StatusCompleted {
		t.Fatalf("status = %q, error = %q", exec.Status, exec.ErrorMessage)
	}
}

func TestRunDynamicRejectsInvalidStructure(t *testing.T) {
	f := newFixture(t)

	// No start event.
	w := f.do(t, "POST", "/workflow/run_dynamic", map[string]any{
		"process_structure": json.RawMessage(`{"nodes": [], "edges": []}`),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("POST /workflow/run_dynamic = %d, want 400", w.Code)
	}
	if decodeBody(t, w)["valid"] != false {
		t.Error("response must carry valid=false")
	}
}

func TestListExecutionsAndSteps(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "echo")
	processID := createWorkflow(t, f, "etl")

	w := f.do(t, "POST", "/workflow/run/"+itoa(processID), nil)
	executionID := decodeBody(t, w)["def_process_execution_id"].(string)
	waitForTerminal(t, f, executionID)

	w = f.do(t, "GET", "/workflow/executions?process_id="+itoa(processID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /workflow/executions = %d", w.Code)
	}
	if got := decodeBody(t, w)["result"].([]any); len(got) != 1 {
		t.Errorf("executions = %v", got)
	}

	w = f.do(t, "GET", "/workflow/executions?def_process_execution_id="+executionID, nil)
	if decodeBody(t, w)["result"].(map[string]any)["def_process_execution_id"] != executionID {
		t.Error("single execution lookup failed")
	}

	w = f.do(t, "GET", "/workflow/execution_steps?def_process_execution_id="+executionID, nil)
	steps := decodeBody(t, w)["result"].([]any)
	if len(steps) != 3 {
		t.Fatalf("steps = %d, want start, task, stop", len(steps))
	}

	w = f.do(t, "GET", "/workflow/execution_steps?def_process_execution_id="+executionID+"&node_id=t1", nil)
	steps = decodeBody(t, w)["result"].([]any)
	if len(steps) != 1 || steps[0].(map[string]any)["node_id"] != "t1" {
		t.Errorf("filtered steps = %v", steps)
	}
}

func TestStreamExecution(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "echo")
	processID := createWorkflow(t, f, "etl")

	w := f.do(t, "POST", "/workflow/run/"+itoa(processID), nil)
	executionID := decodeBody(t, w)["def_process_execution_id"].(string)
	waitForTerminal(t, f, executionID)

	rec := f.do(t, "GET", "/workflow/execution_stream/"+executionID, nil)
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "event: step") {
		t.Errorf("stream missing step events: %q", out)
	}
	if strings.Count(out, "event: complete") != 1 {
		t.Errorf("stream must emit complete exactly once: %q", out)
	}
}

func TestNodeTypeEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/workflow/node_types", map[string]any{
		"shape_name": "startEvent",
		"behavior":   "EVENT",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /workflow/node_types = %d: %s", w.Code, w.Body.String())
	}
	nodeTypeID := int64(decodeBody(t, w)["result"].(map[string]any)["def_node_type_id"].(float64))

	w = f.do(t, "POST", "/workflow/node_types", map[string]any{
		"shape_name": "startEvent",
		"behavior":   "EVENT",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate shape = %d, want 409", w.Code)
	}

	w = f.do(t, "GET", "/workflow/node_types", nil)
	if got := decodeBody(t, w)["result"].([]any); len(got) != 1 {
		t.Errorf("node types = %v", got)
	}

	w = f.do(t, "PUT", "/workflow/node_types?def_node_type_id="+itoa(nodeTypeID), map[string]any{
		"display_name": "Start Event",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /workflow/node_types = %d", w.Code)
	}

	w = f.do(t, "DELETE", "/workflow/node_types?def_node_type_id="+itoa(nodeTypeID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE /workflow/node_types = %d", w.Code)
	}
	w = f.do(t, "GET", "/workflow/node_types?def_node_type_id="+itoa(nodeTypeID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", w.Code)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
