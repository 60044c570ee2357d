package server

import (
	"net/http"
	"testing"
)

func TestExecutionMethodEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/Create_ExecutionMethod", map[string]any{
		"execution_method":          "Python Script",
		"internal_execution_method": "python",
		"executor":                  "python",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /Create_ExecutionMethod = %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, "POST", "/Create_ExecutionMethod", map[string]any{
		"execution_method":          "Python Script",
		"internal_execution_method": "python",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate method = %d, want 409", w.Code)
	}

	w = f.do(t, "GET", "/Show_ExecutionMethod/python", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /Show_ExecutionMethod = %d", w.Code)
	}
	if decodeBody(t, w)["result"].(map[string]any)["execution_method"] != "Python Script" {
		t.Errorf("result = %v", decodeBody(t, w)["result"])
	}

	w = f.do(t, "GET", "/Show_ExecutionMethods", nil)
	if got := decodeBody(t, w)["result"].([]any); len(got) != 1 {
		t.Errorf("methods = %v", got)
	}

	w = f.do(t, "GET", "/Show_ExecutionMethods/1/10", nil)
	body := decodeBody(t, w)
	if body["total"] != float64(1) || body["pages"] != float64(1) {
		t.Errorf("envelope = %v", body)
	}

	w = f.do(t, "GET", "/def_async_execution_methods/search/1/10?execution_method=python", nil)
	if decodeBody(t, w)["total"] != float64(1) {
		t.Errorf("search total = %v", decodeBody(t, w)["total"])
	}

	w = f.do(t, "PUT", "/Update_ExecutionMethod/python", map[string]any{
		"description": "runs python scripts",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /Update_ExecutionMethod = %d", w.Code)
	}

	w = f.do(t, "DELETE", "/Delete_ExecutionMethod/python", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE /Delete_ExecutionMethod = %d", w.Code)
	}
	w = f.do(t, "GET", "/Show_ExecutionMethod/python", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET after delete = %d, want 404", w.Code)
	}
}

func TestTaskParamEndpoints(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "load_orders")

	w := f.do(t, "POST", "/Add_TaskParams/load_orders", map[string]any{
		"parameters": []map[string]any{
			{"parameter_name": "region", "data_type": "string"},
			{"parameter_name": "mode", "data_type": "string"},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /Add_TaskParams = %d: %s", w.Code, w.Body.String())
	}

	// Unknown task.
	w = f.do(t, "POST", "/Add_TaskParams/ghost", map[string]any{
		"parameters": []map[string]any{{"parameter_name": "region"}},
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown task = %d, want 404", w.Code)
	}

	w = f.do(t, "GET", "/Show_TaskParams/load_orders", nil)
	params := decodeBody(t, w)["result"].([]any)
	if len(params) != 2 {
		t.Fatalf("params = %d, want 2", len(params))
	}
	paramID := int64(params[0].(map[string]any)["def_param_id"].(float64))

	w = f.do(t, "GET", "/Show_TaskParams/load_orders/1/1", nil)
	body := decodeBody(t, w)
	if body["total"] != float64(2) || body["pages"] != float64(2) {
		t.Errorf("envelope = %v", body)
	}

	w = f.do(t, "PUT", "/Update_TaskParams/load_orders/"+itoa(paramID), map[string]any{
		"parameter_name": "region_code",
		"data_type":      "string",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /Update_TaskParams = %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, "DELETE", "/Delete_TaskParams/load_orders/"+itoa(paramID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE /Delete_TaskParams = %d", w.Code)
	}
	w = f.do(t, "DELETE", "/Delete_TaskParams/load_orders/"+itoa(paramID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("double delete = %d, want 404", w.Code)
	}
}
