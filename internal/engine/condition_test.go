package engine

import (
	"testing"

	"github.com/procflow/orchestrator/internal/workflow"
)

func TestEvalCondition(t *testing.T) {
	execCtx := map[string]any{
		"status": "Approved",
		"amount": 42,
		"note":   "priority shipment",
		"blank":  "  ",
	}

	tests := []struct {
		name string
		cond workflow.Condition
		want bool
	}{
		{"equal case insensitive", workflow.Condition{Field: "status", Operator: "==", Value: "approved"}, true},
		{"equal trims whitespace", workflow.Condition{Field: "status", Operator: "==", Value: " Approved "}, true},
		{"not equal", workflow.Condition{Field: "status", Operator: "!=", Value: "rejected"}, true},
		{"greater", workflow.Condition{Field: "amount", Operator: ">", Value: "40"}, true},
		{"greater or equal boundary", workflow.Condition{Field: "amount", Operator: ">=", Value: "42"}, true},
		{"less", workflow.Condition{Field: "amount", Operator: "<", Value: "40"}, false},
		{"numeric against non-number", workflow.Condition{Field: "status", Operator: ">", Value: "10"}, false},
		{"contains case insensitive", workflow.Condition{Field: "note", Operator: "contains", Value: "PRIORITY"}, true},
		{"not contains", workflow.Condition{Field: "note", Operator: "not_contains", Value: "standard"}, true},
		{"is_empty on whitespace", workflow.Condition{Field: "blank", Operator: "is_empty"}, true},
		{"is_empty on missing field", workflow.Condition{Field: "ghost", Operator: "is_empty"}, true},
		{"is_not_empty", workflow.Condition{Field: "status", Operator: "is_not_empty"}, true},
		{"missing field equals empty", workflow.Condition{Field: "ghost", Operator: "==", Value: ""}, true},
		{"unknown operator", workflow.Condition{Field: "status", Operator: "matches"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evalCondition(&tt.cond, execCtx); got != tt.want {
				t.Errorf("evalCondition(%+v) = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

func TestChooseEdge(t *testing.T) {
	approved := &workflow.Edge{Target: "approved", Data: workflow.EdgeData{
		Condition: &workflow.Condition{Field: "status", Operator: "==", Value: "approved"},
	}}
	rejected := &workflow.Edge{Target: "rejected", Data: workflow.EdgeData{
		Condition: &workflow.Condition{Field: "status", Operator: "==", Value: "rejected"},
	}}
	fallback := &workflow.Edge{Target: "fallback", Data: workflow.EdgeData{
		Condition: &workflow.Condition{IsDefault: true},
	}}
	edges := []*workflow.Edge{approved, rejected, fallback}

	if got := chooseEdge(edges, map[string]any{"status": "rejected"}); got.Target != "rejected" {
		t.Errorf("chooseEdge() = %q, want rejected", got.Target)
	}
	if got := chooseEdge(edges, map[string]any{"status": "pending"}); got.Target != "fallback" {
		t.Errorf("chooseEdge() = %q, want the default edge", got.Target)
	}

	// First match wins even when a later condition also matches.
	both := []*workflow.Edge{
		{Target: "first", Data: workflow.EdgeData{Condition: &workflow.Condition{Field: "x", Operator: "is_not_empty"}}},
		{Target: "second", Data: workflow.EdgeData{Condition: &workflow.Condition{Field: "x", Operator: "==", Value: "1"}}},
	}
	if got := chooseEdge(both, map[string]any{"x": "1"}); got.Target != "first" {
		t.Errorf("chooseEdge() = %q, want first match", got.Target)
	}

	// No condition matches and no default: the first edge is taken.
	none := []*workflow.Edge{rejected, approved}
	if got := chooseEdge(none, map[string]any{"status": "pending"}); got.Target != "rejected" {
		t.Errorf("chooseEdge() = %q, want first edge", got.Target)
	}
}
