package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/procflow/orchestrator/internal/workflow"
)

// Safe comparison operators allowed on gateway edges. Conditions are
// data, never code: each operator compares the context field against a
// literal value.
const (
	OpEqual       = "=="
	OpNotEqual    = "!="
	OpGreater     = ">"
	OpGreaterEq   = ">="
	OpLess        = "<"
	OpLessEq      = "<="
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
)

// evalCondition evaluates one edge condition against the execution
// context. A missing field reads as the empty string. Unknown operators
// and non-numeric operands of numeric comparisons evaluate to false
// rather than failing the run.
func evalCondition(cond *workflow.Condition, execCtx map[string]any) bool {
	if cond == nil {
		return false
	}

	actual := ""
	if raw, ok := execCtx[cond.Field]; ok && raw != nil {
		actual = fmt.Sprintf("%v", raw)
	}
	expected := cond.Value

	switch strings.TrimSpace(cond.Operator) {
	case OpEqual:
		return strings.EqualFold(strings.TrimSpace(actual), strings.TrimSpace(expected))
	case OpNotEqual:
		return !strings.EqualFold(strings.TrimSpace(actual), strings.TrimSpace(expected))
	case OpGreater:
		a, b, ok := asNumbers(actual, expected)
		return ok && a > b
	case OpGreaterEq:
		a, b, ok := asNumbers(actual, expected)
		return ok && a >= b
	case OpLess:
		a, b, ok := asNumbers(actual, expected)
		return ok && a < b
	case OpLessEq:
		a, b, ok := asNumbers(actual, expected)
		return ok && a <= b
	case OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(expected))
	case OpNotContains:
		return !strings.Contains(strings.ToLower(actual), strings.ToLower(expected))
	case OpIsEmpty:
		return strings.TrimSpace(actual) == ""
	case OpIsNotEmpty:
		return strings.TrimSpace(actual) != ""
	default:
		return false
	}
}

func asNumbers(a, b string) (float64, float64, bool) {
	x, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}

// chooseEdge picks the outgoing gateway edge to follow: the first edge
// whose condition matches wins, then the edge marked is_default, then
// the first edge.
func chooseEdge(edges []*workflow.Edge, execCtx map[string]any) *workflow.Edge {
	if len(edges) == 0 {
		return nil
	}

	var fallback *workflow.Edge
	for _, e := range edges {
		cond := e.Data.Condition
		if cond == nil {
			continue
		}
		if cond.IsDefault {
			if fallback == nil {
				fallback = e
			}
			continue
		}
		if evalCondition(cond, execCtx) {
			return e
		}
	}
	if fallback != nil {
		return fallback
	}
	return edges[0]
}
