// Package workflow defines process definitions, their node/edge
// structure, and execution records.
package workflow

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrProcessNotFound   = errors.New("workflow: process not found")
	ErrProcessExists     = errors.New("workflow: process name already exists")
	ErrExecutionNotFound = errors.New("workflow: execution not found")
	ErrStepNotFound      = errors.New("workflow: step not found")
	ErrNodeTypeNotFound  = errors.New("workflow: node type not found")
	ErrNodeTypeExists    = errors.New("workflow: shape name already exists")
)

// Execution statuses.
const (
	StatusQueued    = "QUEUED"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Step statuses. RUNNING is upper-case while the terminal states are
// lower-case; stream consumers key off these exact strings.
const (
	StepRunning   = "RUNNING"
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepPassed    = "passed"
	StepSkipped   = "skipped"
)

// Node behaviors. A node whose declared type is neither EVENT nor
// GATEWAY is treated as a task.
const (
	BehaviorEvent   = "EVENT"
	BehaviorGateway = "GATEWAY"
	BehaviorTask    = "TASK"
)

// Event subtypes carried in the node's "type" attribute.
const (
	EventStart = "Start"
	EventStop  = "Stop"
)

// Process is a stored workflow definition.
type Process struct {
	ProcessID       int64           `json:"def_process_id"`
	ProcessName     string          `json:"process_name"`
	UserProcessName string          `json:"user_process_name"`
	Structure       json.RawMessage `json:"structure"`
	Description     string          `json:"description,omitempty"`
	CancelledYN     string          `json:"cancelled_yn"`
	CreatedBy       string          `json:"created_by,omitempty"`
	CreationDate    time.Time       `json:"creation_date"`
	UpdatedBy       string          `json:"last_updated_by,omitempty"`
	UpdateDate      time.Time       `json:"last_update_date"`
}

// NodeType is a catalog row describing a node shape and how the engine
// treats nodes of that shape.
type NodeType struct {
	NodeTypeID           int64     `json:"def_node_type_id"`
	ShapeName            string    `json:"shape_name"`
	Behavior             string    `json:"behavior"`
	DisplayName          string    `json:"display_name,omitempty"`
	RequiresStepFunction string    `json:"requires_step_function"`
	Description          string    `json:"description,omitempty"`
	CreatedBy            string    `json:"created_by,omitempty"`
	CreationDate         time.Time `json:"creation_date"`
	UpdatedBy            string    `json:"last_updated_by,omitempty"`
	UpdateDate           time.Time `json:"last_update_date"`
}

// Structure is the editor-produced node/edge document stored on a
// process.
type Structure struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is one element of a process structure.
type Node struct {
	ID   string   `json:"id"`
	Data NodeData `json:"data"`
}

// NodeData carries the editor payload of a node.
type NodeData struct {
	Type         string      `json:"type"`
	StepFunction string      `json:"step_function"`
	Label        string      `json:"label"`
	Attributes   []Attribute `json:"attributes"`
}

// Attribute is a name/value pair attached to a node by the editor.
type Attribute struct {
	AttributeName  string `json:"attribute_name"`
	AttributeValue string `json:"attribute_value"`
}

// Behavior classifies the node as EVENT, GATEWAY, or TASK. Start and
// Stop types are events; anything not explicitly an event or gateway
// executes as a task.
func (n *Node) Behavior() string {
	switch strings.ToUpper(strings.TrimSpace(n.Data.Type)) {
	case BehaviorEvent, "START", "STOP":
		return BehaviorEvent
	case BehaviorGateway:
		return BehaviorGateway
	default:
		return BehaviorTask
	}
}

// Attribute returns the named attribute's value, or "" when absent.
func (n *Node) Attribute(name string) string {
	for _, a := range n.Data.Attributes {
		if a.AttributeName == name {
			return a.AttributeValue
		}
	}
	return ""
}

// EventType returns the event subtype ("Start", "Stop") of an event
// node. The subtype normally lives in data.type itself; editors that
// catalog the shape under a generic EVENT type carry it in the label,
// the node id, or a "type" attribute instead.
func (n *Node) EventType() string {
	for _, candidate := range []string{n.Data.Type, n.Data.Label, n.ID, n.Attribute("type")} {
		switch strings.ToLower(strings.TrimSpace(candidate)) {
		case "start":
			return EventStart
		case "stop":
			return EventStop
		}
	}
	return ""
}

// Edge connects two nodes, optionally guarded by a condition.
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Data   EdgeData `json:"data"`
}

// EdgeData carries the editor payload of an edge.
type EdgeData struct {
	Condition *Condition `json:"condition,omitempty"`
}

// Condition guards an outgoing gateway edge. Operator is one of the
// safe comparison operators; IsDefault marks the fallback edge taken
// when no other condition matches.
type Condition struct {
	Field     string `json:"field"`
	Operator  string `json:"operator"`
	Value     string `json:"value"`
	IsDefault bool   `json:"is_default"`
}

// Execution is one run of a process.
type Execution struct {
	ExecutionID  string         `json:"def_process_execution_id"`
	ProcessID    int64          `json:"def_process_id"`
	ProcessName  string         `json:"process_name"`
	Status       string         `json:"status"`
	InputData    map[string]any `json:"input_data,omitempty"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CreatedBy    string         `json:"created_by,omitempty"`
	CreationDate time.Time      `json:"creation_date"`
}

// Step is one node execution within a run.
type Step struct {
	StepID       int64          `json:"def_process_execution_step_id"`
	ExecutionID  string         `json:"def_process_execution_id"`
	NodeID       string         `json:"node_id"`
	TaskName     string         `json:"task_name,omitempty"`
	Label        string         `json:"label,omitempty"`
	Status       string         `json:"status"`
	InputData    map[string]any `json:"input_data,omitempty"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Terminal reports whether the execution has reached a final status.
func (e *Execution) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}
