package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/procflow/orchestrator/internal/catalog"
	"github.com/procflow/orchestrator/internal/executor"
	"github.com/procflow/orchestrator/internal/workflow"
	wfstore "github.com/procflow/orchestrator/internal/workflow/store"
)

// fakeExecutor returns a canned result per task name and records calls.
type fakeExecutor struct {
	kind    string
	results map[string]map[string]any
	fail    map[string]string
	calls   []string
}

func (f *fakeExecutor) Kind() string { return f.kind }

func (f *fakeExecutor) Execute(ctx context.Context, req *executor.Request) (*executor.Response, error) {
	f.calls = append(f.calls, req.Descriptor.TaskName)
	if msg, ok := f.fail[req.Descriptor.TaskName]; ok {
		return &executor.Response{Error: msg}, nil
	}
	return &executor.Response{Result: f.results[req.Descriptor.TaskName]}, nil
}

type fixture struct {
	engine    *Engine
	workflows *wfstore.MemoryStore
	catalog   *catalog.MemoryStore
	exec      *fakeExecutor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cat := catalog.NewMemoryStore()
	wf := wfstore.NewMemoryStore()

	fake := &fakeExecutor{
		kind:    "python",
		results: make(map[string]map[string]any),
		fail:    make(map[string]string),
	}
	registry := executor.NewRegistry()
	registry.MustRegister(fake)

	eng := New(wf, cat, registry, nil, DefaultConfig())
	return &fixture{engine: eng, workflows: wf, catalog: cat, exec: fake}
}

func (f *fixture) addTask(t *testing.T, name string) {
	t.Helper()
	err := f.catalog.CreateTask(context.Background(), &catalog.Task{
		TaskName:     name,
		UserTaskName: name,
		Executor:     "python",
		ScriptName:   name + ".py",
		CancelledYN:  "N",
	})
	if err != nil {
		t.Fatalf("CreateTask(%s) error = %v", name, err)
	}
}

func (f *fixture) addProcess(t *testing.T, name string, structure string) {
	t.Helper()
	err := f.workflows.CreateProcess(context.Background(), &workflow.Process{
		ProcessName:     name,
		UserProcessName: name,
		Structure:       json.RawMessage(structure),
		CancelledYN:     "N",
		CreationDate:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateProcess(%s) error = %v", name, err)
	}
}

func (f *fixture) run(t *testing.T, processName string, input map[string]any, opts *RunOptions) *workflow.Execution {
	t.Helper()
	ctx := context.Background()

	exec, err := f.engine.InitializeExecution(ctx, processName, input, "tester")
	if err != nil {
		t.Fatalf("InitializeExecution() error = %v", err)
	}
	if err := f.engine.Execute(ctx, exec.ExecutionID, opts); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	final, err := f.workflows.GetExecution(ctx, exec.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	return final
}

const linearProcess = `{
	"nodes": [
		{"id": "start", "data": {"type": "EVENT", "label": "Start", "attributes": [{"attribute_name": "type", "attribute_value": "Start"}]}},
		{"id": "t1", "data": {"type": "TASK", "step_function": "extract", "label": "Extract"}},
		{"id": "t2", "data": {"type": "TASK", "step_function": "publish", "label": "Publish"}},
		{"id": "stop", "data": {"type": "EVENT", "label": "Stop", "attributes": [{"attribute_name": "type", "attribute_value": "Stop"}]}}
	],
	"edges": [
		{"source": "start", "target": "t1", "data": {}},
		{"source": "t1", "target": "t2", "data": {}},
		{"source": "t2", "target": "stop", "data": {}}
	]
}`

func TestEngine_LinearRun(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "extract")
	f.addTask(t, "publish")
	f.exec.results["extract"] = map[string]any{"rows": 10}
	f.addProcess(t, "pipeline", linearProcess)

	final := f.run(t, "pipeline", map[string]any{"region": "eu"}, nil)

	if final.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %q, want COMPLETED (%s)", final.Status, final.ErrorMessage)
	}
	if final.OutputData["region"] != "eu" || final.OutputData["rows"] != 10 {
		t.Errorf("OutputData = %v, want input merged with task results", final.OutputData)
	}
	if len(f.exec.calls) != 2 || f.exec.calls[0] != "extract" || f.exec.calls[1] != "publish" {
		t.Errorf("executor calls = %v, want [extract publish]", f.exec.calls)
	}

	steps, _ := f.workflows.ListSteps(context.Background(), final.ExecutionID)
	wantStatuses := []string{workflow.StepPassed, workflow.StepCompleted, workflow.StepCompleted, workflow.StepPassed}
	if len(steps) != len(wantStatuses) {
		t.Fatalf("got %d steps, want %d", len(steps), len(wantStatuses))
	}
	for i, want := range wantStatuses {
		if steps[i].Status != want {
			t.Errorf("step %d (%s) status = %q, want %q", i, steps[i].NodeID, steps[i].Status, want)
		}
	}
}

func TestEngine_ContextFlowsDownstream(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "extract")
	f.addTask(t, "publish")
	f.exec.results["extract"] = map[string]any{"batch_id": "b-7"}
	f.addProcess(t, "pipeline", linearProcess)

	var publishInput map[string]any
	f.run(t, "pipeline", map[string]any{"region": "eu"}, &RunOptions{
		OnStep: func(step *workflow.Step) {
			if step.TaskName == "publish" {
				publishInput = step.InputData
			}
		},
	})

	if publishInput["batch_id"] != "b-7" || publishInput["region"] != "eu" {
		t.Errorf("publish input = %v, want upstream output and initial input", publishInput)
	}
}

func TestEngine_AttributesOverlayStepOnly(t *testing.T) {
	structure := `{
		"nodes": [
			{"id": "start", "data": {"type": "EVENT", "attributes": [{"attribute_name": "type", "attribute_value": "Start"}]}},
			{"id": "t1", "data": {"type": "TASK", "step_function": "extract", "attributes": [{"attribute_name": "region", "attribute_value": "us"}]}},
			{"id": "t2", "data": {"type": "TASK", "step_function": "publish"}},
			{"id": "stop", "data": {"type": "EVENT", "attributes": [{"attribute_name": "type", "attribute_value": "Stop"}]}}
		],
		"edges": [
			{"source": "start", "target": "t1", "data": {}},
			{"source": "t1", "target": "t2", "data": {}},
			{"source": "t2", "target": "stop", "data": {}}
		]
	}`
	f := newFixture(t)
	f.addTask(t, "extract")
	f.addTask(t, "publish")
	f.addProcess(t, "overlay", structure)

	var extractInput, publishInput map[string]any
	f.run(t, "overlay", map[string]any{"region": "eu"}, &RunOptions{
		OnStep: func(step *workflow.Step) {
			switch step.TaskName {
			case "extract":
				extractInput = step.InputData
			case "publish":
				publishInput = step.InputData
			}
		},
	})

	if extractInput["region"] != "us" {
		t.Errorf("extract input region = %v, node attribute must override the context", extractInput["region"])
	}
	if publishInput["region"] != "eu" {
		t.Errorf("publish input region = %v, attributes must not leak downstream", publishInput["region"])
	}
}

func TestEngine_NodeTypeCatalogResolvesBehavior(t *testing.T) {
	// Custom shapes classify through the node type catalog; without a
	// row, "startEvent" would fall back to TASK and the run would have
	// no start node.
	structure := `{
		"nodes": [
			{"id": "start", "data": {"type": "startEvent", "attributes": [{"attribute_name": "type", "attribute_value": "Start"}]}},
			{"id": "t1", "data": {"type": "TASK", "step_function": "extract"}},
			{"id": "stop", "data": {"type": "endEvent", "attributes": [{"attribute_name": "type", "attribute_value": "Stop"}]}}
		],
		"edges": [
			{"source": "start", "target": "t1", "data": {}},
			{"source": "t1", "target": "stop", "data": {}}
		]
	}`
	f := newFixture(t)
	f.addTask(t, "extract")
	f.addProcess(t, "shaped", structure)

	for _, shape := range []string{"startEvent", "endEvent"} {
		err := f.workflows.CreateNodeType(context.Background(), &workflow.NodeType{
			ShapeName:            shape,
			Behavior:             workflow.BehaviorEvent,
			RequiresStepFunction: "N",
			CreationDate:         time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("CreateNodeType(%s) error = %v", shape, err)
		}
	}

	final := f.run(t, "shaped", nil, nil)
	if final.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %q (%s)", final.Status, final.ErrorMessage)
	}
	if len(f.exec.calls) != 1 || f.exec.calls[0] != "extract" {
		t.Errorf("executor calls = %v, want [extract]", f.exec.calls)
	}
}

func TestEngine_EventSubtypeInNodeType(t *testing.T) {
	// The canonical document shape puts the subtype in data.type
	// directly, with Start and Stop cataloged as EVENT shapes.
	structure := `{
		"nodes": [
			{"id": "n1", "data": {"type": "Start"}},
			{"id": "n2", "data": {"type": "TASK", "step_function": "extract"}},
			{"id": "n3", "data": {"type": "Stop"}}
		],
		"edges": [
			{"source": "n1", "target": "n2", "data": {}},
			{"source": "n2", "target": "n3", "data": {}}
		]
	}`
	f := newFixture(t)
	f.addTask(t, "extract")
	f.exec.results["extract"] = map[string]any{"rows": 3}
	f.addProcess(t, "typed-events", structure)

	for _, shape := range []string{"Start", "Stop"} {
		err := f.workflows.CreateNodeType(context.Background(), &workflow.NodeType{
			ShapeName:            shape,
			Behavior:             workflow.BehaviorEvent,
			RequiresStepFunction: "N",
			CreationDate:         time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("CreateNodeType(%s) error = %v", shape, err)
		}
	}

	final := f.run(t, "typed-events", nil, nil)
	if final.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %q (%s)", final.Status, final.ErrorMessage)
	}
	if final.OutputData["rows"] != 3 {
		t.Errorf("OutputData = %v", final.OutputData)
	}
}

func TestEngine_GatewayRouting(t *testing.T) {
	structure := `{
		"nodes": [
			{"id": "start", "data": {"type": "EVENT", "attributes": [{"attribute_name": "type", "attribute_value": "Start"}]}},
			{"id": "gw", "data": {"type": "GATEWAY", "label": "Route"}},
			{"id": "big", "data": {"type": "TASK", "step_function": "handle_big"}},
			{"id": "small", "data": {"type": "TASK", "step_function": "handle_small"}},
			{"id": "stop", "data": {"type": "EVENT", "attributes": [{"attribute_name": "type", "attribute_value": "Stop"}]}}
		],
		"edges": [
			{"source": "start", "target": "gw", "data": {}},
			{"source": "gw", "target": "big", "data": {"condition": {"field": "amount", "operator": ">", "value": "100"}}},
			{"source": "gw", "target": "small", "data": {"condition": {"is_default": true}}},
			{"source": "big", "target": "stop", "data": {}},
			{"source": "small", "target": "stop", "data": {}}
		]
	}`

	tests := []struct {
		name   string
		amount any
		want   string
	}{
		{"condition matches", 250, "handle_big"},
		{"default edge", 5, "handle_small"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addTask(t, "handle_big")
			f.addTask(t, "handle_small")
			f.addProcess(t, "routing", structure)

			final := f.run(t, "routing", map[string]any{"amount": tt.amount}, nil)
			if final.Status != workflow.StatusCompleted {
				t.Fatalf("Status = %q (%s)", final.Status, final.ErrorMessage)
			}
			if len(f.exec.calls) != 1 || f.exec.calls[0] != tt.want {
				t.Errorf("executor calls = %v, want [%s]", f.exec.calls, tt.want)
			}
		})
	}
}

func TestEngine_TaskNotFound(t *testing.T) {
	f := newFixture(t)
	f.addProcess(t, "pipeline", linearProcess)

	final := f.run(t, "pipeline", nil, nil)
	if final.Status != workflow.StatusFailed {
		t.Fatalf("Status = %q, want FAILED", final.Status)
	}
	if final.ErrorMessage != "Task not found: extract" {
		t.Errorf("ErrorMessage = %q", final.ErrorMessage)
	}
}

func TestEngine_UnknownExecutor(t *testing.T) {
	f := newFixture(t)
	f.catalog.CreateTask(context.Background(), &catalog.Task{
		TaskName: "extract", UserTaskName: "extract", Executor: "fortran", CancelledYN: "N",
	})
	f.addTask(t, "publish")
	f.addProcess(t, "pipeline", linearProcess)

	final := f.run(t, "pipeline", nil, nil)
	if final.Status != workflow.StatusFailed {
		t.Fatalf("Status = %q, want FAILED", final.Status)
	}
	if !strings.Contains(final.ErrorMessage, "unknown executor: fortran") {
		t.Errorf("ErrorMessage = %q", final.ErrorMessage)
	}
}

func TestEngine_FailedTaskStopsRun(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "extract")
	f.addTask(t, "publish")
	f.exec.fail["extract"] = "disk full"
	f.addProcess(t, "pipeline", linearProcess)

	final := f.run(t, "pipeline", nil, nil)
	if final.Status != workflow.StatusFailed || final.ErrorMessage != "disk full" {
		t.Fatalf("Status = %q, ErrorMessage = %q", final.Status, final.ErrorMessage)
	}
	if len(f.exec.calls) != 1 {
		t.Errorf("executor calls = %v, downstream tasks must not run", f.exec.calls)
	}
}

func TestEngine_EmptyStepFunctionSkipped(t *testing.T) {
	structure := `{
		"nodes": [
			{"id": "start", "data": {"type": "EVENT", "attributes": [{"attribute_name": "type", "attribute_value": "Start"}]}},
			{"id": "noop", "data": {"type": "TASK", "label": "Placeholder"}},
			{"id": "stop", "data": {"type": "EVENT", "attributes": [{"attribute_name": "type", "attribute_value": "Stop"}]}}
		],
		"edges": [
			{"source": "start", "target": "noop", "data": {}},
			{"source": "noop", "target": "stop", "data": {}}
		]
	}`
	f := newFixture(t)
	f.addProcess(t, "pipeline", structure)

	final := f.run(t, "pipeline", nil, nil)
	if final.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %q (%s)", final.Status, final.ErrorMessage)
	}

	steps, _ := f.workflows.ListSteps(context.Background(), final.ExecutionID)
	if steps[1].Status != workflow.StepSkipped {
		t.Errorf("placeholder step status = %q, want skipped", steps[1].Status)
	}
}

func TestEngine_StepLimitBreaksLoops(t *testing.T) {
	structure := `{
		"nodes": [
			{"id": "start", "data": {"type": "EVENT", "attributes": [{"attribute_name": "type", "attribute_value": "Start"}]}},
			{"id": "gw", "data": {"type": "GATEWAY"}}
		],
		"edges": [
			{"source": "start", "target": "gw", "data": {}},
			{"source": "gw", "target": "gw", "data": {}}
		]
	}`
	f := newFixture(t)
	f.addProcess(t, "looper", structure)

	cfg := DefaultConfig()
	cfg.MaxSteps = 10
	f.engine = New(f.workflows, f.catalog, executor.NewRegistry(), nil, cfg)

	final := f.run(t, "looper", nil, nil)
	if final.Status != workflow.StatusFailed {
		t.Fatalf("Status = %q, want FAILED", final.Status)
	}
	if !strings.Contains(final.ErrorMessage, "step limit") {
		t.Errorf("ErrorMessage = %q", final.ErrorMessage)
	}
}

func TestEngine_StructureOverride(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "extract")
	f.addTask(t, "publish")
	f.addTask(t, "alternate")
	f.addProcess(t, "pipeline", linearProcess)

	override := `{
		"nodes": [
			{"id": "start", "data": {"type": "EVENT", "attributes": [{"attribute_name": "type", "attribute_value": "Start"}]}},
			{"id": "alt", "data": {"type": "TASK", "step_function": "alternate"}},
			{"id": "stop", "data": {"type": "EVENT", "attributes": [{"attribute_name": "type", "attribute_value": "Stop"}]}}
		],
		"edges": [
			{"source": "start", "target": "alt", "data": {}},
			{"source": "alt", "target": "stop", "data": {}}
		]
	}`
	final := f.run(t, "pipeline", nil, &RunOptions{StructureOverride: json.RawMessage(override)})
	if final.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %q (%s)", final.Status, final.ErrorMessage)
	}
	if len(f.exec.calls) != 1 || f.exec.calls[0] != "alternate" {
		t.Errorf("executor calls = %v, want the override structure's task", f.exec.calls)
	}
}

func TestEngine_DynamicRunWithoutOverrideFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exec, err := f.engine.InitializeDynamicExecution(ctx, nil, "tester")
	if err != nil {
		t.Fatalf("InitializeDynamicExecution() error = %v", err)
	}

	// A dynamic execution has no stored process; running it again
	// without the structure must fail the row instead of stranding it
	// in QUEUED.
	if err := f.engine.Execute(ctx, exec.ExecutionID, nil); err == nil {
		t.Fatal("Execute() without structure should return the load error")
	}

	final, err := f.workflows.GetExecution(ctx, exec.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if final.Status != workflow.StatusFailed {
		t.Errorf("Status = %q, want %q", final.Status, workflow.StatusFailed)
	}
	if final.ErrorMessage == "" {
		t.Error("ErrorMessage should record why the run could not start")
	}
}

func TestEngine_CancelledProcessRefused(t *testing.T) {
	f := newFixture(t)
	f.addProcess(t, "pipeline", linearProcess)
	if err := f.workflows.SetProcessCancelled(context.Background(), "pipeline", true, "ops"); err != nil {
		t.Fatalf("SetProcessCancelled() error = %v", err)
	}

	_, err := f.engine.InitializeExecution(context.Background(), "pipeline", nil, "tester")
	if err == nil {
		t.Fatal("InitializeExecution() should refuse a cancelled process")
	}
}

func TestEngine_Validate(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "extract")

	structure := fmt.Sprintf(`{
		"nodes": [
			{"id": "start", "data": {"type": "EVENT", "attributes": [{"attribute_name": "type", "attribute_value": "Start"}]}},
			{"id": "t1", "data": {"type": "TASK", "step_function": "%s"}},
			{"id": "t2", "data": {"type": "TASK", "step_function": "missing_task"}}
		],
		"edges": [
			{"source": "start", "target": "t1", "data": {}},
			{"source": "t1", "target": "t2", "data": {}}
		]
	}`, "extract")

	issues := f.engine.Validate(context.Background(), json.RawMessage(structure))
	if len(issues) != 1 {
		t.Fatalf("Validate() = %v, want one issue", issues)
	}
	if issues[0].Message != "Task not found: missing_task" {
		t.Errorf("issue = %+v", issues[0])
	}
}
