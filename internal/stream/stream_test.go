package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/procflow/orchestrator/internal/workflow"
	wfstore "github.com/procflow/orchestrator/internal/workflow/store"
)

func fastConfig() Config {
	return Config{
		BasePoll:          5 * time.Millisecond,
		MidPoll:           10 * time.Millisecond,
		SlowPoll:          20 * time.Millisecond,
		QuietAfter:        5,
		HeartbeatInterval: 25 * time.Millisecond,
		MaxDuration:       2 * time.Second,
		MaxErrors:         5,
		ErrorSleep:        5 * time.Millisecond,
	}
}

func seedExecution(t *testing.T, store *wfstore.MemoryStore, status string) *workflow.Execution {
	t.Helper()
	exec := &workflow.Execution{
		ExecutionID:  "exec-1",
		ProcessName:  "pipeline",
		Status:       status,
		CreationDate: time.Now().UTC(),
	}
	if err := store.CreateExecution(context.Background(), exec); err != nil {
		t.Fatalf("CreateExecution() error = %v", err)
	}
	return exec
}

func addStep(t *testing.T, store *wfstore.MemoryStore, nodeID, status string) *workflow.Step {
	t.Helper()
	step := &workflow.Step{
		ExecutionID: "exec-1",
		NodeID:      nodeID,
		Status:      status,
		StartedAt:   time.Now().UTC(),
	}
	if err := store.CreateStep(context.Background(), step); err != nil {
		t.Fatalf("CreateStep() error = %v", err)
	}
	return step
}

func complete(t *testing.T, store *wfstore.MemoryStore, exec *workflow.Execution) {
	t.Helper()
	now := time.Now().UTC()
	exec.Status = workflow.StatusCompleted
	exec.OutputData = map[string]any{"rows": 10}
	exec.CompletedAt = &now
	if err := store.UpdateExecution(context.Background(), exec); err != nil {
		t.Fatalf("UpdateExecution() error = %v", err)
	}
}

func TestStream_StepsThenComplete(t *testing.T) {
	store := wfstore.NewMemoryStore()
	exec := seedExecution(t, store, workflow.StatusRunning)
	addStep(t, store, "start", workflow.StepPassed)
	addStep(t, store, "t1", workflow.StepCompleted)
	complete(t, store, exec)

	s := New(store, nil, fastConfig())
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/executions/exec-1/stream", nil)

	s.Stream(w, r, "exec-1")

	resp := w.Result()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := resp.Header.Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("X-Accel-Buffering = %q", got)
	}

	body := w.Body.String()
	if !strings.Contains(body, "event: step") {
		t.Error("body missing step events")
	}
	if !strings.Contains(body, "id: 1\n") || !strings.Contains(body, "id: 2\n") {
		t.Errorf("body missing step ids:\n%s", body)
	}
	if !strings.Contains(body, "id: 3\nevent: complete") {
		t.Errorf("complete event must carry the next id:\n%s", body)
	}
	if !strings.Contains(body, `"status":"COMPLETED"`) {
		t.Errorf("complete payload wrong:\n%s", body)
	}
	if strings.Index(body, "event: step") > strings.Index(body, "event: complete") {
		t.Error("steps must be emitted before the complete event")
	}
}

func TestStream_ResumesFromLastEventID(t *testing.T) {
	store := wfstore.NewMemoryStore()
	exec := seedExecution(t, store, workflow.StatusRunning)
	addStep(t, store, "start", workflow.StepPassed)
	addStep(t, store, "t1", workflow.StepCompleted)
	complete(t, store, exec)

	s := New(store, nil, fastConfig())
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/executions/exec-1/stream", nil)
	r.Header.Set("Last-Event-ID", "5")

	s.Stream(w, r, "exec-1")

	// A reconnect replays the current step states with ids continuing
	// past the one the client last saw.
	body := w.Body.String()
	if !strings.HasPrefix(body, "id: 6\n") {
		t.Errorf("ids must continue after the Last-Event-ID:\n%s", body)
	}
	if !strings.Contains(body, `"node_id":"start"`) || !strings.Contains(body, `"node_id":"t1"`) {
		t.Errorf("body missing replayed steps:\n%s", body)
	}
	if !strings.Contains(body, "id: 8\nevent: complete") {
		t.Errorf("complete event id wrong:\n%s", body)
	}
}

func TestStream_UnknownExecution(t *testing.T) {
	s := New(wfstore.NewMemoryStore(), nil, fastConfig())
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/executions/ghost/stream", nil)

	s.Stream(w, r, "ghost")

	body := w.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Errorf("body missing error event:\n%s", body)
	}
	if !strings.Contains(body, "not found") {
		t.Errorf("error payload wrong:\n%s", body)
	}
}

func TestStream_HeartbeatWhileQuiet(t *testing.T) {
	store := wfstore.NewMemoryStore()
	exec := seedExecution(t, store, workflow.StatusRunning)

	s := New(store, nil, fastConfig())
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/executions/exec-1/stream", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Stream(w, r, "exec-1")
	}()

	time.Sleep(100 * time.Millisecond)
	complete(t, store, exec)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after completion")
	}

	if !strings.Contains(w.Body.String(), "event: heartbeat") {
		t.Errorf("body missing heartbeat:\n%s", w.Body.String())
	}
}

func TestStream_TimeoutCap(t *testing.T) {
	store := wfstore.NewMemoryStore()
	seedExecution(t, store, workflow.StatusRunning)

	cfg := fastConfig()
	cfg.MaxDuration = 30 * time.Millisecond
	s := New(store, nil, cfg)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/executions/exec-1/stream", nil)
	s.Stream(w, r, "exec-1")

	if !strings.Contains(w.Body.String(), "event: timeout") {
		t.Errorf("body missing timeout event:\n%s", w.Body.String())
	}
}

func TestStream_EmitsEveryStepStatusChange(t *testing.T) {
	store := wfstore.NewMemoryStore()
	exec := seedExecution(t, store, workflow.StatusRunning)
	step := addStep(t, store, "t1", workflow.StepRunning)

	s := New(store, nil, fastConfig())
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/executions/exec-1/stream", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Stream(w, r, "exec-1")
	}()

	// Let the stream observe the in-flight state before the step
	// settles.
	time.Sleep(50 * time.Millisecond)
	now := time.Now().UTC()
	step.Status = workflow.StepCompleted
	step.CompletedAt = &now
	if err := store.UpdateStep(context.Background(), step); err != nil {
		t.Fatalf("UpdateStep() error = %v", err)
	}
	complete(t, store, exec)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after completion")
	}

	body := w.Body.String()
	var stepFrames []string
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		if !strings.HasPrefix(frame, "id: ") {
			t.Errorf("frame missing id line:\n%s", frame)
		}
		if strings.Contains(frame, "event: step") {
			stepFrames = append(stepFrames, frame)
		}
	}
	if len(stepFrames) != 2 {
		t.Fatalf("got %d step frames, want one per status change:\n%s", len(stepFrames), body)
	}
	if !strings.Contains(stepFrames[0], `"status":"RUNNING"`) {
		t.Errorf("first step frame must carry the in-flight state:\n%s", stepFrames[0])
	}
	if !strings.Contains(stepFrames[1], `"status":"completed"`) {
		t.Errorf("second step frame must carry the settled state:\n%s", stepFrames[1])
	}
}
