package catalog

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_TaskRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	task := &Task{
		TaskName:     "load_orders",
		UserTaskName: "Load Orders",
		Executor:     "python",
		ScriptName:   "load_orders.py",
		CancelledYN:  "N",
		CreationDate: time.Now().UTC(),
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if task.TaskID == 0 {
		t.Error("CreateTask() did not assign an id")
	}

	got, err := s.GetTask(ctx, "load_orders")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.UserTaskName != "Load Orders" {
		t.Errorf("GetTask().UserTaskName = %q", got.UserTaskName)
	}

	if _, err := s.GetTask(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("GetTask(missing) error = %v, want ErrTaskNotFound", err)
	}
}

func TestMemoryStore_ParamsPage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	names := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for _, n := range names {
		err := s.CreateTaskParams(ctx, []*TaskParam{{TaskName: "t", ParameterName: n, DataType: "string"}})
		if err != nil {
			t.Fatalf("CreateTaskParams(%s) error = %v", n, err)
		}
	}

	page, total, err := s.ListTaskParamsPage(ctx, "t", 1, 2)
	if err != nil {
		t.Fatalf("ListTaskParamsPage() error = %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 || page[0].ParameterName != "epsilon" {
		t.Errorf("page 1 = %v, want newest first", page)
	}

	page, _, err = s.ListTaskParamsPage(ctx, "t", 3, 2)
	if err != nil {
		t.Fatalf("ListTaskParamsPage() error = %v", err)
	}
	if len(page) != 1 || page[0].ParameterName != "alpha" {
		t.Errorf("last page = %v, want [alpha]", page)
	}
}

func TestMemoryStore_UpdateAndDeleteParam(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	params := []*TaskParam{{TaskName: "t", ParameterName: "region", DataType: "string"}}
	if err := s.CreateTaskParams(ctx, params); err != nil {
		t.Fatalf("CreateTaskParams() error = %v", err)
	}

	params[0].DataType = "int"
	if err := s.UpdateTaskParam(ctx, params[0]); err != nil {
		t.Fatalf("UpdateTaskParam() error = %v", err)
	}
	got, _ := s.ListTaskParams(ctx, "t")
	if got[0].DataType != "int" {
		t.Errorf("DataType = %q after update", got[0].DataType)
	}

	if err := s.DeleteTaskParam(ctx, "t", params[0].ParamID); err != nil {
		t.Fatalf("DeleteTaskParam() error = %v", err)
	}
	if err := s.DeleteTaskParam(ctx, "t", params[0].ParamID); !errors.Is(err, ErrParamNotFound) {
		t.Errorf("second delete error = %v, want ErrParamNotFound", err)
	}
}

func TestMemoryStore_BatchTaskParams(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.CreateTaskParams(ctx, []*TaskParam{
		{TaskName: "a", ParameterName: "x"},
		{TaskName: "a", ParameterName: "y"},
		{TaskName: "b", ParameterName: "z"},
	})

	got, err := s.BatchTaskParams(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("BatchTaskParams() error = %v", err)
	}
	if len(got["a"]) != 2 || got["a"][0] != "x" {
		t.Errorf("params[a] = %v", got["a"])
	}
	if len(got["b"]) != 1 {
		t.Errorf("params[b] = %v", got["b"])
	}
	if _, ok := got["c"]; ok {
		t.Error("task with no parameters should not appear in the batch map")
	}
}

func TestMemoryStore_ExecutionMethodDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m := &ExecutionMethod{ExecutionMethod: "Python", InternalExecutionMethod: "python"}
	if err := s.CreateExecutionMethod(ctx, m); err != nil {
		t.Fatalf("CreateExecutionMethod() error = %v", err)
	}
	if err := s.CreateExecutionMethod(ctx, m); !errors.Is(err, ErrMethodExists) {
		t.Errorf("duplicate error = %v, want ErrMethodExists", err)
	}
}
