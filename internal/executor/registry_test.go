package executor

import (
	"context"
	"errors"
	"testing"
)

type stubExecutor struct {
	kind string
	resp *Response
	err  error
}

func (s *stubExecutor) Kind() string { return s.kind }

func (s *stubExecutor) Execute(ctx context.Context, req *Request) (*Response, error) {
	return s.resp, s.err
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&stubExecutor{kind: "python"}); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := r.Register(&stubExecutor{kind: "python"}); err == nil {
		t.Error("duplicate Register() should fail")
	}
}

func TestRegistry_ExecuteUnknownKind(t *testing.T) {
	r := NewRegistry()
	resp := r.Execute(context.Background(), &Request{Kind: "nope"})
	if !resp.Failed() {
		t.Fatalf("Execute() = %+v, want error response", resp)
	}
}

func TestRegistry_ExecuteAbsorbsErrors(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&stubExecutor{kind: "python", err: errors.New("interpreter exploded")})

	resp := r.Execute(context.Background(), &Request{Kind: "python"})
	if resp.Error != "interpreter exploded" {
		t.Errorf("Execute().Error = %q, want executor error absorbed", resp.Error)
	}
}

func TestRegistry_ErrorWinsOverResult(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&stubExecutor{
		kind: "bash",
		resp: &Response{Result: map[string]any{"x": "1"}, Error: "boom"},
	})

	resp := r.Execute(context.Background(), &Request{Kind: "bash"})
	if !resp.Failed() {
		t.Error("response with populated result and error must report failed")
	}
}

func TestRegistry_Alias(t *testing.T) {
	r := NewRegistry()
	stub := &stubExecutor{kind: "python", resp: &Response{Result: map[string]any{"ok": true}}}
	r.MustRegister(stub)
	r.MustRegister(NewAlias("executors.python.execute", stub))

	resp := r.Execute(context.Background(), &Request{Kind: "executors.python.execute"})
	if resp.Failed() {
		t.Fatalf("alias Execute() failed: %s", resp.Error)
	}
	if resp.Result["ok"] != true {
		t.Errorf("alias Execute() result = %v", resp.Result)
	}
}

func TestParseScriptOutput(t *testing.T) {
	tests := []struct {
		name       string
		stdout     string
		wantErr    string
		wantResult map[string]any
	}{
		{
			name:       "envelope with result",
			stdout:     "log line\n{\"result\": {\"x\": \"1\"}}",
			wantResult: map[string]any{"x": "1"},
		},
		{
			name:    "envelope with error",
			stdout:  "{\"error\": \"boom\"}",
			wantErr: "boom",
		},
		{
			name:       "bare object becomes result",
			stdout:     "{\"count\": 3}",
			wantResult: map[string]any{"count": float64(3)},
		},
		{
			name:   "no json output",
			stdout: "done\n",
		},
		{
			name:       "last json line wins",
			stdout:     "{\"result\": {\"x\": \"old\"}}\n{\"result\": {\"x\": \"new\"}}",
			wantResult: map[string]any{"x": "new"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := parseScriptOutput(tt.stdout)
			if resp.Error != tt.wantErr {
				t.Errorf("Error = %q, want %q", resp.Error, tt.wantErr)
			}
			if tt.wantResult == nil && len(resp.Result) != 0 {
				t.Errorf("Result = %v, want empty", resp.Result)
			}
			for k, v := range tt.wantResult {
				if resp.Result[k] != v {
					t.Errorf("Result[%q] = %v, want %v", k, resp.Result[k], v)
				}
			}
		})
	}
}
