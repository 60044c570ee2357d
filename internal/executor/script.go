package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const defaultScriptTimeout = 5 * time.Minute

// PythonExecutor runs python task scripts. Named parameters are passed to
// the script as a JSON object on stdin and duplicated in the
// TASK_PARAMETERS environment variable; the script's last stdout line
// that parses as a JSON object is taken as its output envelope.
type PythonExecutor struct {
	interpreter string
	logger      *slog.Logger
}

// NewPythonExecutor creates a python script executor.
func NewPythonExecutor(logger *slog.Logger) *PythonExecutor {
	return &PythonExecutor{interpreter: "python3", logger: logger}
}

func (e *PythonExecutor) Kind() string { return KindPython }

func (e *PythonExecutor) Execute(ctx context.Context, req *Request) (*Response, error) {
	return runScript(ctx, e.interpreter, req, e.logger)
}

// BashExecutor runs bash task scripts with the same stdin/stdout contract
// as the python executor.
type BashExecutor struct {
	interpreter string
	logger      *slog.Logger
}

// NewBashExecutor creates a bash script executor.
func NewBashExecutor(logger *slog.Logger) *BashExecutor {
	return &BashExecutor{interpreter: "bash", logger: logger}
}

func (e *BashExecutor) Kind() string { return KindBash }

func (e *BashExecutor) Execute(ctx context.Context, req *Request) (*Response, error) {
	return runScript(ctx, e.interpreter, req, e.logger)
}

func runScript(ctx context.Context, interpreter string, req *Request, logger *slog.Logger) (*Response, error) {
	scriptPath := req.Descriptor.ScriptPath
	if scriptPath == "" {
		scriptPath = req.Descriptor.ScriptName
	}
	if scriptPath == "" {
		return &Response{Error: fmt.Sprintf("task %s has no script location", req.Descriptor.TaskName)}, nil
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return &Response{Error: fmt.Sprintf("script not found: %s", scriptPath)}, nil
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params, err := json.Marshal(req.Named)
	if err != nil {
		return &Response{Error: fmt.Sprintf("failed to encode parameters: %v", err)}, nil
	}

	cmd := exec.CommandContext(ctx, interpreter, scriptPath)
	cmd.Stdin = bytes.NewReader(params)
	cmd.Env = append(os.Environ(),
		"TASK_PARAMETERS="+string(params),
		"TASK_NAME="+req.Descriptor.TaskName,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()

	logger.Debug("script executed",
		slog.String("interpreter", interpreter),
		slog.String("script", scriptPath),
		slog.Duration("duration", time.Since(start)),
	)

	if ctx.Err() == context.DeadlineExceeded {
		return &Response{Error: fmt.Sprintf("script timed out after %s: %s", timeout, scriptPath)}, nil
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return &Response{Error: msg}, nil
	}

	return parseScriptOutput(stdout.String()), nil
}

// parseScriptOutput extracts the output envelope from script stdout. The
// last line that parses as a JSON object wins; an object with a "result"
// or "error" key is treated as the envelope itself, any other object
// becomes the result. Scripts that print nothing parseable succeed with
// an empty result.
func parseScriptOutput(stdout string) *Response {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			continue
		}

		resp := &Response{}
		envelope := false
		if raw, ok := payload["error"]; ok {
			envelope = true
			if s, isStr := raw.(string); isStr {
				resp.Error = s
			} else if raw != nil {
				resp.Error = fmt.Sprintf("%v", raw)
			}
		}
		if raw, ok := payload["result"]; ok {
			envelope = true
			if m, isMap := raw.(map[string]any); isMap {
				resp.Result = m
			}
		}
		if !envelope {
			resp.Result = payload
		}
		return resp
	}
	return &Response{}
}
