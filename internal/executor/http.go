package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	maxHTTPResponseSize = 4 << 20 // 4 MB
)

// HTTPExecutor performs an HTTP request described by the task. The target
// URL comes from the descriptor's script path; method, headers and body
// may be overridden through named parameters ("method", "headers",
// "body"). The remaining named parameters are sent as the JSON body for
// POST-like methods and as query parameters for GET.
type HTTPExecutor struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPExecutor creates an HTTP executor with a pooled, SSRF-guarded
// transport.
func NewHTTPExecutor(logger *slog.Logger) *HTTPExecutor {
	return &HTTPExecutor{
		client: &http.Client{
			Timeout:   defaultHTTPTimeout,
			Transport: newSSRFSafeTransport(),
		},
		logger: logger,
	}
}

func (e *HTTPExecutor) Kind() string { return KindHTTP }

func (e *HTTPExecutor) Execute(ctx context.Context, req *Request) (*Response, error) {
	target := req.Descriptor.ScriptPath
	if target == "" {
		target = req.Descriptor.ScriptName
	}
	if raw, ok := req.Named["url"].(string); ok && raw != "" {
		target = raw
	}

	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return &Response{Error: "only http and https URLs are allowed"}, nil
	}

	method := http.MethodPost
	if raw, ok := req.Named["method"].(string); ok && raw != "" {
		method = strings.ToUpper(raw)
	}

	payload := make(map[string]any, len(req.Named))
	for k, v := range req.Named {
		if k == "url" || k == "method" || k == "headers" {
			continue
		}
		payload[k] = v
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if method == http.MethodGet {
		query := parsed.Query()
		for k, v := range payload {
			query.Set(k, fmt.Sprintf("%v", v))
		}
		parsed.RawQuery = query.Encode()
	} else {
		body, err := json.Marshal(payload)
		if err != nil {
			return &Response{Error: fmt.Sprintf("failed to encode request body: %v", err)}, nil
		}
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, parsed.String(), bodyReader)
	if err != nil {
		return &Response{Error: fmt.Sprintf("failed to build request: %v", err)}, nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if headers, ok := req.Named["headers"].(map[string]any); ok {
		for k, v := range headers {
			httpReq.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	start := time.Now()
	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return &Response{Error: fmt.Sprintf("request failed: %v", err)}, nil
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxHTTPResponseSize))
	if err != nil {
		return &Response{Error: fmt.Sprintf("failed to read response: %v", err)}, nil
	}

	e.logger.Debug("http task executed",
		slog.String("url", parsed.String()),
		slog.Int("status", httpResp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	result := map[string]any{"status_code": httpResp.StatusCode}
	var parsedBody map[string]any
	if err := json.Unmarshal(respBody, &parsedBody); err == nil {
		for k, v := range parsedBody {
			if k == "status_code" {
				continue
			}
			result[k] = v
		}
	} else if len(respBody) > 0 {
		result["body"] = string(respBody)
	}

	if httpResp.StatusCode >= 400 {
		return &Response{
			Result: result,
			Error:  fmt.Sprintf("endpoint returned status %d", httpResp.StatusCode),
		}, nil
	}
	return &Response{Result: result}, nil
}
