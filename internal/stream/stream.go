// Package stream serves execution progress over Server-Sent Events by
// polling the workflow store.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/procflow/orchestrator/internal/workflow"
	wfstore "github.com/procflow/orchestrator/internal/workflow/store"
)

// Config tunes the stream's polling behavior.
type Config struct {
	// Poll cadence escalates as the execution stays quiet: BasePoll
	// while steps are arriving, MidPoll after QuietAfter empty polls,
	// SlowPoll after 4x QuietAfter.
	BasePoll   time.Duration
	MidPoll    time.Duration
	SlowPoll   time.Duration
	QuietAfter int

	// HeartbeatInterval is the longest gap between events on the wire.
	HeartbeatInterval time.Duration

	// MaxDuration caps the whole stream; a timeout event is emitted
	// when it elapses.
	MaxDuration time.Duration

	// Store errors are reported to the client and retried after
	// ErrorSleep; MaxErrors consecutive failures close the stream.
	MaxErrors  int
	ErrorSleep time.Duration
}

// DefaultConfig returns the default stream tuning.
func DefaultConfig() Config {
	return Config{
		BasePoll:          time.Second,
		MidPoll:           2 * time.Second,
		SlowPoll:          5 * time.Second,
		QuietAfter:        10,
		HeartbeatInterval: 5 * time.Second,
		MaxDuration:       time.Hour,
		MaxErrors:         5,
		ErrorSleep:        2 * time.Second,
	}
}

// Streamer writes execution progress as SSE.
type Streamer struct {
	store  wfstore.Store
	logger *slog.Logger
	config Config
}

// New creates a streamer over the workflow store.
func New(store wfstore.Store, logger *slog.Logger, config Config) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if config.BasePoll <= 0 {
		config.BasePoll = def.BasePoll
	}
	if config.MidPoll <= 0 {
		config.MidPoll = def.MidPoll
	}
	if config.SlowPoll <= 0 {
		config.SlowPoll = def.SlowPoll
	}
	if config.QuietAfter <= 0 {
		config.QuietAfter = def.QuietAfter
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = def.HeartbeatInterval
	}
	if config.MaxDuration <= 0 {
		config.MaxDuration = def.MaxDuration
	}
	if config.MaxErrors <= 0 {
		config.MaxErrors = def.MaxErrors
	}
	if config.ErrorSleep <= 0 {
		config.ErrorSleep = def.ErrorSleep
	}
	return &Streamer{store: store, logger: logger, config: config}
}

// Stream follows an execution until it reaches a terminal status, the
// stream duration cap elapses, or the client goes away. The client may
// resume from a previous position via the Last-Event-ID header.
func (s *Streamer) Stream(w http.ResponseWriter, r *http.Request, executionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Every event carries a monotonically increasing id; a reconnecting
	// client resumes the counter where it left off.
	var eventID int64
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			eventID = id
		}
	}

	ctx := r.Context()
	started := time.Now()
	lastEvent := started
	emptyPolls := 0
	consecutiveErrors := 0

	// A step is emitted whenever its status is new or has changed, so
	// its RUNNING state reaches the wire before the terminal one.
	statuses := make(map[int64]string)

	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if time.Since(started) >= s.config.MaxDuration {
			eventID++
			s.emit(w, flusher, eventID, "timeout", map[string]any{
				"message": "stream duration limit reached",
			})
			return
		}

		exec, err := s.store.GetExecution(ctx, executionID)
		if err != nil {
			if errors.Is(err, workflow.ErrExecutionNotFound) {
				eventID++
				s.emit(w, flusher, eventID, "error", map[string]any{
					"error": fmt.Sprintf("execution %s not found", executionID),
				})
				return
			}
			consecutiveErrors++
			eventID++
			s.emit(w, flusher, eventID, "error", map[string]any{"error": err.Error()})
			if consecutiveErrors >= s.config.MaxErrors {
				s.logger.Warn("closing stream after repeated store errors",
					slog.String("execution_id", executionID),
				)
				return
			}
			if !sleepCtx(ctx, s.config.ErrorSleep) {
				return
			}
			continue
		}

		steps, err := s.store.ListSteps(ctx, executionID)
		if err != nil {
			consecutiveErrors++
			eventID++
			s.emit(w, flusher, eventID, "error", map[string]any{"error": err.Error()})
			if consecutiveErrors >= s.config.MaxErrors {
				return
			}
			if !sleepCtx(ctx, s.config.ErrorSleep) {
				return
			}
			continue
		}
		consecutiveErrors = 0

		progressed := false
		for _, step := range steps {
			if prev, seen := statuses[step.StepID]; seen && prev == step.Status {
				continue
			}
			eventID++
			s.emit(w, flusher, eventID, "step", step)
			statuses[step.StepID] = step.Status
			progressed = true
			lastEvent = time.Now()
			emptyPolls = 0
		}

		if exec.Terminal() {
			eventID++
			s.emit(w, flusher, eventID, "complete", map[string]any{
				"status":        exec.Status,
				"output_data":   exec.OutputData,
				"error_message": exec.ErrorMessage,
			})
			return
		}

		if !progressed {
			emptyPolls++
		}
		if time.Since(lastEvent) >= s.config.HeartbeatInterval {
			eventID++
			s.emit(w, flusher, eventID, "heartbeat", map[string]any{"status": exec.Status})
			lastEvent = time.Now()
		}

		if !sleepCtx(ctx, s.pollInterval(emptyPolls)) {
			return
		}
	}
}

func (s *Streamer) pollInterval(emptyPolls int) time.Duration {
	switch {
	case emptyPolls < s.config.QuietAfter:
		return s.config.BasePoll
	case emptyPolls < 4*s.config.QuietAfter:
		return s.config.MidPoll
	default:
		return s.config.SlowPoll
	}
}

func (s *Streamer) emit(w http.ResponseWriter, flusher http.Flusher, id int64, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode stream event", slog.String("error", err.Error()))
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	flusher.Flush()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
