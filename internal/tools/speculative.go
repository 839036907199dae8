package tools

import (
	"context"
	"sync"
	"time"

	"github.com/conductorhq/conductor/pkg/models"
)

const (
	// DefaultSpeculativeConcurrency bounds in-flight speculative tools.
	DefaultSpeculativeConcurrency = 5

	// DefaultSpeculativeTimeout caps one speculative execution.
	DefaultSpeculativeTimeout = 30 * time.Second
)

// ExecuteFunc runs one tool call to completion.
type ExecuteFunc func(ctx context.Context, call models.ToolCall) (*Result, error)

// Speculative starts safe tool calls while the model is still streaming,
// as soon as each call's arguments are fully received. One instance lives
// per streaming iteration; results become visible to the dispatcher only
// when it asks for them by id after the response completes.
type Speculative struct {
	classifier    *Classifier
	execute       ExecuteFunc
	maxConcurrent int
	timeout       time.Duration

	mu       sync.Mutex
	inflight map[string]*speculation
}

type speculation struct {
	done    chan struct{}
	content string
	isError bool
}

// NewSpeculative builds a speculative executor. Zero values for the limits
// fall back to the defaults.
func NewSpeculative(classifier *Classifier, execute ExecuteFunc, maxConcurrent int, timeout time.Duration) *Speculative {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultSpeculativeConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultSpeculativeTimeout
	}
	return &Speculative{
		classifier:    classifier,
		execute:       execute,
		maxConcurrent: maxConcurrent,
		timeout:       timeout,
		inflight:      make(map[string]*speculation),
	}
}

// OnToolCallReady is invoked by the stream parser when one tool call's
// arguments are complete. Unsafe tools, duplicate ids, and calls beyond the
// concurrency bound are ignored. Failures and timeouts resolve to a
// synthetic "Error: ..." result rather than surfacing an error.
func (s *Speculative) OnToolCallReady(ctx context.Context, call models.ToolCall) {
	if call.ID == "" || !s.classifier.IsSafe(call.Name) {
		return
	}

	s.mu.Lock()
	if _, seen := s.inflight[call.ID]; seen || len(s.inflight) >= s.maxConcurrent {
		s.mu.Unlock()
		return
	}
	spec := &speculation{done: make(chan struct{})}
	s.inflight[call.ID] = spec
	s.mu.Unlock()

	go func() {
		defer close(spec.done)

		execCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		result, err := s.execute(execCtx, call)
		switch {
		case err != nil:
			spec.content = "Error: " + err.Error()
			spec.isError = true
		case result == nil:
			spec.content = "Error: tool returned no result"
			spec.isError = true
		default:
			spec.content = result.Content
			spec.isError = result.IsError
		}
	}()
}

// Result awaits and returns the speculative result for a call id. The
// second return is false when no speculation was started for the id.
func (s *Speculative) Result(ctx context.Context, id string) (string, bool, bool) {
	s.mu.Lock()
	spec, ok := s.inflight[id]
	s.mu.Unlock()
	if !ok {
		return "", false, false
	}

	select {
	case <-spec.done:
		return spec.content, spec.isError, true
	case <-ctx.Done():
		return "Error: " + ctx.Err().Error(), true, true
	}
}

// Len reports how many speculations are tracked.
func (s *Speculative) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Clear drops all tracked speculations. Called at iteration boundaries.
func (s *Speculative) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = make(map[string]*speculation)
}
