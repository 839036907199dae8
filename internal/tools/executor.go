package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/conductorhq/conductor/pkg/models"
)

// ExecutorConfig configures the tool executor: concurrency limit, timeout,
// and retry strategy.
type ExecutorConfig struct {
	// MaxConcurrency limits parallel tool executions. Default: 5.
	MaxConcurrency int

	// DefaultTimeout caps a single non-speculative execution. Default: 180s.
	DefaultTimeout time.Duration

	// DefaultRetries is the retry count for retryable errors. Default: 2.
	DefaultRetries int

	// RetryBackoff is the initial backoff between retries. Default: 100ms.
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff. Default: 5s.
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  180 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// Executor runs tool calls against a registry with semaphore backpressure,
// per-call timeouts, retry on transient failures, and panic recovery.
type Executor struct {
	registry *Registry
	config   *ExecutorConfig
	sem      chan struct{}
}

// NewExecutor creates an executor over the registry. A nil config uses
// DefaultExecutorConfig.
func NewExecutor(registry *Registry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	return &Executor{
		registry: registry,
		config:   config,
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
}

// Execute runs one call with retries. The returned Result is non-nil on
// success; a nil Result always comes with an error.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) (*Result, error) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, &Error{Type: ErrorTimeout, ToolName: call.Name, ToolCallID: call.ID, Cause: ctx.Err()}
	}

	var lastErr error
	for attempt := 0; attempt <= e.config.DefaultRetries; attempt++ {
		result, err := e.executeWithTimeout(ctx, call)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil || attempt >= e.config.DefaultRetries {
			break
		}

		sleep := e.config.RetryBackoff * time.Duration(1<<uint(attempt))
		if sleep > e.config.MaxRetryBackoff {
			sleep = e.config.MaxRetryBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, &Error{Type: ErrorTimeout, ToolName: call.Name, ToolCallID: call.ID, Cause: ctx.Err()}
		}
	}
	return nil, lastErr
}

func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall) (*Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				ch <- outcome{err: &Error{
					Type:       ErrorPanic,
					ToolName:   call.Name,
					ToolCallID: call.ID,
					Cause:      fmt.Errorf("panic: %v\n%s", r, stack),
				}}
			}
		}()

		result, err := e.registry.Execute(execCtx, call.Name, json.RawMessage(call.Arguments))
		if err != nil {
			toolErr := NewError(call.Name, err)
			toolErr.ToolCallID = call.ID
			ch <- outcome{err: toolErr}
			return
		}
		ch <- outcome{result: result}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, &Error{
				Type:       ErrorTimeout,
				ToolName:   call.Name,
				ToolCallID: call.ID,
				Message:    "context cancelled",
				Cause:      ctx.Err(),
			}
		}
		return nil, &Error{
			Type:       ErrorTimeout,
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Message:    fmt.Sprintf("execution timed out after %s", e.config.DefaultTimeout),
			Cause:      ErrToolTimeout,
		}
	}
}

// ExecuteAll runs calls in parallel, bounded by the semaphore, and returns
// results in input order. Individual failures never cancel peers.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*Result {
	if len(calls) == 0 {
		return nil
	}
	results := make([]*Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			result, err := e.Execute(ctx, tc)
			if err != nil {
				results[idx] = &Result{Content: "Error: " + err.Error(), IsError: true}
				return
			}
			results[idx] = result
		}(i, call)
	}
	wg.Wait()
	return results
}
