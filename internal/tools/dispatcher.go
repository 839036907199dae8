package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conductorhq/conductor/pkg/models"
)

const (
	// toolResultContextFraction is the share of the context window reserved
	// for one batch of tool results.
	toolResultContextFraction = 0.20

	// charsPerToken converts the token share into a character budget.
	charsPerToken = 4

	// maxResultChars is the absolute per-result ceiling, applied when the
	// batch-share budget comes out higher.
	maxResultChars = 8000
)

// Recorder receives dispatch-layer measurements: per-tool execution
// outcomes with their dispatch mode, and cache lookup results mirroring
// Cache.Stats. A nil Recorder disables recording. Implementations must be
// safe for concurrent use.
type Recorder interface {
	ToolExecuted(tool, status, mode string, elapsed time.Duration)
	CacheLookup(hit bool)
}

// Dispatcher turns a batch of model tool calls into tool-role messages.
// Safe batches run in parallel when the model advertises parallel calls;
// everything else runs sequentially. Either way each call resolves through
// the same cascade: speculative result, cache, executor.
type Dispatcher struct {
	classifier *Classifier
	cache      *Cache
	executor   *Executor
	maxContext int
	recorder   Recorder
}

// NewDispatcher wires the dispatch layer together. maxContext is the model
// context window in tokens, used to size the per-result truncation budget.
func NewDispatcher(classifier *Classifier, cache *Cache, executor *Executor, maxContext int, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		classifier: classifier,
		cache:      cache,
		executor:   executor,
		maxContext: maxContext,
		recorder:   recorder,
	}
}

// Dispatch resolves every call in the batch and returns tool-role messages
// aligned to the input order. spec may be nil when the iteration did not
// stream. One failing call never prevents its peers from resolving; the
// failure becomes an error-shaped result in its slot.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []models.ToolCall, spec *Speculative, modelSupportsParallel bool) []models.Message {
	if len(calls) == 0 {
		return nil
	}

	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}

	contents := make([]string, len(calls))
	if modelSupportsParallel && d.classifier.AllSafe(names) {
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(idx int, tc models.ToolCall) {
				defer wg.Done()
				contents[idx] = d.resolve(ctx, tc, spec, "parallel")
			}(i, call)
		}
		wg.Wait()
	} else {
		for i, call := range calls {
			contents[i] = d.resolve(ctx, call, spec, "sequential")
		}
	}

	budget := d.resultBudget(len(calls))
	out := make([]models.Message, len(calls))
	for i, call := range calls {
		out[i] = models.ToolResult(call.ID, truncateResult(contents[i], budget))
	}
	return out
}

// resolve runs the cascade for one call. Errors come back as "Error: ..."
// content so the model can react to them.
func (d *Dispatcher) resolve(ctx context.Context, call models.ToolCall, spec *Speculative, mode string) string {
	if spec != nil {
		if content, isError, ok := spec.Result(ctx, call.ID); ok {
			if !isError {
				d.cache.Put(call, content, isError)
			}
			d.recordExecution(call.Name, isError, "speculative", 0)
			return content
		}
	}

	if content, ok := d.cache.Get(call); ok {
		d.recordLookup(true)
		return content
	}
	// Mutating tools bypass the cache entirely; counting them as misses
	// would skew the hit rate.
	if d.classifier.IsSafe(call.Name) {
		d.recordLookup(false)
	}

	start := time.Now()
	result, err := d.executor.Execute(ctx, call)
	elapsed := time.Since(start)
	if err != nil {
		d.recordExecution(call.Name, true, mode, elapsed)
		return "Error: " + err.Error()
	}
	if result == nil {
		d.recordExecution(call.Name, true, mode, elapsed)
		return "Error: tool returned no result"
	}
	d.cache.Put(call, result.Content, result.IsError)
	d.recordExecution(call.Name, result.IsError, mode, elapsed)
	return result.Content
}

func (d *Dispatcher) recordExecution(tool string, failed bool, mode string, elapsed time.Duration) {
	if d.recorder == nil {
		return
	}
	status := "success"
	if failed {
		status = "error"
	}
	d.recorder.ToolExecuted(tool, status, mode, elapsed)
}

func (d *Dispatcher) recordLookup(hit bool) {
	if d.recorder != nil {
		d.recorder.CacheLookup(hit)
	}
}

// resultBudget computes the per-result character budget for a batch:
// the batch's share of the reserved context slice, capped by the absolute
// ceiling.
func (d *Dispatcher) resultBudget(batchSize int) int {
	if batchSize <= 0 {
		return maxResultChars
	}
	budget := maxResultChars
	if d.maxContext > 0 {
		share := int(float64(d.maxContext) * toolResultContextFraction * charsPerToken / float64(batchSize))
		if share < budget {
			budget = share
		}
	}
	return budget
}

func truncateResult(content string, budget int) string {
	if budget <= 0 || len(content) <= budget {
		return content
	}
	return content[:budget] + fmt.Sprintf("\n[TRUNCATED: original length %d]", len(content))
}
