package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/opengemini/gemproxy/pkg/models"
)

// ExecutorConfig configures the parallel tool executor behavior including
// concurrency limits and per-call timeout.
type ExecutorConfig struct {
	// MaxConcurrency limits the number of parallel tool executions within a
	// single parallel-eligible batch.
	MaxConcurrency int

	// DefaultTimeout is the timeout applied to each individual tool call.
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency: 5,
		DefaultTimeout: 30 * time.Second,
	}
}

// ToolRunner is the minimal surface Executor needs to dispatch a single
// call. *ToolRegistry satisfies it directly; a Dispatcher wraps one to add
// caching, output optimization, and argument coercion in front of it.
type ToolRunner interface {
	Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error)
}

// Executor dispatches a batch of tool calls against a ToolRunner, honoring
// the parallelism rule: a batch containing any mutating tool call
// runs sequentially; otherwise calls run concurrently up to MaxConcurrency.
// Results are always returned in the same order as the input calls, matching
// the index-preserving invariant tests rely on.
type Executor struct {
	runner ToolRunner
	config *ExecutorConfig
	sem    chan struct{}
}

// NewExecutor creates a new executor bound to the given runner. If config
// is nil, DefaultExecutorConfig is used.
func NewExecutor(runner ToolRunner, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultExecutorConfig().MaxConcurrency
	}
	return &Executor{
		runner: runner,
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrency),
	}
}

// ExecutionResult holds the result of a single tool call execution.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *ToolResult
	Error      error
	Duration   time.Duration
}

// ExecuteAll dispatches every call in the batch, running sequentially if any
// call names a mutating tool, and concurrently (bounded by MaxConcurrency)
// otherwise.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.Part) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}
	if batchRequiresSequential(calls) {
		return e.executeSequential(ctx, calls)
	}
	return e.executeParallel(ctx, calls)
}

func batchRequiresSequential(calls []models.Part) bool {
	for _, c := range calls {
		if MutatingToolNames[c.ToolName] {
			return true
		}
	}
	return false
}

func (e *Executor) executeSequential(ctx context.Context, calls []models.Part) []*ExecutionResult {
	results := make([]*ExecutionResult, len(calls))
	for i, call := range calls {
		results[i] = e.execute(ctx, call)
	}
	return results
}

func (e *Executor) executeParallel(ctx context.Context, calls []models.Part) []*ExecutionResult {
	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c models.Part) {
			defer wg.Done()
			results[idx] = e.execute(ctx, c)
		}(i, call)
	}
	wg.Wait()
	return results
}

// execute runs a single tool call with a per-call timeout and panic
// recovery. Whether the result is cached is decided by the Dispatcher, not
// here.
func (e *Executor) execute(ctx context.Context, call models.Part) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{ToolCallID: call.ToolCallID, ToolName: call.ToolName}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Error = NewToolError(call.ToolName, ctx.Err()).WithType(ToolErrorTimeout).WithToolCallID(call.ToolCallID)
		result.Duration = time.Since(start)
		return result
	}

	execCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	type outcome struct {
		result *ToolResult
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := NewToolError(call.ToolName, fmt.Errorf("panic: %v\n%s", r, debug.Stack())).
					WithType(ToolErrorPanic).WithToolCallID(call.ToolCallID)
				ch <- outcome{err: err}
			}
		}()
		res, err := e.runner.Execute(execCtx, call.ToolName, call.ToolArgs)
		if err != nil {
			ch <- outcome{err: NewToolError(call.ToolName, err).WithToolCallID(call.ToolCallID)}
			return
		}
		ch <- outcome{result: res}
	}()

	select {
	case o := <-ch:
		result.Result, result.Error = o.result, o.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			result.Error = NewToolError(call.ToolName, ctx.Err()).WithType(ToolErrorTimeout).
				WithToolCallID(call.ToolCallID).WithMessage("context cancelled")
		} else {
			result.Error = NewToolError(call.ToolName, ErrToolTimeout).WithType(ToolErrorTimeout).
				WithToolCallID(call.ToolCallID).
				WithMessage(fmt.Sprintf("execution timed out after %s", e.config.DefaultTimeout))
		}
	}
	result.Duration = time.Since(start)
	return result
}

// ResultsToParts converts execution results into tool-response Parts
// suitable for appending to the conversation, preserving order.
func ResultsToParts(results []*ExecutionResult) []models.Part {
	parts := make([]models.Part, len(results))
	for i, r := range results {
		if r.Error != nil {
			parts[i] = models.NewToolResponse(r.ToolName, marshalErrorPayload(r.Error), true)
			continue
		}
		if r.Result != nil {
			parts[i] = models.NewToolResponse(r.ToolName, marshalTextPayload(r.Result.Content), r.Result.IsError)
		}
	}
	return parts
}

func marshalErrorPayload(err error) []byte {
	return marshalTextPayload(err.Error())
}

func marshalTextPayload(text string) []byte {
	type payload struct {
		Content string `json:"content"`
	}
	data, mErr := json.Marshal(payload{Content: text})
	if mErr != nil {
		return []byte(`{"content":""}`)
	}
	return data
}
