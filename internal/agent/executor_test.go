package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opengemini/gemproxy/pkg/models"
)

type fakeTool struct {
	name     string
	mutating bool
	delay    time.Duration
	calls    *int32
	fail     bool
}

func (f *fakeTool) Name() string                       { return f.name }
func (f *fakeTool) Description() string                { return "fake" }
func (f *fakeTool) ParameterSchema() json.RawMessage    { return json.RawMessage(`{}`) }
func (f *fakeTool) Mutating() bool                      { return f.mutating }
func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
	if f.calls != nil {
		atomic.AddInt32(f.calls, 1)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail {
		return &ToolResult{Content: "boom", IsError: true}, nil
	}
	return &ToolResult{Content: "ok:" + f.name}, nil
}

func newTestExecutor(tools ...Tool) *Executor {
	reg := NewToolRegistry()
	for _, t := range tools {
		reg.Register(t)
	}
	return NewExecutor(reg, &ExecutorConfig{MaxConcurrency: 4, DefaultTimeout: time.Second})
}

func TestExecuteAllPreservesOrder(t *testing.T) {
	e := newTestExecutor(&fakeTool{name: "a"}, &fakeTool{name: "b"}, &fakeTool{name: "c"})
	calls := []models.Part{
		models.NewToolCall("1", "c", nil),
		models.NewToolCall("2", "a", nil),
		models.NewToolCall("3", "b", nil),
	}
	results := e.ExecuteAll(context.Background(), calls)
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	want := []string{"c", "a", "b"}
	for i, r := range results {
		if r.ToolName != want[i] {
			t.Errorf("result[%d].ToolName = %q, want %q", i, r.ToolName, want[i])
		}
	}
}

func TestExecuteAllMutatingBatchRunsSequentially(t *testing.T) {
	var running int32
	var maxConcurrent int32
	tool := func(name string, mutating bool) Tool {
		return &trackingTool{name: name, mutating: mutating, running: &running, maxConcurrent: &maxConcurrent}
	}
	e := newTestExecutor(tool("write_file", true), tool("read_file", false))
	calls := []models.Part{
		models.NewToolCall("1", "write_file", nil),
		models.NewToolCall("2", "read_file", nil),
	}
	e.ExecuteAll(context.Background(), calls)
	if atomic.LoadInt32(&maxConcurrent) > 1 {
		t.Errorf("expected sequential execution, observed concurrency %d", maxConcurrent)
	}
}

type trackingTool struct {
	name          string
	mutating      bool
	running       *int32
	maxConcurrent *int32
}

func (t *trackingTool) Name() string                    { return t.name }
func (t *trackingTool) Description() string              { return "" }
func (t *trackingTool) ParameterSchema() json.RawMessage { return json.RawMessage(`{}`) }
func (t *trackingTool) Mutating() bool                   { return t.mutating }
func (t *trackingTool) Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
	n := atomic.AddInt32(t.running, 1)
	for {
		cur := atomic.LoadInt32(t.maxConcurrent)
		if n <= cur || atomic.CompareAndSwapInt32(t.maxConcurrent, cur, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(t.running, -1)
	return &ToolResult{Content: "ok"}, nil
}

func TestExecuteAllParallelBatchRunsConcurrently(t *testing.T) {
	var calls int32
	e := newTestExecutor(
		&fakeTool{name: "a", delay: 30 * time.Millisecond, calls: &calls},
		&fakeTool{name: "b", delay: 30 * time.Millisecond, calls: &calls},
	)
	start := time.Now()
	e.ExecuteAll(context.Background(), []models.Part{
		models.NewToolCall("1", "a", nil),
		models.NewToolCall("2", "b", nil),
	})
	elapsed := time.Since(start)
	if elapsed > 50*time.Millisecond {
		t.Errorf("expected concurrent execution to finish quickly, took %s", elapsed)
	}
}

func TestExecuteUnknownToolReturnsErrorResult(t *testing.T) {
	e := newTestExecutor()
	results := e.ExecuteAll(context.Background(), []models.Part{models.NewToolCall("1", "missing", nil)})
	if results[0].Result == nil || !results[0].Result.IsError {
		t.Fatalf("expected error result for unknown tool, got %+v", results[0])
	}
}

func TestExecuteToolFailureSurfacesAsErrorResult(t *testing.T) {
	e := newTestExecutor(&fakeTool{name: "boom", fail: true})
	results := e.ExecuteAll(context.Background(), []models.Part{models.NewToolCall("1", "boom", nil)})
	if results[0].Result == nil || !results[0].Result.IsError {
		t.Fatalf("expected error result, got %+v", results[0])
	}
}

func TestResultsToParts(t *testing.T) {
	results := []*ExecutionResult{
		{ToolName: "ok_tool", Result: &ToolResult{Content: "fine"}},
		{ToolName: "bad_tool", Error: errors.New("failed")},
	}
	parts := ResultsToParts(results)
	if len(parts) != 2 {
		t.Fatalf("len(parts) = %d, want 2", len(parts))
	}
	if parts[0].Type != models.PartToolResponse || parts[0].ToolResponseIsError {
		t.Errorf("expected non-error tool response, got %+v", parts[0])
	}
	if !parts[1].ToolResponseIsError {
		t.Errorf("expected error tool response, got %+v", parts[1])
	}
}
