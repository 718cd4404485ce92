package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/opengemini/gemproxy/internal/cache"
)

type countingTool struct {
	calls int
}

func (t *countingTool) Name() string        { return "counter" }
func (t *countingTool) Description() string { return "counts invocations" }
func (t *countingTool) ParameterSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"}}}`)
}
func (t *countingTool) Mutating() bool { return false }
func (t *countingTool) Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
	t.calls++
	return &ToolResult{Content: "ok"}, nil
}

func TestDispatcherCachesNonMutatingResults(t *testing.T) {
	registry := NewToolRegistry()
	tool := &countingTool{}
	registry.Register(tool)

	d := NewDispatcher(registry, cache.NewToolOutputCache(0, 0), DispatcherConfig{})

	params := json.RawMessage(`{"n":1}`)
	if _, err := d.Execute(context.Background(), "counter", params); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Execute(context.Background(), "counter", params); err != nil {
		t.Fatal(err)
	}
	if tool.calls != 1 {
		t.Fatalf("expected the tool to run once, ran %d times", tool.calls)
	}
}

type mutatingTool struct {
	countingTool
}

func (t *mutatingTool) Mutating() bool { return true }

func TestDispatcherNeverCachesMutatingResults(t *testing.T) {
	registry := NewToolRegistry()
	tool := &mutatingTool{}
	registry.Register(tool)

	d := NewDispatcher(registry, cache.NewToolOutputCache(0, 0), DispatcherConfig{})

	params := json.RawMessage(`{"n":1}`)
	if _, err := d.Execute(context.Background(), "counter", params); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Execute(context.Background(), "counter", params); err != nil {
		t.Fatal(err)
	}
	if tool.calls != 2 {
		t.Fatalf("expected the mutating tool to run every time, ran %d times", tool.calls)
	}
}

func TestDispatcherUnknownToolFallsThrough(t *testing.T) {
	registry := NewToolRegistry()
	d := NewDispatcher(registry, cache.NewToolOutputCache(0, 0), DispatcherConfig{})

	result, err := d.Execute(context.Background(), "missing", json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatalf("expected an error result for an unknown tool, got %+v", result)
	}
}
