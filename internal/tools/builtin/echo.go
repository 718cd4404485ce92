// Package builtin holds small built-in tools with no external dependencies,
// used for wiring smoke tests and trivial round-trip diagnostics.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opengemini/gemproxy/internal/agent"
)

// EchoTool returns its input text unchanged. Used to exercise the tool-call
// loop end to end without touching the filesystem or a subprocess.
type EchoTool struct{}

// NewEchoTool creates an echo tool.
func NewEchoTool() *EchoTool { return &EchoTool{} }

func (t *EchoTool) Name() string        { return "echo" }
func (t *EchoTool) Description() string { return "Return the given text unchanged." }

func (t *EchoTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Text to echo back.",
			},
		},
		"required": []string{"text"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *EchoTool) ParameterSchema() json.RawMessage { return t.Schema() }
func (t *EchoTool) Mutating() bool                   { return false }

func (t *EchoTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	var input struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		payload, _ := json.Marshal(map[string]string{"error": fmt.Sprintf("Invalid parameters: %v", err)})
		return &agent.ToolResult{Content: string(payload), IsError: true}, nil
	}
	return &agent.ToolResult{Content: input.Text}, nil
}
