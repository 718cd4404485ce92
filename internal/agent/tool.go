package agent

import (
	"context"
	"encoding/json"
)

// ToolResult is the outcome of executing a single tool call.
type ToolResult struct {
	Content string
	IsError bool
}

// Tool is anything the orchestrator can dispatch a tool call to: a built-in
// handler operating on the local filesystem, or a bridge onto an external
// JSON-RPC tool server.
type Tool interface {
	// Name is the tool's advertised name, matched against model-emitted tool
	// calls and against the registry key.
	Name() string

	// Description is shown to the upstream model as part of tool
	// advertising.
	Description() string

	// ParameterSchema describes the tool's arguments as a JSON Schema
	// object, used both for upstream advertising and for validating/
	// coercing arguments before dispatch.
	ParameterSchema() json.RawMessage

	// Mutating reports whether this tool has side effects. Mutating tools
	// are never cached. Sequential execution within a batch is decided by
	// MutatingToolNames, not by this method.
	Mutating() bool

	// Execute runs the tool with already-normalized JSON arguments.
	Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error)
}

// MutatingToolNames is the fixed set of built-in tool names considered
// side-effecting; batches containing any of these run sequentially rather
// than in parallel. The check is by name only: a tool whose Mutating()
// reports true but whose name is not in this set does not force a batch
// to run sequentially.
var MutatingToolNames = map[string]bool{
	"write_file":      true,
	"create_file":     true,
	"apply_patch":     true,
	"execute_command": true,
}
