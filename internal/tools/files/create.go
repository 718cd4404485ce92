package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opengemini/gemproxy/internal/agent"
)

// CreateFileTool creates a new file in the workspace. Unlike WriteTool, it
// refuses to touch a path that already exists.
type CreateFileTool struct {
	resolver Resolver
}

// NewCreateFileTool creates a create_file tool scoped to the workspace.
func NewCreateFileTool(cfg Config) *CreateFileTool {
	return &CreateFileTool{resolver: Resolver{Root: cfg.Workspace}}
}

// Name returns the tool name.
func (t *CreateFileTool) Name() string {
	return "create_file"
}

// Description returns the tool description.
func (t *CreateFileTool) Description() string {
	return "Create a new file in the workspace. Fails if the path already exists."
}

// Schema returns the JSON schema for the tool parameters.
func (t *CreateFileTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to create (relative to workspace).",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Initial file contents.",
			},
		},
		"required": []string{"path"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// ParameterSchema returns the JSON schema for the tool parameters.
func (t *CreateFileTool) ParameterSchema() json.RawMessage { return t.Schema() }

// Mutating reports that this tool changes workspace state.
func (t *CreateFileTool) Mutating() bool { return true }

// Execute creates a new file.
func (t *CreateFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}

	resolved, err := t.resolver.ResolveContext(ctx, input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	if _, err := os.Stat(resolved); err == nil {
		return toolError(fmt.Sprintf("file already exists: %s (use write_file to modify it)", input.Path)), nil
	} else if !os.IsNotExist(err) {
		return toolError(fmt.Sprintf("stat file: %v", err)), nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError(fmt.Sprintf("create directory: %v", err)), nil
	}

	file, err := os.OpenFile(resolved, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return toolError(fmt.Sprintf("create file: %v", err)), nil
	}
	defer file.Close()

	n, err := file.WriteString(input.Content)
	if err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	result := map[string]interface{}{
		"path":          input.Path,
		"bytes_written": n,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}
