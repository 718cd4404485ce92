// Package vcs exposes read-only version-control inspection as a tool,
// shelling out to the git binary with sanitized arguments rather
// than parsing repository internals directly.
package vcs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opengemini/gemproxy/internal/agent"
	"github.com/opengemini/gemproxy/internal/exec"
	toolexec "github.com/opengemini/gemproxy/internal/tools/exec"
)

// Tool runs read-only VCS subcommands (status, log, diff, show, blame,
// list_recent_changes) against the workspace, always through the git binary.
type Tool struct {
	manager *toolexec.Manager
	timeout time.Duration
}

// New creates a vcs_query tool bound to manager's workspace.
func New(manager *toolexec.Manager) *Tool {
	return &Tool{manager: manager, timeout: 30 * time.Second}
}

func (t *Tool) Name() string { return "vcs_query" }

func (t *Tool) Description() string {
	return "Run a read-only version-control query: status, log, diff, show, blame, or list_recent_changes."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "One of: status, log, diff, show, blame, list_recent_changes.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path argument for show/blame/diff (relative to workspace).",
			},
			"ref": map[string]interface{}{
				"type":        "string",
				"description": "Revision or ref argument for show/diff.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max entries for log/list_recent_changes (default 20).",
				"minimum":     1,
			},
		},
		"required": []string{"action"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) ParameterSchema() json.RawMessage { return t.Schema() }
func (t *Tool) Mutating() bool                   { return false }

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.manager == nil {
		return toolError("vcs manager unavailable"), nil
	}
	var input struct {
		Action string `json:"action"`
		Path   string `json:"path"`
		Ref    string `json:"ref"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if input.Limit <= 0 {
		input.Limit = 20
	}

	args, err := buildArgs(input.Action, input.Path, input.Ref, input.Limit)
	if err != nil {
		return toolError(err.Error()), nil
	}
	sanitized, err := exec.SanitizeArguments(args)
	if err != nil {
		return toolError(fmt.Sprintf("unsafe argument: %v", err)), nil
	}

	command := "git " + strings.Join(quoteAll(sanitized), " ")
	result, err := t.manager.RunCommand(ctx, command, "", nil, "", t.timeout)
	if err != nil {
		return toolError(err.Error()), nil
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func buildArgs(action, path, ref string, limit int) ([]string, error) {
	switch action {
	case "status":
		return []string{"status", "--short"}, nil
	case "log":
		args := []string{"log", "--oneline", fmt.Sprintf("-n%d", limit)}
		if path != "" {
			args = append(args, "--", path)
		}
		return args, nil
	case "list_recent_changes":
		args := []string{"log", "--name-only", "--oneline", fmt.Sprintf("-n%d", limit)}
		return args, nil
	case "diff":
		args := []string{"diff"}
		if ref != "" {
			args = append(args, ref)
		}
		if path != "" {
			args = append(args, "--", path)
		}
		return args, nil
	case "show":
		if ref == "" {
			ref = "HEAD"
		}
		target := ref
		if path != "" {
			target = ref + ":" + path
		}
		return []string{"show", target}, nil
	case "blame":
		if path == "" {
			return nil, fmt.Errorf("path is required for blame")
		}
		return []string{"blame", "--line-porcelain", path}, nil
	default:
		return nil, fmt.Errorf("unsupported action: %s", action)
	}
}

func quoteAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t'\"") {
			out[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		} else {
			out[i] = a
		}
	}
	return out
}

func toolError(message string) *agent.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
