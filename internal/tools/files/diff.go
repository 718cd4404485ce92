package files

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opengemini/gemproxy/internal/agent"
)

// DiffFilesTool produces a unified-style line diff between two workspace
// files using a straightforward longest-common-subsequence line matcher.
type DiffFilesTool struct {
	resolver Resolver
}

// NewDiffFilesTool creates a diff_files tool scoped to the workspace.
func NewDiffFilesTool(cfg Config) *DiffFilesTool {
	return &DiffFilesTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *DiffFilesTool) Name() string { return "diff_files" }

func (t *DiffFilesTool) Description() string {
	return "Compare two workspace files and return a unified-style line diff."
}

func (t *DiffFilesTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path_a": map[string]interface{}{
				"type":        "string",
				"description": "First file (relative to workspace).",
			},
			"path_b": map[string]interface{}{
				"type":        "string",
				"description": "Second file (relative to workspace).",
			},
		},
		"required": []string{"path_a", "path_b"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *DiffFilesTool) ParameterSchema() json.RawMessage { return t.Schema() }
func (t *DiffFilesTool) Mutating() bool                   { return false }

func (t *DiffFilesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		PathA string `json:"path_a"`
		PathB string `json:"path_b"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if input.PathA == "" || input.PathB == "" {
		return toolError("path_a and path_b are required"), nil
	}

	resolvedA, err := t.resolver.ResolveContext(ctx, input.PathA)
	if err != nil {
		return toolError(err.Error()), nil
	}
	resolvedB, err := t.resolver.ResolveContext(ctx, input.PathB)
	if err != nil {
		return toolError(err.Error()), nil
	}

	dataA, err := readAllFile(resolvedA)
	if err != nil {
		return toolError(fmt.Sprintf("read %s: %v", input.PathA, err)), nil
	}
	dataB, err := readAllFile(resolvedB)
	if err != nil {
		return toolError(fmt.Sprintf("read %s: %v", input.PathB, err)), nil
	}

	linesA := strings.Split(string(dataA), "\n")
	linesB := strings.Split(string(dataB), "\n")
	out := unifiedDiff(input.PathA, input.PathB, linesA, linesB)
	return &agent.ToolResult{Content: out}, nil
}

// unifiedDiff produces a minimal unified diff via a classic O(n*m) LCS
// table, suitable for the small-to-medium files this tool expects.
func unifiedDiff(nameA, nameB string, a, b []string) string {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var lines []string
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			lines = append(lines, " "+a[i])
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			lines = append(lines, "-"+a[i])
			i++
		default:
			lines = append(lines, "+"+b[j])
			j++
		}
	}
	for ; i < n; i++ {
		lines = append(lines, "-"+a[i])
	}
	for ; j < m; j++ {
		lines = append(lines, "+"+b[j])
	}

	header := fmt.Sprintf("--- %s\n+++ %s", nameA, nameB)
	return header + "\n" + strings.Join(lines, "\n")
}
