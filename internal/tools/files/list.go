package files

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/opengemini/gemproxy/internal/agent"
)

func readAllFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ListFilesTool enumerates a directory tree, capped to a fixed file count.
type ListFilesTool struct {
	resolver Resolver
}

// NewListFilesTool creates a list_files tool scoped to the workspace.
func NewListFilesTool(cfg Config) *ListFilesTool {
	return &ListFilesTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List files under a workspace directory as an indented tree, capped at 500 entries."
}

func (t *ListFilesTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list (relative to workspace, default '.').",
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *ListFilesTool) ParameterSchema() json.RawMessage { return t.Schema() }
func (t *ListFilesTool) Mutating() bool                   { return false }

const maxListEntries = 500

var listIgnoreDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true, "node_modules": true,
	"vendor": true, "dist": true, "build": true,
}

func (t *ListFilesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}
	root, err := t.resolver.ResolveContext(ctx, input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	var lines []string
	count := 0
	truncated := false
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		if d.IsDir() && listIgnoreDirs[d.Name()] {
			return filepath.SkipDir
		}
		if count >= maxListEntries {
			truncated = true
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		depth := strings.Count(rel, string(filepath.Separator))
		indent := strings.Repeat("  ", depth)
		name := d.Name()
		if d.IsDir() {
			name += "/"
		}
		lines = append(lines, indent+name)
		count++
		return nil
	})
	if err != nil {
		return toolError(err.Error()), nil
	}
	if truncated {
		lines = append(lines, fmt.Sprintf("[... truncated after %d entries ...]", maxListEntries))
	}
	return &agent.ToolResult{Content: strings.Join(lines, "\n")}, nil
}

// ListSymbolsTool extracts top-level declarations from a source file using
// per-language heuristic patterns, not a full parser.
type ListSymbolsTool struct {
	resolver Resolver
}

// NewListSymbolsTool creates a list_symbols_in_file tool scoped to the workspace.
func NewListSymbolsTool(cfg Config) *ListSymbolsTool {
	return &ListSymbolsTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *ListSymbolsTool) Name() string { return "list_symbols_in_file" }

func (t *ListSymbolsTool) Description() string {
	return "List top-level function, type, and class declarations in a source file."
}

func (t *ListSymbolsTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the source file (relative to workspace).",
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

func (t *ListSymbolsTool) ParameterSchema() json.RawMessage { return t.Schema() }
func (t *ListSymbolsTool) Mutating() bool                   { return false }

var symbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`),
	regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)`),
	regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
	regexp.MustCompile(`^(?:export\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
	regexp.MustCompile(`^def\s+([A-Za-z_][A-Za-z0-9_]*)`),
	regexp.MustCompile(`^class\s+([A-Za-z_][A-Za-z0-9_]*)`),
}

func (t *ListSymbolsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
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
	data, err := readFileCapped(resolved, defaultCodeBytes)
	if err != nil {
		return toolError(err.Error()), nil
	}

	type symbol struct {
		Line int    `json:"line"`
		Name string `json:"name"`
	}
	var symbols []symbol
	for i, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		for _, pattern := range symbolPatterns {
			if m := pattern.FindStringSubmatch(trimmed); m != nil {
				symbols = append(symbols, symbol{Line: i + 1, Name: m[1]})
				break
			}
		}
	}

	payload, err := json.MarshalIndent(map[string]interface{}{"symbols": symbols}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// SearchTool performs a literal/regex text search across workspace files,
// capped at a fixed match count.
type SearchTool struct {
	resolver Resolver
}

// NewSearchTool creates a search tool scoped to the workspace.
func NewSearchTool(cfg Config) *SearchTool {
	return &SearchTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) Description() string {
	return "Search workspace files for a regular expression, capped at 100 matches."
}

func (t *SearchTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search under (relative to workspace, default '.').",
			},
		},
		"required": []string{"pattern"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *SearchTool) ParameterSchema() json.RawMessage { return t.Schema() }
func (t *SearchTool) Mutating() bool                   { return false }

const maxSearchMatches = 100

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}
	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return toolError(fmt.Sprintf("invalid pattern: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}
	root, err := t.resolver.ResolveContext(ctx, input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	type match struct {
		File string `json:"file"`
		Line int    `json:"line"`
		Text string `json:"text"`
	}
	var matches []match
	truncated := false
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || len(matches) >= maxSearchMatches {
			if len(matches) >= maxSearchMatches {
				truncated = true
				return filepath.SkipAll
			}
			return nil
		}
		if d.IsDir() {
			if listIgnoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := readFileCapped(path, defaultCodeBytes)
		if err != nil || looksBinary(data) {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if len(matches) >= maxSearchMatches {
				truncated = true
				break
			}
			if re.MatchString(line) {
				matches = append(matches, match{File: rel, Line: i + 1, Text: strings.TrimSpace(line)})
			}
		}
		return nil
	})
	if err != nil {
		return toolError(err.Error()), nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].File != matches[j].File {
			return matches[i].File < matches[j].File
		}
		return matches[i].Line < matches[j].Line
	})

	payload, err := json.MarshalIndent(map[string]interface{}{
		"matches":   matches,
		"truncated": truncated,
	}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// defaultCodeBytes caps how much of one file list_symbols_in_file and search
// read.
const defaultCodeBytes = 256 << 10

// looksBinary reports whether data has a NUL byte in its first 512 bytes.
func looksBinary(data []byte) bool {
	n := len(data)
	if n > 512 {
		n = 512
	}
	return bytes.IndexByte(data[:n], 0) >= 0
}

func readFileCapped(path string, limit int) ([]byte, error) {
	data, err := readAllFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > limit {
		data = data[:limit]
	}
	return data, nil
}
