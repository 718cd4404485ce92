package agent

import "strings"

// mcpToolPrefix marks a registry entry as bridged from an external server
// (see mcp.RegisterTools's safeToolName), as opposed to a local built-in.
const mcpToolPrefix = "mcp_"

// keywordMatchTools scans prompt for substrings naming a registered tool (by
// its own name, or with underscores read as spaces) and returns every tool
// that matches; the order is not defined, since the registry is a map.
// Mirrors ProfileTable.Match's
// case-insensitive substring-trigger matching, applied to tool names instead
// of profile triggers, for the no-profile-selected tool-advertising
// fallback.
func keywordMatchTools(registry *ToolRegistry, prompt string) []Tool {
	if registry == nil || prompt == "" {
		return nil
	}
	lower := strings.ToLower(prompt)
	var matched []Tool
	for _, name := range registry.Names() {
		if !toolNameMentioned(lower, name) {
			continue
		}
		if tool, ok := registry.Get(name); ok {
			matched = append(matched, tool)
		}
	}
	return matched
}

func toolNameMentioned(lowerPrompt, toolName string) bool {
	candidate := strings.ToLower(toolName)
	if strings.Contains(lowerPrompt, candidate) {
		return true
	}
	spaced := strings.ReplaceAll(candidate, "_", " ")
	return spaced != candidate && strings.Contains(lowerPrompt, spaced)
}

// namesToTools resolves a list of tool names against registry, silently
// skipping any name the registry doesn't recognize (a stale profile entry
// should not fail the whole request).
func namesToTools(registry *ToolRegistry, names []string) []Tool {
	if registry == nil {
		return nil
	}
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		if tool, ok := registry.Get(name); ok {
			out = append(out, tool)
		}
	}
	return out
}

// filterNative keeps only locally-registered tools, dropping any bridged
// from an external MCP server. Used when a profile disables tool advertising
// generally but still opts in to native built-ins.
func filterNative(tools []Tool) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if strings.HasPrefix(t.Name(), mcpToolPrefix) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// capTools truncates tools to at most max entries (<=0 means unlimited).
func capTools(tools []Tool, max int) []Tool {
	if max <= 0 || len(tools) <= max {
		return tools
	}
	return tools[:max]
}
