// Package optimizer shrinks oversized tool output before it re-enters the
// conversation, so a single verbose tool call cannot blow the
// upstream's token budget. Mirrors a diff-aware/code-aware/list-aware/
// generic truncation cascade, picking the narrowest strategy that applies.
package optimizer

import (
	"fmt"
	"strings"
)

// TokenBudget is the threshold above which output gets optimized.
const TokenBudget = 1000

// listLikeTools names tools whose output is optimized by head-truncation
// with a count marker rather than diff- or code-aware truncation.
var listLikeTools = map[string]bool{
	"list_files":             true,
	"list_recent_changes":    true,
	"list_symbols_in_file":   true,
}

// EstimateTokens approximates token count as len(text)/3.5, rounded (a
// coarser estimate than the conversation-level len/4 used for truncation
// decisions elsewhere — the two constants are deliberately distinct,
// confirmed against the source).
func EstimateTokens(text string) int {
	return int(float64(len(text))/3.5 + 0.5)
}

// Optimize shrinks result if its estimated token count exceeds TokenBudget.
// toolName selects the shape-specific strategy; maxTokens (if > 0) overrides
// TokenBudget for the final "otherwise" branch's character budget.
func Optimize(toolName, result string, maxTokens int) string {
	if EstimateTokens(result) <= TokenBudget {
		return result
	}
	switch {
	case looksLikeDiff(result):
		return optimizeDiff(result)
	case strings.Contains(result, "```"):
		return optimizeCode(result)
	case listLikeTools[toolName]:
		return optimizeList(result)
	default:
		return optimizeGeneric(result, maxTokens)
	}
}

func looksLikeDiff(text string) bool {
	return strings.Contains(text, "```diff") || strings.Contains(text, "git diff") ||
		strings.Contains(text, "\n@@ ") || strings.HasPrefix(text, "@@ ")
}

// optimizeDiff keeps only diff-meaningful lines (+, -, @@, diff, index),
// dropping unchanged context lines, and annotates how much was dropped.
func optimizeDiff(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		switch {
		case strings.HasPrefix(trimmed, "+"), strings.HasPrefix(trimmed, "-"),
			strings.HasPrefix(trimmed, "@@"), strings.HasPrefix(trimmed, "diff"),
			strings.HasPrefix(trimmed, "index"):
			kept = append(kept, line)
		}
	}
	if len(kept) == len(lines) {
		return text
	}
	kept = append(kept, fmt.Sprintf("[Showing %d of %d lines]", len(kept), len(lines)))
	return strings.Join(kept, "\n")
}

// optimizeCode keeps a head and tail of the fenced code block around a
// truncation marker, sized so head+tail approximates the token budget.
func optimizeCode(text string) string {
	lines := strings.Split(text, "\n")
	budgetLines := TokenBudget / 8 // rough chars-per-line -> line-count heuristic
	if budgetLines < 10 {
		budgetLines = 10
	}
	if len(lines) <= budgetLines*2 {
		return text
	}
	head := lines[:budgetLines]
	tail := lines[len(lines)-budgetLines:]
	truncated := len(lines) - 2*budgetLines
	out := make([]string, 0, len(head)+len(tail)+1)
	out = append(out, head...)
	out = append(out, fmt.Sprintf("[... %d lines truncated ...]", truncated))
	out = append(out, tail...)
	return strings.Join(out, "\n")
}

// optimizeList truncates to a head line count, annotated with a count
// marker, for tools whose output is naturally a flat list.
func optimizeList(text string) string {
	lines := strings.Split(text, "\n")
	const headLines = 100
	if len(lines) <= headLines {
		return text
	}
	out := append([]string(nil), lines[:headLines]...)
	out = append(out, fmt.Sprintf("[... %d more lines not shown ...]", len(lines)-headLines))
	return strings.Join(out, "\n")
}

// optimizeGeneric truncates at a character budget derived from maxTokens
// (defaulting to TokenBudget) times 4 chars/token, annotated with the
// before/after byte counts.
func optimizeGeneric(text string, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = TokenBudget
	}
	budget := maxTokens * 4
	if len(text) <= budget {
		return text
	}
	return fmt.Sprintf("%s\n[Output truncated from %d to %d chars]", text[:budget], len(text), budget)
}
