package shaping

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/opengemini/gemproxy/pkg/models"
)

// WindowConfig bounds context-windowing behavior, expressed as a char budget
// standing in for a token budget (chars/4 ~= tokens, consistent with the
// rest of the system's len/N token estimates).
type WindowConfig struct {
	Enabled          bool
	AlwaysKeepRecent int
	CharBudget       int
}

// MinRelevanceScore is the cutoff below which a scored message is dropped
// outright during selective-keep scoring.
const MinRelevanceScore = 0.3

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"to": true, "of": true, "in": true, "on": true, "for": true, "with": true,
	"this": true, "that": true, "it": true, "as": true, "at": true, "by": true,
	"from": true, "you": true, "your": true, "i": true, "me": true, "my": true,
}

// extractKeywords case-folds text, tokenizes on runs of Unicode letters,
// digits, or underscore, strips stop words and numeric-only tokens, and
// returns up to the 20 most frequent remaining tokens of length >= 3.
func extractKeywords(text string) []string {
	counts := map[string]int{}
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := cur.String()
		cur.Reset()
		if len(tok) < 3 || stopWords[tok] || isNumeric(tok) {
			return
		}
		counts[tok]++
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	type kv struct {
		tok   string
		count int
	}
	ordered := make([]kv, 0, len(counts))
	for tok, count := range counts {
		ordered = append(ordered, kv{tok, count})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].tok < ordered[j].tok
	})
	if len(ordered) > 20 {
		ordered = ordered[:20]
	}
	out := make([]string, len(ordered))
	for i, e := range ordered {
		out[i] = e.tok
	}
	return out
}

func isNumeric(tok string) bool {
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// relevanceScore scores a message's text against keywords: 0.7 * coverage
// (fraction of keywords with >=1 whole-word occurrence) + 0.3 *
// min(1, occurrences/5).
func relevanceScore(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	words := tokenizeWhole(text)
	present := 0
	total := 0
	for _, kw := range keywords {
		n := words[kw]
		total += n
		if n > 0 {
			present++
		}
	}
	coverage := float64(present) / float64(len(keywords))
	occurrenceTerm := float64(total) / 5.0
	if occurrenceTerm > 1 {
		occurrenceTerm = 1
	}
	return 0.7*coverage + 0.3*occurrenceTerm
}

func tokenizeWhole(text string) map[string]int {
	counts := map[string]int{}
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			counts[cur.String()]++
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return counts
}

func estimateChars(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Text())
		for _, p := range m.Parts {
			if p.Type == models.PartToolResponse {
				total += len(p.ToolResponsePayload)
			}
		}
	}
	return total
}

// Window applies the three-stage context-windowing policy in order until the
// conversation fits cfg.CharBudget, or all three stages have run.
func Window(messages []models.Message, currentQuery string, cfg WindowConfig) []models.Message {
	if cfg.CharBudget <= 0 || estimateChars(messages) <= cfg.CharBudget {
		return messages
	}

	if cfg.Enabled {
		messages = selectiveKeep(messages, currentQuery, cfg)
		if estimateChars(messages) <= cfg.CharBudget {
			return messages
		}
	}

	messages = smartSummary(messages, cfg)
	if estimateChars(messages) <= cfg.CharBudget {
		return messages
	}

	return naiveDrop(messages, cfg)
}

func selectiveKeep(messages []models.Message, currentQuery string, cfg WindowConfig) []models.Message {
	if len(messages) == 0 {
		return messages
	}
	keywords := extractKeywords(currentQuery)
	keepRecent := cfg.AlwaysKeepRecent
	if keepRecent <= 0 {
		keepRecent = 5
	}

	n := len(messages)
	recentStart := n - keepRecent
	if recentStart < 1 {
		recentStart = 1
	}

	type scored struct {
		idx   int
		score float64
	}
	var middle []scored
	for i := 1; i < recentStart; i++ {
		score := relevanceScore(messages[i].Text(), keywords)
		if score < MinRelevanceScore {
			continue
		}
		middle = append(middle, scored{i, score})
	}
	sort.Slice(middle, func(i, j int) bool { return middle[i].score > middle[j].score })

	target := int(0.8 * float64(cfg.CharBudget))
	kept := map[int]bool{0: true}
	for i := recentStart; i < n; i++ {
		kept[i] = true
	}
	used := estimateChars(selectByIndex(messages, kept))
	for _, s := range middle {
		if used >= target {
			break
		}
		kept[s.idx] = true
		used += len(messages[s.idx].Text())
	}

	return selectByIndex(messages, kept)
}

func selectByIndex(messages []models.Message, kept map[int]bool) []models.Message {
	indexes := make([]int, 0, len(kept))
	for i := range kept {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]models.Message, 0, len(indexes))
	for _, i := range indexes {
		if i < len(messages) {
			out = append(out, messages[i])
		}
	}
	return out
}

// smartSummary keeps the first message and the last 5, and collapses every
// middle message into a one-line "role: first 15 words" summary folded into
// a single synthetic user message.
func smartSummary(messages []models.Message, cfg WindowConfig) []models.Message {
	n := len(messages)
	keepRecent := cfg.AlwaysKeepRecent
	if keepRecent <= 0 {
		keepRecent = 5
	}
	if n <= keepRecent+1 {
		return messages
	}

	var lines []string
	for i := 1; i < n-keepRecent; i++ {
		lines = append(lines, summarizeLine(messages[i]))
	}

	out := make([]models.Message, 0, keepRecent+2)
	out = append(out, messages[0])
	if len(lines) > 0 {
		out = append(out, models.Message{
			Role:  models.RoleUser,
			Parts: []models.Part{models.NewText("Earlier conversation summary:\n" + strings.Join(lines, "\n"))},
		})
	}
	out = append(out, messages[n-keepRecent:]...)
	return out
}

func summarizeLine(m models.Message) string {
	words := strings.Fields(m.Text())
	if len(words) > 15 {
		words = words[:15]
	}
	return fmt.Sprintf("%s: %s", m.Role, strings.Join(words, " "))
}

// naiveDrop removes middle messages one at a time, oldest-middle-first,
// until the conversation fits the budget or only the first and last 5 remain.
func naiveDrop(messages []models.Message, cfg WindowConfig) []models.Message {
	keepRecent := cfg.AlwaysKeepRecent
	if keepRecent <= 0 {
		keepRecent = 5
	}
	out := append([]models.Message(nil), messages...)
	for estimateChars(out) > cfg.CharBudget && len(out) > keepRecent+1 {
		out = append(out[:1], out[2:]...)
	}
	return out
}
