package shaping

import (
	"strings"
	"testing"

	"github.com/opengemini/gemproxy/pkg/models"
)

func textMsg(role models.Role, text string) models.Message {
	return models.Message{Role: role, Parts: []models.Part{models.NewText(text)}}
}

func TestWindowNoopUnderBudget(t *testing.T) {
	messages := []models.Message{
		textMsg(models.RoleUser, "hello"),
		textMsg(models.RoleAssistant, "hi there"),
	}
	out := Window(messages, "hello", WindowConfig{CharBudget: 1000})
	if len(out) != len(messages) {
		t.Fatalf("expected no change under budget, got %d messages", len(out))
	}
}

func TestExtractKeywordsFiltersStopWordsAndShortTokens(t *testing.T) {
	kws := extractKeywords("the quick brown fox jumps over the lazy dog and a cat")
	for _, kw := range kws {
		if stopWords[kw] {
			t.Fatalf("stop word %q leaked into keywords", kw)
		}
		if len(kw) < 3 {
			t.Fatalf("short token %q leaked into keywords", kw)
		}
	}
}

func TestExtractKeywordsCapsAtTwenty(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("uniqueword")
		b.WriteString(string(rune('a' + i)))
		b.WriteByte(' ')
	}
	kws := extractKeywords(b.String())
	if len(kws) > 20 {
		t.Fatalf("expected at most 20 keywords, got %d", len(kws))
	}
}

func TestRelevanceScoreRewardsCoverageAndOccurrence(t *testing.T) {
	keywords := []string{"database", "migration"}
	high := relevanceScore("the database migration failed because the database was locked", keywords)
	low := relevanceScore("completely unrelated text about cooking", keywords)
	if high <= low {
		t.Fatalf("expected relevant text to score higher: high=%v low=%v", high, low)
	}
	if high < MinRelevanceScore {
		t.Fatalf("expected relevant text to clear the cutoff, got %v", high)
	}
}

func TestSelectiveKeepAlwaysKeepsFirstAndRecent(t *testing.T) {
	var messages []models.Message
	messages = append(messages, textMsg(models.RoleSystem, "system setup"))
	for i := 0; i < 20; i++ {
		messages = append(messages, textMsg(models.RoleUser, "irrelevant filler message about gardening"))
	}
	messages = append(messages, textMsg(models.RoleUser, "what about the database migration"))

	out := selectiveKeep(messages, "database migration", WindowConfig{AlwaysKeepRecent: 5, CharBudget: 200})

	if out[0].Role != models.RoleSystem {
		t.Fatalf("expected first message kept, got role %v", out[0].Role)
	}
	last := out[len(out)-1]
	if !strings.Contains(last.Text(), "database migration") {
		t.Fatalf("expected most recent message kept, got %q", last.Text())
	}
}

func TestSmartSummaryCollapsesMiddle(t *testing.T) {
	var messages []models.Message
	messages = append(messages, textMsg(models.RoleSystem, "system"))
	for i := 0; i < 10; i++ {
		messages = append(messages, textMsg(models.RoleUser, "message number filler text here"))
	}
	out := smartSummary(messages, WindowConfig{AlwaysKeepRecent: 5})

	if len(out) >= len(messages) {
		t.Fatalf("expected smartSummary to shrink the conversation")
	}
	found := false
	for _, m := range out {
		if strings.Contains(m.Text(), "Earlier conversation summary") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a summary message, got %+v", out)
	}
}

func TestNaiveDropShrinksToBudget(t *testing.T) {
	var messages []models.Message
	messages = append(messages, textMsg(models.RoleSystem, "system"))
	for i := 0; i < 10; i++ {
		messages = append(messages, textMsg(models.RoleUser, strings.Repeat("x", 50)))
	}
	out := naiveDrop(messages, WindowConfig{AlwaysKeepRecent: 5, CharBudget: 100})
	if estimateChars(out) > 100 && len(out) > 6 {
		t.Fatalf("expected naiveDrop to shrink toward the budget, got %d chars across %d messages", estimateChars(out), len(out))
	}
}

func TestWindowFallsThroughAllStages(t *testing.T) {
	var messages []models.Message
	messages = append(messages, textMsg(models.RoleSystem, "system"))
	for i := 0; i < 30; i++ {
		messages = append(messages, textMsg(models.RoleUser, strings.Repeat("filler text ", 20)))
	}
	out := Window(messages, "current query", WindowConfig{Enabled: true, AlwaysKeepRecent: 5, CharBudget: 500})
	if estimateChars(out) > estimateChars(messages) {
		t.Fatalf("windowed conversation should never be larger than the original")
	}
}
