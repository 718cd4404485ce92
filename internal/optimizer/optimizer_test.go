package optimizer

import "strings"

import "testing"

func TestOptimizeSkipsSmallOutput(t *testing.T) {
	small := "hello world"
	if Optimize("read_file", small, 0) != small {
		t.Fatalf("expected small output to pass through unchanged")
	}
}

func TestOptimizeDiffKeepsChangedLines(t *testing.T) {
	var b strings.Builder
	b.WriteString("diff --git a/a b/a\n")
	b.WriteString("index 111..222 100644\n")
	b.WriteString("@@ -1,3 +1,3 @@\n")
	for i := 0; i < 500; i++ {
		b.WriteString(" unchanged context line\n")
	}
	b.WriteString("+added line\n")
	b.WriteString("-removed line\n")

	out := Optimize("git_diff", b.String(), 0)
	if strings.Contains(out, "unchanged context line") {
		t.Fatalf("expected context lines to be dropped")
	}
	if !strings.Contains(out, "+added line") || !strings.Contains(out, "-removed line") {
		t.Fatalf("expected changed lines to survive")
	}
	if !strings.Contains(out, "Showing") {
		t.Fatalf("expected a count marker")
	}
}

func TestOptimizeListTruncatesWithMarker(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 5000; i++ {
		b.WriteString("file.go\n")
	}
	out := Optimize("list_files", b.String(), 0)
	if !strings.Contains(out, "more lines not shown") {
		t.Fatalf("expected truncation marker, got suffix: %q", out[len(out)-60:])
	}
}

func TestOptimizeGenericTruncatesAtCharBudget(t *testing.T) {
	big := strings.Repeat("x", 20000)
	out := Optimize("analyze", big, 100)
	if !strings.Contains(out, "Output truncated from") {
		t.Fatalf("expected truncation marker")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("1234567"); got != 2 {
		t.Fatalf("expected 7/3.5=2, got %d", got)
	}
}
