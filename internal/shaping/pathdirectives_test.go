package shaping

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opengemini/gemproxy/pkg/models"
)

func TestExpandPathDirectivesNoDirective(t *testing.T) {
	result := ExpandPathDirectives("just a plain question", nil, nil, nil)
	if len(result.Parts) != 1 || result.Parts[0].Type != models.PartText {
		t.Fatalf("expected a single text part, got %+v", result.Parts)
	}
	if result.Parts[0].Text != "just a plain question" {
		t.Fatalf("unexpected text: %q", result.Parts[0].Text)
	}
}

func TestExpandPathDirectivesImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.png")
	if err := os.WriteFile(path, []byte("fake-png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	text := "describe this image_path=" + path
	result := ExpandPathDirectives(text, nil, nil, nil)

	var found bool
	for _, p := range result.Parts {
		if p.Type == models.PartInlineBlob {
			found = true
			if string(p.Data) != "fake-png-bytes" {
				t.Fatalf("unexpected blob contents: %q", p.Data)
			}
		}
	}
	if !found {
		t.Fatalf("expected an inline blob part, got %+v", result.Parts)
	}
}

func TestExpandPathDirectivesDedupesRepeatedPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.png")
	if err := os.WriteFile(path, []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	first := ExpandPathDirectives("image_path="+path, seen, nil, nil)
	second := ExpandPathDirectives("image_path="+path, seen, nil, nil)

	blobCount := func(r DirectiveResult) int {
		n := 0
		for _, p := range r.Parts {
			if p.Type == models.PartInlineBlob {
				n++
			}
		}
		return n
	}
	if blobCount(first) != 1 {
		t.Fatalf("expected first expansion to produce a blob")
	}
	if blobCount(second) != 0 {
		t.Fatalf("expected repeated path to be deduped, got %d blobs", blobCount(second))
	}
}

func TestExpandPathDirectivesSystemPrompt(t *testing.T) {
	presets := SystemPromptPresets{"concise": "Respond in one short sentence."}
	result := ExpandPathDirectives("system_prompt=concise summarize this", nil, presets, nil)
	if result.SystemInstruction != "Respond in one short sentence." {
		t.Fatalf("unexpected system instruction: %q", result.SystemInstruction)
	}
}

func TestExpandPathDirectivesCodeTree(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "node_modules", "skip.js"), []byte("should be skipped"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := ExpandPathDirectives("review code_path="+dir, nil, nil, nil)

	var codeText string
	for _, p := range result.Parts {
		if p.Type == models.PartText && strings.Contains(p.Text, "package main") {
			codeText = p.Text
		}
	}
	if codeText == "" {
		t.Fatalf("expected code tree contents in a text part, got %+v", result.Parts)
	}
	if strings.Contains(codeText, "should be skipped") {
		t.Fatalf("expected node_modules to be ignored")
	}
}

func TestExpandPathDirectivesCodePathOutsideAllowList(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0o644); err != nil {
		t.Fatal(err)
	}
	allowedDir := t.TempDir()

	result := ExpandPathDirectives("review code_path="+dir, nil, nil, []string{allowedDir})

	for _, p := range result.Parts {
		if p.Type == models.PartText && strings.Contains(p.Text, "package main") {
			t.Fatalf("expected code outside the allow-list to be rejected, got %+v", result.Parts)
		}
	}
	var sawError bool
	for _, p := range result.Parts {
		if p.Type == models.PartText && strings.Contains(p.Text, "outside the allowed code paths") {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected an allow-list error message, got %+v", result.Parts)
	}
}

func TestExpandPathDirectivesQuotedValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "has space.png")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := ExpandPathDirectives(`image_path="`+path+`"`, nil, nil, nil)
	found := false
	for _, p := range result.Parts {
		if p.Type == models.PartInlineBlob {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected quoted path to expand, got %+v", result.Parts)
	}
}
