package shaping

import "testing"

func TestProfileTableMatchFirstTriggerWins(t *testing.T) {
	table := NewProfileTable([]Profile{
		{Name: "research", Triggers: []string{"deep research"}},
		{Name: "code", Triggers: []string{"write code", "debug"}},
	})

	p, ok := table.Match("please help me debug this function")
	if !ok {
		t.Fatalf("expected a match")
	}
	if p.Name != "code" {
		t.Fatalf("expected profile %q, got %q", "code", p.Name)
	}
}

func TestProfileTableMatchCaseInsensitive(t *testing.T) {
	table := NewProfileTable([]Profile{
		{Name: "research", Triggers: []string{"Deep Research"}},
	})

	if _, ok := table.Match("kick off a deep research session"); !ok {
		t.Fatalf("expected case-insensitive trigger match")
	}
}

func TestProfileTableMatchNone(t *testing.T) {
	table := NewProfileTable([]Profile{
		{Name: "research", Triggers: []string{"deep research"}},
	})

	if _, ok := table.Match("what's the weather"); ok {
		t.Fatalf("expected no match")
	}
}

func TestProfileTableMatchNilReceiver(t *testing.T) {
	var table *ProfileTable
	if _, ok := table.Match("anything"); ok {
		t.Fatalf("expected nil table to never match")
	}
}

func TestApplyTextOverrides(t *testing.T) {
	p := Profile{
		TextOverrides: map[string]string{
			"gpt": "the model",
		},
	}
	got := p.ApplyTextOverrides("tell gpt to summarize this")
	want := "tell the model to summarize this"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestApplyTextOverridesSkipsEmptyKey(t *testing.T) {
	p := Profile{TextOverrides: map[string]string{"": "noop"}}
	got := p.ApplyTextOverrides("unchanged text")
	if got != "unchanged text" {
		t.Fatalf("expected empty-key override to be ignored, got %q", got)
	}
}
