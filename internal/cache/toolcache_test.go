package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestKeyIgnoresArgOrder(t *testing.T) {
	a, _ := json.Marshal(map[string]any{"a": 1, "b": 2})
	b, _ := json.Marshal(map[string]any{"b": 2, "a": 1})
	if Key("list_files", a) != Key("list_files", b) {
		t.Fatalf("expected key to be stable under argument reordering")
	}
}

func TestKeyDiffersByToolName(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"path": "."})
	if Key("list_files", args) == Key("read_file", args) {
		t.Fatalf("expected different tool names to hash differently")
	}
}

func TestToolOutputCacheGetSet(t *testing.T) {
	c := NewToolOutputCache(time.Minute, 10)
	c.Set("k", "v")
	v, ok := c.Get("k")
	if !ok || v != "v" {
		t.Fatalf("expected cached value, got %q ok=%v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestToolOutputCacheExpiry(t *testing.T) {
	c := NewToolOutputCache(time.Millisecond, 10)
	c.Set("k", "v")
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestToolOutputCachePrunesOverflow(t *testing.T) {
	c := NewToolOutputCache(time.Minute, 10)
	for i := 0; i < 15; i++ {
		c.Set(string(rune('a'+i)), "v")
	}
	threshold := 10 * ToolCacheCleanupPercent / 100
	if c.Len() > threshold {
		t.Fatalf("expected pruning to cap size at the cleanup threshold %d, got %d entries", threshold, c.Len())
	}
}
