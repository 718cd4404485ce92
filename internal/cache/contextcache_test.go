package cache

import (
	"testing"
	"time"
)

func TestContextCacheRoundTrip(t *testing.T) {
	c := NewContextCache()
	key := ContextKey("model-a", "a long system instruction")
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected miss before Set")
	}
	c.Set(key, "handle-1", time.Hour)
	handle, ok := c.Get(key)
	if !ok || handle != "handle-1" {
		t.Fatalf("expected handle-1, got %q ok=%v", handle, ok)
	}
}

func TestContextCacheExpires(t *testing.T) {
	c := NewContextCache()
	key := ContextKey("model-a", "text")
	c.Set(key, "handle-1", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be purged on read, got len=%d", c.Len())
	}
}

func TestContextKeyDiffersByModel(t *testing.T) {
	if ContextKey("a", "x") == ContextKey("b", "x") {
		t.Fatalf("expected different models to hash differently")
	}
}
