package coordination

import (
	"testing"
	"time"
)

func TestFallbackCachePutGet(t *testing.T) {
	c := NewFallbackCache(8)
	c.Put("k1", "v1", time.Minute)
	got, ok := c.Get("k1")
	if !ok || got != "v1" {
		t.Fatalf("Get = (%q, %v), want (v1, true)", got, ok)
	}
}

func TestFallbackCacheExpiry(t *testing.T) {
	c := NewFallbackCache(8)
	c.Put("k1", "v1", time.Nanosecond)
	time.Sleep(time.Millisecond)
	if _, ok := c.Get("k1"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestFallbackCacheRemove(t *testing.T) {
	c := NewFallbackCache(8)
	c.Put("k1", "v1", time.Minute)
	c.Remove("k1")
	if _, ok := c.Get("k1"); ok {
		t.Fatal("expected removed entry to miss")
	}
}

func TestFallbackCacheZeroSizeDisabled(t *testing.T) {
	c := NewFallbackCache(0)
	c.Put("k1", "v1", time.Minute)
	if _, ok := c.Get("k1"); ok {
		t.Fatal("expected zero-size cache to never hit")
	}
}
