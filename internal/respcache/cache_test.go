package respcache

import (
	"testing"
	"time"
)

func TestGetSet(t *testing.T) {
	c := New(time.Minute, 10)
	key := Key("prompt", 42)
	if _, ok := c.Get(key); ok {
		t.Fatal("hit on empty cache")
	}
	c.Set(key, "value")
	v, ok := c.Get(key)
	if !ok || v.(string) != "value" {
		t.Fatalf("Get = %v, %v", v, ok)
	}
}

func TestKeyIsStable(t *testing.T) {
	if Key("a", 1) != Key("a", 1) {
		t.Error("identical inputs produced different keys")
	}
	if Key("a", 1) == Key("a", 2) {
		t.Error("different inputs produced the same key")
	}
}

func TestExpiry(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	c.Set("k", 1)
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry returned")
	}
}

func TestCapacityEviction(t *testing.T) {
	c := New(time.Minute, 2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // evicts the oldest
	hits := 0
	for _, k := range []string{"a", "b", "c"} {
		if _, ok := c.Get(k); ok {
			hits++
		}
	}
	if hits != 2 {
		t.Errorf("hits = %d, want 2 after eviction", hits)
	}
}
