package cache

import (
	"testing"
	"time"
)

func TestCache_ExpiresEntries(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := New[int](5 * time.Second)
	c.now = func() time.Time { return now }

	c.Set("stats:e1", 42)

	if v, ok := c.Get("stats:e1"); !ok || v != 42 {
		t.Fatalf("expected cached 42, got %v %v", v, ok)
	}

	now = now.Add(6 * time.Second)

	if _, ok := c.Get("stats:e1"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestCache_Delete(t *testing.T) {
	c := New[string](time.Minute)
	c.Set("k", "v")
	c.Delete("k")

	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected entry to be deleted")
	}
}
