package agentconfig

import (
	"testing"
	"time"
)

func TestFIFOCache(t *testing.T) {
	t.Run("expired entries miss", func(t *testing.T) {
		c := newFIFOCache(10, time.Minute)
		now := time.Now()
		c.now = func() time.Time { return now }

		c.set("k", &Resolved{Name: "v"})
		if _, ok := c.get("k"); !ok {
			t.Fatal("expected hit before expiry")
		}

		now = now.Add(2 * time.Minute)
		if _, ok := c.get("k"); ok {
			t.Error("expected miss after ttl")
		}
	})

	t.Run("oldest entry evicted on overflow", func(t *testing.T) {
		c := newFIFOCache(2, time.Minute)

		c.set("a", &Resolved{Name: "a"})
		c.set("b", &Resolved{Name: "b"})
		c.set("c", &Resolved{Name: "c"})

		if _, ok := c.get("a"); ok {
			t.Error("oldest entry should have been evicted")
		}
		if _, ok := c.get("b"); !ok {
			t.Error("b should survive")
		}
		if _, ok := c.get("c"); !ok {
			t.Error("c should survive")
		}
		if c.stats().Evictions != 1 {
			t.Errorf("evictions = %d, want 1", c.stats().Evictions)
		}
	})

	t.Run("replacing a key keeps its position", func(t *testing.T) {
		c := newFIFOCache(2, time.Minute)

		c.set("a", &Resolved{Name: "a1"})
		c.set("b", &Resolved{Name: "b"})
		c.set("a", &Resolved{Name: "a2"})
		c.set("c", &Resolved{Name: "c"})

		// "a" stayed oldest despite the rewrite, so it goes first.
		if _, ok := c.get("a"); ok {
			t.Error("a should have been evicted")
		}
		if got, ok := c.get("b"); !ok || got.Name != "b" {
			t.Error("b should survive")
		}
	})

	t.Run("invalidate by prefix", func(t *testing.T) {
		c := newFIFOCache(10, time.Minute)
		c.set("openai:default", &Resolved{})
		c.set("openai:pro", &Resolved{})
		c.set("elevenlabs:default", &Resolved{})

		if n := c.invalidatePrefix("openai:"); n != 2 {
			t.Errorf("invalidated %d, want 2", n)
		}
		if _, ok := c.get("elevenlabs:default"); !ok {
			t.Error("other provider's entry should survive")
		}
	})

	t.Run("stats count hits and misses", func(t *testing.T) {
		c := newFIFOCache(10, time.Minute)
		c.set("k", &Resolved{})

		c.get("k")
		c.get("k")
		c.get("absent")

		st := c.stats()
		if st.Hits != 2 || st.Misses != 1 {
			t.Errorf("stats = %+v, want 2 hits 1 miss", st)
		}
	})
}
