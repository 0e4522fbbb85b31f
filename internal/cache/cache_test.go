package cache

import (
	"testing"
	"time"
)

func TestCacheHitAndMiss(t *testing.T) {
	c, err := New(8, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	key := Key("moirai-small", "a", []float64{1, 2, 3}, 10)
	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set(key, []float64{4, 5})
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Errorf("got %v, want [4 5]", got)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit, 1 miss", stats)
	}
}

func TestKeySensitivity(t *testing.T) {
	base := Key("m", "a", []float64{1, 2}, 10)

	variants := []string{
		Key("m2", "a", []float64{1, 2}, 10),
		Key("m", "b", []float64{1, 2}, 10),
		Key("m", "a", []float64{1, 3}, 10),
		Key("m", "a", []float64{1, 2}, 11),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with the base key", i)
		}
	}

	if Key("m", "a", []float64{1, 2}, 10) != base {
		t.Error("identical inputs produced different keys")
	}
}

func TestCacheReturnsCopy(t *testing.T) {
	c, _ := New(8, 0)

	values := []float64{1, 2}
	c.Set("k", values)
	values[0] = 99

	got, _ := c.Get("k")
	if got[0] != 1 {
		t.Errorf("cached value mutated through caller slice: got %v", got[0])
	}

	got[1] = 99
	again, _ := c.Get("k")
	if again[1] != 2 {
		t.Errorf("cached value mutated through returned slice: got %v", again[1])
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c, _ := New(8, 10*time.Millisecond)

	c.Set("k", []float64{1})
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestCacheEviction(t *testing.T) {
	c, _ := New(2, 0)

	c.Set("a", []float64{1})
	c.Set("b", []float64{2})
	c.Set("c", []float64{3})

	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("expected oldest entry to be evicted")
	}
}

func TestCachePurge(t *testing.T) {
	c, _ := New(8, 0)
	c.Set("a", []float64{1})
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("len = %d after purge, want 0", c.Len())
	}
}
