package cache

import (
	"errors"
	"slices"
	"strconv"
	"testing"
)

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	var evicted []string
	c.OnEvict(func(k string, _ int) { evicted = append(evicted, k) })

	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("Get(a) missing")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if !slices.Equal(evicted, []string{"b"}) {
		t.Errorf("evicted = %v, want [b]", evicted)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestCacheSetReplaces(t *testing.T) {
	c := New[int, string](0)
	c.Set(1, "x")
	c.Set(1, "y")
	if v, _ := c.Get(1); v != "y" || c.Len() != 1 {
		t.Errorf("Get(1) = %q, Len = %d; want y, 1", v, c.Len())
	}
}

func TestCacheGetOrLoad(t *testing.T) {
	c := New[string, int](0)
	loads := 0
	load := func() (int, error) {
		loads++
		return 42, nil
	}
	for range 3 {
		v, err := c.GetOrLoad("k", load)
		if err != nil || v != 42 {
			t.Fatalf("GetOrLoad() = %d, %v", v, err)
		}
	}
	if loads != 1 {
		t.Errorf("load called %d times, want 1", loads)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrLoad("bad", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Errorf("GetOrLoad() error = %v, want boom", err)
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("failed load must not be cached")
	}

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 3 {
		t.Errorf("Stats() = %+v, want 2 hits, 3 misses", s)
	}
}

func TestCacheClearRunsCallback(t *testing.T) {
	c := New[int, int](0)
	released := 0
	c.OnEvict(func(int, int) { released++ })
	for i := range 5 {
		c.Set(i, i)
	}
	if !c.Delete(0) || c.Delete(0) {
		t.Error("Delete should report presence once")
	}
	c.Clear()
	if released != 5 || c.Len() != 0 {
		t.Errorf("released = %d, Len = %d; want 5, 0", released, c.Len())
	}
}

func BenchmarkCacheGet(b *testing.B) {
	c := New[string, int](1000)
	for i := range 100 {
		c.Set(strconv.Itoa(i), i)
	}
	b.ResetTimer()
	for b.Loop() {
		c.Get("50")
	}
}
