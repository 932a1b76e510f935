package cache

import (
	"errors"
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	c := New[string, int](0)
	if got := c.Stats().Capacity; got != DefaultCapacity {
		t.Errorf("Capacity = %d, want %d", got, DefaultCapacity)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestCacheGetSet(t *testing.T) {
	c := New[string, int](4)

	if _, ok := c.Get("a"); ok {
		t.Error("Get on empty cache should miss")
	}
	c.Set("a", 1)
	c.Set("a", 2)
	if v, ok := c.Get("a"); !ok || v != 2 {
		t.Errorf("Get(a) = %d, %v; want 2, true", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats = %+v, want 1 hit and 1 miss", st)
	}
	if st.HitRate() != 0.5 {
		t.Errorf("HitRate() = %v, want 0.5", st.HitRate())
	}
}

func TestCacheEvictionOrder(t *testing.T) {
	c := New[int, string](2)
	var evicted []int
	c.OnEvict(func(k int, _ string) { evicted = append(evicted, k) })

	c.Set(1, "one")
	c.Set(2, "two")
	c.Get(1) // 2 is now least recently used
	c.Set(3, "three")

	if _, ok := c.Get(2); ok {
		t.Error("2 should have been evicted")
	}
	if _, ok := c.Get(1); !ok {
		t.Error("1 should still be cached")
	}
	if len(evicted) != 1 || evicted[0] != 2 {
		t.Errorf("evicted = %v, want [2]", evicted)
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestCacheGetOrCreate(t *testing.T) {
	c := New[string, int](4)
	calls := 0
	create := func() (int, error) {
		calls++
		return 42, nil
	}

	for range 3 {
		v, err := c.GetOrCreate("k", create)
		if err != nil || v != 42 {
			t.Fatalf("GetOrCreate = %d, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrCreate("bad", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("failed create should not be cached")
	}
}

func TestCacheDeleteAndClear(t *testing.T) {
	c := New[string, int](8)
	removed := map[string]int{}
	c.OnEvict(func(k string, v int) { removed[k] = v })

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	c.Delete("b")
	c.Delete("missing")
	if _, ok := c.Get("b"); ok {
		t.Error("b should be deleted")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
	if len(removed) != 3 {
		t.Errorf("OnEvict saw %v, want a, b and c", removed)
	}
}

func TestCacheDeleteFunc(t *testing.T) {
	c := New[int, string](8)
	var evicted []int
	c.OnEvict(func(k int, _ string) { evicted = append(evicted, k) })
	for i := range 6 {
		c.Set(i, "v")
	}

	n := c.DeleteFunc(func(k int, _ string) bool { return k%2 == 0 })
	if n != 3 {
		t.Errorf("DeleteFunc removed %d, want 3", n)
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	for i := range 6 {
		if _, ok := c.Get(i); ok == (i%2 == 0) {
			t.Errorf("Get(%d) present = %v", i, ok)
		}
	}
	if len(evicted) != 3 {
		t.Errorf("OnEvict saw %v, want 0, 2 and 4", evicted)
	}
}

func TestCacheConcurrent(t *testing.T) {
	c := New[int, int](16)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				c.Set((g*200+i)%32, i)
				c.Get(i % 32)
			}
		}()
	}
	wg.Wait()

	if c.Len() > 16 {
		t.Errorf("Len() = %d exceeds capacity", c.Len())
	}
}
