package manuscript

import "testing"

func TestPageCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newPageCache(2)
	c.put(Page{number: 0, offset: 0, length: 1})
	c.put(Page{number: 1, offset: 1, length: 1})

	// touch 0 so that 1 becomes the eviction candidate
	if _, ok := c.get(0); !ok {
		t.Fatal("expected page 0 to be cached")
	}
	c.put(Page{number: 2, offset: 2, length: 1})

	if c.len() != 2 {
		t.Fatalf("expected 2 cached pages, got %d", c.len())
	}
	if _, ok := c.get(1); ok {
		t.Fatal("page 1 should have been evicted")
	}
	if _, ok := c.get(0); !ok {
		t.Fatal("page 0 should still be cached")
	}
	if _, ok := c.get(2); !ok {
		t.Fatal("page 2 should be cached")
	}
}

func TestPageCache_PutReplaces(t *testing.T) {
	c := newPageCache(4)
	c.put(Page{number: 5, offset: 0, length: 1})
	c.put(Page{number: 5, offset: 9, length: 2})

	p, ok := c.get(5)
	if !ok || p.offset != 9 || p.length != 2 {
		t.Fatalf("expected replaced page, got %v (%v)", p, ok)
	}
	if c.len() != 1 {
		t.Fatalf("expected 1 cached page, got %d", c.len())
	}
}

func TestPageCache_RemoveAndClear(t *testing.T) {
	c := newPageCache(0)
	if c.capacity != DefaultCacheCapacity {
		t.Fatalf("expected default capacity, got %d", c.capacity)
	}

	for i := range uint64(3) {
		c.put(Page{number: i, offset: i, length: 1})
	}
	if !c.remove(1) {
		t.Fatal("expected remove to report a hit")
	}
	if c.remove(1) {
		t.Fatal("second remove must report a miss")
	}

	c.put(Page{number: 3, offset: 3, length: 1})
	if c.len() != 3 {
		t.Fatalf("expected 3 cached pages, got %d", c.len())
	}

	c.clear()
	if c.len() != 0 || c.head != nil || c.tail != nil {
		t.Fatal("clear must empty the cache")
	}
	c.put(Page{number: 7, offset: 0, length: 1})
	if _, ok := c.get(7); !ok {
		t.Fatal("cache must be usable after clear")
	}
}

func TestPageCache_Overlapping(t *testing.T) {
	c := newPageCache(8)
	c.put(Page{number: 0, offset: 0, length: 3})
	c.put(Page{number: 1, offset: 3, length: 2})

	all := func(Page) bool { return true }

	if _, ok := c.overlapping(Page{number: 2, offset: 5, length: 4}, all); ok {
		t.Fatal("adjacent range must not overlap")
	}
	hit, ok := c.overlapping(Page{number: 2, offset: 4, length: 4}, all)
	if !ok || hit.number != 1 {
		t.Fatalf("expected overlap with page 1, got %v (%v)", hit, ok)
	}

	notOne := func(p Page) bool { return p.number != 1 }
	if _, ok := c.overlapping(Page{number: 2, offset: 4, length: 4}, notOne); ok {
		t.Fatal("pages rejected by the filter must be ignored")
	}
}
