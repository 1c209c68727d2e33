package manuscript

import (
	"sync"

	"github.com/zhangyunhao116/skipmap"
)

// DefaultCacheCapacity is the number of pages kept by a manuscript unless
// configured otherwise.
const DefaultCacheCapacity = 1024

type cacheItem struct {
	page Page
	prev *cacheItem
	next *cacheItem
}

// pageCache is a bounded LRU of resolved pages keyed by number. Entries may
// be dropped at any time; the index stays authoritative.
type pageCache struct {
	mu       sync.Mutex
	capacity int
	items    *skipmap.FuncMap[uint64, *cacheItem]
	head     *cacheItem
	tail     *cacheItem
}

func newPageCache(capacity int) *pageCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &pageCache{
		capacity: capacity,
		items: skipmap.NewFunc[uint64, *cacheItem](func(a, b uint64) bool {
			return a < b
		}),
	}
}

func (c *pageCache) get(number uint64) (Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items.Load(number)
	if !ok {
		return Page{}, false
	}
	c.moveToHead(item)
	return item.page, true
}

func (c *pageCache) put(p Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items.Load(p.number); ok {
		item.page = p
		c.moveToHead(item)
		return
	}

	item := &cacheItem{page: p}
	c.addToHead(item)
	c.items.Store(p.number, item)

	if c.items.Len() > c.capacity {
		c.evictLRU()
	}
}

func (c *pageCache) remove(number uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items.LoadAndDelete(number)
	if !ok {
		return false
	}
	c.unlink(item)
	return true
}

// overlapping returns a cached page for which live reports true and whose
// range overlaps p.
func (c *pageCache) overlapping(p Page, live func(Page) bool) (Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hit Page
	var found bool
	c.items.Range(func(_ uint64, item *cacheItem) bool {
		if item.page.Overlaps(p) && live(item.page) {
			hit, found = item.page, true
			return false
		}
		return true
	})
	return hit, found
}

func (c *pageCache) len() int {
	return c.items.Len()
}

func (c *pageCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.Range(func(number uint64, _ *cacheItem) bool {
		c.items.Delete(number)
		return true
	})
	c.head, c.tail = nil, nil
}

func (c *pageCache) moveToHead(item *cacheItem) {
	if item == c.head {
		return
	}
	c.unlink(item)
	c.addToHead(item)
}

func (c *pageCache) addToHead(item *cacheItem) {
	item.prev = nil
	item.next = c.head
	if c.head != nil {
		c.head.prev = item
	}
	c.head = item
	if c.tail == nil {
		c.tail = item
	}
}

func (c *pageCache) unlink(item *cacheItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else if c.head == item {
		c.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else if c.tail == item {
		c.tail = item.prev
	}
	item.prev, item.next = nil, nil
}

func (c *pageCache) evictLRU() {
	if c.tail == nil {
		return
	}
	victim := c.tail
	c.unlink(victim)
	c.items.Delete(victim.page.number)
}
