package cache

import (
	"container/list"
	"sync"

	"slippyview/internal/tile"
)

type entry struct {
	addr  tile.Address
	value []byte
}

// MemoryCache implements in-memory LRU cache
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[tile.Address]*list.Element
	lruList *list.List
}

// NewMemoryCache creates a new in-memory LRU cache holding at most maxSize tiles
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &MemoryCache{
		maxSize: maxSize,
		items:   make(map[tile.Address]*list.Element),
		lruList: list.New(),
	}
}

// Delete drops the entry for addr, if any.
func (c *MemoryCache) Delete(addr tile.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[addr]; ok {
		c.lruList.Remove(elem)
		delete(c.items, addr)
	}
}

// Get moves the entry to the front, so it takes the write lock.
func (c *MemoryCache) Get(addr tile.Address) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[addr]
	if !ok {
		return nil, false
	}

	c.lruList.MoveToFront(elem)
	return elem.Value.(*entry).value, true
}

func (c *MemoryCache) Set(addr tile.Address, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[addr]; ok {
		elem.Value.(*entry).value = value
		c.lruList.MoveToFront(elem)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		oldest := c.lruList.Back()
		if oldest != nil {
			delete(c.items, oldest.Value.(*entry).addr)
			c.lruList.Remove(oldest)
		}
	}

	ent := &entry{addr: addr, value: value}
	elem := c.lruList.PushFront(ent)
	c.items[addr] = elem
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[tile.Address]*list.Element)
	c.lruList = list.New()
}

// Len returns the number of tiles held.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}
