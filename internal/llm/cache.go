package llm

import (
	"container/list"
	"strings"
	"sync"

	"github.com/wanjiru/amri/internal/observability"
)

// DefaultCacheCapacity bounds the generation cache.
const DefaultCacheCapacity = 50

// Cache memoizes context-free command generations keyed by the normalized
// user input. Eviction is strictly insertion order: when full, the oldest
// entry goes, regardless of how often it was hit.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // Front = oldest. Values are cache keys.
	entries  map[string]*cacheEntry

	metrics *observability.MetricsCollector // optional
}

type cacheEntry struct {
	gen  *Generation
	elem *list.Element
}

// NewCache creates a generation cache. A non-positive capacity falls back to
// the default.
func NewCache(capacity int, metrics *observability.MetricsCollector) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*cacheEntry),
		metrics:  metrics,
	}
}

// normalizeKey canonicalizes user input so trivially different phrasings of
// the same request share an entry.
func normalizeKey(input string) string {
	return strings.ToLower(strings.Join(strings.Fields(input), " "))
}

// Get returns the cached generation for input, if any. A hit does not
// refresh the entry's position. Entries that fail validation are treated as
// corrupt: dropped and reported as a miss.
func (c *Cache) Get(input string) (*Generation, bool) {
	key := normalizeKey(input)
	if key == "" {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.recordLookup("miss")
		return nil, false
	}
	if !e.gen.Valid() {
		c.order.Remove(e.elem)
		delete(c.entries, key)
		c.recordLookup("corrupt")
		return nil, false
	}
	c.recordLookup("hit")
	return e.gen, true
}

// Put stores a generation under the normalized input. Empty inputs and
// invalid generations are rejected silently. Storing an existing key
// replaces the value without changing its eviction position.
func (c *Cache) Put(input string, gen *Generation) {
	key := normalizeKey(input)
	if key == "" || !gen.Valid() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.gen = gen
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(string))
	}

	c.entries[key] = &cacheEntry{gen: gen, elem: c.order.PushBack(key)}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) recordLookup(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookupsTotal.WithLabelValues(result).Inc()
	}
}
