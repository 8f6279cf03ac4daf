package geocode

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/sells-group/repairer-sync/internal/normalize"
)

// cacheKey hashes the folded address so that case, accents and spacing
// differences share one entry.
func cacheKey(addr AddressInput) string {
	h := sha256.Sum256([]byte(
		normalize.Fold(addr.Street) + "|" +
			normalize.Fold(addr.PostalCode) + "|" +
			normalize.Fold(addr.City),
	))
	return hex.EncodeToString(h[:])
}

// memoryCache is a bounded FIFO map of geocode results, including misses.
type memoryCache struct {
	mu    sync.Mutex
	size  int
	items map[string]Result
	order []string
	next  int
}

func newMemoryCache(size int) *memoryCache {
	if size <= 0 {
		size = 10000
	}
	return &memoryCache{size: size, items: make(map[string]Result, size)}
}

func (c *memoryCache) get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.items[key]
	return r, ok
}

func (c *memoryCache) put(key string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; ok {
		c.items[key] = r
		return
	}
	if len(c.order) < c.size {
		c.order = append(c.order, key)
	} else {
		delete(c.items, c.order[c.next])
		c.order[c.next] = key
		c.next = (c.next + 1) % c.size
	}
	c.items[key] = r
}

func (c *memoryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
