// Package tokens holds the API keys accepted in the X-API-Key header.
package tokens

import "sync"

// DefaultRateLimit applies to tokens stored without an explicit limit.
const DefaultRateLimit = 60

// Entry is the configuration of a single API token.
type Entry struct {
	RateLimit int
	Comment   string
}

// Cache is an in-memory snapshot of the token table.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewCache() *Cache {
	return &Cache{}
}

// Replace swaps the whole snapshot. The map is copied.
func (c *Cache) Replace(m map[string]Entry) {
	entries := make(map[string]Entry, len(m))
	for k, v := range m {
		entries[k] = v
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

// Ready returns true if the cache has been initialized at least once.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries != nil
}

func (c *Cache) Valid(token string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[token]
	return ok
}

// RateLimit returns the configured rate limit for the given token. Unknown
// tokens return 0, which disables rate limiting for that token.
func (c *Cache) RateLimit(token string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[token].RateLimit
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
