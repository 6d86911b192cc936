package insight

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-memory Cache used in local development and tests
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]CachedInsight
}

// NewMemoryCache creates a new in-memory insight cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]CachedInsight)}
}

// Get returns the unexpired entry for the fingerprint, or nil
func (c *MemoryCache) Get(ctx context.Context, fingerprint string) (*CachedInsight, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[fingerprint]
	if !ok || entry.Expired(time.Now().UTC()) {
		return nil, nil
	}
	return &entry, nil
}

// Put stores an entry, replacing any previous one for the fingerprint
func (c *MemoryCache) Put(ctx context.Context, entry CachedInsight) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Fingerprint] = entry
	return nil
}
