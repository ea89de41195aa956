package llm

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	expiry time.Time
	value  V
}

// ttlCache is a thread-safe map whose entries expire.
type ttlCache[V any] struct {
	entries map[string]cacheEntry[V]
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
	once    sync.Once
}

func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	cache := &ttlCache[V]{
		entries: make(map[string]cacheEntry[V]),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expiry) {
		var zero V
		return zero, false
	}

	return entry.value, true
}

func (c *ttlCache[V]) set(key string, value V) {
	if key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry[V]{
		value:  value,
		expiry: time.Now().Add(c.ttl),
	}
}

// cleanup periodically removes expired entries.
func (c *ttlCache[V]) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiry) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *ttlCache[V]) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine.
func (c *ttlCache[V]) Close() {
	c.once.Do(func() { close(c.stopCh) })
}
