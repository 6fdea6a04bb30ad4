// Package cache provides a small TTL cache with single-flight fills, used to
// keep bursts of identical reads from stampeding the database.
package cache

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is a concurrency-safe TTL cache. GetOrSet guarantees at most one
// concurrent factory invocation per key; waiters share the first result.
type Cache[V any] struct {
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand
	rndMu sync.Mutex

	mu      sync.RWMutex
	entries map[string]entry[V]
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// New builds a cache with the given default TTL.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: make(map[string]entry[V]),
	}
}

// Get returns the cached value for key if present and not expired.
// Expired entries are evicted lazily here.
func (c *Cache[V]) Get(key string) (V, bool) {
	now := c.clock()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && e.expiresAt.After(now) {
		return e.value, true
	}
	if ok {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && !e.expiresAt.After(now) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}
	var zero V
	return zero, false
}

// Set stores value under key with the given TTL (the default when ttl <= 0).
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.clock().Add(c.withJitter(ttl))}
	c.mu.Unlock()
}

// GetOrSet returns the cached value or computes it with factory. Concurrent
// callers for the same missing key share a single factory run.
func (c *Cache[V]) GetOrSet(ctx context.Context, key string, ttl time.Duration, factory func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another flight filled the key while we queued.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// Invalidate drops a single key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Sweep runs a background loop that removes expired entries every interval
// until ctx is canceled.
func (c *Cache[V]) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache[V]) evictExpired() {
	now := c.clock()
	c.mu.Lock()
	for key, e := range c.entries {
		if !e.expiresAt.After(now) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// withJitter spreads expirations by up to 10% to avoid synchronized refills.
func (c *Cache[V]) withJitter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	jitterMax := int64(ttl) / 10
	if jitterMax == 0 {
		return ttl
	}
	c.rndMu.Lock()
	j := c.rnd.Int63n(jitterMax + 1)
	c.rndMu.Unlock()
	return ttl + time.Duration(j)
}
