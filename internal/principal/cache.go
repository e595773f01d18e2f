package principal

import (
	"context"
	"sync"
	"time"

	"github.com/safecity/platform/internal/shared/types"
)

// Cache is a bounded, time-boxed principal cache owned by the service
// instance. Entries are invalidated explicitly on any role, status, or
// company mutation; stale reads are otherwise bounded by the TTL.
type Cache struct {
	mu      sync.Mutex
	entries map[types.ID]cacheEntry
	ttl     time.Duration
	maxSize int
}

type cacheEntry struct {
	principal Principal
	expiresAt time.Time
}

// NewCache creates a principal cache
func NewCache(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Cache{
		entries: make(map[types.ID]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get returns a cached principal if present and not expired
func (c *Cache) Get(id types.ID) (*Principal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, id)
		return nil, false
	}

	cp := entry.principal
	return &cp, true
}

// Put stores a principal, evicting the entry closest to expiry when full
func (c *Cache) Put(p *Principal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		if _, exists := c.entries[p.ID]; !exists {
			c.evictOldest()
		}
	}

	c.entries[p.ID] = cacheEntry{
		principal: *p,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate removes a principal from the cache
func (c *Cache) Invalidate(id types.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// evictOldest removes the entry closest to expiry. Caller holds the lock.
func (c *Cache) evictOldest() {
	var oldestID types.ID
	var oldest time.Time
	first := true
	for id, entry := range c.entries {
		if first || entry.expiresAt.Before(oldest) {
			oldestID = id
			oldest = entry.expiresAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestID)
	}
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Resolver resolves principals through the cache, falling back to the
// repository on a miss.
type Resolver struct {
	repo  *Repository
	cache *Cache
}

// NewResolver creates a principal resolver
func NewResolver(repo *Repository, cache *Cache) *Resolver {
	return &Resolver{repo: repo, cache: cache}
}

// Resolve returns the principal with the given ID
func (r *Resolver) Resolve(ctx context.Context, id types.ID) (*Principal, error) {
	if p, ok := r.cache.Get(id); ok {
		return p, nil
	}

	p, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cache.Put(p)
	return p, nil
}

// Invalidate drops the cached entry after a mutation
func (r *Resolver) Invalidate(id types.ID) {
	r.cache.Invalidate(id)
}
