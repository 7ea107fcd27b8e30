package balance

import (
	"sync"
	"time"

	"github.com/vendly-hq/vendly/internal/domain"
)

// TTLCache is the in-process domain.BalanceCache implementation: a
// keyed store with per-entry expiry and explicit invalidation. It is
// deliberately an injected dependency, not ambient state, so a
// multi-instance deployment can swap in a shared cache that broadcasts
// invalidations.
type TTLCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time // test hook
}

type cacheEntry struct {
	balance domain.Balance
	expires time.Time
}

// NewTTLCache creates a cache with the given entry lifetime.
func NewTTLCache(ttl time.Duration) *TTLCache {
	return &TTLCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached balance for a vendor if present and fresh.
func (c *TTLCache) Get(vendorID string) (*domain.Balance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[vendorID]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, vendorID)
		return nil, false
	}
	b := e.balance
	return &b, true
}

// Set stores a balance, stamping its expiry.
func (c *TTLCache) Set(vendorID string, b *domain.Balance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[vendorID] = cacheEntry{balance: *b, expires: c.now().Add(c.ttl)}
}

// Invalidate drops the vendor's entry. Every ledger mutator must call
// this before reporting success to its caller.
func (c *TTLCache) Invalidate(vendorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, vendorID)
}
