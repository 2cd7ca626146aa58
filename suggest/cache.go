package suggest

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	supermaven "github.com/Paranoid-AF/supermaven"
)

// DefaultCacheTTL is how long finished suggestions are kept when no TTL is configured.
const DefaultCacheTTL = 10 * time.Minute

// Cache is a TTL cache of final suggestions keyed by state id.
type Cache struct {
	cache *ttlcache.Cache[supermaven.StateID, Suggestion]
}

// NewCache creates a cache with TTL-based expiration.
// A non-positive ttl selects DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := ttlcache.New[supermaven.StateID, Suggestion](
		ttlcache.WithTTL[supermaven.StateID, Suggestion](ttl),
		ttlcache.WithDisableTouchOnHit[supermaven.StateID, Suggestion](),
	)
	go c.Start()
	return &Cache{cache: c}
}

// Close stops the cache expiration loop.
func (c *Cache) Close() {
	c.cache.Stop()
}

// Put stores a suggestion under its state id.
func (c *Cache) Put(s Suggestion) {
	c.cache.Set(s.StateID, s, ttlcache.DefaultTTL)
}

// Get returns the suggestion for id, if cached and not expired.
func (c *Cache) Get(id supermaven.StateID) (Suggestion, bool) {
	item := c.cache.Get(id)
	if item == nil {
		return Suggestion{}, false
	}
	return item.Value(), true
}

// Len returns the number of cached suggestions.
func (c *Cache) Len() int {
	return c.cache.Len()
}
