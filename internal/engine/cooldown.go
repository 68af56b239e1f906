package engine

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CooldownTracker remembers the last finding emission per (rule, resource)
// key. Backed by an expirable LRU so the map stays bounded even across a
// large resource population; the LRU TTL is a GC bound, the actual cooldown
// comparison always uses the rule's own duration.
type CooldownTracker struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, time.Time]
}

// NewCooldownTracker creates a tracker bounded to size entries, each expiring
// after maxCooldown.
func NewCooldownTracker(size int, maxCooldown time.Duration) *CooldownTracker {
	return &CooldownTracker{
		cache: expirable.NewLRU[string, time.Time](size, nil, maxCooldown),
	}
}

// TryAcquire reports whether a finding may be emitted now for key given the
// rule's cooldown, recording the emission when it may. Check and record are a
// single step under the tracker's lock, so concurrent evaluations of the same
// key cannot both acquire inside one cooldown interval.
func (c *CooldownTracker) TryAcquire(key string, cooldown time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.cache.Get(key); ok && now.Sub(last) < cooldown {
		return false
	}
	c.cache.Add(key, now)
	return true
}
