package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Bounded is a size-bounded TTL cache. When full, inserting a new key
// evicts the entry with the oldest store time. Entries past their TTL are
// removed on access and counted as misses. All methods are safe for
// concurrent use.
type Bounded[K comparable, V any] struct {
	mu      sync.Mutex
	data    map[K]entry[V]
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64

	// now is swapped out in tests
	now func() time.Time
}

// NewBounded creates a cache holding at most maxSize entries, each valid
// for ttl after insertion. maxSize must be positive.
func NewBounded[K comparable, V any](maxSize int, ttl time.Duration) *Bounded[K, V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Bounded[K, V]{
		data:    make(map[K]entry[V]),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value for key. Expired entries are deleted and
// reported as absent.
func (c *Bounded[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.data, key)
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key, refreshing the store time. If the cache is
// full and key is not already present, the oldest entry is evicted first.
func (c *Bounded[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.data[key] = entry[V]{value: value, storedAt: c.now()}
}

// evictOldestLocked removes the entry with the smallest store time.
// Caller holds c.mu.
func (c *Bounded[K, V]) evictOldestLocked() {
	var (
		oldestKey K
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.data {
		if !found || e.storedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.storedAt
			found = true
		}
	}
	if found {
		delete(c.data, oldestKey)
	}
}

// Delete removes key from the cache if present.
func (c *Bounded[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Clear empties the cache and resets the hit/miss counters.
func (c *Bounded[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[K]entry[V])
	c.hits = 0
	c.misses = 0
}

// Len returns the number of live entries, including any not yet expired-on-access.
func (c *Bounded[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Stats returns a snapshot of the cache counters.
func (c *Bounded[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:    len(c.data),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
