package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// ShardedCache is a TTL cache split into independently locked shards.
// A zero or negative TTL disables it: Set is a no-op and Get always misses.
type ShardedCache[V any] struct {
	shards [numShards]*shard[V]
	ttl    time.Duration
	now    func() time.Time
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

type entry[V any] struct {
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

// New creates a cache whose entries live for ttl.
func New[V any](ttl time.Duration) *ShardedCache[V] {
	c := &ShardedCache[V]{ttl: ttl, now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard[V]{
			items: make(map[string]entry[V]),
		}
	}
	return c
}

// Enabled reports whether entries are kept at all.
func (c *ShardedCache[V]) Enabled() bool {
	return c != nil && c.ttl > 0
}

// getShard returns the shard for the given key.
func (c *ShardedCache[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores value under key.
func (c *ShardedCache[V]) Set(key string, value V) {
	if !c.Enabled() {
		return
	}
	now := c.now()
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, storedAt: now, expiresAt: now.Add(c.ttl)}
	s.mu.Unlock()
}

// Get returns the value for key if it has not expired.
func (c *ShardedCache[V]) Get(key string) (V, bool) {
	v, _, ok := c.GetWithAge(key)
	return v, ok
}

// GetWithAge returns the value and how long ago it was stored.
func (c *ShardedCache[V]) GetWithAge(key string) (V, time.Duration, bool) {
	var zero V
	if !c.Enabled() {
		return zero, 0, false
	}
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()

	now := c.now()
	if !ok || !now.Before(e.expiresAt) {
		return zero, 0, false
	}
	return e.value, now.Sub(e.storedAt), true
}

// Delete removes key.
func (c *ShardedCache[V]) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Purge drops every entry.
func (c *ShardedCache[V]) Purge() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.items = make(map[string]entry[V])
		s.mu.Unlock()
	}
}

// Len returns total items across all shards, expired ones included.
func (c *ShardedCache[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes expired entries and reports how many went.
func (c *ShardedCache[V]) Cleanup() int {
	removed := 0
	now := c.now()

	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.items {
			if !now.Before(e.expiresAt) {
				delete(s.items, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Stats provides cache statistics.
type Stats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
	OldestAge   time.Duration  `json:"oldest_age"`
}

// Stats returns cache statistics.
func (c *ShardedCache[V]) Stats() Stats {
	stats := Stats{}
	var oldest time.Time

	for i, s := range c.shards {
		s.mu.RLock()
		stats.ShardCounts[i] = len(s.items)
		stats.TotalItems += len(s.items)
		for _, e := range s.items {
			if oldest.IsZero() || e.storedAt.Before(oldest) {
				oldest = e.storedAt
			}
		}
		s.mu.RUnlock()
	}

	if !oldest.IsZero() {
		stats.OldestAge = c.now().Sub(oldest)
	}
	return stats
}
