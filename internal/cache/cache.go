// Package cache holds recently generated artifacts in a bounded LRU with a TTL.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

// Defaults used when Config leaves a field unset.
const (
	DefaultCapacity = 64
	DefaultTTL      = 6 * time.Hour
)

// Config sizes the cache.
type Config struct {
	Capacity int
	TTL      time.Duration
}

// Entry is a cached artifact with the time it was stored.
type Entry struct {
	Artifact   digest.Artifact
	InsertedAt time.Time
}

// Cache is the volatile artifact tier keyed by category. It is safe for
// concurrent use.
type Cache struct {
	lru   *expirable.LRU[string, Entry]
	clock digest.Clock
}

// New builds a cache. Entries expire after TTL and the least recently used
// entry is evicted once Capacity is reached.
func New(cfg Config, clock digest.Clock) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Cache{
		lru:   expirable.NewLRU[string, Entry](cfg.Capacity, nil, cfg.TTL),
		clock: clock,
	}
}

// Get returns the entry for category if present and unexpired.
func (c *Cache) Get(category string) (Entry, bool) {
	return c.lru.Get(category)
}

// Put stores artifact under category, replacing any previous entry.
func (c *Cache) Put(category string, artifact digest.Artifact) {
	c.lru.Add(category, Entry{Artifact: artifact, InsertedAt: c.clock.Now()})
}

// Evict drops category. It reports whether an entry was present.
func (c *Cache) Evict(category string) bool {
	return c.lru.Remove(category)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}
