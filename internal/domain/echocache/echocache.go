// Package echocache implements the recent-op cache used to suppress echoes
// of our own writes when the server plays them back through pull/subscribe
// (spec §4.2).
package echocache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultTTL      = 60 * time.Second
	DefaultCapacity = 2000
)

// Cache is a TTL-bounded set of recently pushed op ids. hashicorp/golang-lru
// gives O(1) capacity-bounded eviction; a wall-clock deadline is layered on
// top since the library itself only evicts by recency, not by age.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, time.Time]
	ttl time.Duration
	now func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

func WithCapacity(n int) Option {
	return func(c *Cache) {
		l, _ := lru.New[string, time.Time](n)
		c.lru = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds a Cache with the spec defaults (TTL 60s, capacity 2000).
func New(opts ...Option) *Cache {
	c := &Cache{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.lru == nil {
		l, _ := lru.New[string, time.Time](DefaultCapacity)
		c.lru = l
	}
	return c
}

// Mark records opId as recently pushed. Empty ids are ignored.
func (c *Cache) Mark(opID string) {
	if opID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(opID, c.now().Add(c.ttl))
}

// IsRecent reports whether opId was marked within its TTL window. Empty ids
// are never considered recent.
func (c *Cache) IsRecent(opID string) bool {
	if opID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := c.lru.Get(opID)
	if !ok {
		return false
	}
	if c.now().After(deadline) {
		c.lru.Remove(opID)
		return false
	}
	return true
}

// Len reports the number of live entries, including ones past their TTL but
// not yet evicted by capacity pressure or a subsequent IsRecent/Mark call.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
