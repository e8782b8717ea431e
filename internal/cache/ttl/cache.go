// Package ttl implements a bounded in-memory cache whose entries expire on two
// independent clocks: absolute age and inactivity.
package ttl

import (
	"sync"
	"time"

	"goflare.io/encore/internal/models"
	"goflare.io/encore/internal/utils"
)

// EvictReason tells an OnEvict callback why an entry left the cache.
type EvictReason int

const (
	Expired EvictReason = iota
	Inactive
	Capacity
	Replaced
	Deleted
	Cleared
)

func (r EvictReason) String() string {
	switch r {
	case Expired:
		return "expired"
	case Inactive:
		return "inactive"
	case Capacity:
		return "capacity"
	case Replaced:
		return "replaced"
	case Deleted:
		return "deleted"
	case Cleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Options configures a Cache. Zero durations disable the matching expiry check and a
// zero Capacity leaves the cache unbounded.
type Options[K comparable, V any] struct {
	MaxAge            time.Duration
	InactivityTimeout time.Duration
	Capacity          int
	OnEvict           func(key K, value V, reason EvictReason)
	Clock             utils.Clock
}

// Item is a read-only view of a cached entry.
type Item[K comparable, V any] struct {
	Key          K
	Value        V
	CreatedAt    time.Time
	LastActivity time.Time
}

type slot[V any] struct {
	entry *models.Entry[V]
	seq   uint64
}

type eviction[K comparable, V any] struct {
	key    K
	value  V
	reason EvictReason
}

// Cache is safe for concurrent use. OnEvict runs outside the internal lock, so it may
// call back into the cache or perform blocking cleanup.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*slot[V]
	seq     uint64
	opts    Options[K, V]
	now     utils.Clock
}

// New creates a new Cache.
func New[K comparable, V any](opts Options[K, V]) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]*slot[V]),
		opts:    opts,
		now:     opts.Clock.OrNow(),
	}
}

// Get returns the value for key if it is still within both its age and inactivity
// limits. A stale entry is purged and reported as a miss. Get never refreshes the
// activity timestamp; call Touch once the value has proven usable.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	s, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return zero, false
	}
	if s.entry.IsExpired(c.now(), c.opts.MaxAge, c.opts.InactivityTimeout) {
		delete(c.entries, key)
		c.mu.Unlock()
		c.notify(eviction[K, V]{key: key, value: s.entry.Value, reason: Expired})
		return zero, false
	}
	c.mu.Unlock()

	return s.entry.Value, true
}

// Put inserts or overwrites key. When the cache is full the entry with the oldest
// creation time is evicted first.
func (c *Cache[K, V]) Put(key K, value V) {
	var evicted []eviction[K, V]

	c.mu.Lock()
	if prev, ok := c.entries[key]; ok {
		delete(c.entries, key)
		evicted = append(evicted, eviction[K, V]{key: key, value: prev.entry.Value, reason: Replaced})
	} else if c.opts.Capacity > 0 && len(c.entries) >= c.opts.Capacity {
		if k, s, found := c.oldestLocked(); found {
			delete(c.entries, k)
			evicted = append(evicted, eviction[K, V]{key: k, value: s.entry.Value, reason: Capacity})
		}
	}
	c.seq++
	c.entries[key] = &slot[V]{entry: models.NewEntry(value, c.now()), seq: c.seq}
	c.mu.Unlock()

	c.notify(evicted...)
}

// Touch marks key as just used. It returns false, purging the entry, if key is
// missing or already stale.
func (c *Cache[K, V]) Touch(key K) bool {
	c.mu.Lock()
	s, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	now := c.now()
	if s.entry.IsExpired(now, c.opts.MaxAge, c.opts.InactivityTimeout) {
		delete(c.entries, key)
		c.mu.Unlock()
		c.notify(eviction[K, V]{key: key, value: s.entry.Value, reason: Expired})
		return false
	}
	s.entry.Touch(now)
	c.mu.Unlock()
	return true
}

// EvictInactive removes every entry idle for at least timeout, along with any entry
// past its maximum age, and returns how many were removed.
func (c *Cache[K, V]) EvictInactive(timeout time.Duration) int {
	var evicted []eviction[K, V]

	c.mu.Lock()
	now := c.now()
	for k, s := range c.entries {
		switch {
		case c.opts.MaxAge > 0 && now.Sub(s.entry.CreatedAt) >= c.opts.MaxAge:
			evicted = append(evicted, eviction[K, V]{key: k, value: s.entry.Value, reason: Expired})
		case s.entry.IsInactive(now, timeout):
			evicted = append(evicted, eviction[K, V]{key: k, value: s.entry.Value, reason: Inactive})
		default:
			continue
		}
		delete(c.entries, k)
	}
	c.mu.Unlock()

	c.notify(evicted...)
	return len(evicted)
}

// Delete removes key and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	s, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok {
		c.notify(eviction[K, V]{key: key, value: s.entry.Value, reason: Deleted})
	}
	return ok
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	evicted := make([]eviction[K, V], 0, len(c.entries))
	for k, s := range c.entries {
		evicted = append(evicted, eviction[K, V]{key: k, value: s.entry.Value, reason: Cleared})
	}
	c.entries = make(map[K]*slot[V])
	c.mu.Unlock()

	c.notify(evicted...)
}

// Len returns the number of stored entries, stale ones included until they are
// observed or swept.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Items returns a snapshot of every stored entry.
func (c *Cache[K, V]) Items() []Item[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]Item[K, V], 0, len(c.entries))
	for k, s := range c.entries {
		items = append(items, Item[K, V]{
			Key:          k,
			Value:        s.entry.Value,
			CreatedAt:    s.entry.CreatedAt,
			LastActivity: s.entry.LastActivity(),
		})
	}
	return items
}

func (c *Cache[K, V]) oldestLocked() (K, *slot[V], bool) {
	var (
		oldestKey  K
		oldestSlot *slot[V]
	)
	for k, s := range c.entries {
		if oldestSlot == nil ||
			s.entry.CreatedAt.Before(oldestSlot.entry.CreatedAt) ||
			(s.entry.CreatedAt.Equal(oldestSlot.entry.CreatedAt) && s.seq < oldestSlot.seq) {
			oldestKey, oldestSlot = k, s
		}
	}
	return oldestKey, oldestSlot, oldestSlot != nil
}

func (c *Cache[K, V]) notify(evicted ...eviction[K, V]) {
	if c.opts.OnEvict == nil {
		return
	}
	for _, e := range evicted {
		c.opts.OnEvict(e.key, e.value, e.reason)
	}
}
