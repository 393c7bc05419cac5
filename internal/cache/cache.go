// Package cache implements the fixed-capacity, direct-mapped, sharded
// response cache. Capacity is fixed at
// construction; there is no eviction beyond a collision overwriting the
// prior occupant of its slot, and no TTL — freshness is the caller's
// business (see internal/cachecontrol).
package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// slot is one bucket. At most one entry lives here at a time.
type slot[V any] struct {
	mu       sync.Mutex
	key      string
	value    V
	hasValue bool
}

// Cache is a fixed-length vector of slots, indexed by hash(key) mod N.
type Cache[V any] struct {
	slots []slot[V]
}

// New constructs a cache with exactly n slots.
func New[V any](n int) *Cache[V] {
	if n <= 0 {
		n = 1
	}
	return &Cache[V]{slots: make([]slot[V], n)}
}

func (c *Cache[V]) slotFor(key string) *slot[V] {
	idx := xxhash.Sum64String(key) % uint64(len(c.slots))
	return &c.slots[idx]
}

// Accessor is a lock-scoped handle to one slot, bound to one key.
type Accessor[V any] struct {
	slot *slot[V]
	key  string
}

// Get returns the slot's current key and value. The caller must compare
// the returned key against the key it accessed with to distinguish a
// real hit from a foreign-slot collision.
func (a *Accessor[V]) Get() (key string, value V, ok bool) {
	return a.slot.key, a.slot.value, a.slot.hasValue && a.slot.key == a.key
}

// Set overwrites the slot with the accessor's key and the given value,
// evicting whatever was previously stored there.
func (a *Accessor[V]) Set(value V) {
	a.slot.key = a.key
	a.slot.value = value
	a.slot.hasValue = true
}

// Access locks the slot for key, invokes fn with an Accessor bound to
// it, and releases the lock when fn returns. At most one Access call per
// slot runs at a time; keys that collide into the same slot share its
// lock.
func (c *Cache[V]) Access(key string, fn func(a *Accessor[V])) {
	s := c.slotFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Accessor[V]{slot: s, key: key})
}
