// Package timeoutcache implements an insertion-ordered set of keys with
// activity-refresh TTL expiry, as described for MiniPlex's ActiveBranch
// and AddrBranch caches: Add refreshes or inserts a key, an idle key is
// evicted after timeout has elapsed since its last Add, and eviction
// invokes a caller-supplied callback.
//
// Cache is deliberately not internally synchronized: spec.md requires
// every operation to "execute serially with respect to other cache
// operations on the same instance", and MiniPlex provides that
// serialization externally via strand.Strand (the processing domain).
// Callers must invoke Add/Keys/Clear/Len only from within a task posted
// to the owning strand; Cache only uses the strand itself to hop the
// expiry-timer callback (which fires on its own goroutine) back onto
// that strand before touching any cache state.
package timeoutcache

import (
	"container/list"
	"time"

	"miniplex/internal/strand"
)

// OnExpire is invoked when a key ages out. It runs on the cache's owning
// strand, same as every other Cache operation.
type OnExpire[K comparable] func(key K)

type entry[K comparable] struct {
	key        K
	lastAccess time.Time
	timer      *time.Timer
	elem       *list.Element
}

// Cache is a generic TimeoutCache[K]. The zero value is not usable;
// construct with New.
type Cache[K comparable] struct {
	s        *strand.Strand
	timeout  time.Duration
	onExpire OnExpire[K]
	order    *list.List // of *entry[K], first-insertion order
	byKey    map[K]*entry[K]
}

// New constructs a Cache with the given activity-refresh timeout. s is
// the strand that every Cache method must be called from, and that
// expiry-timer callbacks are marshalled back onto.
func New[K comparable](s *strand.Strand, timeout time.Duration, onExpire OnExpire[K]) *Cache[K] {
	return &Cache[K]{
		s:        s,
		timeout:  timeout,
		onExpire: onExpire,
		order:    list.New(),
		byKey:    make(map[K]*entry[K]),
	}
}

// Add inserts key if absent (returning true) or refreshes its last-access
// timestamp if present (returning false). A refresh does not touch the
// pending timer; when it fires, checkExpiry re-arms it for the remaining
// interval. Must be called from the owning strand.
func (c *Cache[K]) Add(key K) bool {
	if e, ok := c.byKey[key]; ok {
		e.lastAccess = time.Now()
		return false
	}

	e := &entry[K]{key: key, lastAccess: time.Now()}
	e.elem = c.order.PushBack(e)
	c.byKey[key] = e
	c.armTimer(e)
	return true
}

// armTimer schedules (or reschedules) the one-shot expiry check for e.
func (c *Cache[K]) armTimer(e *entry[K]) {
	e.timer = time.AfterFunc(c.timeout, func() {
		c.s.Post(func() { c.checkExpiry(e) })
	})
}

// checkExpiry runs on the strand when a key's timer fires. If activity
// extended the deadline since the timer was armed, it re-arms for the
// remaining interval instead of evicting.
func (c *Cache[K]) checkExpiry(e *entry[K]) {
	cur, ok := c.byKey[e.key]
	if !ok || cur != e {
		// Already removed (e.g. by Clear) or superseded.
		return
	}

	idle := time.Since(e.lastAccess)
	if idle < c.timeout {
		remaining := c.timeout - idle
		e.timer = time.AfterFunc(remaining, func() {
			c.s.Post(func() { c.checkExpiry(e) })
		})
		return
	}

	c.order.Remove(e.elem)
	delete(c.byKey, e.key)
	if c.onExpire != nil {
		c.onExpire(e.key)
	}
}

// Keys returns the cache's keys in first-insertion order. Must be called
// from the owning strand; the returned slice is a fresh copy.
func (c *Cache[K]) Keys() []K {
	keys := make([]K, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K]).key)
	}
	return keys
}

// Len returns the number of keys currently cached. Must be called from
// the owning strand.
func (c *Cache[K]) Len() int {
	return c.order.Len()
}

// Clear drops every key and cancels every pending timer. Must be called
// from the owning strand.
func (c *Cache[K]) Clear() {
	for el := c.order.Front(); el != nil; el = el.Next() {
		el.Value.(*entry[K]).timer.Stop()
	}
	c.order.Init()
	c.byKey = make(map[K]*entry[K])
}
