// Package cache implements the Tier 1 exact cache: an in-memory map keyed
// on decision.CacheKey, loaded from the decision store at startup and
// updated by every tier that produces a record (spec.md §4.E). Reads vastly
// outnumber writes, so a single RWMutex suffices; a panic while a writer
// holds the lock must never permanently wedge subsequent lookups, so every
// write path recovers and re-takes the lock rather than leaving it held.
package cache

import (
	"sync"

	"github.com/Epiphytic/captain-hook/internal/decision"
)

// Cache is a per-scope-set exact-match cache. One Cache instance typically
// serves the whole process; keys from every scope share the same map since
// CacheKey does not carry a scope (spec.md's CacheKey is the triple
// (sanitized_input, tool, role) only — the scope merge happens upstream in
// store.ScopeResolver before a record ever reaches this cache).
type Cache struct {
	mu      sync.RWMutex
	entries map[decision.CacheKey]decision.DecisionRecord
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{entries: map[decision.CacheKey]decision.DecisionRecord{}}
}

// LoadAll seeds the cache from a slice of records (typically every scope's
// decision store contents at startup). Later records in the slice win on
// key collision.
func (c *Cache) LoadAll(records []decision.DecisionRecord) {
	c.mu.Lock()
	defer recoverPoison()
	defer c.mu.Unlock()
	for _, r := range records {
		c.entries[r.Key] = r
	}
}

// Lookup returns the cached record for key, if any.
func (c *Cache) Lookup(key decision.CacheKey) (decision.DecisionRecord, bool) {
	c.mu.RLock()
	defer recoverPoison()
	defer c.mu.RUnlock()
	rec, ok := c.entries[key]
	return rec, ok
}

// Put inserts or overwrites the record for its key. Called by the cascade
// runner for every tier's result, including similarity tiers — this is
// mandatory (spec.md §9 "Similarity-tier write-back is mandatory") so a
// later identical input hits Tier 1 deterministically instead of drifting
// to a different nearby similarity match.
func (c *Cache) Put(rec decision.DecisionRecord) {
	c.mu.Lock()
	defer recoverPoison()
	defer c.mu.Unlock()
	c.entries[rec.Key] = rec
}

// Delete removes a single key, used when a record is invalidated.
func (c *Cache) Delete(key decision.CacheKey) {
	c.mu.Lock()
	defer recoverPoison()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DeleteRole drops every cached entry for role, used on role hot-swap and
// on invalidate-role.
func (c *Cache) DeleteRole(role string) {
	c.mu.Lock()
	defer recoverPoison()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.Role == role {
			delete(c.entries, k)
		}
	}
}

// Snapshot returns a copy of every cached record, for handing to the
// similarity tiers to (re)build their indices.
func (c *Cache) Snapshot() []decision.DecisionRecord {
	c.mu.RLock()
	defer recoverPoison()
	defer c.mu.RUnlock()
	out := make([]decision.DecisionRecord, 0, len(c.entries))
	for _, r := range c.entries {
		out = append(out, r)
	}
	return out
}

// recoverPoison absorbs a panic from inside a locked section so the
// deferred Unlock still runs and the lock never remains poisoned for
// subsequent callers. A panic here is necessarily a bug; the intent is
// only to guarantee gating keeps functioning (soft-deny happens one layer
// up, at the cascade runner) rather than wedging every future lookup.
func recoverPoison() {
	_ = recover()
}
