package ble

import (
	"slices"
	"time"
)

// Default discovery timings.
const (
	DefaultDiscoveryExpiry = 10 * time.Second
	DefaultSweepInterval   = 5 * time.Second
)

// DiscoveryEntry is a sighted peripheral and the time it stops being visible.
type DiscoveryEntry struct {
	Device  Device
	Expires time.Time
}

// DiscoveryCache tracks recently seen peripherals. It is owned by the
// manager's loop and is not safe for concurrent use.
type DiscoveryCache struct {
	ttl     time.Duration
	entries []DiscoveryEntry
}

// NewDiscoveryCache creates a cache whose entries live for ttl after their
// most recent sighting.
func NewDiscoveryCache(ttl time.Duration) *DiscoveryCache {
	if ttl <= 0 {
		ttl = DefaultDiscoveryExpiry
	}
	return &DiscoveryCache{ttl: ttl}
}

// Sight records an advertisement. Expired entries are pruned first, then any
// entry with the same identity is replaced by a fresh one. Reports whether
// the visible set changed.
func (c *DiscoveryCache) Sight(d Device, now time.Time) bool {
	changed := c.Sweep(now)
	i := c.index(d.ID)
	if i >= 0 {
		c.entries = slices.Delete(c.entries, i, i+1)
	} else {
		changed = true
	}
	c.entries = append(c.entries, DiscoveryEntry{Device: d, Expires: now.Add(c.ttl)})
	return changed
}

// Sweep prunes every entry whose expiry is not after now. Reports whether
// anything was removed.
func (c *DiscoveryCache) Sweep(now time.Time) bool {
	before := len(c.entries)
	c.entries = slices.DeleteFunc(c.entries, func(e DiscoveryEntry) bool {
		return !now.Before(e.Expires)
	})
	return len(c.entries) != before
}

// Devices returns the visible identities, least recently sighted first.
func (c *DiscoveryCache) Devices() []PeripheralID {
	ids := make([]PeripheralID, len(c.entries))
	for i, e := range c.entries {
		ids[i] = e.Device.ID
	}
	return ids
}

// Entries returns a copy of the current entries.
func (c *DiscoveryCache) Entries() []DiscoveryEntry {
	return slices.Clone(c.entries)
}

// Lookup returns the entry for id, if visible.
func (c *DiscoveryCache) Lookup(id PeripheralID) (DiscoveryEntry, bool) {
	i := c.index(id)
	if i < 0 {
		return DiscoveryEntry{}, false
	}
	return c.entries[i], true
}

func (c *DiscoveryCache) Len() int { return len(c.entries) }

func (c *DiscoveryCache) index(id PeripheralID) int {
	return slices.IndexFunc(c.entries, func(e DiscoveryEntry) bool {
		return e.Device.ID == id
	})
}
