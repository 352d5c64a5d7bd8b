// Package cache is the in-process read path for indicator values: the latest
// committed value, a bounded window of recent values and the current
// provisional value per spec. It implements model.ValueSink so the engine's
// write-through publishes land here synchronously before any external sink.
package cache

import (
	"sync"
	"time"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

type entry struct {
	latest      model.Value
	hasLatest   bool
	window      []model.Value // ascending by TS, bounded
	provisional model.Value
	hasProv     bool
	lastAccess  time.Time
}

// Cache holds computed values per spec ID behind one RWMutex. Reads vastly
// outnumber writes; per-entry locking has not been worth it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	window  int
}

// New creates a cache retaining up to window committed values per spec.
func New(window int) *Cache {
	if window < 1 {
		window = 64
	}
	return &Cache{
		entries: make(map[string]*entry),
		window:  window,
	}
}

// Publish routes a value from the engine. Committed values update latest and
// the window (replacing any value for the same bar, so revisions supersede);
// a committed value also clears any provisional for the same or older bar.
func (c *Cache) Publish(v model.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[v.SpecID]
	if e == nil {
		e = &entry{lastAccess: time.Now()}
		c.entries[v.SpecID] = e
	}

	if v.Provisional {
		e.provisional = v
		e.hasProv = true
		return
	}

	e.latest = v
	e.hasLatest = true
	if e.hasProv && !e.provisional.TS.After(v.TS) {
		e.hasProv = false
	}
	if v.Outputs == nil {
		return // warming/stale status markers don't enter the series window
	}

	// replace in place on revision, else append in TS order
	for i := len(e.window) - 1; i >= 0; i-- {
		if e.window[i].TS.Equal(v.TS) {
			e.window[i] = v
			return
		}
		if e.window[i].TS.Before(v.TS) {
			break
		}
	}
	e.window = append(e.window, v)
	if len(e.window) > c.window {
		e.window = e.window[len(e.window)-c.window:]
	}
}

// Latest returns the newest committed value for the spec.
func (c *Cache) Latest(specID string) (model.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[specID]
	if e == nil || !e.hasLatest {
		return model.Value{}, false
	}
	e.lastAccess = time.Now()
	return e.latest, true
}

// Provisional returns the current provisional value, if one is live.
func (c *Cache) Provisional(specID string) (model.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[specID]
	if e == nil || !e.hasProv {
		return model.Value{}, false
	}
	e.lastAccess = time.Now()
	return e.provisional, true
}

// Range returns the cached committed values with from <= TS <= to, ascending.
// Callers fall back to the durable store when the result does not cover the
// requested span.
func (c *Cache) Range(specID string, from, to time.Time) []model.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[specID]
	if e == nil {
		return nil
	}
	e.lastAccess = time.Now()
	var out []model.Value
	for _, v := range e.window {
		if v.TS.Before(from) || v.TS.After(to) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// OldestCached returns the TS of the oldest committed value held for the
// spec, for deciding whether Range covered a request.
func (c *Cache) OldestCached(specID string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e := c.entries[specID]
	if e == nil || len(e.window) == 0 {
		return time.Time{}, false
	}
	return e.window[0].TS, true
}

// Evict drops all cached state for the spec.
func (c *Cache) Evict(specID string) {
	c.mu.Lock()
	delete(c.entries, specID)
	c.mu.Unlock()
}

// Len returns the number of specs currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
