package manager

import (
	"container/list"
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"imaged/internal/engine"
)

// Loader materializes the pipeline for a key on first acquisition.
type Loader func(ctx context.Context) (engine.Pipeline, error)

// ModelCache maps keys to pipelines and keeps, per tier, a list ordered by
// last access (front = least recently used). There is at most one entry per
// key and loading happens at most once per key even under concurrency.
type ModelCache struct {
	mu      sync.Mutex
	entries map[ModelKey]*Entry
	tiers   [2]*list.List
	clock   uint64
	// returned is closed and replaced whenever a lease is returned.
	returned chan struct{}

	group singleflight.Group
	now   func() time.Time
}

// NewModelCache returns an empty cache.
func NewModelCache() *ModelCache {
	return &ModelCache{
		entries:  make(map[ModelKey]*Entry),
		tiers:    [2]*list.List{list.New(), list.New()},
		returned: make(chan struct{}),
		now:      time.Now,
	}
}

// Acquire returns the entry for key, invoking loader when absent. The
// returned entry's last access is refreshed.
func (c *ModelCache) Acquire(ctx context.Context, key ModelKey, loader Loader) (*Entry, bool, error) {
	c.mu.Lock()
	if e := c.entries[key]; e != nil {
		c.touchLocked(e)
		c.mu.Unlock()
		return e, false, nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan(key.String(), func() (any, error) {
		c.mu.Lock()
		if e := c.entries[key]; e != nil {
			// Inserted by a flight that finished after our first look.
			c.mu.Unlock()
			return acquired{entry: e}, nil
		}
		c.mu.Unlock()
		// Waiters share the load, so one caller's cancellation must not
		// abort it.
		p, err := loader(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		e := &Entry{key: key, pipeline: p, tier: tierOf(p.Device()), slot: make(chan struct{}, 1)}
		c.mu.Lock()
		c.entries[key] = e
		c.touchLocked(e)
		c.mu.Unlock()
		return acquired{entry: e, loaded: true}, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		e, loaded := c.settle(res.Val.(acquired), res.Shared)
		return e, loaded, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// acquired is the result of one load flight.
type acquired struct {
	entry  *Entry
	loaded bool
}

// settle reports whether this caller's flight loaded the entry. Callers that
// joined another flight, or whose flight found the entry already inserted,
// only refresh its last access.
func (c *ModelCache) settle(a acquired, shared bool) (*Entry, bool) {
	if a.loaded && !shared {
		return a.entry, true
	}
	c.mu.Lock()
	if !a.entry.destroyed {
		c.touchLocked(a.entry)
	}
	c.mu.Unlock()
	return a.entry, false
}

// notifyReturnLocked wakes callers waiting for a lease to come back.
func (c *ModelCache) notifyReturnLocked() {
	close(c.returned)
	c.returned = make(chan struct{})
}

// Evict removes key and closes its pipeline. Absent keys are a no-op.
func (c *ModelCache) Evict(key ModelKey) bool {
	c.mu.Lock()
	e := c.removeLocked(key)
	c.mu.Unlock()
	if e == nil {
		return false
	}
	_ = e.pipeline.Close()
	return true
}

// ListByTier returns the keys in tier, least recently used first, skipping
// excluded keys.
func (c *ModelCache) ListByTier(tier Tier, excluding ...ModelKey) []ModelKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listLocked(tier, false, excluding)
}

// Len returns the number of entries.
func (c *ModelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ModelCache) listLocked(tier Tier, evictableOnly bool, excluding []ModelKey) []ModelKey {
	var out []ModelKey
	for el := c.tiers[tier].Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if evictableOnly && e.leased {
			continue
		}
		if slices.Contains(excluding, e.key) {
			continue
		}
		out = append(out, e.key)
	}
	return out
}

// touchLocked refreshes last access and moves e to the MRU end of its tier.
func (c *ModelCache) touchLocked(e *Entry) {
	c.clock++
	e.stamp = c.clock
	e.lastUsed = c.now()
	l := c.tiers[e.tier]
	if e.elem == nil {
		e.elem = l.PushBack(e)
	} else {
		l.MoveToBack(e.elem)
	}
	c.syncGaugesLocked()
}

// setTierLocked moves e to another tier, keeping that tier ordered by stamp.
func (c *ModelCache) setTierLocked(e *Entry, t Tier) {
	if e.tier == t && e.elem != nil {
		return
	}
	if e.elem != nil {
		c.tiers[e.tier].Remove(e.elem)
	}
	e.tier = t
	l := c.tiers[t]
	mark := l.Back()
	for mark != nil && mark.Value.(*Entry).stamp > e.stamp {
		mark = mark.Prev()
	}
	if mark == nil {
		e.elem = l.PushFront(e)
	} else {
		e.elem = l.InsertAfter(e, mark)
	}
	c.syncGaugesLocked()
}

func (c *ModelCache) removeLocked(key ModelKey) *Entry {
	e := c.entries[key]
	if e == nil {
		return nil
	}
	delete(c.entries, key)
	if e.elem != nil {
		c.tiers[e.tier].Remove(e.elem)
		e.elem = nil
	}
	e.destroyed = true
	c.syncGaugesLocked()
	return e
}

// oldestLocked returns the least recently used unleased entry in tier that
// is not excluded.
func (c *ModelCache) oldestLocked(tier Tier, excluding []ModelKey) *Entry {
	for el := c.tiers[tier].Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if e.leased || slices.Contains(excluding, e.key) {
			continue
		}
		return e
	}
	return nil
}

func (c *ModelCache) syncGaugesLocked() {
	residentEntries.WithLabelValues(TierAccelerator.String()).Set(float64(c.tiers[TierAccelerator].Len()))
	residentEntries.WithLabelValues(TierHost.String()).Set(float64(c.tiers[TierHost].Len()))
}
