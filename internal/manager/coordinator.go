package manager

import (
	"slices"
	"time"

	"imaged/internal/engine"
)

// Run executes one unit of accelerator work. When it fails because the
// accelerator is out of memory, the least recently used evictable
// accelerator pipeline is demoted, device memory is reclaimed and work is
// retried. Leased entries and excluding are never candidates, so with k
// candidates work runs at most k+1 times before Run gives up with a
// resource-exhausted error. Any other error is returned unchanged.
//
// When nothing is left to demote but other calls still hold leases on
// accelerator pipelines, Run waits (up to the lease wait, with the device
// lock released) for one of them to be returned and demotes it.
//
// Accelerator work is globally serialized: Run holds the device lock while
// work runs.
func (m *Manager) Run(work func() error, excluding ...ModelKey) error {
	m.devMu.Lock()
	defer m.devMu.Unlock()
	return m.runDeviceLocked("run", work, excluding...)
}

func (m *Manager) runDeviceLocked(op string, work func() error, excluding ...ModelKey) error {
	candidates := m.evictableAccelerator(excluding)
	var deadline time.Time
	for {
		err := work()
		if err == nil || !engine.IsOutOfMemory(err) {
			return err
		}
		victim, ok := m.nextVictim(&candidates)
		for !ok && m.awaitLeaseReturnDeviceLocked(excluding, &deadline) {
			candidates = m.evictableAccelerator(excluding)
			victim, ok = m.nextVictim(&candidates)
		}
		if !ok {
			if m.backend != nil {
				m.backend.ReclaimMemory()
			}
			resourceExhaustedTotal.Inc()
			m.log.Error().Err(err).Str("event", EventResourceExhausted).Str("op", op).Msg("no pipeline left to demote")
			for _, k := range excluding {
				m.publish(EventResourceExhausted, k, map[string]any{"op": op})
			}
			return ErrResourceExhausted(op, err)
		}
		m.oomRetries.Add(1)
		oomRetriesTotal.Inc()
		m.log.Warn().Err(err).Str("event", EventOOMRetry).Str("op", op).Str("victim", victim.String()).Int("remaining", len(candidates)).Msg("accelerator out of memory; demoting and retrying")
		m.publish(EventOOMRetry, victim, map[string]any{"op": op})
		if err := m.demoteDeviceLocked(victim); err != nil {
			m.log.Warn().Err(err).Str("victim", victim.String()).Msg("demotion skipped")
		}
		if m.backend != nil {
			m.backend.ReclaimMemory()
		}
	}
}

// evictableAccelerator snapshots the accelerator entries that may be demoted,
// least recently used first.
func (m *Manager) evictableAccelerator(excluding []ModelKey) []ModelKey {
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()
	return m.cache.listLocked(TierAccelerator, true, excluding)
}

// nextVictim pops the first snapshot key that is still on the accelerator
// and not leased. Entries demoted, discarded or leased since the snapshot
// are dropped.
func (m *Manager) nextVictim(candidates *[]ModelKey) (ModelKey, bool) {
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()
	for len(*candidates) > 0 {
		k := (*candidates)[0]
		*candidates = (*candidates)[1:]
		e := m.cache.entries[k]
		if e != nil && e.tier == TierAccelerator && !e.leased {
			return k, true
		}
	}
	return ModelKey{}, false
}

// awaitLeaseReturnDeviceLocked waits for a lease on an accelerator entry
// outside excluding to be returned. It reports false at once when no such
// lease is held, and false when the wait, which starts at the first call for
// a given deadline, exceeds the lease wait. devMu is released while waiting
// and held again on return.
func (m *Manager) awaitLeaseReturnDeviceLocked(excluding []ModelKey, deadline *time.Time) bool {
	c := m.cache
	c.mu.Lock()
	held := false
	for el := c.tiers[TierAccelerator].Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if e.leased && !slices.Contains(excluding, e.key) {
			held = true
			break
		}
	}
	returned := c.returned
	c.mu.Unlock()
	if !held {
		return false
	}
	if deadline.IsZero() {
		*deadline = time.Now().Add(m.leaseWait)
	}
	wait := time.Until(*deadline)
	if wait <= 0 {
		return false
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	m.devMu.Unlock()
	defer m.devMu.Lock()
	m.log.Debug().Dur("max_wait", wait).Msg("accelerator held by other calls; waiting for a lease to be returned")
	select {
	case <-returned:
		return true
	case <-timer.C:
		return false
	}
}

// EnsureResident moves a leased pipeline onto the accelerator. It first
// honors the resident limit, then moves the weights through Run's
// out-of-memory recovery.
func (m *Manager) EnsureResident(l *Lease) error {
	m.devMu.Lock()
	defer m.devMu.Unlock()
	e := l.entry
	if e.pipeline.Device() != engine.CUDA {
		if err := m.makeSlotDeviceLocked(e.key); err != nil {
			return err
		}
		move := func() error { return e.pipeline.MoveTo(engine.CUDA) }
		if err := m.runDeviceLocked("move "+e.key.String()+" to the accelerator", move, e.key); err != nil {
			return err
		}
		m.log.Debug().Str("event", EventPromote).Str("model", e.key.Model).Msg("pipeline moved to the accelerator")
		m.publish(EventPromote, e.key, nil)
	}
	c := m.cache
	c.mu.Lock()
	if !e.destroyed {
		c.setTierLocked(e, TierAccelerator)
	}
	c.mu.Unlock()
	return nil
}
