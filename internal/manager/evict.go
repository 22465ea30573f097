package manager

import (
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"imaged/internal/engine"
)

// SelectVictim returns the least recently used entry in tier that is neither
// leased nor excluded.
func (m *Manager) SelectVictim(tier Tier, excluding ...ModelKey) (ModelKey, bool) {
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()
	e := m.cache.oldestLocked(tier, excluding)
	if e == nil {
		return ModelKey{}, false
	}
	return e.key, true
}

// Demote moves an accelerator entry to host memory, freeing host memory first
// when it is short. Absent or host-resident keys are a no-op; leased keys
// are refused.
func (m *Manager) Demote(key ModelKey) error {
	m.devMu.Lock()
	defer m.devMu.Unlock()
	return m.demoteDeviceLocked(key)
}

// demoteDeviceLocked requires devMu. It holds cache.mu for the whole
// demotion so no other cache mutation interleaves with it.
func (m *Manager) demoteDeviceLocked(key ModelKey) error {
	c := m.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[key]
	if e == nil || e.tier != TierAccelerator {
		return nil
	}
	if e.leased {
		return errLeased
	}
	for !m.hostHeadroomOK() {
		victim := c.oldestLocked(TierHost, []ModelKey{key})
		if victim == nil {
			m.log.Warn().Str("event", EventDiscard).Str("model", key.Model).Msg("not enough host memory to demote; discarding")
			m.discardLocked(e, "host_memory")
			return nil
		}
		m.log.Info().Str("event", EventDiscard).Str("model", victim.key.Model).Msg("host memory short; discarding least recently used host pipeline")
		m.discardLocked(victim, "host_memory")
	}
	if err := e.pipeline.MoveTo(engine.CPU); err != nil {
		m.log.Error().Err(err).Str("model", key.Model).Msg("demotion failed; discarding")
		m.discardLocked(e, "demote_failed")
		return nil
	}
	c.setTierLocked(e, TierHost)
	m.demotions.Add(1)
	demotionsTotal.Inc()
	m.log.Info().Str("event", EventDemote).Str("model", key.Model).Str("arch", key.Arch).Msg("pipeline moved to host memory")
	m.publish(EventDemote, key, nil)
	return nil
}

// discardLocked removes e from the cache and releases its pipeline.
func (m *Manager) discardLocked(e *Entry, reason string) {
	m.cache.removeLocked(e.key)
	_ = e.pipeline.Close()
	m.evictions.Add(1)
	evictionsTotal.WithLabelValues(reason).Inc()
	m.publish(EventDiscard, e.key, map[string]any{"reason": reason})
}

// makeSlotDeviceLocked demotes least recently used accelerator entries until
// fewer than maxResident other entries remain there. Requires devMu.
func (m *Manager) makeSlotDeviceLocked(key ModelKey) error {
	if m.maxResident <= 0 {
		return nil
	}
	var deadline time.Time
	for {
		resident := m.cache.ListByTier(TierAccelerator, key)
		if len(resident) < m.maxResident {
			return nil
		}
		victim, ok := m.SelectVictim(TierAccelerator, key)
		if !ok {
			if m.awaitLeaseReturnDeviceLocked([]ModelKey{key}, &deadline) {
				continue
			}
			resourceExhaustedTotal.Inc()
			m.publish(EventResourceExhausted, key, map[string]any{"reason": "max_resident"})
			return ErrResourceExhausted("make room on the accelerator", nil)
		}
		// The victim may have been leased since it was selected; pick again.
		if err := m.demoteDeviceLocked(victim); err != nil && !errors.Is(err, errLeased) {
			return err
		}
	}
}

// hostUsage renders host memory for logs.
func (m *Manager) hostUsage() string {
	if m.hostMem == nil {
		return "unknown"
	}
	total, avail, err := m.hostMem.Stat()
	if err != nil {
		return "unknown"
	}
	return humanize.IBytes(avail) + " free of " + humanize.IBytes(total)
}
