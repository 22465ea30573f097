package manager

import (
	"time"

	"imaged/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	n := m.cache.Len()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.state, Entries: n, Err: m.lastErr}
}

// Status builds a detailed status response for /status. Accelerator entries
// come first; within a tier the most recently used entry comes first.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	resp := types.StatusResponse{
		MaxResident:    m.maxResident,
		HostRAMBuffer:  m.hostRAMBuffer,
		LastError:      m.lastErr,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	m.mu.RUnlock()
	if m.backend != nil {
		resp.Backend = m.backend.Name()
	}
	if m.hostMem != nil {
		if total, avail, err := m.hostMem.Stat(); err == nil {
			resp.HostTotalBytes, resp.HostAvailableBytes = total, avail
		}
	}
	resp.LoadsTotal = m.loads.Load()
	resp.DemotionsTotal = m.demotions.Load()
	resp.EvictionsTotal = m.evictions.Load()
	resp.OOMRetriesTotal = m.oomRetries.Load()

	c := m.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	resp.Entries = make([]types.EntryStatus, 0, len(c.entries))
	for _, tier := range []Tier{TierAccelerator, TierHost} {
		for el := c.tiers[tier].Back(); el != nil; el = el.Prev() {
			e := el.Value.(*Entry)
			st := types.EntryStatus{
				Model:    e.key.Model,
				Arch:     e.key.Arch,
				Tier:     e.tier.String(),
				Leased:   e.leased,
				LastUsed: e.lastUsed.Unix(),
			}
			// The scheduler of a leased pipeline may be mid-swap.
			if !e.leased {
				if s := e.pipeline.Scheduler(); s != nil {
					st.Scheduler = s.Class
				}
			}
			resp.Entries = append(resp.Entries, st)
		}
	}
	return resp
}
