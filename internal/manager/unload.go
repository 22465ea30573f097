package manager

import "time"

// Unload waits for the entry's lease to be returned (bounded by the lease
// wait) and then evicts it. Pipelines still leased when the wait expires are
// left alone and a too-busy error is returned.
func (m *Manager) Unload(key ModelKey) error {
	m.cache.mu.Lock()
	e := m.cache.entries[key]
	m.cache.mu.Unlock()
	if e == nil {
		return ErrModelNotFound(key.String())
	}
	m.publish(EventUnloadStart, key, nil)

	timer := time.NewTimer(m.leaseWait)
	defer timer.Stop()
	select {
	case e.slot <- struct{}{}:
	case <-timer.C:
		m.publish(EventUnloadDone, key, map[string]any{"timeout": true})
		return tooBusyError{modelID: key.Model}
	}
	defer func() { <-e.slot }()

	if m.cache.Evict(key) {
		m.evictions.Add(1)
		evictionsTotal.WithLabelValues("unload").Inc()
	}
	m.log.Info().Str("event", EventUnloadDone).Str("model", key.Model).Str("arch", key.Arch).Msg("pipeline unloaded")
	m.publish(EventUnloadDone, key, nil)
	return nil
}
