package manager

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"imaged/internal/engine"
	"imaged/internal/storage"
	"imaged/pkg/types"
)

// Manager owns the pipeline cache and coordinates all accelerator work. One
// Manager exists per process; Close releases every pipeline.
//
// Lock order: devMu, then cache.mu, then mu. devMu serializes accelerator
// computation and residency moves; cache.mu guards every cache mutation,
// including a whole demotion; mu guards the small mutable fields below it.
type Manager struct {
	backend     engine.Backend
	checkpoints Resolver
	overlays    Resolver
	safety      engine.SafetyChecker
	repo        storage.Repository
	hostMem     HostMemory

	registry      []types.Model
	defaultModel  string
	hostRAMBuffer float64
	maxResident   int
	uploadWorkers int
	leaseWait     time.Duration
	log           zerolog.Logger

	cache *ModelCache
	devMu sync.Mutex

	mu        sync.RWMutex
	state     State
	lastErr   string
	publisher EventPublisher
	startTime time.Time
	opSeq     atomic.Uint64

	loads      atomic.Uint64
	demotions  atomic.Uint64
	evictions  atomic.Uint64
	oomRetries atomic.Uint64
}

// Ready reports whether the manager can serve requests.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady
}

// ListModels returns a copy of the local checkpoint registry.
func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// SetRegistry replaces the local checkpoint registry.
func (m *Manager) SetRegistry(reg []types.Model) {
	m.mu.Lock()
	m.registry = append([]types.Model(nil), reg...)
	m.mu.Unlock()
}

// Cache exposes the underlying model cache.
func (m *Manager) Cache() *ModelCache { return m.cache }

func (m *Manager) setLastError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}

// Close evicts every cached pipeline and closes the backend. Leased entries
// are drained first, each bounded by the lease wait.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosed
	m.mu.Unlock()

	var errs []error
	for _, tier := range []Tier{TierAccelerator, TierHost} {
		for _, k := range m.cache.ListByTier(tier) {
			if err := m.Unload(k); err != nil && !IsModelNotFound(err) {
				errs = append(errs, err)
			}
		}
	}
	if m.backend != nil {
		if err := m.backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
