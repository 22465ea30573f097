package manager

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"time"

	"imaged/internal/engine"
)

// Lease grants exclusive use of a cached pipeline. While a lease is held the
// entry is never selected for demotion or discard. Return must be called
// exactly once; extra calls are ignored.
type Lease struct {
	m     *Manager
	entry *Entry
	once  sync.Once
}

// Key is the leased entry's identity.
func (l *Lease) Key() ModelKey { return l.entry.key }

// Pipeline is the leased pipeline.
func (l *Lease) Pipeline() engine.Pipeline { return l.entry.pipeline }

// Return releases the lease.
func (l *Lease) Return() {
	l.once.Do(func() {
		c := l.m.cache
		c.mu.Lock()
		l.entry.leased = false
		c.notifyReturnLocked()
		c.mu.Unlock()
		<-l.entry.slot
	})
}

// Checkout acquires the entry for key, loading it when absent, and waits for
// its single slot. Waiting honors ctx and the configured lease wait, after
// which the call fails with a too-busy error. If the entry is destroyed while
// waiting, the cache is consulted again.
func (m *Manager) Checkout(ctx context.Context, key ModelKey, loader Loader) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The wait starts once the entry exists; load time does not count
	// against it.
	var timeout <-chan time.Time
	for {
		e, _, err := m.cache.Acquire(ctx, key, m.instrumentLoader(key, loader))
		if err != nil {
			return nil, err
		}
		select {
		case e.slot <- struct{}{}:
		default:
			if timeout == nil {
				timer := time.NewTimer(m.leaseWait)
				defer timer.Stop()
				timeout = timer.C
			}
			select {
			case e.slot <- struct{}{}:
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timeout:
				return nil, tooBusyError{modelID: key.Model}
			}
		}
		c := m.cache
		c.mu.Lock()
		if e.destroyed {
			c.mu.Unlock()
			<-e.slot
			continue
		}
		e.leased = true
		c.touchLocked(e)
		c.mu.Unlock()
		m.publish(EventLease, key, nil)
		return &Lease{m: m, entry: e}, nil
	}
}

// instrumentLoader wraps loader with logging, events and counters.
func (m *Manager) instrumentLoader(key ModelKey, loader Loader) Loader {
	return func(ctx context.Context) (engine.Pipeline, error) {
		start := time.Now()
		m.log.Info().Str("event", EventLoadStart).Str("model", key.Model).Str("arch", key.Arch).Msg("loading pipeline")
		m.publish(EventLoadStart, key, nil)
		p, err := loader(ctx)
		if err != nil {
			loadsTotal.WithLabelValues(key.Arch, "error").Inc()
			m.log.Error().Err(err).Str("event", EventLoadError).Str("model", key.Model).Msg("pipeline load failed")
			m.publish(EventLoadError, key, map[string]any{"error": err.Error()})
			m.setLastError(err)
			return nil, err
		}
		m.loads.Add(1)
		loadsTotal.WithLabelValues(key.Arch, "ok").Inc()
		dur := time.Since(start)
		m.log.Info().Str("event", EventLoadDone).Str("model", key.Model).Dur("took", dur).Str("host_mem", m.hostUsage()).Msg("pipeline loaded")
		m.publish(EventLoadDone, key, map[string]any{"took_ms": dur.Milliseconds()})
		return p, nil
	}
}

// backendLoader loads key through the configured backend.
func (m *Manager) backendLoader(key ModelKey) Loader {
	return func(ctx context.Context) (engine.Pipeline, error) {
		if m.backend == nil {
			return nil, ErrDependencyUnavailable("no inference backend configured")
		}
		spec := engine.LoadSpec{Source: key.Model, Arch: key.Arch, SingleFile: isSingleFile(key.Model)}
		p, err := m.backend.Load(ctx, spec)
		if spec.SingleFile && errors.Is(err, fs.ErrNotExist) {
			return nil, ErrModelNotFound(key.Model)
		}
		return p, err
	}
}
