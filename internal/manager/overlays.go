package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"imaged/internal/engine"
	"imaged/pkg/types"
)

// Overlay is a weight file merged into a pipeline for one call.
type Overlay struct {
	Ref   string
	Scale float64
}

// OverlaysFromRequest converts request overlays, applying the default scale.
func OverlaysFromRequest(in []types.LoraWeight) []Overlay {
	out := make([]Overlay, 0, len(in))
	for _, l := range in {
		out = append(out, Overlay{Ref: l.Path, Scale: l.ScaleOrDefault()})
	}
	return out
}

// WithOverlays fuses overlays into the leased pipeline, runs fn and reverts
// them. Reversal runs even when application or fn failed. A failed reversal
// destroys the entry instead of returning a half-fused pipeline to the
// cache; it is logged and counted but never replaces fn's result.
func (m *Manager) WithOverlays(ctx context.Context, l *Lease, overlays []Overlay, fn func() error) error {
	if len(overlays) == 0 {
		return fn()
	}
	p := l.Pipeline()
	err := m.applyOverlays(ctx, p, overlays)
	if err == nil {
		err = fn()
	}
	if terr := removeOverlays(p); terr != nil {
		teardownFailuresTotal.Inc()
		m.log.Error().Err(terr).Str("event", EventOverlayTeardownFailed).Str("model", l.Key().Model).Msg("failed to revert overlays; evicting pipeline")
		m.publish(EventOverlayTeardownFailed, l.Key(), map[string]any{"error": terr.Error()})
		if m.cache.Evict(l.Key()) {
			m.evictions.Add(1)
			evictionsTotal.WithLabelValues("teardown_failed").Inc()
			m.publish(EventDiscard, l.Key(), map[string]any{"reason": "teardown_failed"})
		}
	}
	return err
}

// applyOverlays resolves and loads every overlay under a unique name, then
// sets all scales and fuses them in one pass.
func (m *Manager) applyOverlays(ctx context.Context, p engine.Pipeline, overlays []Overlay) error {
	names := make([]string, 0, len(overlays))
	scales := make([]float64, 0, len(overlays))
	used := make(map[string]bool, len(overlays))
	for _, o := range overlays {
		path, err := m.overlays.Resolve(ctx, o.Ref)
		if err != nil {
			return err
		}
		name := adapterName(path, used)
		m.log.Info().Str("overlay", path).Float64("scale", o.Scale).Str("adapter", name).Msg("applying overlay")
		if err := p.LoadAdapter(path, name); err != nil {
			return fmt.Errorf("load overlay %s: %w", o.Ref, err)
		}
		names = append(names, name)
		scales = append(scales, o.Scale)
	}
	if err := p.SetAdapters(names, scales); err != nil {
		return fmt.Errorf("activate overlays: %w", err)
	}
	if err := p.FuseAdapters(); err != nil {
		return fmt.Errorf("fuse overlays: %w", err)
	}
	return nil
}

// removeOverlays unfuses, deactivates and unloads every overlay, stopping
// at the first failure.
func removeOverlays(p engine.Pipeline) error {
	if err := p.UnfuseAdapters(); err != nil {
		return fmt.Errorf("unfuse overlays: %w", err)
	}
	if err := p.SetAdapters(nil, nil); err != nil {
		return fmt.Errorf("deactivate overlays: %w", err)
	}
	if err := p.UnloadAdapters(); err != nil {
		return fmt.Errorf("unload overlays: %w", err)
	}
	return nil
}

// adapterName derives an adapter name from a weight file name, replacing
// dots with underscores and suffixing repeats.
func adapterName(path string, used map[string]bool) string {
	base := strings.ReplaceAll(filepath.Base(path), ".", "_")
	name := base
	for i := 2; used[name]; i++ {
		name = base + "_" + strconv.Itoa(i)
	}
	used[name] = true
	return name
}
