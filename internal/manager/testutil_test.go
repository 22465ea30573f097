package manager

import (
	"context"
	"errors"
	"image"
	"slices"
	"sync"
	"testing"
	"time"

	"imaged/internal/engine"
	"imaged/pkg/types"
)

var errOOM = errors.New("CUDA out of memory. Tried to allocate 2.00 GiB")

// fakePipeline records every call; errors are injectable per operation.
type fakePipeline struct {
	mu       sync.Mutex
	name     string
	device   engine.Device
	sched    *engine.Scheduler
	adapters []string
	active   []string
	weights  []float64
	fused    bool
	closed   bool

	moveErr     error
	unfuseErr   error
	genErr      error
	loadedPaths []string
}

func newFakePipeline(name string, d engine.Device) *fakePipeline {
	return &fakePipeline{
		name:   name,
		device: d,
		sched: &engine.Scheduler{
			Class:       "PNDMScheduler",
			Config:      map[string]any{"num_train_timesteps": 1000},
			Compatibles: []string{"EulerDiscreteScheduler", "EulerAncestralDiscreteScheduler", "DPMSolverMultistepScheduler"},
		},
	}
}

func (p *fakePipeline) Device() engine.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

func (p *fakePipeline) MoveTo(d engine.Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d == engine.CUDA && p.moveErr != nil {
		return p.moveErr
	}
	p.device = d
	return nil
}

func (p *fakePipeline) Scheduler() *engine.Scheduler { return p.sched }

func (p *fakePipeline) SetScheduler(s *engine.Scheduler) { p.sched = s }

func (p *fakePipeline) ActiveAdapters() []string { return slices.Clone(p.active) }

func (p *fakePipeline) SetAdapters(n []string, w []float64) error {
	p.active, p.weights = slices.Clone(n), slices.Clone(w)
	return nil
}

func (p *fakePipeline) LoadAdapter(path, name string) error {
	p.adapters = append(p.adapters, name)
	p.loadedPaths = append(p.loadedPaths, path)
	return nil
}

func (p *fakePipeline) FuseAdapters() error {
	p.fused = true
	return nil
}

func (p *fakePipeline) UnfuseAdapters() error {
	if p.unfuseErr != nil {
		return p.unfuseErr
	}
	p.fused = false
	return nil
}

func (p *fakePipeline) UnloadAdapters() error {
	p.adapters = nil
	return nil
}

func (p *fakePipeline) Generate(ctx context.Context, params engine.Params) ([]image.Image, error) {
	if p.genErr != nil {
		return nil, p.genErr
	}
	out := make([]image.Image, params.NumImages)
	for i := range out {
		out[i] = image.NewRGBA(image.Rect(0, 0, params.Width, params.Height))
	}
	return out, nil
}

func (p *fakePipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeBackend hands out fakePipelines on the host.
type fakeBackend struct {
	mu       sync.Mutex
	loads    int
	reclaims int
	loadErr  error
	made     map[string]*fakePipeline
}

func newFakeBackend() *fakeBackend { return &fakeBackend{made: map[string]*fakePipeline{}} }

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Load(ctx context.Context, spec engine.LoadSpec) (engine.Pipeline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	b.loads++
	p := newFakePipeline(spec.Source, engine.CPU)
	b.made[spec.Source] = p
	return p, nil
}

func (b *fakeBackend) ReclaimMemory() {
	b.mu.Lock()
	b.reclaims++
	b.mu.Unlock()
}

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) counts() (loads, reclaims int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads, b.reclaims
}

// scriptedHostMemory answers Stat from a list of available fractions; the
// last answer repeats.
type scriptedHostMemory struct {
	mu      sync.Mutex
	answers []float64
	calls   int
}

func (h *scriptedHostMemory) Stat() (uint64, uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := min(h.calls, len(h.answers)-1)
	h.calls++
	const total = 64 << 30
	return total, uint64(h.answers[i] * total), nil
}

// memRepo is an in-memory storage.Repository.
type memRepo struct {
	mu      sync.Mutex
	uploads []image.Image
	err     error
}

func (r *memRepo) Upload(ctx context.Context, img image.Image, format string) (types.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return types.Image{}, r.err
	}
	r.uploads = append(r.uploads, img)
	b := img.Bounds()
	name := format + "-" + string(rune('a'+len(r.uploads)-1))
	return types.Image{URL: "mem://" + name, FileName: name, Width: b.Dx(), Height: b.Dy()}, nil
}

// flagAll marks every image when enabled.
type flagAll struct{}

func (flagAll) Check(_ context.Context, imgs []image.Image, enabled bool) ([]bool, error) {
	out := make([]bool, len(imgs))
	for i := range out {
		out[i] = enabled
	}
	return out, nil
}

// newTestManager builds a manager around a fake backend with host headroom
// checks disabled, closed on cleanup.
func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	if cfg.Backend == nil {
		cfg.Backend = newFakeBackend()
	}
	if cfg.HostRAMBuffer == 0 {
		cfg.HostRAMBuffer = -1
	}
	if cfg.LeaseWait == 0 {
		cfg.LeaseWait = time.Second
	}
	if cfg.Repository == nil {
		cfg.Repository = &memRepo{}
	}
	m := NewWithConfig(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// seed inserts a pipeline for model directly into the cache.
func seed(t *testing.T, m *Manager, model string, d engine.Device) (ModelKey, *fakePipeline) {
	t.Helper()
	key := ModelKey{Model: model, Arch: engine.ArchSD}
	p := newFakePipeline(model, d)
	_, loaded, err := m.cache.Acquire(context.Background(), key, func(context.Context) (engine.Pipeline, error) { return p, nil })
	if err != nil || !loaded {
		t.Fatalf("seed %s: loaded=%v err=%v", model, loaded, err)
	}
	return key, p
}

func keysOf(models ...string) []ModelKey {
	out := make([]ModelKey, len(models))
	for i, s := range models {
		out[i] = ModelKey{Model: s, Arch: engine.ArchSD}
	}
	return out
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}
