// Package sim is an in-process engine.Backend that models accelerator memory
// without touching a GPU. Pipelines reserve their weight size on the simulated
// device when moved onto it and an activation budget per image while
// generating; exceeding the configured capacity yields the same error text a
// CUDA runtime would raise, so the cache's out-of-memory recovery is exercised
// for real. It backs `imaged --backend sim` and the end-to-end tests.
package sim

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"
	"os"
	"slices"
	"sync"
	"time"

	"imaged/internal/engine"
)

// Defaults applied when Config fields are unset.
const (
	defaultSDMB         = 2600
	defaultSDXLMB       = 6900
	defaultActivationMB = 512
	defaultWidth        = 512
	defaultHeight       = 512
)

// defaultCompatibles mirrors the Karras-family samplers every SD/SDXL
// pipeline declares. LCM is not among them.
var defaultCompatibles = []string{
	"DDIMScheduler",
	"DDPMScheduler",
	"DEISMultistepScheduler",
	"DPMSolverMultistepScheduler",
	"DPMSolverSDEScheduler",
	"DPMSolverSinglestepScheduler",
	"EulerAncestralDiscreteScheduler",
	"EulerDiscreteScheduler",
	"HeunDiscreteScheduler",
	"KDPM2AncestralDiscreteScheduler",
	"KDPM2DiscreteScheduler",
	"LMSDiscreteScheduler",
	"PNDMScheduler",
	"UniPCMultistepScheduler",
}

// Config tunes the simulated device.
type Config struct {
	// VRAMMB is the accelerator capacity. 0 means unlimited.
	VRAMMB int
	// SizeMB overrides the weight size per architecture ("sd", "sdxl").
	SizeMB map[string]int
	// ActivationMB is reserved per generated image while Generate runs.
	ActivationMB int
	// LoadDelay simulates reading weights from disk.
	LoadDelay time.Duration
}

// Stats is a point-in-time view of the simulated device.
type Stats struct {
	UsedMB   int
	Loads    int
	Reclaims int
	Live     int
}

// Backend implements engine.Backend.
type Backend struct {
	mu       sync.Mutex
	cfg      Config
	usedMB   int
	loads    int
	reclaims int
	live     int
}

// New returns a simulated backend.
func New(cfg Config) *Backend {
	if cfg.ActivationMB <= 0 {
		cfg.ActivationMB = defaultActivationMB
	}
	return &Backend{cfg: cfg}
}

func (b *Backend) Name() string { return "sim" }

// Load materializes a pipeline on the host. Single-file specs must point to an
// existing file.
func (b *Backend) Load(ctx context.Context, spec engine.LoadSpec) (engine.Pipeline, error) {
	if spec.SingleFile {
		if _, err := os.Stat(spec.Source); err != nil {
			return nil, fmt.Errorf("load %s: %w", spec.Source, err)
		}
	}
	if b.cfg.LoadDelay > 0 {
		t := time.NewTimer(b.cfg.LoadDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	b.loads++
	b.live++
	b.mu.Unlock()
	return &Pipeline{
		b:      b,
		spec:   spec,
		sizeMB: b.sizeFor(spec.Arch),
		device: engine.CPU,
		sched: &engine.Scheduler{
			Class:       defaultSchedulerClass(spec.Arch),
			Config:      map[string]any{"num_train_timesteps": 1000, "beta_schedule": "scaled_linear"},
			Compatibles: slices.Clone(defaultCompatibles),
		},
		adapters: make(map[string]string),
	}, nil
}

// ReclaimMemory counts reclamation passes; simulated memory is released
// eagerly so there is nothing to flush.
func (b *Backend) ReclaimMemory() {
	b.mu.Lock()
	b.reclaims++
	b.mu.Unlock()
}

func (b *Backend) Close() error { return nil }

// Stats returns the current device counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{UsedMB: b.usedMB, Loads: b.loads, Reclaims: b.reclaims, Live: b.live}
}

func (b *Backend) sizeFor(arch string) int {
	if mb, ok := b.cfg.SizeMB[arch]; ok && mb > 0 {
		return mb
	}
	if arch == engine.ArchSDXL {
		return defaultSDXLMB
	}
	return defaultSDMB
}

// reserve claims mb of device memory or fails like the CUDA allocator does.
func (b *Backend) reserve(mb int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.VRAMMB > 0 && b.usedMB+mb > b.cfg.VRAMMB {
		free := b.cfg.VRAMMB - b.usedMB
		return fmt.Errorf("CUDA out of memory. Tried to allocate %d MiB (%d MiB total capacity; %d MiB free)", mb, b.cfg.VRAMMB, free)
	}
	b.usedMB += mb
	return nil
}

func (b *Backend) release(mb int) {
	b.mu.Lock()
	b.usedMB -= mb
	if b.usedMB < 0 {
		b.usedMB = 0
	}
	b.mu.Unlock()
}

func defaultSchedulerClass(arch string) string {
	if arch == engine.ArchSDXL {
		return "EulerDiscreteScheduler"
	}
	return "PNDMScheduler"
}

// Pipeline implements engine.Pipeline.
type Pipeline struct {
	b      *Backend
	spec   engine.LoadSpec
	sizeMB int
	device engine.Device
	sched  *engine.Scheduler

	adapters map[string]string // name -> path
	active   []string
	weights  []float64
	fused    bool
	closed   bool
}

func (p *Pipeline) Device() engine.Device { return p.device }

func (p *Pipeline) MoveTo(d engine.Device) error {
	if p.closed {
		return fmt.Errorf("pipeline %s is closed", p.spec.Source)
	}
	if d == p.device {
		return nil
	}
	switch d {
	case engine.CUDA:
		if err := p.b.reserve(p.sizeMB); err != nil {
			return err
		}
	case engine.CPU:
		p.b.release(p.sizeMB)
	default:
		return fmt.Errorf("unknown device %q", d)
	}
	p.device = d
	return nil
}

func (p *Pipeline) Scheduler() *engine.Scheduler { return p.sched }

func (p *Pipeline) SetScheduler(s *engine.Scheduler) { p.sched = s }

func (p *Pipeline) LoadAdapter(path, name string) error {
	if _, ok := p.adapters[name]; ok {
		return fmt.Errorf("adapter %q already loaded", name)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("load adapter %s: %w", name, err)
	}
	p.adapters[name] = path
	return nil
}

func (p *Pipeline) SetAdapters(names []string, weights []float64) error {
	if len(names) != len(weights) && len(weights) != 0 {
		return fmt.Errorf("got %d adapter names and %d weights", len(names), len(weights))
	}
	for _, n := range names {
		if _, ok := p.adapters[n]; !ok {
			return fmt.Errorf("adapter %q is not loaded", n)
		}
	}
	p.active = slices.Clone(names)
	p.weights = slices.Clone(weights)
	return nil
}

func (p *Pipeline) FuseAdapters() error {
	if len(p.active) == 0 {
		return fmt.Errorf("no active adapters to fuse")
	}
	p.fused = true
	return nil
}

func (p *Pipeline) UnfuseAdapters() error {
	p.fused = false
	return nil
}

func (p *Pipeline) UnloadAdapters() error {
	if p.fused {
		return fmt.Errorf("cannot unload fused adapters")
	}
	clear(p.adapters)
	p.active = nil
	p.weights = nil
	return nil
}

func (p *Pipeline) ActiveAdapters() []string { return slices.Clone(p.active) }

// Generate produces flat-colored images derived from the seed. It reserves
// activation memory for the batch, so large batches can run out of memory
// even when the weights fit.
func (p *Pipeline) Generate(ctx context.Context, params engine.Params) ([]image.Image, error) {
	if p.closed {
		return nil, fmt.Errorf("pipeline %s is closed", p.spec.Source)
	}
	if p.device != engine.CUDA {
		return nil, fmt.Errorf("Expected all tensors to be on the same device, but found at least two devices, cuda:0 and cpu!")
	}
	n := max(1, params.NumImages)
	act := p.b.cfg.ActivationMB * n
	if err := p.b.reserve(act); err != nil {
		return nil, err
	}
	defer p.b.release(act)

	w, h := params.Width, params.Height
	if w <= 0 {
		w = defaultWidth
	}
	if h <= 0 {
		h = defaultHeight
	}
	rng := rand.New(rand.NewPCG(uint64(params.Seed), uint64(params.Steps)))
	out := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		c := color.RGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 255}
		for px := 0; px < len(img.Pix); px += 4 {
			img.Pix[px], img.Pix[px+1], img.Pix[px+2], img.Pix[px+3] = c.R, c.G, c.B, c.A
		}
		out = append(out, img)
	}
	return out, nil
}

func (p *Pipeline) Close() error {
	if p.closed {
		return nil
	}
	if p.device == engine.CUDA {
		p.b.release(p.sizeMB)
	}
	p.closed = true
	p.b.mu.Lock()
	p.b.live--
	p.b.mu.Unlock()
	return nil
}

// Fused reports whether adapters are currently merged into the weights.
func (p *Pipeline) Fused() bool { return p.fused }
