package sim

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"imaged/internal/engine"
)

func TestMoveToAcceleratorRespectsCapacity(t *testing.T) {
	b := New(Config{VRAMMB: 100, SizeMB: map[string]int{"sd": 60}})
	ctx := context.Background()
	a, err := b.Load(ctx, engine.LoadSpec{Source: "a", Arch: "sd"})
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	c, err := b.Load(ctx, engine.LoadSpec{Source: "c", Arch: "sd"})
	if err != nil {
		t.Fatalf("load c: %v", err)
	}
	if a.Device() != engine.CPU {
		t.Fatalf("new pipelines start on the host")
	}
	if err := a.MoveTo(engine.CUDA); err != nil {
		t.Fatalf("move a: %v", err)
	}
	err = c.MoveTo(engine.CUDA)
	if !engine.IsOutOfMemory(err) {
		t.Fatalf("expected OOM, got %v", err)
	}
	if err := a.MoveTo(engine.CPU); err != nil {
		t.Fatalf("demote a: %v", err)
	}
	if err := c.MoveTo(engine.CUDA); err != nil {
		t.Fatalf("move c after demotion: %v", err)
	}
	if got := b.Stats().UsedMB; got != 60 {
		t.Fatalf("used = %d, want 60", got)
	}
	_ = c.Close()
	_ = a.Close()
	if s := b.Stats(); s.UsedMB != 0 || s.Live != 0 || s.Loads != 2 {
		t.Fatalf("unexpected stats after close: %+v", s)
	}
}

func TestGenerateNeedsAcceleratorAndActivationMemory(t *testing.T) {
	b := New(Config{VRAMMB: 100, SizeMB: map[string]int{"sd": 60}, ActivationMB: 30})
	p, _ := b.Load(context.Background(), engine.LoadSpec{Source: "a", Arch: "sd"})
	if _, err := p.Generate(context.Background(), engine.Params{NumImages: 1}); err == nil || engine.IsOutOfMemory(err) {
		t.Fatalf("expected device mismatch error, got %v", err)
	}
	if err := p.MoveTo(engine.CUDA); err != nil {
		t.Fatalf("move: %v", err)
	}
	imgs, err := p.Generate(context.Background(), engine.Params{NumImages: 1, Width: 8, Height: 4, Seed: 7})
	if err != nil || len(imgs) != 1 {
		t.Fatalf("generate: %v (%d images)", err, len(imgs))
	}
	if r := imgs[0].Bounds(); r.Dx() != 8 || r.Dy() != 4 {
		t.Fatalf("unexpected bounds %v", r)
	}
	if _, err := p.Generate(context.Background(), engine.Params{NumImages: 2}); !engine.IsOutOfMemory(err) {
		t.Fatalf("expected activation OOM, got %v", err)
	}
	if got := b.Stats().UsedMB; got != 60 {
		t.Fatalf("activation memory leaked: used=%d", got)
	}
}

func TestAdapterLifecycle(t *testing.T) {
	dir := t.TempDir()
	lora := filepath.Join(dir, "style.safetensors")
	if err := os.WriteFile(lora, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	b := New(Config{})
	p, _ := b.Load(context.Background(), engine.LoadSpec{Source: "a", Arch: "sdxl"})
	sp := p.(*Pipeline)
	if sp.Scheduler().Class != "EulerDiscreteScheduler" {
		t.Fatalf("unexpected default scheduler %q", sp.Scheduler().Class)
	}
	if err := p.LoadAdapter(lora, "style_safetensors"); err != nil {
		t.Fatalf("load adapter: %v", err)
	}
	if err := p.SetAdapters([]string{"style_safetensors"}, []float64{0.5}); err != nil {
		t.Fatalf("set adapters: %v", err)
	}
	if err := p.FuseAdapters(); err != nil || !sp.Fused() {
		t.Fatalf("fuse: %v", err)
	}
	if err := p.UnloadAdapters(); err == nil {
		t.Fatalf("unloading fused adapters must fail")
	}
	_ = p.UnfuseAdapters()
	_ = p.SetAdapters(nil, nil)
	if err := p.UnloadAdapters(); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if len(p.ActiveAdapters()) != 0 {
		t.Fatalf("adapters still active: %v", p.ActiveAdapters())
	}
}
