package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"
)

func TestIsOutOfMemory(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("CUDA out of memory. Tried to allocate 20.00 MiB"), true},
		{errors.New("RuntimeError: INTERNAL ASSERT FAILED at c10/cuda/CUDACachingAllocator.cpp"), true},
		{fmt.Errorf("generate: %w", ErrOutOfMemory), true},
		{errors.New("shape mismatch"), false},
		{errors.New("cuda out of memory"), false}, // signatures are case-sensitive
	}
	for _, c := range cases {
		if got := IsOutOfMemory(c.err); got != c.want {
			t.Fatalf("IsOutOfMemory(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestSchedulerDeriveLeavesOriginalUntouched(t *testing.T) {
	orig := &Scheduler{
		Class:       "PNDMScheduler",
		Config:      map[string]any{"num_train_timesteps": 1000},
		Compatibles: []string{"EulerDiscreteScheduler"},
	}
	d := orig.Derive("EulerDiscreteScheduler", map[string]any{"use_karras_sigmas": true})
	if d == orig {
		t.Fatalf("derive must return a new instance")
	}
	if d.Class != "EulerDiscreteScheduler" || d.Config["num_train_timesteps"] != 1000 || d.Config["use_karras_sigmas"] != true {
		t.Fatalf("unexpected derived scheduler: %+v", d)
	}
	if _, ok := orig.Config["use_karras_sigmas"]; ok {
		t.Fatalf("original config mutated: %+v", orig.Config)
	}
	if orig.Equal(d) {
		t.Fatalf("derived scheduler should differ")
	}
	if !orig.Equal(orig.Derive("PNDMScheduler", nil)) {
		t.Fatalf("derive without overrides should be equal")
	}
}

func TestSchedulerAcceptsLCMAlways(t *testing.T) {
	s := &Scheduler{Class: "PNDMScheduler", Compatibles: []string{"EulerDiscreteScheduler"}}
	if !s.Accepts(LCMClass) {
		t.Fatalf("LCM must always be accepted")
	}
	if !s.Accepts("EulerDiscreteScheduler") {
		t.Fatalf("declared compatible rejected")
	}
	if s.Accepts("DPMSolverMultistepScheduler") {
		t.Fatalf("undeclared class accepted")
	}
}

func TestLookupScheduler(t *testing.T) {
	spec, ok := LookupScheduler("DPM++ 2M SDE Karras")
	if !ok || spec.Class != "DPMSolverMultistepScheduler" || spec.Params["use_karras_sigmas"] != true {
		t.Fatalf("unexpected spec: %+v ok=%v", spec, ok)
	}
	if _, ok := LookupScheduler("Heun"); ok {
		t.Fatalf("unsupported name resolved")
	}
	names := SchedulerNames()
	if len(names) != 7 || names[0] != "DPM++ 2M" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestPassthroughSafety(t *testing.T) {
	imgs := []image.Image{image.NewRGBA(image.Rect(0, 0, 1, 1)), image.NewRGBA(image.Rect(0, 0, 1, 1))}
	flags, err := PassthroughSafety{}.Check(context.Background(), imgs, true)
	if err != nil || len(flags) != 2 || flags[0] || flags[1] {
		t.Fatalf("flags=%v err=%v", flags, err)
	}
}

func TestGuessArch(t *testing.T) {
	cases := map[string]string{
		"stabilityai/stable-diffusion-xl-base-1.0": ArchSDXL,
		"/data/checkpoints/juggernautXL_v9.safetensors": ArchSDXL,
		"runwayml/stable-diffusion-v1-5":           ArchSD,
	}
	for in, want := range cases {
		if got := GuessArch(in); got != want {
			t.Fatalf("GuessArch(%q) = %q, want %q", in, got, want)
		}
	}
}
