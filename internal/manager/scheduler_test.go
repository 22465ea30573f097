package manager

import (
	"errors"
	"testing"

	"imaged/internal/engine"
)

func TestWithSchedulerRestoresOriginal(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	p := newFakePipeline("a", engine.CUDA)
	orig := p.Scheduler()

	var during *engine.Scheduler
	if err := m.WithScheduler(p, "DPM++ 2M Karras", func() error {
		during = p.Scheduler()
		return nil
	}); err != nil {
		t.Fatalf("with scheduler: %v", err)
	}
	if during.Class != "DPMSolverMultistepScheduler" || during.Config["use_karras_sigmas"] != true {
		t.Fatalf("override not installed: %+v", during)
	}
	if during.Config["num_train_timesteps"] != 1000 {
		t.Fatalf("override should inherit the original configuration")
	}
	if p.Scheduler() != orig {
		t.Fatalf("original sampler instance not restored")
	}
	if _, ok := orig.Config["use_karras_sigmas"]; ok || orig.Class != "PNDMScheduler" {
		t.Fatalf("original sampler was mutated: %+v", orig)
	}
}

func TestWithSchedulerRestoresOnFailure(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	p := newFakePipeline("a", engine.CUDA)
	orig := p.Scheduler()
	boom := errors.New("boom")
	if err := m.WithScheduler(p, "Euler A", func() error { return boom }); err != boom {
		t.Fatalf("err = %v, want boom", err)
	}
	if p.Scheduler() != orig {
		t.Fatalf("original sampler not restored after failure")
	}
}

func TestWithSchedulerRejectsIncompatible(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	p := newFakePipeline("a", engine.CUDA)
	p.sched.Compatibles = []string{"EulerDiscreteScheduler"}
	called := false
	err := m.WithScheduler(p, "DPM++ 2M", func() error { called = true; return nil })
	var ce *CompatibilityError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompatibilityError, got %v", err)
	}
	if ce.Requested != "DPM++ 2M" || len(ce.Compatibles) != 1 {
		t.Fatalf("unexpected error contents: %+v", ce)
	}
	if called {
		t.Fatalf("fn must not run for an incompatible sampler")
	}
}

func TestWithSchedulerAlwaysAcceptsLCM(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	p := newFakePipeline("a", engine.CUDA)
	p.sched.Compatibles = nil
	var class string
	if err := m.WithScheduler(p, "LCM", func() error { class = p.Scheduler().Class; return nil }); err != nil {
		t.Fatalf("LCM rejected: %v", err)
	}
	if class != engine.LCMClass {
		t.Fatalf("class = %q", class)
	}
}

func TestWithSchedulerUnknownAndEmpty(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	p := newFakePipeline("a", engine.CUDA)
	if err := m.WithScheduler(p, "Heun++", func() error { return nil }); !IsBadRequest(err) {
		t.Fatalf("expected bad request, got %v", err)
	}
	orig := p.Scheduler()
	ran := false
	if err := m.WithScheduler(p, "", func() error { ran = p.Scheduler() == orig; return nil }); err != nil || !ran {
		t.Fatalf("empty name should run fn with the pipeline untouched")
	}
}
