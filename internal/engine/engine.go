// Package engine defines the contract between the model cache and the
// inference runtime that actually owns accelerator memory. The cache treats a
// Pipeline as an opaque, heavy handle: it can be moved between devices,
// customized for one call (adapters, scheduler) and asked to generate images.
package engine

import (
	"context"
	"image"
)

// Device identifies where a pipeline's weights currently live.
type Device string

const (
	CPU  Device = "cpu"
	CUDA Device = "cuda"
)

// LoadSpec describes the pipeline a Backend should materialize.
type LoadSpec struct {
	// Source is a local weights file or a hub/registry identifier.
	Source string
	// Arch is the pipeline architecture ("sd" or "sdxl").
	Arch string
	// SingleFile is set when Source points to a single local weights file
	// rather than a multi-file repository layout.
	SingleFile bool
}

// Params are the generation parameters handed to a pipeline.
type Params struct {
	Prompt         string
	NegativePrompt string
	// Width and Height of 0 let the pipeline pick its native resolution.
	Width         int
	Height        int
	Steps         int
	GuidanceScale float64
	Seed          int64
	NumImages     int
}

// Pipeline is a loaded generative model. Implementations are not required to
// be safe for concurrent use; the cache hands out exclusive leases.
type Pipeline interface {
	// Device reports where the weights currently reside.
	Device() Device
	// MoveTo transfers the weights to d. Moving onto the accelerator may fail
	// with an out-of-memory error (see IsOutOfMemory).
	MoveTo(d Device) error

	// Scheduler returns the active sampler instance.
	Scheduler() *Scheduler
	// SetScheduler installs s as the active sampler.
	SetScheduler(s *Scheduler)

	// LoadAdapter loads adapter weights from path under name.
	LoadAdapter(path, name string) error
	// SetAdapters activates the named adapters with the given weights.
	// An empty names slice deactivates every adapter.
	SetAdapters(names []string, weights []float64) error
	// FuseAdapters merges the active adapters into the base weights.
	FuseAdapters() error
	// UnfuseAdapters reverts a previous FuseAdapters.
	UnfuseAdapters() error
	// UnloadAdapters drops every loaded adapter.
	UnloadAdapters() error
	// ActiveAdapters lists the names of the active adapters.
	ActiveAdapters() []string

	// Generate runs the denoising loop and returns raw images.
	Generate(ctx context.Context, p Params) ([]image.Image, error)
	// Close releases every resource held by the pipeline.
	Close() error
}

// Backend materializes pipelines and controls device memory.
type Backend interface {
	// Name is a short identifier used in logs and status output.
	Name() string
	// Load materializes a pipeline in host memory.
	Load(ctx context.Context, spec LoadSpec) (Pipeline, error)
	// ReclaimMemory forces a device-memory reclamation pass (allocator cache
	// flush, garbage collection).
	ReclaimMemory()
	// Close releases backend-wide resources.
	Close() error
}
