package engine

import (
	"context"
	"image"
)

// SafetyChecker flags generated images that should not be returned.
type SafetyChecker interface {
	// Check returns one flag per image. When enabled is false implementations
	// must return all-false without inspecting the images.
	Check(ctx context.Context, images []image.Image, enabled bool) ([]bool, error)
}

// PassthroughSafety never flags anything. It is the default when no
// content-safety model is deployed next to the service.
type PassthroughSafety struct{}

func (PassthroughSafety) Check(_ context.Context, images []image.Image, _ bool) ([]bool, error) {
	return make([]bool, len(images)), nil
}
