// Package storage persists generated images and serves them back by name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"imaged/pkg/types"
)

// Supported output formats.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// ErrNotFound is returned by Open for unknown image names.
var ErrNotFound = errors.New("image not found")

// Repository stores encoded images and returns their public description.
type Repository interface {
	Upload(ctx context.Context, img image.Image, format string) (types.Image, error)
}

// Opener is implemented by repositories that can serve stored files.
type Opener interface {
	Open(ctx context.Context, name string) (io.ReadSeekCloser, types.Image, error)
}

// ContentType maps an output format to its MIME type.
func ContentType(format string) (string, error) {
	switch format {
	case FormatPNG:
		return "image/png", nil
	case FormatJPEG:
		return "image/jpeg", nil
	default:
		return "", fmt.Errorf("unsupported image format %q", format)
	}
}

// ValidFormat reports whether format can be encoded.
func ValidFormat(format string) bool {
	_, err := ContentType(format)
	return err == nil
}
