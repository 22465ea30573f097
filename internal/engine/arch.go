package engine

import "strings"

// Pipeline architectures.
const (
	ArchSD   = "sd"
	ArchSDXL = "sdxl"
)

// ValidArch reports whether a is a known architecture.
func ValidArch(a string) bool { return a == ArchSD || a == ArchSDXL }

// GuessArch infers the architecture from a model name: anything mentioning
// "xl" is treated as SDXL.
func GuessArch(name string) string {
	if strings.Contains(strings.ToLower(name), "xl") {
		return ArchSDXL
	}
	return ArchSD
}
