// Package registry lists the checkpoints already present on local disk so
// clients can pick one without triggering a download.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"imaged/internal/common/fsutil"
	"imaged/internal/engine"
	"imaged/pkg/types"
)

// weightExts are the single-file formats the service can load.
var weightExts = []string{".safetensors"}

// LoadDir scans dir (non-recursively) for weight files. The ID is the file
// name without extension, Path is absolute and Arch is guessed from the
// name. A missing directory yields an empty registry.
func LoadDir(dir string) ([]types.Model, error) {
	abs, err := fsutil.AbsDir(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !slices.Contains(weightExts, ext) || strings.Contains(name, "-partial-") {
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		m := types.Model{
			ID:   id,
			Name: strings.NewReplacer("_", " ", "-", " ").Replace(id),
			Path: filepath.Join(abs, name),
			Arch: engine.GuessArch(id),
		}
		if fi, err := e.Info(); err == nil {
			m.SizeBytes = fi.Size()
		}
		models = append(models, m)
	}
	return models, nil
}
