package manager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type dirResolver struct{ dir string }

func (d dirResolver) Resolve(_ context.Context, ref string) (string, error) { return ref, nil }
func (d dirResolver) Dir() string { return d.dir }

func TestSanityCheckHealthy(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, ManagerConfig{
		HostMemory:  &scriptedHostMemory{answers: []float64{0.5}},
		Checkpoints: dirResolver{dir: dir},
	})
	r := m.SanityCheck()
	if !r.BackendOK || r.Backend != "fake" || !r.RepositoryOK || !r.HostMemoryOK {
		t.Fatalf("report = %+v", r)
	}
	if r.CheckpointDir != dir || r.Error != "" {
		t.Fatalf("report = %+v", r)
	}
}

func TestSanityCheckReportsProblems(t *testing.T) {
	m := NewWithConfig(ManagerConfig{})
	t.Cleanup(func() { _ = m.Close() })
	r := m.SanityCheck()
	if r.BackendOK || r.RepositoryOK || r.Error != "no inference backend configured" {
		t.Fatalf("report = %+v", r)
	}

	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	m2 := newTestManager(t, ManagerConfig{Checkpoints: dirResolver{dir: file}})
	if r := m2.SanityCheck(); !strings.Contains(r.Error, "not a directory") || r.HostMemoryOK {
		t.Fatalf("report = %+v", r)
	}
}
