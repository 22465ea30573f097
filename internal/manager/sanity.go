package manager

import "os"

// SanityReport describes runtime checks for collaborators.
type SanityReport struct {
	Backend       string `json:"backend"`
	BackendOK     bool   `json:"backend_ok"`
	RepositoryOK  bool   `json:"repository_ok"`
	HostMemoryOK  bool   `json:"host_memory_ok"`
	CheckpointDir string `json:"checkpoint_dir,omitempty"`
	Error         string `json:"error,omitempty"`
}

type dirReporter interface{ Dir() string }

// SanityCheck validates that the configured collaborators are usable.
// It does not mutate state and is safe to call at any time.
func (m *Manager) SanityCheck() SanityReport {
	var r SanityReport
	if m.backend == nil {
		r.Error = "no inference backend configured"
	} else {
		r.Backend = m.backend.Name()
		r.BackendOK = true
	}
	if m.repo != nil {
		r.RepositoryOK = true
	} else if r.Error == "" {
		r.Error = "no image repository configured"
	}
	if m.hostMem != nil {
		_, _, err := m.hostMem.Stat()
		r.HostMemoryOK = err == nil
	}
	if d, ok := m.checkpoints.(dirReporter); ok {
		r.CheckpointDir = d.Dir()
		if fi, err := os.Stat(d.Dir()); err == nil && !fi.IsDir() && r.Error == "" {
			r.Error = "checkpoint path is not a directory: " + d.Dir()
		}
	}
	return r
}
