package manager

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// HostMemory reports system memory in bytes.
type HostMemory interface {
	Stat() (total, available uint64, err error)
}

// ProcHostMemory reads /proc/meminfo.
type ProcHostMemory struct {
	fs procfs.FS
}

// NewProcHostMemory opens procfs at mountPoint ("" means /proc).
func NewProcHostMemory(mountPoint string) (*ProcHostMemory, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcHostMemory{fs: fs}, nil
}

func (p *ProcHostMemory) Stat() (uint64, uint64, error) {
	mi, err := p.fs.Meminfo()
	if err != nil {
		return 0, 0, err
	}
	if mi.MemTotal == nil {
		return 0, 0, fmt.Errorf("meminfo: MemTotal missing")
	}
	avail := mi.MemAvailable
	if avail == nil {
		// Kernels before 3.14 do not report MemAvailable.
		avail = mi.MemFree
	}
	if avail == nil {
		return 0, 0, fmt.Errorf("meminfo: MemAvailable and MemFree missing")
	}
	return *mi.MemTotal * 1024, *avail * 1024, nil
}

// hostHeadroomOK reports whether at least hostRAMBuffer of host memory is
// free. A failed read is logged and treated as enough headroom.
func (m *Manager) hostHeadroomOK() bool {
	if m.hostRAMBuffer <= 0 || m.hostMem == nil {
		return true
	}
	total, avail, err := m.hostMem.Stat()
	if err != nil || total == 0 {
		m.log.Warn().Err(err).Msg("host memory read failed; assuming headroom")
		return true
	}
	return float64(avail)/float64(total) >= m.hostRAMBuffer
}
