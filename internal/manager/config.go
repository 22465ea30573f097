package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"imaged/internal/engine"
	"imaged/internal/storage"
	"imaged/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultLeaseWait     = 30 * time.Second
	defaultUploadWorkers = 4
	defaultHostRAMBuffer = 0.25
)

// Resolver maps a model or overlay reference to a local path.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// ManagerConfig encapsulates all tunables and collaborators for Manager
// construction.
type ManagerConfig struct {
	Backend engine.Backend
	// Checkpoints resolves base model references; Overlays resolves overlay
	// weights. nil means references are used as given.
	Checkpoints Resolver
	Overlays    Resolver
	Safety      engine.SafetyChecker
	Repository  storage.Repository
	HostMemory  HostMemory

	// Registry lists local checkpoints for /models.
	Registry     []types.Model
	DefaultModel string

	// HostRAMBuffer is the fraction of host memory kept free when demoting.
	// Negative disables the check; 0 means the default.
	HostRAMBuffer float64
	// MaxResident caps pipelines on the accelerator (0 = unlimited).
	MaxResident   int
	UploadWorkers int
	LeaseWait     time.Duration

	Logger    *zerolog.Logger
	Publisher EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		backend:      cfg.Backend,
		checkpoints:  cfg.Checkpoints,
		overlays:     cfg.Overlays,
		safety:       cfg.Safety,
		repo:         cfg.Repository,
		hostMem:      cfg.HostMemory,
		registry:     cfg.Registry,
		defaultModel: cfg.DefaultModel,
		maxResident:  cfg.MaxResident,
		cache:        NewModelCache(),
		publisher:    cfg.Publisher,
		state:        StateReady,
		startTime:    time.Now(),
	}
	switch {
	case cfg.HostRAMBuffer < 0:
		m.hostRAMBuffer = 0
	case cfg.HostRAMBuffer == 0:
		m.hostRAMBuffer = defaultHostRAMBuffer
	default:
		m.hostRAMBuffer = cfg.HostRAMBuffer
	}
	if cfg.UploadWorkers <= 0 {
		m.uploadWorkers = defaultUploadWorkers
	} else {
		m.uploadWorkers = cfg.UploadWorkers
	}
	if cfg.LeaseWait <= 0 {
		m.leaseWait = defaultLeaseWait
	} else {
		m.leaseWait = cfg.LeaseWait
	}
	if m.checkpoints == nil {
		m.checkpoints = passthroughResolver{}
	}
	if m.overlays == nil {
		m.overlays = passthroughResolver{}
	}
	if m.safety == nil {
		m.safety = engine.PassthroughSafety{}
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	} else {
		m.log = zerolog.Nop()
	}
	if m.backend == nil {
		m.state = StateError
		m.lastErr = "no inference backend configured"
	}
	return m
}

type passthroughResolver struct{}

func (passthroughResolver) Resolve(_ context.Context, ref string) (string, error) { return ref, nil }
