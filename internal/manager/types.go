package manager

import (
	"container/list"
	"time"

	"imaged/internal/engine"
)

// State represents lifecycle state of the manager.
type State string

const (
	StateReady   State = "ready"
	StateLoading State = "loading"
	StateError   State = "error"
	StateClosed  State = "closed"
)

// ModelKey identifies a cache entry: the resolved model reference plus the
// pipeline architecture it was loaded as.
type ModelKey struct {
	Model string
	Arch  string
}

func (k ModelKey) String() string { return k.Arch + ":" + k.Model }

// Tier is where an entry's weights currently live.
type Tier int

const (
	TierHost Tier = iota
	TierAccelerator
)

func (t Tier) String() string {
	if t == TierAccelerator {
		return "accelerator"
	}
	return "host"
}

func tierOf(d engine.Device) Tier {
	if d == engine.CUDA {
		return TierAccelerator
	}
	return TierHost
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State   State
	Entries int
	Err     string
}

// Entry owns one pipeline. All fields except slot are guarded by the cache
// mutex; slot is a size-1 channel that holds the exclusive lease.
type Entry struct {
	key      ModelKey
	pipeline engine.Pipeline
	tier     Tier
	stamp    uint64
	lastUsed time.Time
	elem     *list.Element

	slot      chan struct{}
	leased    bool
	destroyed bool
}

// Key returns the entry's identity.
func (e *Entry) Key() ModelKey { return e.key }
