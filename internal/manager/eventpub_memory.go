package manager

import (
	"slices"
	"sync"
)

// MemoryPublisher stores events in-memory for tests and debugging.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Names returns the published event names in order, optionally keeping only
// those listed in filter.
func (p *MemoryPublisher) Names(filter ...string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if len(filter) > 0 && !slices.Contains(filter, e.Name) {
			continue
		}
		out = append(out, e.Name)
	}
	return out
}

// Trace renders events as "name:model" pairs, keeping only names in filter.
func (p *MemoryPublisher) Trace(filter ...string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if len(filter) > 0 && !slices.Contains(filter, e.Name) {
			continue
		}
		out = append(out, e.Name+":"+e.ModelID)
	}
	return out
}
