package manager

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// Event names.
const (
	EventLoadStart             = "load_start"
	EventLoadDone              = "load_done"
	EventLoadError             = "load_error"
	EventLease                 = "lease"
	EventDemote                = "demote"
	EventDiscard               = "discard"
	EventPromote               = "promote"
	EventOOMRetry              = "oom_retry"
	EventResourceExhausted     = "resource_exhausted"
	EventOverlayTeardownFailed = "overlay_teardown_failed"
	EventSchedulerOverride     = "scheduler_override"
	EventUnloadStart           = "unload_start"
	EventUnloadDone            = "unload_done"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// SetEventPublisher replaces the event sink. nil restores the default.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

func (m *Manager) publish(name string, key ModelKey, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["arch"] = key.Arch
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	p.Publish(Event{Name: name, ModelID: key.Model, Fields: fields})
}
