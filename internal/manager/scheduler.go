package manager

import (
	"imaged/internal/engine"
)

// WithScheduler runs fn with the named sampler installed on p and restores
// the original sampler instance afterwards, whether fn fails or not. An empty
// name runs fn unchanged. Unknown names are a bad request; samplers outside
// the pipeline's compatible set yield a CompatibilityError.
func (m *Manager) WithScheduler(p engine.Pipeline, name string, fn func() error) error {
	if name == "" {
		return fn()
	}
	spec, ok := engine.LookupScheduler(name)
	if !ok {
		return ErrBadRequest("unknown scheduler %q (supported: %v)", name, engine.SchedulerNames())
	}
	orig := p.Scheduler()
	if orig == nil {
		return ErrDependencyUnavailable("pipeline exposes no scheduler")
	}
	if !orig.Accepts(spec.Class) {
		return &CompatibilityError{Requested: name, Compatibles: orig.Compatibles}
	}
	p.SetScheduler(orig.Derive(spec.Class, spec.Params))
	defer p.SetScheduler(orig)
	m.log.Debug().Str("event", EventSchedulerOverride).Str("scheduler", name).Str("class", spec.Class).Msg("sampler overridden for this call")
	return fn()
}
