package engine

import (
	"maps"
	"reflect"
	"slices"
)

// LCMClass is not reported in any pipeline's compatible set even though it
// works with all of them, so it is always accepted.
const LCMClass = "LCMScheduler"

// Scheduler is a sampler instance attached to a pipeline. Instances are
// treated as immutable values: overrides build a new one with Derive.
type Scheduler struct {
	// Class is the sampler implementation, e.g. "EulerDiscreteScheduler".
	Class string
	// Config is the sampler configuration (timesteps, beta schedule, ...).
	Config map[string]any
	// Compatibles lists the sampler classes the owning pipeline accepts.
	Compatibles []string
}

// Derive returns a fresh sampler of class built from s's configuration with
// overrides applied on top. s is left untouched.
func (s *Scheduler) Derive(class string, overrides map[string]any) *Scheduler {
	cfg := make(map[string]any, len(s.Config)+len(overrides))
	maps.Copy(cfg, s.Config)
	maps.Copy(cfg, overrides)
	return &Scheduler{
		Class:       class,
		Config:      cfg,
		Compatibles: slices.Clone(s.Compatibles),
	}
}

// Accepts reports whether class may replace s on its pipeline.
func (s *Scheduler) Accepts(class string) bool {
	return class == LCMClass || slices.Contains(s.Compatibles, class)
}

// Equal reports whether two samplers have the same class and configuration.
func (s *Scheduler) Equal(o *Scheduler) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Class == o.Class &&
		reflect.DeepEqual(s.Config, o.Config) &&
		slices.Equal(s.Compatibles, o.Compatibles)
}

// SchedulerSpec maps a user-facing sampler name to a class and parameters.
type SchedulerSpec struct {
	Class  string
	Params map[string]any
}

var supportedSchedulers = map[string]SchedulerSpec{
	"DPM++ 2M":            {Class: "DPMSolverMultistepScheduler"},
	"DPM++ 2M Karras":     {Class: "DPMSolverMultistepScheduler", Params: map[string]any{"use_karras_sigmas": true}},
	"DPM++ 2M SDE":        {Class: "DPMSolverMultistepScheduler", Params: map[string]any{"algorithm_type": "sde-dpmsolver++"}},
	"DPM++ 2M SDE Karras": {Class: "DPMSolverMultistepScheduler", Params: map[string]any{"algorithm_type": "sde-dpmsolver++", "use_karras_sigmas": true}},
	"Euler":               {Class: "EulerDiscreteScheduler"},
	"Euler A":             {Class: "EulerAncestralDiscreteScheduler"},
	"LCM":                 {Class: LCMClass},
}

// LookupScheduler returns the spec for a supported sampler name.
func LookupScheduler(name string) (SchedulerSpec, bool) {
	s, ok := supportedSchedulers[name]
	return s, ok
}

// SchedulerNames returns the supported sampler names in sorted order.
func SchedulerNames() []string {
	return slices.Sorted(maps.Keys(supportedSchedulers))
}
