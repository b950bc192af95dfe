package metrics

import "time"

// Pipeline is the metric set shared by the research pipeline components.
// A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	reg *Registry
}

// NewPipeline registers pipeline metrics on reg.
func NewPipeline(reg *Registry) *Pipeline {
	p := &Pipeline{reg: reg}
	reg.Counter("pulse_sessions_total", "Research sessions started")
	reg.Histogram("pulse_phase_duration_seconds", "Collection phase latency", nil)
	reg.Counter("pulse_phase_errors_total", "Collection phases that ended with an error marker")
	reg.Counter("pulse_fetch_total", "Content fetch outcomes")
	reg.Counter("pulse_module_artifacts_total", "Module artifacts by generation method")
	reg.Counter("pulse_generation_attempts_total", "Generation attempts by outcome")
	reg.Gauge("pulse_breaker_open", "1 while the named circuit breaker is open")
	return p
}

// Registry returns the underlying registry, nil for a nil Pipeline.
func (p *Pipeline) Registry() *Registry {
	if p == nil {
		return nil
	}
	return p.reg
}

func (p *Pipeline) SessionStarted() {
	if p == nil {
		return
	}
	p.reg.Counter("pulse_sessions_total", "").Inc()
}

// PhaseDone records a phase's duration and whether it failed.
func (p *Pipeline) PhaseDone(phase string, start time.Time, failed bool) {
	if p == nil {
		return
	}
	p.reg.Histogram(WithLabels("pulse_phase_duration_seconds", "phase", phase), "", nil).Since(start)
	if failed {
		p.reg.Counter(WithLabels("pulse_phase_errors_total", "phase", phase), "").Inc()
	}
}

// Fetch records one executor outcome: ok, too_short or failed.
func (p *Pipeline) Fetch(outcome string) {
	if p == nil {
		return
	}
	p.reg.Counter(WithLabels("pulse_fetch_total", "outcome", outcome), "").Inc()
}

func (p *Pipeline) ModuleArtifact(method string) {
	if p == nil {
		return
	}
	p.reg.Counter(WithLabels("pulse_module_artifacts_total", "method", method), "").Inc()
}

func (p *Pipeline) GenerationAttempt(outcome string) {
	if p == nil {
		return
	}
	p.reg.Counter(WithLabels("pulse_generation_attempts_total", "outcome", outcome), "").Inc()
}

// BreakerOpen sets the open gauge for a named breaker.
func (p *Pipeline) BreakerOpen(name string, open bool) {
	if p == nil {
		return
	}
	var v int64
	if open {
		v = 1
	}
	p.reg.Gauge(WithLabels("pulse_breaker_open", "breaker", name), "").Set(v)
}
