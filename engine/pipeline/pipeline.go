// Package pipeline runs one research session end to end: collection,
// synthesis, module generation, report compilation and indexing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/report"
	"github.com/WessleyAI/pulse/engine/store"
	"github.com/WessleyAI/pulse/engine/synthesis"
	"github.com/WessleyAI/pulse/pkg/fn"
	"github.com/WessleyAI/pulse/pkg/metrics"
	"github.com/WessleyAI/pulse/pkg/natsutil"
)

// Step names, also used as event subject tokens and span names.
const (
	StepCollect    = "collect"
	StepSynthesize = "synthesize"
	StepGenerate   = "generate"
	StepCompile    = "compile"
	StepIndex      = "index"
)

type Collector interface {
	Collect(ctx context.Context, sessionID, query string, qctx map[string]string) (domain.CollectionRecord, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, sessionID string) (synthesis.Synthesis, error)
}

type ModuleGenerator interface {
	Generate(ctx context.Context, sessionID string) (domain.GenerationResult, error)
}

type Compiler interface {
	Compile(sessionID string) (report.Result, error)
}

// SessionIndex records session status; *store.Index satisfies it.
type SessionIndex interface {
	Upsert(ctx context.Context, r store.SessionRow) error
}

// ModuleSink records module provenance; *graph.GraphStore satisfies it.
type ModuleSink interface {
	RecordModules(ctx context.Context, res domain.GenerationResult) error
}

// Deps carries every collaborator of a run. Sessions, Collector,
// Generator and Compiler are required; the rest may be nil.
type Deps struct {
	Sessions    *store.Sessions
	Collector   Collector
	Synthesizer Synthesizer
	Generator   ModuleGenerator
	Compiler    Compiler
	Index       SessionIndex
	Graph       ModuleSink
	Bus         *natsutil.Bus
	Metrics     *metrics.Pipeline
	Logger      *slog.Logger
	Now         func() time.Time
	NewID       func() string
}

// Request is the caller's input.
type Request struct {
	Query     string            `json:"query"`
	Context   map[string]string `json:"context,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
}

// Outcome is what a finished run hands back.
type Outcome struct {
	SessionID    string                          `json:"session_id"`
	ReportPath   string                          `json:"report_path"`
	CompletePath string                          `json:"complete_path"`
	Statistics   domain.ReportStatistics         `json:"statistics"`
	Collection   domain.Statistics               `json:"collection"`
	Degraded     []domain.DegradedModule         `json:"degraded,omitempty"`
	Methods      map[domain.GenerationMethod]int `json:"methods"`
}

// StepEvent is published on <prefix>.<session>.<step> after every step.
type StepEvent struct {
	SessionID  string `json:"session_id"`
	Step       string `json:"step"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Pipeline is the explicit context object passed to each run.
type Pipeline struct {
	d   Deps
	log *slog.Logger
	run fn.Stage[*session, *session]
}

// session is the state threaded through the stages.
type session struct {
	id        string
	req       Request
	createdAt time.Time
	record    domain.CollectionRecord
	modules   domain.GenerationResult
	report    report.Result
	degraded  []string
}

func New(d Deps) *Pipeline {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	p := &Pipeline{d: d, log: d.Logger}

	collect := p.step(StepCollect, p.collect)
	synth := p.step(StepSynthesize, p.synthesize)
	gen := p.step(StepGenerate, p.generate)
	compile := p.step(StepCompile, p.compile)
	index := p.step(StepIndex, p.index)
	p.run = fn.Then(fn.Then(fn.Then(fn.Then(collect, synth), gen), compile), index)
	return p
}

// Run validates req, creates session storage and runs every step. Storage
// creation is the one fatal precondition; later step failures degrade
// unless they leave nothing to compile.
func (p *Pipeline) Run(ctx context.Context, req Request) (Outcome, error) {
	if err := domain.ValidateQuery(req.Query); err != nil {
		return Outcome{}, err
	}
	if err := domain.ValidateContext(req.Context); err != nil {
		return Outcome{}, err
	}
	id := req.SessionID
	if id == "" {
		id = p.d.NewID()
	}
	if p.d.Sessions == nil {
		return Outcome{}, fmt.Errorf("pipeline: %w", domain.ErrStorageUnavailable)
	}
	if _, err := p.d.Sessions.Create(id); err != nil {
		return Outcome{SessionID: id}, fmt.Errorf("pipeline: %w", err)
	}

	s := &session{id: id, req: req, createdAt: p.d.Now().UTC()}
	log := p.log.With("session", id)
	p.d.Metrics.SessionStarted()
	p.upsert(ctx, s, store.StatusRunning, "")
	log.Info("research session started", "query", req.Query)

	out, err := p.run(ctx, s).Unwrap()
	if err != nil {
		p.upsert(context.WithoutCancel(ctx), s, store.StatusFailed, err.Error())
		log.Error("research session failed", "err", err)
		return Outcome{SessionID: id}, err
	}

	res := Outcome{
		SessionID:    id,
		ReportPath:   out.report.Final.Path,
		CompletePath: out.report.Complete.Path,
		Statistics:   out.report.Final.Statistics,
		Collection:   out.record.Statistics,
		Degraded:     out.report.Final.Degraded,
		Methods: map[domain.GenerationMethod]int{
			domain.MethodPrimary:   out.modules.Count(domain.MethodPrimary),
			domain.MethodFallback:  out.modules.Count(domain.MethodFallback),
			domain.MethodEmergency: out.modules.Count(domain.MethodEmergency),
		},
	}
	log.Info("research session completed",
		"report", res.ReportPath,
		"success_rate", res.Statistics.SuccessRate,
		"degraded", len(res.Degraded),
		"degraded_steps", out.degraded,
	)
	return res, nil
}

// step wraps f as a traced stage that records metrics and publishes a
// StepEvent.
func (p *Pipeline) step(name string, f func(context.Context, *session) error) fn.Stage[*session, *session] {
	return fn.TracedStage("pipeline."+name, func(ctx context.Context, s *session) fn.Result[*session] {
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("pulse.session", s.id),
			attribute.String("pulse.step", name),
		)
		start := time.Now()
		err := f(ctx, s)
		p.d.Metrics.PhaseDone(name, start, err != nil)

		ev := StepEvent{SessionID: s.id, Step: name, Status: "ok", DurationMS: time.Since(start).Milliseconds()}
		if err != nil {
			ev.Status, ev.Error = "failed", err.Error()
		}
		if perr := natsutil.Emit(context.WithoutCancel(ctx), p.d.Bus, ev, s.id, name); perr != nil {
			p.log.Debug("step event not published", "session", s.id, "step", name, "err", perr)
		}
		if err != nil {
			return fn.Err[*session](fmt.Errorf("pipeline: %s: %w", name, err))
		}
		return fn.Ok(s)
	})
}

func (p *Pipeline) collect(ctx context.Context, s *session) error {
	rec, err := p.d.Collector.Collect(ctx, s.id, s.req.Query, s.req.Context)
	if err != nil {
		return err
	}
	s.record = rec
	return nil
}

// synthesize never fails the run; modules and the report tolerate a
// missing synthesis.
func (p *Pipeline) synthesize(ctx context.Context, s *session) error {
	if p.d.Synthesizer == nil {
		return nil
	}
	syn, err := p.d.Synthesizer.Synthesize(ctx, s.id)
	if err != nil {
		p.log.Warn("synthesis unavailable, continuing", "session", s.id, "err", err)
		s.degraded = append(s.degraded, StepSynthesize)
		return nil
	}
	if syn.Fallback() {
		s.degraded = append(s.degraded, StepSynthesize)
	}
	return nil
}

func (p *Pipeline) generate(ctx context.Context, s *session) error {
	res, err := p.d.Generator.Generate(ctx, s.id)
	if err != nil {
		return err
	}
	s.modules = res
	if p.d.Graph != nil {
		if gerr := p.d.Graph.RecordModules(ctx, res); gerr != nil {
			p.log.Warn("module provenance not recorded", "session", s.id, "err", gerr)
		}
	}
	return nil
}

// compile takes no context: a cancelled session still gets its report
// over whatever modules exist.
func (p *Pipeline) compile(_ context.Context, s *session) error {
	res, err := p.d.Compiler.Compile(s.id)
	if err != nil {
		return err
	}
	s.report = res
	return nil
}

func (p *Pipeline) index(ctx context.Context, s *session) error {
	p.upsert(context.WithoutCancel(ctx), s, store.StatusCompleted, "")
	return nil
}

// upsert is best effort: the index only serves listings and pruning.
func (p *Pipeline) upsert(ctx context.Context, s *session, status, errMsg string) {
	if p.d.Index == nil {
		return
	}
	row := store.SessionRow{
		ID:          s.id,
		Query:       s.req.Query,
		Status:      status,
		Error:       errMsg,
		ReportPath:  s.report.Final.Path,
		SuccessRate: s.report.Final.Statistics.SuccessRate,
		CreatedAt:   s.createdAt,
		UpdatedAt:   p.d.Now().UTC(),
	}
	if !s.record.CompletedAt.IsZero() {
		stats := s.record.Statistics
		row.Statistics = &stats
	}
	if err := p.d.Index.Upsert(ctx, row); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn("session index not updated", "session", s.id, "status", status, "err", err)
	}
}
