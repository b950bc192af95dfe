// Package modules generates the fixed set of per-session module documents.
// Every spec always ends up with an artifact: generated content when the
// backend delivers, fallback content when it does not, and emergency
// content when even that cannot be persisted.
package modules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/llm"
	"github.com/WessleyAI/pulse/engine/store"
	"github.com/WessleyAI/pulse/pkg/fn"
	"github.com/WessleyAI/pulse/pkg/metrics"
	"github.com/WessleyAI/pulse/pkg/natsutil"
)

// Options tunes the attempt loop.
type Options struct {
	Attempts       int           `yaml:"attempts"`
	Backoff        time.Duration `yaml:"backoff"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	MinLength      int           `yaml:"min_length"`
	Concurrency    int           `yaml:"concurrency"`
	MaxTokens      int           `yaml:"max_tokens"`
}

func DefaultOptions() Options {
	return Options{
		Attempts:       3,
		Backoff:        2 * time.Second,
		AttemptTimeout: 5 * time.Minute,
		MinLength:      500,
		Concurrency:    4,
		MaxTokens:      8000,
	}
}

// Passages retrieves evidence relevant to a module.
type Passages interface {
	Passages(ctx context.Context, sessionID, query string) ([]string, error)
}

// Deps are the generator's collaborators. Gen may be nil, which sends
// every module straight to fallback content.
type Deps struct {
	Gen      llm.Generator
	Sessions *store.Sessions
	Specs    []domain.ModuleSpec
	Evidence Passages
	Bus      *natsutil.Bus
	Metrics  *metrics.Pipeline
	Logger   *slog.Logger
	Now      func() time.Time
}

// Generator produces module artifacts for a session.
type Generator struct {
	d     Deps
	opts  Options
	log   *slog.Logger
	now   func() time.Time
	write func(path string, data []byte) error
}

func New(d Deps, opts Options) *Generator {
	def := DefaultOptions()
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = def.AttemptTimeout
	}
	if opts.MinLength <= 0 {
		opts.MinLength = def.MinLength
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if d.Specs == nil {
		d.Specs = DefaultSpecs()
	}
	g := &Generator{d: d, opts: opts, log: d.Logger, now: d.Now, write: store.WriteFileAtomic}
	if g.log == nil {
		g.log = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Specs returns the module set this generator delivers.
func (g *Generator) Specs() []domain.ModuleSpec { return g.d.Specs }

// ModuleEvent is published once per artifact.
type ModuleEvent struct {
	SessionID string                  `json:"session_id"`
	Module    string                  `json:"module"`
	Method    domain.GenerationMethod `json:"method"`
	Attempts  int                     `json:"attempts"`
	SizeBytes int64                   `json:"size_bytes"`
	Error     string                  `json:"error,omitempty"`
}

// Generate produces one artifact per spec and records them in
// modules/manifest.json. Entries for modules outside this generator's
// specs are kept, so a partial regenerate never hides earlier degradation.
// Generation runs concurrently; reconciliation runs afterwards even when
// ctx is cancelled. The only error is failing to create the modules
// directory or a missing session.
func (g *Generator) Generate(ctx context.Context, sessionID string) (domain.GenerationResult, error) {
	res := domain.GenerationResult{SessionID: sessionID, StartedAt: g.now().UTC()}
	if _, err := g.d.Sessions.Require(sessionID); err != nil {
		return res, fmt.Errorf("modules: %w", err)
	}
	dir := g.d.Sessions.Path(sessionID, store.ModulesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, fmt.Errorf("modules: %w: %v", domain.ErrStorageUnavailable, err)
	}

	bd := LoadBaseData(g.d.Sessions, sessionID)
	log := g.log.With("session", sessionID)
	log.Info("module generation started", "modules", len(g.d.Specs), "concurrency", g.opts.Concurrency)

	artifacts := make([]domain.ModuleArtifact, len(g.d.Specs))
	var eg errgroup.Group
	eg.SetLimit(g.opts.Concurrency)
	for i, spec := range g.d.Specs {
		eg.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					// Left unset; reconciliation fills the slot.
					log.Error("module generation panicked", "module", spec.Name, "panic", r)
				}
			}()
			artifacts[i] = g.generateOne(ctx, dir, spec, bd)
			return nil
		})
	}
	_ = eg.Wait()

	rctx := context.WithoutCancel(ctx)
	res.Artifacts, res.Reconciled = g.reconcile(dir, bd, artifacts)
	res.CompletedAt = g.now().UTC()
	for _, a := range res.Artifacts {
		g.record(rctx, sessionID, a)
	}

	manifest := res
	if prev, err := LoadManifest(g.d.Sessions, sessionID); err == nil {
		manifest = mergeManifest(prev, res)
	}
	if err := g.d.Sessions.WriteJSON(sessionID, filepath.Join(store.ModulesDir, store.ManifestFile), manifest); err != nil {
		log.Error("module manifest not written", "err", err)
	}
	log.Info("module generation done",
		"primary", res.Count(domain.MethodPrimary),
		"fallback", res.Count(domain.MethodFallback),
		"emergency", res.Count(domain.MethodEmergency),
		"reconciled", len(res.Reconciled),
	)
	return res, nil
}

// generateOne runs Pending → Attempting → {Succeeded, Exhausted →
// FallbackApplied} for one module, then persists the result.
func (g *Generator) generateOne(ctx context.Context, dir string, spec domain.ModuleSpec, bd BaseData) domain.ModuleArtifact {
	log := g.log.With("session", bd.SessionID, "module", spec.Name)
	art := domain.ModuleArtifact{Name: spec.Name, Path: filepath.Join(dir, spec.Name+".md")}

	content, attempts, err := g.attempt(ctx, spec, bd)
	art.Attempts = attempts
	if err == nil {
		art.Method, art.Content = domain.MethodPrimary, content
	} else {
		log.Warn("generation exhausted, applying fallback", "attempts", attempts, "err", err)
		art.Method, art.Error = domain.MethodFallback, err.Error()
		art.Content = FallbackContent(spec, bd, g.now())
	}

	size, werr := g.persist(art.Path, art.Content)
	if werr != nil {
		log.Error("module not persisted, writing emergency content", "err", werr)
		reason := werr.Error()
		if art.Error != "" {
			reason = art.Error + "; " + reason
		}
		art.Method, art.Error = domain.MethodEmergency, reason
		art.Content = EmergencyContent(spec, bd.SessionID, reason, g.now())
		size, werr = g.persist(art.Path, art.Content)
		if werr != nil {
			// Reconciliation retries this slot.
			log.Error("emergency content not persisted", "err", werr)
			art.Error += "; " + werr.Error()
		}
	}
	art.SizeBytes = size
	return art
}

// attempt runs the retry loop and returns the accepted content, the number
// of attempts made and the last failure.
func (g *Generator) attempt(ctx context.Context, spec domain.ModuleSpec, bd BaseData) (string, int, error) {
	if g.d.Gen == nil {
		return "", 0, fmt.Errorf("%w: no generation backend configured", domain.ErrGenerationSoftFailure)
	}

	prompt := Prompt(spec, bd, g.passages(ctx, bd.SessionID, spec))
	opts := llm.Options{UseActiveSearch: spec.RequiresActiveSearch, MaxTokens: g.opts.MaxTokens}

	attempts := 0
	retry := fn.FixedRetry(g.opts.Attempts, g.opts.Backoff)
	retry.OnFailure = func(n int, err error) {
		g.log.Debug("generation attempt failed", "session", bd.SessionID, "module", spec.Name, "attempt", n, "err", err)
	}
	out, err := fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[string] {
		attempts++
		actx, cancel := context.WithTimeout(ctx, g.opts.AttemptTimeout)
		defer cancel()
		text, err := g.d.Gen.Generate(actx, prompt, opts)
		if err != nil {
			g.d.Metrics.GenerationAttempt("error")
			return fn.Err[string](fmt.Errorf("%w: %v", domain.ErrGenerationSoftFailure, err))
		}
		text = strings.TrimSpace(text)
		if n := len([]rune(text)); n < g.opts.MinLength {
			g.d.Metrics.GenerationAttempt("too_short")
			return fn.Err[string](fmt.Errorf("%w: %d chars, need %d", domain.ErrGenerationSoftFailure, n, g.opts.MinLength))
		}
		g.d.Metrics.GenerationAttempt("ok")
		return fn.Ok(text)
	}).Unwrap()
	return out, attempts, err
}

func (g *Generator) passages(ctx context.Context, sessionID string, spec domain.ModuleSpec) []string {
	if g.d.Evidence == nil {
		return nil
	}
	ps, err := g.d.Evidence.Passages(ctx, sessionID, spec.Title+": "+spec.Description)
	if err != nil {
		g.log.Debug("no evidence passages", "session", sessionID, "module", spec.Name, "err", err)
		return nil
	}
	return ps
}

// persist writes atomically and verifies the file landed with content.
func (g *Generator) persist(path, content string) (int64, error) {
	if err := g.write(path, []byte(content)); err != nil {
		return 0, err
	}
	return store.Verify(path)
}

// reconcile re-scans every spec. Any slot that is unset or whose file is
// missing or empty is force-filled with emergency content.
func (g *Generator) reconcile(dir string, bd BaseData, artifacts []domain.ModuleArtifact) ([]domain.ModuleArtifact, []string) {
	var reconciled []string
	for i, spec := range g.d.Specs {
		a := artifacts[i]
		path := filepath.Join(dir, spec.Name+".md")

		reason := "module missing from the produced set"
		if a.Name != "" {
			reason = ""
			if _, err := store.Verify(path); err != nil {
				reason = err.Error()
			}
		}
		if reason == "" {
			continue
		}

		g.log.Warn("reconciling module", "session", bd.SessionID, "module", spec.Name, "reason", reason)
		content := EmergencyContent(spec, bd.SessionID, reason, g.now())
		a = domain.ModuleArtifact{
			Name:     spec.Name,
			Path:     path,
			Method:   domain.MethodEmergency,
			Attempts: a.Attempts,
			Error:    reason,
			Content:  content,
		}
		size, err := g.persist(path, content)
		if err != nil {
			g.log.Error("reconciliation write failed", "session", bd.SessionID, "module", spec.Name, "err", err)
			a.Error += "; " + err.Error()
		}
		a.SizeBytes = size
		artifacts[i] = a
		reconciled = append(reconciled, spec.Name)
	}
	return artifacts, reconciled
}

func (g *Generator) record(ctx context.Context, sessionID string, a domain.ModuleArtifact) {
	g.d.Metrics.ModuleArtifact(string(a.Method))
	ev := ModuleEvent{
		SessionID: sessionID,
		Module:    a.Name,
		Method:    a.Method,
		Attempts:  a.Attempts,
		SizeBytes: a.SizeBytes,
		Error:     a.Error,
	}
	if err := natsutil.Emit(ctx, g.d.Bus, ev, sessionID, "module", a.Name); err != nil {
		g.log.Debug("module event not published", "module", a.Name, "err", err)
	}
}

// mergeManifest replaces prev's entries by module name with cur's and keeps
// the rest in their original order.
func mergeManifest(prev, cur domain.GenerationResult) domain.GenerationResult {
	fresh := make(map[string]domain.ModuleArtifact, len(cur.Artifacts))
	for _, a := range cur.Artifacts {
		fresh[a.Name] = a
	}
	out := cur
	out.Artifacts = make([]domain.ModuleArtifact, 0, len(prev.Artifacts)+len(cur.Artifacts))
	for _, a := range prev.Artifacts {
		if n, ok := fresh[a.Name]; ok {
			a = n
			delete(fresh, a.Name)
		}
		out.Artifacts = append(out.Artifacts, a)
	}
	for _, a := range cur.Artifacts {
		if _, ok := fresh[a.Name]; ok {
			out.Artifacts = append(out.Artifacts, a)
		}
	}

	out.Reconciled = nil
	for _, name := range prev.Reconciled {
		if !slices.ContainsFunc(cur.Artifacts, func(a domain.ModuleArtifact) bool { return a.Name == name }) {
			out.Reconciled = append(out.Reconciled, name)
		}
	}
	out.Reconciled = append(out.Reconciled, cur.Reconciled...)
	if !prev.StartedAt.IsZero() && prev.StartedAt.Before(out.StartedAt) {
		out.StartedAt = prev.StartedAt
	}
	return out
}

// LoadManifest reads the generation result persisted for a session.
func LoadManifest(s *store.Sessions, sessionID string) (domain.GenerationResult, error) {
	var res domain.GenerationResult
	err := s.ReadJSON(sessionID, filepath.Join(store.ModulesDir, store.ManifestFile), &res)
	return res, err
}
