// Package report merges a session's module artifacts, collection summary
// and synthesis into the final and complete report documents.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/WessleyAI/pulse/engine/capture"
	"github.com/WessleyAI/pulse/engine/collect"
	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/modules"
	"github.com/WessleyAI/pulse/engine/store"
	"github.com/WessleyAI/pulse/engine/synthesis"
)

const (
	// MinModuleChars is the smallest module body that counts as produced.
	MinModuleChars = 100
	// MinPages floors the estimated page count.
	MinPages = 25
)

const (
	charsPerPage      = 2000
	rawExcerptChars   = 5000
	synthExcerptChars = 3000
)

// Compiler writes report documents for stored sessions.
type Compiler struct {
	sessions *store.Sessions
	specs    []domain.ModuleSpec
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Compiler over specs; nil specs means the default set.
// now may be nil.
func New(sessions *store.Sessions, specs []domain.ModuleSpec, logger *slog.Logger, now func() time.Time) *Compiler {
	if specs == nil {
		specs = modules.DefaultSpecs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Compiler{sessions: sessions, specs: specs, log: logger, now: now}
}

// Result is what one compilation wrote. It is also persisted as
// report_stats.json.
type Result struct {
	SessionID string                `json:"session_id"`
	Final     domain.CompiledReport `json:"final"`
	Complete  domain.CompiledReport `json:"complete"`
}

// section is one module slot in spec order.
type section struct {
	spec    domain.ModuleSpec
	content string
	path    string
	loaded  bool
}

// input is everything a compilation reads from the session directory.
type input struct {
	sessionID   string
	summary     *domain.CollectionSummary
	synthesis   *synthesis.Synthesis
	synthRaw    string
	rawReport   string
	screenshots []string
	sections    []section
	stats       domain.ReportStatistics
	degraded    []domain.DegradedModule
	missing     []string
	compiledAt  time.Time
}

// Compile writes report_final.md, report_complete.md and
// report_stats.json. Missing modules become placeholder sections; only a
// missing session or an unwritable session directory is an error.
func (c *Compiler) Compile(sessionID string) (Result, error) {
	if _, err := c.sessions.Require(sessionID); err != nil {
		return Result{}, fmt.Errorf("report: %w", err)
	}
	in := c.load(sessionID)
	log := c.log.With("session", sessionID)

	final := domain.CompiledReport{
		SessionID:  sessionID,
		Variant:    domain.VariantFinal,
		Path:       c.sessions.Path(sessionID, store.FinalReport),
		Statistics: in.stats,
		Degraded:   in.degraded,
		Missing:    in.missing,
		CompiledAt: in.compiledAt,
	}
	complete := final
	complete.Variant = domain.VariantComplete
	complete.Path = c.sessions.Path(sessionID, store.CompleteReport)

	if err := c.sessions.WriteFile(sessionID, store.FinalReport, []byte(renderFinal(in))); err != nil {
		return Result{}, fmt.Errorf("report: write final: %w", err)
	}
	if err := c.sessions.WriteFile(sessionID, store.CompleteReport, []byte(renderComplete(in))); err != nil {
		return Result{}, fmt.Errorf("report: write complete: %w", err)
	}
	res := Result{SessionID: sessionID, Final: final, Complete: complete}
	if err := c.sessions.WriteJSON(sessionID, store.ReportStatsFile, res); err != nil {
		return Result{}, fmt.Errorf("report: write stats: %w", err)
	}

	log.Info("report compiled",
		"produced", in.stats.ProducedModules,
		"total", in.stats.TotalModules,
		"degraded", in.stats.DegradedModules,
		"pages", in.stats.EstimatedPages,
	)
	return res, nil
}

func (c *Compiler) load(sessionID string) input {
	in := input{sessionID: sessionID, compiledAt: c.now().UTC()}

	if sum, err := collect.LoadSummary(c.sessions, sessionID); err == nil {
		in.summary = &sum
	}
	if syn, err := synthesis.Load(c.sessions, sessionID); err == nil {
		in.synthesis = &syn
	}
	if b, err := c.sessions.ReadFile(sessionID, store.SynthesisFile); err == nil {
		in.synthRaw = string(b)
	}
	if b, err := c.sessions.ReadFile(sessionID, store.ReportFile); err == nil {
		in.rawReport = string(b)
	}
	in.screenshots = c.screenshots(sessionID)

	methods := map[string]domain.ModuleArtifact{}
	if manifest, err := modules.LoadManifest(c.sessions, sessionID); err == nil {
		for _, a := range manifest.Artifacts {
			methods[a.Name] = a
		}
	} else {
		c.log.Debug("report: no module manifest", "session", sessionID, "err", err)
	}

	total := 0
	for _, spec := range c.specs {
		rel := filepath.Join(store.ModulesDir, spec.Name+".md")
		sec := section{spec: spec, path: filepath.ToSlash(filepath.Join(sessionID, rel))}
		if b, err := os.ReadFile(c.sessions.Path(sessionID, rel)); err == nil {
			if body := strings.TrimSpace(string(b)); utf8.RuneCountInString(body) > MinModuleChars {
				sec.content, sec.loaded = body, true
				total += utf8.RuneCountInString(body)
			}
		}
		if !sec.loaded {
			in.missing = append(in.missing, spec.Name)
		}
		if a, ok := methods[spec.Name]; ok && a.Method.Degraded() {
			in.degraded = append(in.degraded, domain.DegradedModule{Name: spec.Name, Method: a.Method, Error: a.Error})
		}
		in.sections = append(in.sections, sec)
	}

	produced := len(c.specs) - len(in.missing)
	in.stats = domain.ReportStatistics{
		TotalModules:    len(c.specs),
		ProducedModules: produced,
		MissingModules:  len(in.missing),
		TotalCharacters: total,
		EstimatedPages:  max(MinPages, total/charsPerPage),
		Screenshots:     len(in.screenshots),
		DegradedModules: len(in.degraded),
	}
	if len(c.specs) > 0 {
		in.stats.SuccessRate = float64(produced) / float64(len(c.specs)) * 100
	}
	return in
}

// screenshots lists captured images relative to the session directory,
// sorted so repeated compiles agree.
func (c *Compiler) screenshots(sessionID string) []string {
	matches, err := filepath.Glob(c.sessions.Path(sessionID, capture.FilesDir, "*.png"))
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, capture.FilesDir+"/"+filepath.Base(m))
	}
	sort.Strings(out)
	return out
}

// Load reads the statistics written by the last compilation.
func Load(s *store.Sessions, sessionID string) (Result, error) {
	var res Result
	err := s.ReadJSON(sessionID, store.ReportStatsFile, &res)
	return res, err
}
