// Package synthesis studies a session's collection report with the
// generation backend and condenses it into a structured JSON synthesis.
package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/WessleyAI/pulse/engine/collect"
	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/llm"
	"github.com/WessleyAI/pulse/engine/store"
)

const (
	// MaxReportChars caps the collection report placed in the prompt.
	MaxReportChars = 50000
	defaultTokens  = 8000
)

type ExecutiveSummary struct {
	Query        string   `json:"query"`
	SourcesCount int      `json:"sources_analyzed"`
	KeyFindings  []string `json:"key_findings"`
	Confidence   string   `json:"confidence"`
}

type MarketAnalysis struct {
	MarketSize    string   `json:"market_size"`
	Trends        []string `json:"main_trends"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
}

type Avatar struct {
	Demographics   string   `json:"demographic_profile"`
	OnlineBehavior string   `json:"online_behavior"`
	Pains          []string `json:"main_pains"`
	Desires        []string `json:"desires"`
}

type StrategicInsights struct {
	Positioning     string   `json:"recommended_positioning"`
	Differentiators []string `json:"competitive_differentiators"`
	EntryStrategies []string `json:"entry_strategies"`
}

type SupportingData struct {
	Sources  []string       `json:"main_sources"`
	Metrics  map[string]any `json:"relevant_metrics"`
	Evidence []string       `json:"visual_evidence"`
	Method   string         `json:"method,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Synthesis is the structured study of one collection.
type Synthesis struct {
	ExecutiveSummary  ExecutiveSummary  `json:"executive_summary"`
	MarketAnalysis    MarketAnalysis    `json:"market_analysis"`
	DetailedAvatar    Avatar            `json:"detailed_avatar"`
	StrategicInsights StrategicInsights `json:"strategic_insights"`
	SupportingData    SupportingData    `json:"supporting_data"`
}

// Fallback reports whether the synthesis was built without the model.
func (s Synthesis) Fallback() bool { return s.SupportingData.Method == MethodFallback }

const (
	MethodModel    = "model"
	MethodFallback = "fallback"
)

// Engine runs synthesis for stored sessions.
type Engine struct {
	gen       llm.Generator
	sessions  *store.Sessions
	maxTokens int
	log       *slog.Logger
}

// New creates an Engine. gen may be nil, in which case every synthesis is
// the fallback.
func New(gen llm.Generator, sessions *store.Sessions, maxTokens int, logger *slog.Logger) *Engine {
	if maxTokens <= 0 {
		maxTokens = defaultTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{gen: gen, sessions: sessions, maxTokens: maxTokens, log: logger}
}

// Synthesize loads the session's collection report, asks the model to
// study it and persists synthesis.json. Model or parse failures degrade to
// a deterministic fallback; a missing report is ErrSessionNotFound.
func (e *Engine) Synthesize(ctx context.Context, sessionID string) (Synthesis, error) {
	raw, err := e.sessions.ReadFile(sessionID, store.ReportFile)
	if err != nil {
		return Synthesis{}, fmt.Errorf("synthesis: %w", err)
	}
	report := string(raw)
	summary, serr := collect.LoadSummary(e.sessions, sessionID)
	if serr != nil {
		e.log.Debug("synthesis: no summary", "session", sessionID, "err", serr)
	}

	syn, genErr := e.study(ctx, summary.Metadata.Query, report)
	if genErr != nil {
		e.log.Warn("synthesis: falling back", "session", sessionID, "err", genErr)
		syn = FallbackSynthesis(sessionID, report, summary)
		syn.SupportingData.Error = genErr.Error()
	}

	if err := e.sessions.WriteJSON(sessionID, store.SynthesisFile, syn); err != nil {
		return syn, fmt.Errorf("synthesis: persist: %w", err)
	}
	e.log.Info("synthesis done", "session", sessionID, "method", syn.SupportingData.Method)
	return syn, nil
}

func (e *Engine) study(ctx context.Context, query, report string) (Synthesis, error) {
	if e.gen == nil {
		return Synthesis{}, errors.New("no generation backend")
	}
	out, err := e.gen.Generate(ctx, Prompt(query, report), llm.Options{UseActiveSearch: true, MaxTokens: e.maxTokens})
	if err != nil {
		return Synthesis{}, fmt.Errorf("%w: %v", domain.ErrGenerationSoftFailure, err)
	}
	syn, err := Parse(out)
	if err != nil {
		return Synthesis{}, err
	}
	syn.SupportingData.Method = MethodModel
	return syn, nil
}

// Parse extracts the JSON object between the first '{' and the last '}'.
func Parse(response string) (Synthesis, error) {
	start, end := strings.Index(response, "{"), strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return Synthesis{}, errors.New("synthesis: no JSON object in response")
	}
	var s Synthesis
	if err := json.Unmarshal([]byte(response[start:end+1]), &s); err != nil {
		return Synthesis{}, fmt.Errorf("synthesis: decode: %w", err)
	}
	if len(s.ExecutiveSummary.KeyFindings) == 0 && s.MarketAnalysis.MarketSize == "" {
		return Synthesis{}, errors.New("synthesis: response has no findings")
	}
	return s, nil
}

// Prompt builds the study prompt. The report is cut to MaxReportChars.
func Prompt(query, report string) string {
	if r := []rune(report); len(r) > MaxReportChars {
		report = string(r[:MaxReportChars])
	}
	var b strings.Builder
	b.WriteString("You are a market analyst. Study the collection report below in full and synthesize the findings as one JSON object.\n")
	b.WriteString("Use web search whenever the report lacks current figures. Base every statement on collected or searched data.\n\n")
	if query != "" {
		fmt.Fprintf(&b, "QUERY: %s\n\n", query)
	}
	b.WriteString("COLLECTION REPORT:\n")
	b.WriteString(report)
	b.WriteString("\n\nRespond with JSON only, using exactly these keys:\n")
	b.WriteString(schemaHint)
	return b.String()
}

const schemaHint = `{
  "executive_summary": {"query": "", "sources_analyzed": 0, "key_findings": [], "confidence": "high|medium|low"},
  "market_analysis": {"market_size": "", "main_trends": [], "opportunities": [], "threats": []},
  "detailed_avatar": {"demographic_profile": "", "online_behavior": "", "main_pains": [], "desires": []},
  "strategic_insights": {"recommended_positioning": "", "competitive_differentiators": [], "entry_strategies": []},
  "supporting_data": {"main_sources": [], "relevant_metrics": {}, "visual_evidence": []}
}`

// Load reads a persisted synthesis.
func Load(sessions *store.Sessions, sessionID string) (Synthesis, error) {
	var s Synthesis
	err := sessions.ReadJSON(sessionID, store.SynthesisFile, &s)
	return s, err
}
