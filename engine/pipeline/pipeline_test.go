package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/pulse/engine/collect"
	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/llm"
	"github.com/WessleyAI/pulse/engine/modules"
	"github.com/WessleyAI/pulse/engine/rank"
	"github.com/WessleyAI/pulse/engine/report"
	"github.com/WessleyAI/pulse/engine/store"
	"github.com/WessleyAI/pulse/engine/synthesis"
	"github.com/WessleyAI/pulse/pkg/metrics"
	"github.com/WessleyAI/pulse/pkg/natsutil"
)

type fakeWeb struct{}

func (fakeWeb) Search(_ context.Context, query string, _ map[string]string) (domain.WebSearchPhase, error) {
	return domain.WebSearchPhase{Queries: []string{query}, Results: []domain.SearchResult{
		{URL: "https://example.com/organic-coffee", Title: "Organic coffee market", Snippet: "Demand for organic beans grows", Provider: "fake"},
		{URL: "https://example.org/roasters", Title: "Top roasters", Snippet: "Specialty roasters compared", Provider: "fake"},
	}}, nil
}

// pricingFails answers every module except Pricing Strategy.
type pricingFails struct{}

func (pricingFails) Generate(_ context.Context, prompt string, _ llm.Options) (string, error) {
	if strings.HasPrefix(prompt, "# Pricing Strategy\n") {
		return "", errors.New("quota exceeded")
	}
	title, _, _ := strings.Cut(prompt, "\n")
	return title + "\n\n" + strings.Repeat("Organic coffee buyers value traceable sourcing. ", 20), nil
}

type failingCollector struct{}

func (failingCollector) Collect(context.Context, string, string, map[string]string) (domain.CollectionRecord, error) {
	return domain.CollectionRecord{}, domain.ErrStorageUnavailable
}

func fixedClock() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

type harness struct {
	sessions *store.Sessions
	index    *store.Index
	reg      *metrics.Registry
	deps     Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	sessions := store.NewSessions(filepath.Join(root, "sessions"))
	ix, err := store.OpenIndex(filepath.Join(root, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })

	specs, err := modules.Select(modules.DefaultSpecs(), []string{"avatars", "pricing"})
	if err != nil {
		t.Fatal(err)
	}
	reg := metrics.New()
	m := metrics.NewPipeline(reg)
	opts := modules.DefaultOptions()
	opts.Backoff = time.Millisecond

	return &harness{
		sessions: sessions,
		index:    ix,
		reg:      reg,
		deps: Deps{
			Sessions: sessions,
			Collector: collect.New(collect.Deps{
				Web:      fakeWeb{},
				Ranker:   rank.New(rank.DefaultOptions()),
				Sessions: sessions,
				Metrics:  m,
				Now:      fixedClock,
			}),
			Synthesizer: synthesis.New(nil, sessions, 0, nil),
			Generator:   modules.New(modules.Deps{Gen: pricingFails{}, Sessions: sessions, Specs: specs, Metrics: m, Now: fixedClock}, opts),
			Compiler:    report.New(sessions, specs, nil, fixedClock),
			Index:       ix,
			Metrics:     m,
			Now:         fixedClock,
		},
	}
}

func TestRunOrganicCoffee(t *testing.T) {
	h := newHarness(t)
	h.deps.NewID = func() string { return "coffee1" }
	out, err := New(h.deps).Run(context.Background(), Request{Query: "organic coffee", Context: map[string]string{"segment": "specialty"}})
	if err != nil {
		t.Fatal(err)
	}
	if out.SessionID != "coffee1" || out.ReportPath != h.sessions.Path("coffee1", store.FinalReport) {
		t.Fatalf("outcome = %+v", out)
	}

	avatars, err := os.ReadFile(h.sessions.Path("coffee1", store.ModulesDir, "avatars.md"))
	if err != nil || len(avatars) <= 500 {
		t.Fatalf("avatars = %d bytes, err = %v", len(avatars), err)
	}
	pricing, err := os.ReadFile(h.sessions.Path("coffee1", store.ModulesDir, "pricing.md"))
	if err != nil || !strings.Contains(string(pricing), "Fallback") {
		t.Fatalf("pricing = %q, err = %v", pricing, err)
	}

	if out.Statistics.SuccessRate != 100 || out.Statistics.DegradedModules != 1 {
		t.Fatalf("statistics = %+v", out.Statistics)
	}
	if len(out.Degraded) != 1 || out.Degraded[0].Name != "pricing" {
		t.Fatalf("degraded = %+v", out.Degraded)
	}
	if out.Methods[domain.MethodPrimary] != 1 || out.Methods[domain.MethodFallback] != 1 {
		t.Fatalf("methods = %v", out.Methods)
	}
	if out.Collection.SourcesByType[domain.SourceWebSearch] != 2 {
		t.Fatalf("collection = %+v", out.Collection)
	}

	final, err := os.ReadFile(out.ReportPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Market Research Report: organic coffee", "1. Target Audience Avatars", "2. Pricing Strategy (fallback)", "- pricing: fallback"} {
		if !strings.Contains(string(final), want) {
			t.Errorf("report missing %q", want)
		}
	}

	row, err := h.index.Get(context.Background(), "coffee1")
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != store.StatusCompleted || row.ReportPath != out.ReportPath || row.SuccessRate != 100 || row.Statistics == nil {
		t.Fatalf("index row = %+v", row)
	}
	if !strings.Contains(h.reg.Render(), "pulse_sessions_total 1") {
		t.Fatalf("metrics:\n%s", h.reg.Render())
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	p := New(h.deps)
	if _, err := p.Run(context.Background(), Request{Query: "x"}); !errors.Is(err, domain.ErrQueryTooShort) {
		t.Fatalf("short query err = %v", err)
	}
	if _, err := p.Run(context.Background(), Request{Query: "organic coffee", SessionID: "../etc"}); !errors.Is(err, domain.ErrInvalidSession) {
		t.Fatalf("bad session err = %v", err)
	}
	var verr *domain.ValidationError
	if _, err := p.Run(context.Background(), Request{Query: "organic coffee", Context: map[string]string{" ": "x"}}); !errors.As(err, &verr) {
		t.Fatalf("bad context err = %v", err)
	}
}

func TestRunStorageUnavailableIsFatal(t *testing.T) {
	h := newHarness(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	h.deps.Sessions = store.NewSessions(blocker)
	_, err := New(h.deps).Run(context.Background(), Request{Query: "organic coffee", SessionID: "s1"})
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunFailedStepMarksIndex(t *testing.T) {
	h := newHarness(t)
	h.deps.Collector = failingCollector{}
	_, err := New(h.deps).Run(context.Background(), Request{Query: "organic coffee", SessionID: "s2"})
	if !errors.Is(err, domain.ErrStorageUnavailable) || !strings.Contains(err.Error(), "pipeline: collect") {
		t.Fatalf("err = %v", err)
	}
	row, err := h.index.Get(context.Background(), "s2")
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != store.StatusFailed || row.Error == "" {
		t.Fatalf("row = %+v", row)
	}
}

func TestRunPublishesStepEvents(t *testing.T) {
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})

	events := make(chan StepEvent, 16)
	sub, err := natsutil.Subscribe(nc, "pulse.session.s3.*", func(_ context.Context, _ string, ev StepEvent) {
		events <- ev
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	nc.Flush()

	h := newHarness(t)
	h.deps.Bus = natsutil.NewBus(nc, "pulse.session")
	if _, err := New(h.deps).Run(context.Background(), Request{Query: "organic coffee", SessionID: "s3"}); err != nil {
		t.Fatal(err)
	}
	nc.Flush()

	var steps []string
	timeout := time.After(3 * time.Second)
	for len(steps) < 5 {
		select {
		case ev := <-events:
			if ev.Status != "ok" {
				t.Fatalf("event = %+v", ev)
			}
			steps = append(steps, ev.Step)
		case <-timeout:
			t.Fatalf("steps = %v", steps)
		}
	}
	want := []string{StepCollect, StepSynthesize, StepGenerate, StepCompile, StepIndex}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("steps = %v, want %v", steps, want)
		}
	}
}
