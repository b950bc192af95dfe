// Package app builds the research pipeline and its backing services from
// configuration. Optional services (NATS, Neo4j, Qdrant, Chromium) are
// only connected when configured.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/pulse/engine/capture"
	"github.com/WessleyAI/pulse/engine/collect"
	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/evidence"
	"github.com/WessleyAI/pulse/engine/extract"
	"github.com/WessleyAI/pulse/engine/graph"
	"github.com/WessleyAI/pulse/engine/llm"
	"github.com/WessleyAI/pulse/engine/modules"
	"github.com/WessleyAI/pulse/engine/pipeline"
	"github.com/WessleyAI/pulse/engine/rank"
	"github.com/WessleyAI/pulse/engine/report"
	"github.com/WessleyAI/pulse/engine/scraper"
	"github.com/WessleyAI/pulse/engine/semantic"
	"github.com/WessleyAI/pulse/engine/sources"
	"github.com/WessleyAI/pulse/engine/store"
	"github.com/WessleyAI/pulse/engine/synthesis"
	"github.com/WessleyAI/pulse/pkg/config"
	"github.com/WessleyAI/pulse/pkg/metrics"
	"github.com/WessleyAI/pulse/pkg/natsutil"
	"github.com/WessleyAI/pulse/pkg/ollama"
)

// App owns every long-lived collaborator. Optional fields are nil when
// their service is not configured.
type App struct {
	Config   *config.Config
	Log      *slog.Logger
	Registry *metrics.Registry
	Metrics  *metrics.Pipeline

	Sessions *store.Sessions
	Index    *store.Index
	NATS     *nats.Conn
	Bus      *natsutil.Bus
	Graph    *graph.GraphStore
	Vectors  *semantic.VectorStore
	Evidence *evidence.Index

	Specs     []domain.ModuleSpec
	Gen       llm.Generator
	Collector *collect.Collector
	Synth     *synthesis.Engine
	Modules   *modules.Generator
	Compiler  *report.Compiler
	Pipeline  *pipeline.Pipeline

	closers []func()
}

// New connects the configured services and wires the pipeline. On error
// everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := metrics.New()
	a := &App{Config: cfg, Log: logger, Registry: reg, Metrics: metrics.NewPipeline(reg)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("app: %w: %v", domain.ErrStorageUnavailable, err)
	}
	a.Sessions = store.NewSessions(cfg.DataDir)
	if a.Index, err = store.OpenIndex(cfg.IndexPath); err != nil {
		return nil, err
	}
	a.onClose(func() { a.Index.Close() })

	if a.Specs, err = cfg.Specs(); err != nil {
		return nil, err
	}
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	if a.Gen, err = a.generator(ctx); err != nil {
		return nil, err
	}
	a.wire()
	return a, nil
}

func (a *App) onClose(f func()) { a.closers = append(a.closers, f) }

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("pulse"))
		if err != nil {
			return fmt.Errorf("app: nats connect: %w", err)
		}
		a.NATS, a.Bus = nc, natsutil.NewBus(nc, cfg.NATS.Prefix)
		a.onClose(nc.Close)
	}
	if cfg.Neo4j.URL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Pass, ""))
		if err != nil {
			return fmt.Errorf("app: neo4j driver: %w", err)
		}
		a.Graph = graph.New(driver)
		a.onClose(func() { driver.Close(context.WithoutCancel(ctx)) })
	}
	if cfg.Evidence.Enabled {
		vs, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
		if err != nil {
			return err
		}
		a.Vectors = vs
		a.onClose(func() { vs.Close() })
		embedder := ollama.New(cfg.Ollama.URL, cfg.Ollama.EmbedModel, cfg.Ollama.GenModel, nil)
		a.Evidence = evidence.New(embedder, vs, cfg.Evidence.Options, a.Log)
	}
	return nil
}

// generator picks the configured backend behind a circuit breaker.
func (a *App) generator(ctx context.Context) (llm.Generator, error) {
	cfg := a.Config
	backend := cfg.EffectiveBackend()
	var next llm.Generator
	switch backend {
	case config.BackendGemini:
		g, err := llm.NewGemini(ctx, cfg.LLM.GeminiKey, cfg.LLM.GeminiModel)
		if err != nil {
			return nil, err
		}
		next = g
	case config.BackendOllama:
		next = llm.NewLocal(ollama.New(cfg.Ollama.URL, cfg.Ollama.EmbedModel, cfg.Ollama.GenModel, nil))
	default:
		next = llm.Stub{MinLength: cfg.Generator.MinLength}
	}
	if backend != cfg.LLM.Backend {
		a.Log.Warn("generation backend degraded", "configured", cfg.LLM.Backend, "using", backend)
	}
	return llm.NewGuarded(backend, next, a.Log, a.Metrics), nil
}

func (a *App) wire() {
	cfg, log, m := a.Config, a.Log, a.Metrics

	cd := collect.Deps{
		Ranker:   rank.New(cfg.Rank),
		Fetch:    extract.NewExecutor(extract.NewHTTPExtractor(nil), cfg.Fetch, log, m),
		Sessions: a.Sessions,
		Bus:      a.Bus,
		Metrics:  m,
		Logger:   log,
	}
	if providers := a.searchProviders(); len(providers) > 0 {
		cd.Web = sources.NewMultiSearch(providers, cfg.Search.SearchOptions, log, m)
	}
	cd.Social = scraper.NewSocial(a.socialSearchers(), cfg.Social.PerPlatform, log)
	var feed sources.TrendFeed
	if cfg.Trends.FeedURL != "" {
		feed = sources.NewFeedTrends(cfg.Trends.FeedURL, nil)
	}
	cd.Trends = sources.NewTrends(feed, log)
	if cfg.Capture.Enabled {
		cd.Capture = capture.NewCapturer(capture.RodOpener(cfg.Capture.Rod, log), cfg.Capture.Options, log)
	}
	md := modules.Deps{Gen: a.Gen, Sessions: a.Sessions, Specs: a.Specs, Bus: a.Bus, Metrics: m, Logger: log}
	if a.Evidence != nil {
		cd.Evidence = a.Evidence
		md.Evidence = a.Evidence
	}
	if a.Graph != nil {
		cd.Graph = a.Graph
	}

	a.Collector = collect.New(cd)
	a.Synth = synthesis.New(a.Gen, a.Sessions, cfg.Generator.MaxTokens, log)
	a.Modules = modules.New(md, cfg.Generator)
	a.Compiler = report.New(a.Sessions, a.Specs, log, nil)

	pd := pipeline.Deps{
		Sessions:    a.Sessions,
		Collector:   a.Collector,
		Synthesizer: a.Synth,
		Generator:   a.Modules,
		Compiler:    a.Compiler,
		Index:       a.Index,
		Bus:         a.Bus,
		Metrics:     m,
		Logger:      log,
	}
	if a.Graph != nil {
		pd.Graph = a.Graph
	}
	a.Pipeline = pipeline.New(pd)
}

func (a *App) searchProviders() []sources.Provider {
	cfg := a.Config.Search
	var ps []sources.Provider
	if cfg.BraveKey != "" {
		ps = append(ps, sources.NewBrave(cfg.BraveKey, cfg.BraveURL, nil))
	}
	if cfg.SearXNGURL != "" {
		ps = append(ps, sources.NewSearXNG(cfg.SearXNGURL, nil))
	}
	return ps
}

// socialSearchers lists platforms in a fixed order: youtube, reddit, then
// gateways by name.
func (a *App) socialSearchers() []scraper.PlatformSearcher {
	cfg := a.Config.Social
	var ss []scraper.PlatformSearcher
	if cfg.YouTubeKey != "" {
		ss = append(ss, scraper.NewYouTube(cfg.YouTubeKey, cfg.YouTubeURL, nil))
	}
	ss = append(ss, scraper.NewReddit(cfg.RedditURL, nil))

	names := make([]string, 0, len(cfg.Gateways))
	for n := range cfg.Gateways {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		gw := cfg.Gateways[n]
		ss = append(ss, scraper.NewGateway(domain.Platform(n), gw.Endpoint, gw.Token, nil))
	}
	return ss
}
