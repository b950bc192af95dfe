package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/WessleyAI/pulse/engine/dedup"
	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/pkg/fn"
	"github.com/WessleyAI/pulse/pkg/metrics"
	"github.com/WessleyAI/pulse/pkg/resilience"
)

// maxExtraQueries bounds the context-derived follow-up queries.
const maxExtraQueries = 5

// SearchOptions bounds a web search run.
type SearchOptions struct {
	MainResults  int `yaml:"main_results"`
	ExtraResults int `yaml:"extra_results"`
}

// DefaultSearchOptions mirrors the collection defaults: 50 hits for the main
// query and 20 for each follow-up.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{MainResults: 50, ExtraResults: 20}
}

type guarded struct {
	Provider
	breaker *resilience.Breaker
}

// MultiSearch fans a query out over every provider, each behind its own
// circuit breaker, and pools the hits in provider order.
type MultiSearch struct {
	providers []guarded
	opts      SearchOptions
	log       *slog.Logger
}

// NewMultiSearch creates a MultiSearch. Breaker transitions are reported to m.
func NewMultiSearch(providers []Provider, opts SearchOptions, logger *slog.Logger, m *metrics.Pipeline) *MultiSearch {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultSearchOptions()
	if opts.MainResults <= 0 {
		opts.MainResults = def.MainResults
	}
	if opts.ExtraResults <= 0 {
		opts.ExtraResults = def.ExtraResults
	}

	ms := &MultiSearch{opts: opts, log: logger}
	for _, p := range providers {
		bo := resilience.DefaultBreakerOpts
		bo.Name = "search_" + p.Name()
		bo.OnStateChange = func(name string, from, to resilience.State) {
			logger.Warn("breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			m.BreakerOpen(name, to == resilience.StateOpen)
		}
		ms.providers = append(ms.providers, guarded{Provider: p, breaker: resilience.NewBreaker(bo)})
	}
	return ms
}

// ExtraQueries derives follow-up queries from the "segment" and "product"
// context entries. Both must be present.
func ExtraQueries(qctx map[string]string) []string {
	segment := strings.TrimSpace(qctx["segment"])
	product := strings.TrimSpace(qctx["product"])
	if segment == "" || product == "" {
		return nil
	}
	qs := []string{
		segment + " market trends",
		product + " competitors",
		segment + " consumer behavior",
		product + " pricing",
		segment + " " + product + " opportunities",
	}
	return qs[:min(len(qs), maxExtraQueries)]
}

type searchTask struct {
	provider guarded
	query    string
	limit    int
}

// Search runs the main query and the context follow-ups on every provider.
// Individual provider failures are logged and skipped; only when every call
// fails does Search return ErrSourceUnavailable.
func (s *MultiSearch) Search(ctx context.Context, query string, qctx map[string]string) (domain.WebSearchPhase, error) {
	queries := append([]string{query}, ExtraQueries(qctx)...)
	phase := domain.WebSearchPhase{Queries: queries}
	if len(s.providers) == 0 {
		phase.Error = "no search providers configured"
		return phase, fmt.Errorf("sources: %w: no providers", domain.ErrSourceUnavailable)
	}

	var tasks []searchTask
	for i, q := range queries {
		limit := s.opts.ExtraResults
		if i == 0 {
			limit = s.opts.MainResults
		}
		for _, p := range s.providers {
			tasks = append(tasks, searchTask{provider: p, query: q, limit: limit})
		}
	}

	results := fn.ParMapCtx(ctx, tasks, len(s.providers), 0,
		func(ctx context.Context, t searchTask) fn.Result[[]domain.SearchResult] {
			return fn.FromPair(resilience.Do(t.provider.breaker, ctx, func(ctx context.Context) ([]domain.SearchResult, error) {
				return t.provider.Search(ctx, t.query, t.limit)
			}))
		})

	var errs []string
	var hits []domain.SearchResult
	failed := 0
	for i, r := range results {
		got, err := r.Unwrap()
		if err != nil {
			failed++
			errs = append(errs, fmt.Sprintf("%s(%q): %v", tasks[i].provider.Name(), tasks[i].query, err))
			s.log.Warn("search provider failed", "provider", tasks[i].provider.Name(), "query", tasks[i].query, "err", err)
			continue
		}
		hits = append(hits, got...)
	}
	phase.Results = uniqueHits(hits)

	if failed == len(tasks) {
		phase.Error = strings.Join(errs, "; ")
		return phase, fmt.Errorf("sources: %w: all %d search calls failed", domain.ErrSourceUnavailable, failed)
	}
	return phase, nil
}

type keyedHit struct {
	key string
	hit domain.SearchResult
}

// uniqueHits drops unusable URLs and keeps the first hit per normalized URL.
func uniqueHits(hits []domain.SearchResult) []domain.SearchResult {
	valid := fn.FilterMap(hits, func(h domain.SearchResult) (keyedHit, bool) {
		key, err := dedup.Normalize(h.URL)
		return keyedHit{key: key, hit: h}, err == nil
	})
	unique := fn.UniqueBy(valid, func(k keyedHit) string { return k.key })
	return fn.Map(unique, func(k keyedHit) domain.SearchResult { return k.hit })
}

// Candidates converts search hits into ranking-neutral candidates.
func Candidates(p domain.WebSearchPhase) []domain.CandidateItem {
	return fn.Map(p.Results, func(r domain.SearchResult) domain.CandidateItem {
		return domain.CandidateItem{URL: r.URL, Title: r.Title, SourcePhase: domain.PhaseWebSearch}
	})
}
