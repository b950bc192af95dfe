// Package collect sequences the collection phases of a research session
// and persists the resulting record.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/pulse/engine/dedup"
	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/scraper"
	"github.com/WessleyAI/pulse/engine/sources"
	"github.com/WessleyAI/pulse/engine/store"
	"github.com/WessleyAI/pulse/pkg/metrics"
	"github.com/WessleyAI/pulse/pkg/natsutil"
)

// Phase names, in execution order.
const (
	PhaseWeb         = "web_search"
	PhaseSocial      = "social_media"
	PhaseTrends      = "trends"
	PhaseRanking     = "ranking"
	PhaseScreenshots = "screenshots"
	PhaseExtraction  = "extraction"
	PhaseEvidence    = "evidence"
)

type WebSearcher interface {
	Search(ctx context.Context, query string, qctx map[string]string) (domain.WebSearchPhase, error)
}

// SocialSearcher searches social platforms with the plain query; the
// session id correlates adapter logs with the run.
type SocialSearcher interface {
	Search(ctx context.Context, sessionID, query string) (domain.SocialPhase, error)
}

type TrendSearcher interface {
	Search(ctx context.Context, query string, posts []domain.SocialPost) (domain.TrendPhase, error)
}

type Ranker interface {
	Rank(candidates []domain.CandidateItem) []domain.ScoredItem
}

// Capturer screenshots ranked items into a session directory.
type Capturer interface {
	Capture(ctx context.Context, sessionDir string, items []domain.ScoredItem) domain.ScreenshotPhase
}

// Fetcher extracts readable content from candidate URLs.
type Fetcher interface {
	Run(ctx context.Context, items []domain.CandidateItem) ([]domain.ExtractedContent, domain.ExtractionStats)
}

// EvidenceIndexer stores extracted content for later retrieval.
type EvidenceIndexer interface {
	IndexSession(ctx context.Context, sessionID string, contents []domain.ExtractedContent) (int, error)
}

// ProvenanceSink records where a session's sources came from.
type ProvenanceSink interface {
	RecordCollection(ctx context.Context, rec domain.CollectionRecord) error
}

// Deps are the collector's collaborators. Web, Social and Ranker are
// expected; the rest may be nil and their phases are skipped.
type Deps struct {
	Web      WebSearcher
	Social   SocialSearcher
	Trends   TrendSearcher
	Ranker   Ranker
	Capture  Capturer
	Fetch    Fetcher
	Evidence EvidenceIndexer
	Graph    ProvenanceSink
	Sessions *store.Sessions
	Bus      *natsutil.Bus
	Metrics  *metrics.Pipeline
	Logger   *slog.Logger
	Now      func() time.Time
}

// Collector runs one session's collection phases.
type Collector struct {
	d   Deps
	log *slog.Logger
	now func() time.Time
}

// New creates a Collector.
func New(d Deps) *Collector {
	c := &Collector{d: d, log: d.Logger, now: d.Now}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// PhaseEvent is published after every phase.
type PhaseEvent struct {
	SessionID  string  `json:"session_id"`
	Phase      string  `json:"phase"`
	Count      int     `json:"count"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// Collect runs every phase in order and persists the record, its summary
// and the markdown collection report. Phase failures become error markers
// on the record; only storage failures are returned.
func (c *Collector) Collect(ctx context.Context, sessionID, query string, qctx map[string]string) (domain.CollectionRecord, error) {
	rec := domain.CollectionRecord{
		SessionID: sessionID,
		Query:     query,
		Context:   qctx,
		StartedAt: c.now().UTC(),
	}
	if c.d.Sessions == nil {
		return rec, fmt.Errorf("collect: %w: no session store", domain.ErrStorageUnavailable)
	}
	dir, err := c.d.Sessions.Create(sessionID)
	if err != nil {
		return rec, err
	}
	log := c.log.With("session", sessionID)
	log.Info("collection started", "query", query)

	c.phase(ctx, &rec, PhaseWeb, &rec.WebSearch.Error, func(ctx context.Context) (int, error) {
		if c.d.Web == nil {
			return 0, fmt.Errorf("%w: no web searcher configured", domain.ErrSourceUnavailable)
		}
		phase, err := c.d.Web.Search(ctx, query, qctx)
		rec.WebSearch = phase
		return len(phase.Results), err
	})

	c.phase(ctx, &rec, PhaseSocial, &rec.SocialMedia.Error, func(ctx context.Context) (int, error) {
		if c.d.Social == nil {
			return 0, fmt.Errorf("%w: no social searcher configured", domain.ErrSourceUnavailable)
		}
		phase, err := c.d.Social.Search(ctx, sessionID, query)
		rec.SocialMedia = phase
		return phase.TotalPosts, err
	})

	c.phase(ctx, &rec, PhaseTrends, &rec.TrendFindings.Error, func(ctx context.Context) (int, error) {
		posts := rec.SocialMedia.Posts()
		if c.d.Trends == nil {
			rec.TrendFindings = sources.DeriveTrends(posts)
			return rec.TrendFindings.Sources(), nil
		}
		phase, err := c.d.Trends.Search(ctx, query, posts)
		rec.TrendFindings = phase
		return phase.Sources(), err
	})

	// Engagement metrics only exist on social posts, so ranking sees those
	// alone. Extraction takes every URL, web first so web hits keep their
	// provenance when social saw the same page.
	social := scraper.Candidates(rec.SocialMedia)
	candidates := dedup.Merge(sources.Candidates(rec.WebSearch), social)

	var rankErr string
	c.phase(ctx, &rec, PhaseRanking, &rankErr, func(context.Context) (int, error) {
		if c.d.Ranker == nil {
			return 0, nil
		}
		rec.Ranked = c.d.Ranker.Rank(dedup.Merge(social))
		return len(rec.Ranked), nil
	})
	if rankErr != "" {
		// A ranking failure surfaces through the screenshot phase, which
		// has nothing to capture without it.
		rec.Screenshots.Error = "ranking: " + rankErr
	}

	if c.d.Capture != nil && len(rec.Ranked) > 0 {
		c.phase(ctx, &rec, PhaseScreenshots, &rec.Screenshots.Error, func(ctx context.Context) (int, error) {
			phase := c.d.Capture.Capture(ctx, dir, rec.Ranked)
			rec.Screenshots = phase
			return phase.CapturedCount, nil
		})
	}

	if c.d.Fetch != nil {
		c.phase(ctx, &rec, PhaseExtraction, &rec.Extraction.Error, func(ctx context.Context) (int, error) {
			contents, stats := c.d.Fetch.Run(ctx, candidates)
			rec.ExtractedContent, rec.Extraction = contents, stats
			return len(contents), nil
		})
	}

	if c.d.Evidence != nil && len(rec.ExtractedContent) > 0 {
		c.phase(ctx, &rec, PhaseEvidence, &rec.EvidenceError, func(ctx context.Context) (int, error) {
			n, err := c.d.Evidence.IndexSession(ctx, sessionID, rec.ExtractedContent)
			rec.EvidenceChunks = n
			return n, err
		})
	}

	rec.CompletedAt = c.now().UTC()
	rec.Statistics = rec.ComputeStatistics()

	if err := c.persist(rec); err != nil {
		return rec, err
	}

	if c.d.Graph != nil {
		if err := c.d.Graph.RecordCollection(ctx, rec); err != nil {
			log.Warn("provenance not recorded", "err", err)
		}
	}

	log.Info("collection done",
		"total_sources", rec.Statistics.TotalSources,
		"viral_candidates", rec.Statistics.ViralCandidates,
		"phase_errors", len(rec.Statistics.PhaseErrors),
		"seconds", rec.Statistics.CollectionSeconds,
	)
	return rec, nil
}

// phase runs f, converting a returned error or a panic into the phase's
// error marker. The marker is only set when f left it empty, so adapters
// that record a more precise message keep it.
func (c *Collector) phase(ctx context.Context, rec *domain.CollectionRecord, name string, marker *string, f func(context.Context) (int, error)) {
	start := c.now()
	var (
		count int
		err   error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		count, err = f(ctx)
	}()

	if err != nil && *marker == "" {
		*marker = err.Error()
	}
	failed := *marker != ""
	c.d.Metrics.PhaseDone(name, start, failed)

	ev := PhaseEvent{
		SessionID:  rec.SessionID,
		Phase:      name,
		Count:      count,
		Error:      *marker,
		DurationMS: float64(c.now().Sub(start).Microseconds()) / 1000,
	}
	if failed {
		c.log.Warn("phase failed", "session", rec.SessionID, "phase", name, "err", *marker)
	} else {
		c.log.Info("phase done", "session", rec.SessionID, "phase", name, "count", count)
	}
	if perr := natsutil.Emit(ctx, c.d.Bus, ev, rec.SessionID, "phase", name); perr != nil {
		c.log.Debug("phase event not published", "phase", name, "err", perr)
	}
}

func (c *Collector) persist(rec domain.CollectionRecord) error {
	s := c.d.Sessions
	if err := s.WriteJSON(rec.SessionID, store.CollectionFile, rec); err != nil {
		return fmt.Errorf("collect: %w: %v", domain.ErrStorageUnavailable, err)
	}
	if err := s.WriteJSON(rec.SessionID, store.SummaryFile, Summarize(rec)); err != nil {
		return fmt.Errorf("collect: %w: %v", domain.ErrStorageUnavailable, err)
	}
	if err := s.WriteFile(rec.SessionID, store.ReportFile, []byte(RenderReport(rec))); err != nil {
		return fmt.Errorf("collect: %w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Load reads a persisted collection record.
func Load(s *store.Sessions, sessionID string) (domain.CollectionRecord, error) {
	var rec domain.CollectionRecord
	if err := s.ReadJSON(sessionID, store.CollectionFile, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}
