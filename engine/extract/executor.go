package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/pkg/fn"
	"github.com/WessleyAI/pulse/pkg/metrics"
)

// Options bounds a fetch run.
type Options struct {
	MaxURLs   int           `yaml:"max_urls"`
	Workers   int           `yaml:"workers"`
	Timeout   time.Duration `yaml:"timeout"`
	MinLength int           `yaml:"min_length"`
}

// DefaultOptions: 100 URLs, 10 workers, 30s per item, 500 chars minimum.
func DefaultOptions() Options {
	return Options{MaxURLs: 100, Workers: 10, Timeout: 30 * time.Second, MinLength: 500}
}

// Executor runs an Extractor over a candidate set.
type Executor struct {
	ext     Extractor
	opts    Options
	log     *slog.Logger
	metrics *metrics.Pipeline
}

// NewExecutor creates an Executor. Zero option fields take the defaults.
func NewExecutor(ext Extractor, opts Options, logger *slog.Logger, m *metrics.Pipeline) *Executor {
	def := DefaultOptions()
	if opts.MaxURLs <= 0 {
		opts.MaxURLs = def.MaxURLs
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MinLength <= 0 {
		opts.MinLength = def.MinLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{ext: ext, opts: opts, log: logger, metrics: m}
}

// Run fetches the first MaxURLs candidates. A failure, timeout or
// too-short page drops only that item; Run itself never fails.
func (e *Executor) Run(ctx context.Context, items []domain.CandidateItem) ([]domain.ExtractedContent, domain.ExtractionStats) {
	items = fn.Take(items, e.opts.MaxURLs)

	results := fn.ParMapCtx(ctx, items, e.opts.Workers, e.opts.Timeout,
		func(ctx context.Context, it domain.CandidateItem) fn.Result[domain.ExtractedContent] {
			c, err := e.ext.Extract(ctx, it.URL)
			if err != nil {
				return fn.Err[domain.ExtractedContent](err)
			}
			if c.Length < e.opts.MinLength {
				return fn.Err[domain.ExtractedContent](fmt.Errorf("%w: %d chars from %s", domain.ErrContentTooShort, c.Length, it.URL))
			}
			c.SourcePhase = it.SourcePhase
			return fn.Ok(c)
		})

	out, errs := fn.Partition(results)
	stats := domain.ExtractionStats{Attempted: len(items), Succeeded: len(out)}
	for range out {
		e.metrics.Fetch("ok")
	}
	for _, err := range errs {
		if errors.Is(err, domain.ErrContentTooShort) {
			stats.TooShort++
			e.metrics.Fetch("too_short")
			continue
		}
		stats.Failed++
		e.metrics.Fetch("failed")
		e.log.Debug("fetch failed", "err", err)
	}
	if ctx.Err() != nil {
		stats.Error = ctx.Err().Error()
	}

	e.log.Info("extraction done",
		"attempted", stats.Attempted,
		"succeeded", stats.Succeeded,
		"too_short", stats.TooShort,
		"failed", stats.Failed,
	)
	return out, stats
}
