// Package llm adapts text generation backends to the Generator interface
// used by synthesis and module generation.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/WessleyAI/pulse/pkg/metrics"
	"github.com/WessleyAI/pulse/pkg/resilience"
)

// Options tunes one generation call.
type Options struct {
	// UseActiveSearch lets the backend consult live web search while
	// answering, where it supports that.
	UseActiveSearch bool
	MaxTokens       int
}

// Generator produces text for a prompt. An error or empty content is a
// soft failure for the caller to retry or degrade.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Guarded wraps a Generator in a circuit breaker so a dead backend fails
// fast instead of burning every module's retry budget on timeouts.
type Guarded struct {
	next    Generator
	breaker *resilience.Breaker
}

// NewGuarded guards next with a breaker named name. Transitions are logged
// and reported to m.
func NewGuarded(name string, next Generator, logger *slog.Logger, m *metrics.Pipeline) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	bo := resilience.DefaultBreakerOpts
	bo.Name = "llm_" + name
	bo.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		m.BreakerOpen(name, to == resilience.StateOpen)
	}
	return &Guarded{next: next, breaker: resilience.NewBreaker(bo)}
}

func (g *Guarded) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return resilience.Do(g.breaker, ctx, func(ctx context.Context) (string, error) {
		out, err := g.next.Generate(ctx, prompt, opts)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(out) == "" {
			return "", fmt.Errorf("llm: empty response")
		}
		return out, nil
	})
}

// State reports the breaker state.
func (g *Guarded) State() resilience.State { return g.breaker.State() }
