package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/pulse/engine/domain"
)

// Social searches every configured platform concurrently.
type Social struct {
	searchers   []PlatformSearcher
	perPlatform int
	log         *slog.Logger
}

// NewSocial creates an aggregator. perPlatform <= 0 defaults to 25.
func NewSocial(searchers []PlatformSearcher, perPlatform int, logger *slog.Logger) *Social {
	if perPlatform <= 0 {
		perPlatform = 25
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Social{searchers: searchers, perPlatform: perPlatform, log: logger}
}

// Search queries all platforms for a session. A platform failure is
// recorded on its own result; Search errors only when every platform fails.
// Platforms keep the configured order regardless of completion order.
func (s *Social) Search(ctx context.Context, sessionID, query string) (domain.SocialPhase, error) {
	phase := domain.SocialPhase{Platforms: make([]domain.PlatformResult, len(s.searchers))}
	if len(s.searchers) == 0 {
		phase.Error = "no social platforms configured"
		return phase, fmt.Errorf("scraper: %w: no platforms", domain.ErrSourceUnavailable)
	}

	log := s.log.With("session", sessionID)
	// Each goroutine owns one slot; errors never cancel siblings.
	var g errgroup.Group
	for i, ps := range s.searchers {
		g.Go(func() error {
			res := domain.PlatformResult{Platform: ps.Platform()}
			defer func() {
				if r := recover(); r != nil {
					res.Error = fmt.Sprintf("panic: %v", r)
					log.Error("platform search panicked", "platform", ps.Platform(), "panic", r)
				}
				phase.Platforms[i] = res
			}()
			posts, err := ps.Search(ctx, query, s.perPlatform)
			if err != nil {
				res.Error = err.Error()
				log.Warn("platform search failed", "platform", ps.Platform(), "err", err)
				return nil
			}
			res.Posts = posts
			return nil
		})
	}
	_ = g.Wait()

	var errs []string
	for _, p := range phase.Platforms {
		phase.TotalPosts += len(p.Posts)
		if p.Error != "" {
			errs = append(errs, string(p.Platform)+": "+p.Error)
		}
	}
	if len(errs) == len(phase.Platforms) {
		phase.Error = strings.Join(errs, "; ")
		return phase, fmt.Errorf("scraper: %w: every platform failed", domain.ErrSourceUnavailable)
	}
	return phase, nil
}

// Candidates converts every post into a ranking candidate.
func Candidates(p domain.SocialPhase) []domain.CandidateItem {
	posts := p.Posts()
	out := make([]domain.CandidateItem, 0, len(posts))
	for _, post := range posts {
		out = append(out, post.Candidate())
	}
	return out
}
