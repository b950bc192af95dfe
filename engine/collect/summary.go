package collect

import (
	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/store"
	"github.com/WessleyAI/pulse/pkg/fn"
)

const summaryTop = 10

// Summarize builds the compact view of a record: metadata, statistics and
// a few top-N lists, without any post or page payloads.
func Summarize(rec domain.CollectionRecord) domain.CollectionSummary {
	byPlatform := make(map[string]int, len(rec.SocialMedia.Platforms))
	for _, p := range rec.SocialMedia.Platforms {
		byPlatform[string(p.Platform)] = len(p.Posts)
	}
	return domain.CollectionSummary{
		Metadata: domain.SummaryMetadata{
			SessionID:   rec.SessionID,
			Query:       rec.Query,
			Context:     rec.Context,
			StartedAt:   rec.StartedAt,
			CompletedAt: rec.CompletedAt,
		},
		Statistics: rec.Statistics,
		Summary: domain.SummaryBlock{
			PostsByPlatform: byPlatform,
			TopTrends:       fn.Take(rec.TrendFindings.Trends, summaryTop),
			TopHashtags:     fn.Take(rec.TrendFindings.Hashtags, summaryTop),
			TopCandidates:   fn.Map(rec.Ranked, func(it domain.ScoredItem) string { return it.URL }),
		},
	}
}

// LoadSummary reads the compact summary of a session.
func LoadSummary(s *store.Sessions, sessionID string) (domain.CollectionSummary, error) {
	var sum domain.CollectionSummary
	err := s.ReadJSON(sessionID, store.SummaryFile, &sum)
	return sum, err
}
