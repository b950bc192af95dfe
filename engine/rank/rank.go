// Package rank scores social candidates by platform-specific engagement
// formulas and selects a bounded set of viral candidates for screenshot
// capture.
package rank

import (
	"cmp"
	"slices"

	"github.com/WessleyAI/pulse/engine/domain"
)

// Weights holds the engagement formula constants. The defaults are business
// heuristics rather than correctness requirements, so every term is tunable.
type Weights struct {
	VideoLikes    float64 `yaml:"video_likes"`
	VideoComments float64 `yaml:"video_comments"`
	VideoScale    float64 `yaml:"video_scale"`

	MicroLikes    float64 `yaml:"micro_likes"`
	MicroRetweets float64 `yaml:"micro_retweets"`
	MicroReplies  float64 `yaml:"micro_replies"`

	PhotoLikes    float64 `yaml:"photo_likes"`
	PhotoComments float64 `yaml:"photo_comments"`

	ProLikes    float64 `yaml:"pro_likes"`
	ProComments float64 `yaml:"pro_comments"`
	ProShares   float64 `yaml:"pro_shares"`
}

// DefaultWeights:
//
//	video:        (likes*2 + comments*3) / max(views,1) * 1000
//	micro-blog:   likes + retweets*3 + replies*2
//	photo:        likes + comments*5
//	professional: likes + comments*3 + shares*5
var DefaultWeights = Weights{
	VideoLikes: 2, VideoComments: 3, VideoScale: 1000,
	MicroLikes: 1, MicroRetweets: 3, MicroReplies: 2,
	PhotoLikes: 1, PhotoComments: 5,
	ProLikes: 1, ProComments: 3, ProShares: 5,
}

// Options controls selection.
type Options struct {
	Weights     Weights `yaml:"weights"`
	PerPlatform int     `yaml:"per_platform"`
	Global      int     `yaml:"global"`
}

// DefaultOptions selects the top 3 per platform and the top 10 overall.
func DefaultOptions() Options {
	return Options{Weights: DefaultWeights, PerPlatform: 3, Global: 10}
}

// Score computes the engagement score of one candidate. It is a pure
// function of the metrics; unknown platforms score 0.
func (w Weights) Score(p domain.Platform, m domain.Metrics) float64 {
	switch p.Kind() {
	case domain.KindVideo:
		views := max(m.Views, 1)
		return (float64(m.Likes)*w.VideoLikes + float64(m.Comments)*w.VideoComments) / float64(views) * w.VideoScale
	case domain.KindMicroBlog:
		return float64(m.Likes)*w.MicroLikes + float64(m.Retweets)*w.MicroRetweets + float64(m.Replies)*w.MicroReplies
	case domain.KindPhoto:
		return float64(m.Likes)*w.PhotoLikes + float64(m.Comments)*w.PhotoComments
	case domain.KindProfessional:
		return float64(m.Likes)*w.ProLikes + float64(m.Comments)*w.ProComments + float64(m.Shares)*w.ProShares
	default:
		return 0
	}
}

// Ranker selects viral candidates.
type Ranker struct {
	opts Options
}

// New creates a Ranker. Non-positive limits fall back to the defaults.
func New(opts Options) *Ranker {
	def := DefaultOptions()
	if opts.PerPlatform <= 0 {
		opts.PerPlatform = def.PerPlatform
	}
	if opts.Global <= 0 {
		opts.Global = def.Global
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = def.Weights
	}
	return &Ranker{opts: opts}
}

// Rank scores candidates, keeps the top PerPlatform of each platform, pools
// them in first-seen platform order and returns the top Global overall.
//
// Ties are broken by insertion order: scores are floats with no secondary
// key, so both sorts are stable and the candidate seen first wins. Candidates
// scoring 0 or less, including every unknown platform, are never selected.
func (r *Ranker) Rank(candidates []domain.CandidateItem) []domain.ScoredItem {
	var platforms []domain.Platform
	byPlatform := make(map[domain.Platform][]domain.ScoredItem)

	for _, c := range candidates {
		s := r.opts.Weights.Score(c.Platform, c.Metrics)
		if s <= 0 {
			continue
		}
		if _, ok := byPlatform[c.Platform]; !ok {
			platforms = append(platforms, c.Platform)
		}
		byPlatform[c.Platform] = append(byPlatform[c.Platform], domain.ScoredItem{CandidateItem: c, Score: s})
	}

	var pool []domain.ScoredItem
	for _, p := range platforms {
		items := byPlatform[p]
		sortByScore(items)
		pool = append(pool, items[:min(len(items), r.opts.PerPlatform)]...)
	}
	sortByScore(pool)
	return pool[:min(len(pool), r.opts.Global)]
}

func sortByScore(items []domain.ScoredItem) {
	slices.SortStableFunc(items, func(a, b domain.ScoredItem) int {
		return cmp.Compare(b.Score, a.Score)
	})
}
