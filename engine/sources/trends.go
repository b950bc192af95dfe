package sources

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/WessleyAI/pulse/engine/domain"
)

const (
	maxKeywords = 20
	maxHashtags = 10
	maxThemes   = 5
	themeWords  = 10
)

// FeedTrends reads trending topics from an HTTP JSON endpoint returning
// {"trends": [...], "hashtags": [...]}.
type FeedTrends struct {
	baseURL string
	client  *http.Client
}

func NewFeedTrends(baseURL string, client *http.Client) *FeedTrends {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FeedTrends{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type feedResponse struct {
	Trends   []string `json:"trends"`
	Hashtags []string `json:"hashtags"`
}

// Fetch returns the feed's trends and hashtags for query.
func (f *FeedTrends) Fetch(ctx context.Context, query string) ([]string, []string, error) {
	if f.baseURL == "" {
		return nil, nil, fmt.Errorf("trends feed: base URL required")
	}
	var fr feedResponse
	if err := getJSON(ctx, f.client, f.baseURL+"?"+url.Values{"q": {query}}.Encode(), nil, &fr); err != nil {
		return nil, nil, fmt.Errorf("trends feed: %w", err)
	}
	return fr.Trends, fr.Hashtags, nil
}

// TrendFeed is the external trend source.
type TrendFeed interface {
	Fetch(ctx context.Context, query string) (trends, hashtags []string, err error)
}

// Trends merges an optional feed with topics derived from social posts.
type Trends struct {
	feed TrendFeed
	log  *slog.Logger
}

// NewTrends creates a trend adapter. feed may be nil.
func NewTrends(feed TrendFeed, logger *slog.Logger) *Trends {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trends{feed: feed, log: logger}
}

// Search derives topics from posts and merges the feed on top. A feed
// failure sets the phase error but keeps the derived topics.
func (t *Trends) Search(ctx context.Context, query string, posts []domain.SocialPost) (domain.TrendPhase, error) {
	phase := DeriveTrends(posts)
	if t.feed == nil {
		return phase, nil
	}

	trends, hashtags, err := t.feed.Fetch(ctx, query)
	if err != nil {
		t.log.Warn("trend feed failed", "err", err)
		phase.Error = err.Error()
		return phase, fmt.Errorf("sources: %w: %v", domain.ErrSourceUnavailable, err)
	}
	phase.Trends = mergeUnique(trends, phase.Trends)
	phase.Hashtags = mergeUnique(hashtags, phase.Hashtags)
	return phase, nil
}

var hashtagPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)

// DeriveTrends computes keyword frequencies (words longer than 3 chars,
// top 20), unique hashtags (top 10) and up to 5 themes built from
// consecutive pairs of the top 10 words. Trends are the top keywords.
func DeriveTrends(posts []domain.SocialPost) domain.TrendPhase {
	counts := make(map[string]int)
	var order []string
	var hashtags []string
	seenTag := make(map[string]bool)

	for _, p := range posts {
		text := strings.ToLower(strings.Join([]string{p.Title, p.Text}, " "))
		for _, tag := range hashtagPattern.FindAllString(text, -1) {
			if !seenTag[tag] {
				seenTag[tag] = true
				hashtags = append(hashtags, tag)
			}
		}
		for _, w := range strings.Fields(text) {
			if strings.HasPrefix(w, "#") {
				continue
			}
			w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
			if utf8.RuneCountInString(w) <= 3 {
				continue
			}
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}

	slices.SortStableFunc(order, func(a, b string) int { return cmp.Compare(counts[b], counts[a]) })
	order = order[:min(len(order), maxKeywords)]

	keywords := make([]domain.KeywordCount, len(order))
	for i, w := range order {
		keywords[i] = domain.KeywordCount{Word: w, Count: counts[w]}
	}

	var themes []string
	top := order[:min(len(order), themeWords)]
	for i := 0; i+1 < len(top) && len(themes) < maxThemes; i += 2 {
		themes = append(themes, top[i]+" + "+top[i+1])
	}

	return domain.TrendPhase{
		Trends:   append([]string(nil), top...),
		Hashtags: hashtags[:min(len(hashtags), maxHashtags)],
		Themes:   themes,
		Keywords: keywords,
	}
}

// mergeUnique appends b to a, skipping case-insensitive duplicates.
func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		k := strings.ToLower(strings.TrimSpace(s))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, strings.TrimSpace(s))
	}
	return out
}
