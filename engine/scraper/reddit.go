package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/pkg/fn"
)

// Reddit searches Reddit's public JSON API.
type Reddit struct {
	baseURL   string
	client    *http.Client
	rateLimit time.Duration
	retry     fn.RetryOpts
}

// NewReddit creates a Reddit searcher. An empty baseURL uses www.reddit.com.
func NewReddit(baseURL string, client *http.Client) *Reddit {
	if baseURL == "" {
		baseURL = "https://www.reddit.com"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Reddit{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		rateLimit: 2 * time.Second,
		retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 5 * time.Second,
			MaxWait:     30 * time.Second,
			Jitter:      true,
		},
	}
}

func (r *Reddit) Platform() domain.Platform { return domain.PlatformReddit }

// Search runs /search.json. Score maps to likes, num_comments to comments.
func (r *Reddit) Search(ctx context.Context, query string, limit int) ([]domain.SocialPost, error) {
	params := url.Values{
		"q":        {query},
		"limit":    {strconv.Itoa(limit)},
		"sort":     {"relevance"},
		"raw_json": {"1"},
	}
	u := r.baseURL + "/search.json?" + params.Encode()

	limiter := time.NewTicker(r.rateLimit)
	defer limiter.Stop()

	first := true
	result := fn.Retry(ctx, r.retry, func(ctx context.Context) fn.Result[*listingResponse] {
		if !first {
			select {
			case <-ctx.Done():
				return fn.Err[*listingResponse](ctx.Err())
			case <-limiter.C:
			}
		}
		first = false
		return r.doGet(ctx, u)
	})

	resp, err := result.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("reddit: search %q: %w", query, err)
	}

	posts := make([]domain.SocialPost, 0, len(resp.Data.Children))
	for _, child := range resp.Data.Children {
		d := child.Data
		posts = append(posts, domain.SocialPost{
			Platform:    domain.PlatformReddit,
			ID:          d.ID,
			URL:         r.baseURL + d.Permalink,
			Title:       d.Title,
			Author:      d.Author,
			Text:        d.SelfText,
			PublishedAt: time.Unix(int64(d.CreatedUTC), 0).UTC(),
			Forum:       &domain.ForumStats{Score: int64(d.Score), Comments: int64(d.NumComments)},
		})
	}
	return posts, nil
}

func (r *Reddit) doGet(ctx context.Context, u string) fn.Result[*listingResponse] {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fn.Err[*listingResponse](err)
	}
	req.Header.Set("User-Agent", "pulse-collector/1.0 (market research)")

	resp, err := r.client.Do(req)
	if err != nil {
		return fn.Err[*listingResponse](err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fn.Errf[*listingResponse]("http %d from %s", resp.StatusCode, u)
	}

	var lr listingResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fn.Err[*listingResponse](fmt.Errorf("decode listing: %w", err))
	}
	return fn.Ok(&lr)
}

// Reddit JSON API response types

type listingResponse struct {
	Data struct {
		Children []listingChild `json:"children"`
		After    string         `json:"after"`
	} `json:"data"`
}

type listingChild struct {
	Kind string      `json:"kind"`
	Data listingData `json:"data"`
}

type listingData struct {
	ID          string  `json:"id"`
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	SelfText    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}
