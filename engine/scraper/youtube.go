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

	"golang.org/x/time/rate"

	"github.com/WessleyAI/pulse/engine/domain"
)

// YouTube searches the YouTube Data API v3 and enriches hits with view,
// like and comment counts.
type YouTube struct {
	apiKey      string
	baseURL     string
	rateLimiter *rate.Limiter
	httpClient  *http.Client
}

// NewYouTube creates a searcher with the given API key. An empty baseURL
// uses the public API.
func NewYouTube(apiKey, baseURL string, client *http.Client) *YouTube {
	if baseURL == "" {
		baseURL = "https://www.googleapis.com/youtube/v3"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &YouTube{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		rateLimiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		httpClient:  client,
	}
}

func (s *YouTube) Platform() domain.Platform { return domain.PlatformYouTube }

// searchResponse is the YouTube Data API v3 search response.
type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			Description  string `json:"description"`
			ChannelTitle string `json:"channelTitle"`
			PublishedAt  string `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
}

// videosResponse is the videos?part=statistics response. Counts are strings.
type videosResponse struct {
	Items []struct {
		ID         string `json:"id"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// Search finds videos for query and attaches their statistics. A failed
// statistics lookup keeps the videos with zero counts.
func (s *YouTube) Search(ctx context.Context, query string, limit int) ([]domain.SocialPost, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("youtube: API key required for search")
	}

	params := url.Values{
		"part":       {"snippet"},
		"q":          {query},
		"type":       {"video"},
		"maxResults": {strconv.Itoa(limit)},
		"key":        {s.apiKey},
	}
	var sr searchResponse
	if err := s.get(ctx, "/search?"+params.Encode(), &sr); err != nil {
		return nil, err
	}

	posts := make([]domain.SocialPost, 0, len(sr.Items))
	ids := make([]string, 0, len(sr.Items))
	for _, item := range sr.Items {
		if item.ID.VideoID == "" {
			continue
		}
		pub, _ := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		ids = append(ids, item.ID.VideoID)
		posts = append(posts, domain.SocialPost{
			Platform:    domain.PlatformYouTube,
			ID:          item.ID.VideoID,
			URL:         "https://www.youtube.com/watch?v=" + item.ID.VideoID,
			Title:       item.Snippet.Title,
			Author:      item.Snippet.ChannelTitle,
			Text:        item.Snippet.Description,
			PublishedAt: pub,
			Video:       &domain.VideoStats{},
		})
	}
	if len(ids) == 0 {
		return posts, nil
	}

	var vr videosResponse
	stats := url.Values{
		"part": {"statistics"},
		"id":   {strings.Join(ids, ",")},
		"key":  {s.apiKey},
	}
	if err := s.get(ctx, "/videos?"+stats.Encode(), &vr); err != nil {
		return posts, nil
	}
	byID := make(map[string]*domain.VideoStats, len(vr.Items))
	for _, it := range vr.Items {
		byID[it.ID] = &domain.VideoStats{
			Views:    parseCount(it.Statistics.ViewCount),
			Likes:    parseCount(it.Statistics.LikeCount),
			Comments: parseCount(it.Statistics.CommentCount),
		}
	}
	for i := range posts {
		if st, ok := byID[posts[i].ID]; ok {
			posts[i].Video = st
		}
	}
	return posts, nil
}

func (s *YouTube) get(ctx context.Context, path string, v any) error {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("youtube: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return ErrQuotaExhausted
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("youtube: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("youtube: decode: %w", err)
	}
	return nil
}

func parseCount(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
