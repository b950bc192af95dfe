package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/pulse/engine/domain"
)

// Gateway searches a platform through a JSON endpoint that returns posts
// with engagement fields. It serves twitter, instagram and linkedin, which
// have no usable public API.
type Gateway struct {
	platform domain.Platform
	endpoint string
	token    string
	client   *http.Client
}

// NewGateway creates a gateway searcher for platform.
func NewGateway(platform domain.Platform, endpoint, token string, client *http.Client) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Gateway{platform: platform, endpoint: endpoint, token: token, client: client}
}

func (g *Gateway) Platform() domain.Platform { return g.platform }

type gatewayPost struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Text        string    `json:"text"`
	PublishedAt time.Time `json:"published_at"`
	Views       int64     `json:"views"`
	Likes       int64     `json:"likes"`
	Comments    int64     `json:"comments"`
	Shares      int64     `json:"shares"`
	Retweets    int64     `json:"retweets"`
	Replies     int64     `json:"replies"`
}

type gatewayResponse struct {
	Posts []gatewayPost `json:"posts"`
}

func (g *Gateway) Search(ctx context.Context, query string, limit int) ([]domain.SocialPost, error) {
	if g.endpoint == "" {
		return nil, fmt.Errorf("%s gateway: endpoint not configured", g.platform)
	}
	sep := "?"
	if strings.Contains(g.endpoint, "?") {
		sep = "&"
	}
	u := g.endpoint + sep + url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s gateway: %w", g.platform, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s gateway: unexpected status %d", g.platform, resp.StatusCode)
	}

	var gr gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("%s gateway: decode: %w", g.platform, err)
	}

	posts := make([]domain.SocialPost, 0, len(gr.Posts))
	for _, p := range gr.Posts {
		if limit > 0 && len(posts) >= limit {
			break
		}
		posts = append(posts, g.toPost(p))
	}
	return posts, nil
}

// toPost fills the stats shape matching the platform tag.
func (g *Gateway) toPost(p gatewayPost) domain.SocialPost {
	sp := domain.SocialPost{
		Platform: g.platform, ID: p.ID, URL: p.URL, Title: p.Title,
		Author: p.Author, Text: p.Text, PublishedAt: p.PublishedAt,
	}
	switch g.platform.Kind() {
	case domain.KindVideo:
		sp.Video = &domain.VideoStats{Views: p.Views, Likes: p.Likes, Comments: p.Comments}
	case domain.KindMicroBlog:
		sp.MicroBlog = &domain.MicroBlogStats{Likes: p.Likes, Retweets: p.Retweets, Replies: p.Replies}
	case domain.KindPhoto:
		sp.Photo = &domain.PhotoStats{Likes: p.Likes, Comments: p.Comments}
	case domain.KindProfessional:
		sp.Professional = &domain.ProfessionalStats{Likes: p.Likes, Comments: p.Comments, Shares: p.Shares}
	case domain.KindForum:
		sp.Forum = &domain.ForumStats{Score: p.Likes, Comments: p.Comments}
	}
	return sp
}
