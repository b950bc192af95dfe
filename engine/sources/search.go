// Package sources provides the web search and trend adapters of the
// collection phase.
package sources

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
)

// Provider is one web search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error)
}

// Brave queries the Brave Search API.
type Brave struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewBrave creates a Brave provider. An empty baseURL uses the public API.
func NewBrave(apiKey, baseURL string, client *http.Client) *Brave {
	if baseURL == "" {
		baseURL = "https://api.search.brave.com"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Brave{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (b *Brave) Name() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if b.apiKey == "" {
		return nil, fmt.Errorf("brave: API key required")
	}
	params := url.Values{
		"q":     {query},
		"count": {strconv.Itoa(limit)},
	}
	var br braveResponse
	err := getJSON(ctx, b.client, b.baseURL+"/res/v1/web/search?"+params.Encode(), map[string]string{
		"X-Subscription-Token": b.apiKey,
	}, &br)
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}

	out := make([]domain.SearchResult, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		out = append(out, domain.SearchResult{
			URL: r.URL, Title: r.Title, Snippet: r.Description, Provider: b.Name(), Query: query,
		})
	}
	return out, nil
}

// SearXNG queries a SearXNG instance through its JSON output format.
type SearXNG struct {
	baseURL string
	client  *http.Client
}

func NewSearXNG(baseURL string, client *http.Client) *SearXNG {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SearXNG{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *SearXNG) Name() string { return "searxng" }

type searxResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *SearXNG) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if s.baseURL == "" {
		return nil, fmt.Errorf("searxng: base URL required")
	}
	params := url.Values{
		"q":      {query},
		"format": {"json"},
	}
	var sr searxResponse
	if err := getJSON(ctx, s.client, s.baseURL+"/search?"+params.Encode(), nil, &sr); err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}

	var out []domain.SearchResult
	for _, r := range sr.Results {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, domain.SearchResult{
			URL: r.URL, Title: r.Title, Snippet: r.Content, Provider: s.Name(), Query: query,
		})
	}
	return out, nil
}

// getJSON performs a GET and decodes a JSON body into v.
func getJSON(ctx context.Context, client *http.Client, u string, headers map[string]string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "pulse-collector/1.0")
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
