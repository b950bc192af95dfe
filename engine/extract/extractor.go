// Package extract fetches candidate pages and turns them into readable
// markdown text with a bounded, cancellable worker pool.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	nurl "net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/WessleyAI/pulse/engine/domain"
)

// maxBodySize is the maximum HTTP response body size (5MB).
const maxBodySize = 5 * 1024 * 1024

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Extractor fetches one URL and returns its readable content.
type Extractor interface {
	Extract(ctx context.Context, url string) (domain.ExtractedContent, error)
}

// HTTPExtractor fetches pages over HTTP, isolates the main article with
// go-readability, sanitizes it and renders markdown.
type HTTPExtractor struct {
	client *http.Client
	policy *bluemonday.Policy
	md     *converter.Converter
	now    func() time.Time
}

// NewHTTPExtractor creates an extractor. A nil client uses a plain
// http.Client; deadlines come from the caller's context.
func NewHTTPExtractor(client *http.Client) *HTTPExtractor {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPExtractor{
		client: client,
		policy: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		now: time.Now,
	}
}

// Extract performs a single fetch. Retrying is the executor's concern.
func (e *HTTPExtractor) Extract(ctx context.Context, url string) (domain.ExtractedContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.ExtractedContent{}, fmt.Errorf("extract: create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.ExtractedContent{}, fmt.Errorf("extract: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ExtractedContent{}, fmt.Errorf("extract: HTTP %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return domain.ExtractedContent{}, fmt.Errorf("extract: read body: %w", err)
	}

	parsedURL, _ := nurl.Parse(url)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return domain.ExtractedContent{}, fmt.Errorf("extract: readability: %w", err)
	}

	text := e.render(article.Content, url)
	if text == "" {
		text = normalizeText(article.TextContent)
	}

	return domain.ExtractedContent{
		URL:         url,
		Title:       strings.TrimSpace(article.Title),
		Content:     text,
		Length:      utf8.RuneCountInString(text),
		ExtractedAt: e.now().UTC(),
	}, nil
}

// render sanitizes article HTML and converts it to markdown. It returns ""
// when conversion fails so the caller can fall back to plain text.
func (e *HTTPExtractor) render(html, url string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	md, err := e.md.ConvertString(e.policy.Sanitize(html), converter.WithDomain(url))
	if err != nil {
		return ""
	}
	return normalizeText(md)
}

var multiSpace = regexp.MustCompile(`[ \t]+`)
var multiNewline = regexp.MustCompile(`\n{3,}`)

func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return s
}
