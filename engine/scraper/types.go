// Package scraper implements the social media adapters: one searcher per
// platform and an aggregator that fans a query out over all of them.
package scraper

import (
	"context"
	"errors"

	"github.com/WessleyAI/pulse/engine/domain"
)

// PlatformSearcher finds posts about a query on one platform.
type PlatformSearcher interface {
	Platform() domain.Platform
	Search(ctx context.Context, query string, limit int) ([]domain.SocialPost, error)
}

// ErrQuotaExhausted is returned when the YouTube API quota is exceeded.
var ErrQuotaExhausted = errors.New("youtube API quota exhausted")
