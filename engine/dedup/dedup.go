// Package dedup merges candidate lists from several adapters into a unique
// set keyed by normalized URL, keeping the provenance of the first sighting.
package dedup

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/WessleyAI/pulse/engine/domain"
)

// ErrInvalidURL is returned for URLs that cannot identify a fetchable page.
var ErrInvalidURL = errors.New("dedup: invalid url")

// trackingParams never change the page a URL points to.
var trackingParams = map[string]bool{
	"fbclid": true, "gclid": true, "igshid": true, "mc_cid": true, "mc_eid": true,
	"ref": true, "ref_src": true, "si": true, "feature": true,
}

// Normalize returns the identity key of a URL: lowercase scheme and host,
// no "www." prefix, no default port, no fragment, no trailing slash, no
// tracking parameters, remaining query parameters sorted.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host = net.JoinHostPort(host, port)
	}

	q := u.Query()
	for k := range q {
		if trackingParams[strings.ToLower(k)] || strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}

	out := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     strings.TrimRight(u.Path, "/"),
		RawQuery: q.Encode(), // Encode sorts by key
	}
	return out.String(), nil
}

// Entry is a unique candidate plus every later phase that also found it.
type Entry struct {
	domain.CandidateItem
	Key        string               `json:"key"`
	AlsoSeenIn []domain.SourcePhase `json:"also_seen_in,omitempty"`
}

// Set accumulates unique candidates in first-seen order. It is not safe for
// concurrent use; adapters hand their lists over after they finish.
type Set struct {
	entries []Entry
	index   map[string]int
	invalid int
}

// New returns an empty Set.
func New() *Set {
	return &Set{index: make(map[string]int)}
}

// Add merges items into the set and returns how many were new. Duplicates
// keep the first item's fields; their phase is noted in AlsoSeenIn.
func (s *Set) Add(items ...domain.CandidateItem) int {
	added := 0
	for _, it := range items {
		key, err := Normalize(it.URL)
		if err != nil {
			s.invalid++
			continue
		}
		if i, ok := s.index[key]; ok {
			e := &s.entries[i]
			if it.SourcePhase != e.SourcePhase && !slices.Contains(e.AlsoSeenIn, it.SourcePhase) {
				e.AlsoSeenIn = append(e.AlsoSeenIn, it.SourcePhase)
			}
			continue
		}
		s.index[key] = len(s.entries)
		s.entries = append(s.entries, Entry{CandidateItem: it, Key: key})
		added++
	}
	return added
}

// Len returns the number of unique entries.
func (s *Set) Len() int { return len(s.entries) }

// Invalid returns how many items were rejected as unusable URLs.
func (s *Set) Invalid() int { return s.invalid }

// Entries returns the unique entries in first-seen order.
func (s *Set) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Items returns the unique candidates in first-seen order.
func (s *Set) Items() []domain.CandidateItem {
	out := make([]domain.CandidateItem, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.CandidateItem
	}
	return out
}

// Merge deduplicates several adapter lists in the order given.
func Merge(lists ...[]domain.CandidateItem) []domain.CandidateItem {
	s := New()
	for _, l := range lists {
		s.Add(l...)
	}
	return s.Items()
}
