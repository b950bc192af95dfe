package sources

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/WessleyAI/pulse/engine/domain"
)

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/res/v1/web/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-Subscription-Token") != "k" {
			t.Errorf("missing token header")
		}
		if r.URL.Query().Get("q") != "organic coffee" || r.URL.Query().Get("count") != "5" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"web":{"results":[{"title":"A","url":"https://a.com","description":"about a"}]}}`))
	}))
	defer srv.Close()

	hits, err := NewBrave("k", srv.URL, srv.Client()).Search(context.Background(), "organic coffee", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].URL != "https://a.com" || hits[0].Snippet != "about a" || hits[0].Provider != "brave" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestBraveRequiresKey(t *testing.T) {
	if _, err := NewBrave("", "http://unused", nil).Search(context.Background(), "q", 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearXNGSearchCapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "json" {
			t.Errorf("format = %s", r.URL.Query().Get("format"))
		}
		w.Write([]byte(`{"results":[{"url":"https://a.com","title":"A","content":"x"},{"url":"https://b.com","title":"B"},{"url":"https://c.com"}]}`))
	}))
	defer srv.Close()

	hits, err := NewSearXNG(srv.URL, srv.Client()).Search(context.Background(), "q", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[1].URL != "https://b.com" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestGetJSONStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewSearXNG(srv.URL, srv.Client()).Search(context.Background(), "q", 2)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v", err)
	}
}

func TestExtraQueries(t *testing.T) {
	qs := ExtraQueries(map[string]string{"segment": "coffee", "product": "organic beans"})
	want := []string{
		"coffee market trends",
		"organic beans competitors",
		"coffee consumer behavior",
		"organic beans pricing",
		"coffee organic beans opportunities",
	}
	if len(qs) != len(want) {
		t.Fatalf("queries = %v", qs)
	}
	for i := range want {
		if qs[i] != want[i] {
			t.Fatalf("qs[%d] = %q, want %q", i, qs[i], want[i])
		}
	}
	if ExtraQueries(map[string]string{"segment": "coffee"}) != nil {
		t.Fatal("expected no extra queries without product")
	}
}

type stubProvider struct {
	name string
	mu   sync.Mutex
	seen []string
	fn   func(query string) ([]domain.SearchResult, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Search(_ context.Context, query string, _ int) ([]domain.SearchResult, error) {
	s.mu.Lock()
	s.seen = append(s.seen, query)
	s.mu.Unlock()
	return s.fn(query)
}

func TestMultiSearchPoolsAndDedups(t *testing.T) {
	a := &stubProvider{name: "a", fn: func(q string) ([]domain.SearchResult, error) {
		return []domain.SearchResult{{URL: "https://shared.com/x", Title: "from a"}, {URL: "https://a.com/" + strings.ReplaceAll(q, " ", "-")}}, nil
	}}
	b := &stubProvider{name: "b", fn: func(q string) ([]domain.SearchResult, error) {
		return []domain.SearchResult{{URL: "https://www.shared.com/x/", Title: "from b"}, {URL: "ftp://shared.com/x"}}, nil
	}}

	ms := NewMultiSearch([]Provider{a, b}, DefaultSearchOptions(), nil, nil)
	phase, err := ms.Search(context.Background(), "coffee", map[string]string{"segment": "s", "product": "p"})
	if err != nil {
		t.Fatal(err)
	}
	if len(phase.Queries) != 6 {
		t.Fatalf("queries = %v", phase.Queries)
	}
	// shared once + one a.com hit per query; the ftp hit is dropped
	if len(phase.Results) != 1+6 {
		t.Fatalf("results = %d: %+v", len(phase.Results), phase.Results)
	}
	if phase.Results[0].Title != "from a" {
		t.Fatalf("first provider should win: %+v", phase.Results[0])
	}
	if len(a.seen) != 6 || len(b.seen) != 6 {
		t.Fatalf("calls a=%d b=%d", len(a.seen), len(b.seen))
	}
}

func TestMultiSearchPartialFailure(t *testing.T) {
	ok := &stubProvider{name: "ok", fn: func(string) ([]domain.SearchResult, error) {
		return []domain.SearchResult{{URL: "https://ok.com"}}, nil
	}}
	bad := &stubProvider{name: "bad", fn: func(string) ([]domain.SearchResult, error) {
		return nil, errors.New("boom")
	}}
	phase, err := NewMultiSearch([]Provider{bad, ok}, DefaultSearchOptions(), nil, nil).Search(context.Background(), "q", nil)
	if err != nil || phase.Error != "" || len(phase.Results) != 1 {
		t.Fatalf("phase = %+v, err = %v", phase, err)
	}
}

func TestMultiSearchAllFail(t *testing.T) {
	bad := &stubProvider{name: "bad", fn: func(string) ([]domain.SearchResult, error) {
		return nil, errors.New("boom")
	}}
	phase, err := NewMultiSearch([]Provider{bad}, DefaultSearchOptions(), nil, nil).Search(context.Background(), "q", nil)
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(phase.Error, "boom") {
		t.Fatalf("phase error = %q", phase.Error)
	}
}

func TestMultiSearchNoProviders(t *testing.T) {
	_, err := NewMultiSearch(nil, SearchOptions{}, nil, nil).Search(context.Background(), "q", nil)
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestCandidates(t *testing.T) {
	c := Candidates(domain.WebSearchPhase{Results: []domain.SearchResult{{URL: "https://a.com", Title: "A"}}})
	if len(c) != 1 || c[0].SourcePhase != domain.PhaseWebSearch || c[0].Title != "A" {
		t.Fatalf("candidates = %+v", c)
	}
}

func TestDeriveTrends(t *testing.T) {
	posts := []domain.SocialPost{
		{Title: "Organic coffee beans", Text: "organic coffee is great #coffee #organic"},
		{Text: "Coffee prices rising, organic farms struggle #coffee #farming"},
		{Text: "cold brew organic"},
	}
	tp := DeriveTrends(posts)

	if len(tp.Keywords) == 0 || tp.Keywords[0].Word != "organic" || tp.Keywords[0].Count != 4 {
		t.Fatalf("keywords = %+v", tp.Keywords)
	}
	if tp.Keywords[1].Word != "coffee" || tp.Keywords[1].Count != 3 {
		t.Fatalf("keywords = %+v", tp.Keywords)
	}
	for _, k := range tp.Keywords {
		if len([]rune(k.Word)) <= 3 {
			t.Fatalf("short word kept: %q", k.Word)
		}
	}
	if strings.Join(tp.Hashtags, ",") != "#coffee,#organic,#farming" {
		t.Fatalf("hashtags = %v", tp.Hashtags)
	}
	if len(tp.Themes) == 0 || tp.Themes[0] != "organic + coffee" {
		t.Fatalf("themes = %v", tp.Themes)
	}
	if len(tp.Themes) > 5 {
		t.Fatalf("too many themes: %d", len(tp.Themes))
	}
}

func TestDeriveTrendsEmpty(t *testing.T) {
	tp := DeriveTrends(nil)
	if len(tp.Trends) != 0 || len(tp.Hashtags) != 0 || len(tp.Themes) != 0 {
		t.Fatalf("tp = %+v", tp)
	}
}

func TestTrendsMergesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(feedResponse{Trends: []string{"Cold Brew", "organic"}, Hashtags: []string{"#latte"}})
	}))
	defer srv.Close()

	tr := NewTrends(NewFeedTrends(srv.URL, srv.Client()), nil)
	tp, err := tr.Search(context.Background(), "coffee", []domain.SocialPost{{Text: "organic organic #coffee"}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(tp.Trends, ",") != "Cold Brew,organic" {
		t.Fatalf("trends = %v", tp.Trends)
	}
	if strings.Join(tp.Hashtags, ",") != "#latte,#coffee" {
		t.Fatalf("hashtags = %v", tp.Hashtags)
	}
}

func TestTrendsFeedFailureKeepsDerived(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewTrends(NewFeedTrends(srv.URL, srv.Client()), nil)
	tp, err := tr.Search(context.Background(), "coffee", []domain.SocialPost{{Text: "espresso espresso"}})
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if tp.Error == "" || len(tp.Trends) != 1 || tp.Trends[0] != "espresso" {
		t.Fatalf("tp = %+v", tp)
	}
}
