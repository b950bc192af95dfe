package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

type fakeResult struct {
	records []*neo4j.Record
	idx     int
}

func (f *fakeResult) Next(context.Context) bool {
	if f.idx < len(f.records) {
		f.idx++
		return true
	}
	return false
}

func (f *fakeResult) Record() *neo4j.Record { return f.records[f.idx-1] }

type call struct {
	cypher string
	params map[string]any
}

type fakeRunner struct {
	calls   []call
	records []*neo4j.Record
	failOn  string
}

func (f *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) (repo.Result, error) {
	f.calls = append(f.calls, call{cypher, params})
	if f.failOn != "" && strings.Contains(cypher, f.failOn) {
		return nil, errors.New("neo4j unavailable")
	}
	return &fakeResult{records: f.records}, nil
}

func (f *fakeRunner) Close(context.Context) error { return nil }

func newTestStore(r *fakeRunner) *GraphStore {
	return NewWithSessions(func(context.Context) repo.Runner { return r })
}

func sessionRecord(id string) *neo4j.Record {
	return &neo4j.Record{
		Keys: []string{"n"},
		Values: []any{dbtype.Node{Props: map[string]any{
			"id": id, "query": "organic coffee", "started_at": "2026-03-01T10:00:00Z", "total_sources": int64(7),
		}}},
	}
}

func testRecord() domain.CollectionRecord {
	return domain.CollectionRecord{
		SessionID: "s1",
		Query:     "organic coffee",
		WebSearch: domain.WebSearchPhase{Results: []domain.SearchResult{
			{URL: "https://example.com/a", Title: "A"},
			{URL: "https://EXAMPLE.com/a/", Title: "A again"},
		}},
		SocialMedia: domain.SocialPhase{Platforms: []domain.PlatformResult{{
			Platform: domain.PlatformTwitter,
			Posts: []domain.SocialPost{{
				Platform: domain.PlatformTwitter, URL: "https://x.com/p/1", Text: "beans",
				MicroBlog: &domain.MicroBlogStats{Likes: 10},
			}},
		}}},
		Ranked: []domain.ScoredItem{{CandidateItem: domain.CandidateItem{URL: "https://x.com/p/1"}, Score: 10}},
		Statistics: domain.Statistics{TotalSources: 3, PhaseErrors: []string{"trends: down"}},
	}
}

func TestRecordCollection(t *testing.T) {
	r := &fakeRunner{records: []*neo4j.Record{sessionRecord("s1")}}
	if err := newTestStore(r).RecordCollection(context.Background(), testRecord()); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 2 {
		t.Fatalf("calls = %d", len(r.calls))
	}
	props := r.calls[0].params["props"].(map[string]any)
	if props["total_sources"] != 3 || props["phase_errors"] != 1 {
		t.Fatalf("session props = %v", props)
	}

	rows := r.calls[1].params["sources"].([]map[string]any)
	if len(rows) != 2 {
		t.Fatalf("sources = %v", rows)
	}
	if rows[0]["title"] != "A" || rows[0]["phase"] != "web_search" {
		t.Fatalf("first provenance lost: %v", rows[0])
	}
	if rows[1]["platform"] != "twitter" || rows[1]["score"] != 10.0 {
		t.Fatalf("social row = %v", rows[1])
	}
}

func TestRecordCollectionErrors(t *testing.T) {
	r := &fakeRunner{failOn: "MERGE (n:Session"}
	if err := newTestStore(r).RecordCollection(context.Background(), testRecord()); err == nil {
		t.Fatal("expected merge error")
	}
	r = &fakeRunner{records: []*neo4j.Record{sessionRecord("s1")}, failOn: "UNWIND $sources"}
	if err := newTestStore(r).RecordCollection(context.Background(), testRecord()); err == nil {
		t.Fatal("expected sources error")
	}
}

func TestRecordModules(t *testing.T) {
	r := &fakeRunner{}
	g := newTestStore(r)
	if err := g.RecordModules(context.Background(), domain.GenerationResult{SessionID: "s1"}); err != nil || len(r.calls) != 0 {
		t.Fatalf("empty result should not write: %v", err)
	}
	err := g.RecordModules(context.Background(), domain.GenerationResult{
		SessionID: "s1",
		Artifacts: []domain.ModuleArtifact{
			{Name: "avatars", Method: domain.MethodPrimary, SizeBytes: 900, Attempts: 1},
			{Name: "pricing", Method: domain.MethodFallback, SizeBytes: 2100, Attempts: 3},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	rows := r.calls[0].params["modules"].([]map[string]any)
	if rows[1]["id"] != "s1/pricing" || rows[1]["method"] != "fallback" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestSessionAndSessions(t *testing.T) {
	r := &fakeRunner{records: []*neo4j.Record{sessionRecord("s1")}}
	g := newTestStore(r)

	s, err := g.Session(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if s.Query != "organic coffee" || s.TotalSources != 7 || !s.StartedAt.Equal(want) {
		t.Fatalf("session = %+v", s)
	}

	list, err := g.Sessions(context.Background(), 5)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, err = %v", list, err)
	}
	if !strings.Contains(r.calls[1].cypher, "ORDER BY n.started_at DESC") {
		t.Fatalf("cypher = %s", r.calls[1].cypher)
	}

	if _, err := newTestStore(&fakeRunner{}).Session(context.Background(), "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSources(t *testing.T) {
	r := &fakeRunner{records: []*neo4j.Record{{
		Keys:   []string{"url", "title", "platform", "phase", "score"},
		Values: []any{"https://x.com/p/1", "beans", "twitter", "social_media", 42.5},
	}}}
	got, err := newTestStore(r).Sources(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Score != 42.5 || got[0].Platform != "twitter" {
		t.Fatalf("sources = %+v", got)
	}
}

func TestDeleteSession(t *testing.T) {
	r := &fakeRunner{}
	if err := newTestStore(r).DeleteSession(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	if r.calls[0].params["id"] != "s1" || !strings.Contains(r.calls[0].cypher, "DETACH DELETE s, m") {
		t.Fatalf("call = %+v", r.calls[0])
	}
	r = &fakeRunner{failOn: "DETACH"}
	if err := newTestStore(r).DeleteSession(context.Background(), "s1"); err == nil {
		t.Fatal("expected error")
	}
}
