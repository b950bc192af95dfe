package evidence

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/semantic"
)

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Coffee prices rose. Demand is up! Why?\nNew line here v1.2 stays")
	want := []string{"Coffee prices rose.", "Demand is up!", "Why?", "New line here v1.2 stays"}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestChunkSentences(t *testing.T) {
	sentences := []string{"one two three.", "four five six.", "seven eight nine.", "ten eleven twelve."}

	tests := []struct {
		name      string
		size, ovl int
		want      []string
	}{
		{"fits", 100, 0, []string{"one two three. four five six. seven eight nine. ten eleven twelve."}},
		{"no overlap", 6, 0, []string{"one two three. four five six.", "seven eight nine. ten eleven twelve."}},
		{"overlap", 6, 3, []string{"one two three. four five six.", "four five six. seven eight nine.", "seven eight nine. ten eleven twelve."}},
		{"oversized sentence", 2, 0, []string{"one two three.", "four five six.", "seven eight nine.", "ten eleven twelve."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkSentences(sentences, tt.size, tt.ovl)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("got %q", got)
			}
		})
	}
	if chunkSentences(nil, 10, 0) != nil {
		t.Fatal("nil input should give nil")
	}
}

type fakeEmbedder struct {
	err      error
	short    bool
	batches  int
	lastText string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.lastText = text
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batches++
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

type fakeVectors struct {
	ensureErr error
	upsertErr error
	deleted   []string
	records   []semantic.VectorRecord
	filters   map[string]string
	results   []semantic.SearchResult
}

func (f *fakeVectors) EnsureCollection(context.Context, int) error { return f.ensureErr }
func (f *fakeVectors) DeleteSession(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}
func (f *fakeVectors) Upsert(_ context.Context, recs []semantic.VectorRecord) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.records = append(f.records, recs...)
	return nil
}
func (f *fakeVectors) SearchFiltered(_ context.Context, _ []float32, _ int, filters map[string]string) ([]semantic.SearchResult, error) {
	f.filters = filters
	return f.results, nil
}

func contents() []domain.ExtractedContent {
	return []domain.ExtractedContent{
		{URL: "https://example.com/a", Title: "A", Content: "Organic coffee grows. Prices climb fast.", SourcePhase: domain.PhaseWebSearch},
		{URL: "https://example.com/b", Content: "   "},
	}
}

func TestIndexSession(t *testing.T) {
	emb, vec := &fakeEmbedder{}, &fakeVectors{}
	ix := New(emb, vec, Options{ChunkSize: 3, BatchSize: 1}, nil)

	n, err := ix.IndexSession(context.Background(), "s1", contents())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(vec.records) != 2 {
		t.Fatalf("n = %d, records = %d", n, len(vec.records))
	}
	if emb.batches != 2 {
		t.Fatalf("batches = %d", emb.batches)
	}
	if len(vec.deleted) != 1 || vec.deleted[0] != "s1" {
		t.Fatalf("session not cleared first: %v", vec.deleted)
	}
	p := vec.records[1].Payload
	if p["session_id"] != "s1" || p["chunk_index"] != 1 || p["source_phase"] != "web_search" || p["content"] != "Prices climb fast." {
		t.Fatalf("payload = %v", p)
	}

	// Re-indexing produces the same point IDs.
	first := vec.records[0].ID
	vec.records = nil
	ix.IndexSession(context.Background(), "s1", contents())
	if vec.records[0].ID != first {
		t.Fatal("point ids should be deterministic")
	}
}

func TestIndexSessionFailures(t *testing.T) {
	ix := New(&fakeEmbedder{}, &fakeVectors{ensureErr: errors.New("down")}, Options{}, nil)
	if _, err := ix.IndexSession(context.Background(), "s1", contents()); !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("err = %v", err)
	}

	ix = New(&fakeEmbedder{err: errors.New("ollama down")}, &fakeVectors{}, Options{}, nil)
	if _, err := ix.IndexSession(context.Background(), "s1", contents()); !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("err = %v", err)
	}

	ix = New(&fakeEmbedder{short: true}, &fakeVectors{}, Options{}, nil)
	if _, err := ix.IndexSession(context.Background(), "s1", contents()); err == nil {
		t.Fatal("expected vector count mismatch")
	}

	n, err := New(&fakeEmbedder{}, &fakeVectors{}, Options{}, nil).IndexSession(context.Background(), "s1", nil)
	if n != 0 || err != nil {
		t.Fatalf("empty input: n = %d, err = %v", n, err)
	}
}

func TestPassages(t *testing.T) {
	emb := &fakeEmbedder{}
	vec := &fakeVectors{results: []semantic.SearchResult{
		{URL: "https://example.com/a", Score: 0.91234, Content: " coffee demand "},
		{URL: "https://example.com/b", Score: 0.5, Content: ""},
	}}
	ix := New(emb, vec, Options{}, nil)

	got, err := ix.Passages(context.Background(), "s1", "Pricing: price points")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "[https://example.com/a] (score: 0.912)\ncoffee demand" {
		t.Fatalf("passages = %q", got)
	}
	if vec.filters["session_id"] != "s1" || emb.lastText != "Pricing: price points" {
		t.Fatalf("filters = %v, text = %q", vec.filters, emb.lastText)
	}

	emb.err = errors.New("down")
	if _, err := ix.Passages(context.Background(), "s1", "q"); err == nil {
		t.Fatal("expected error")
	}
}
