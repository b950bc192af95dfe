// Package evidence indexes a session's extracted content as embedded
// chunks and retrieves the passages most relevant to a module.
package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/semantic"
	"github.com/WessleyAI/pulse/pkg/fn"
	"github.com/google/uuid"
)

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Vectors is the session-scoped vector store.
type Vectors interface {
	EnsureCollection(ctx context.Context, dims int) error
	DeleteSession(ctx context.Context, sessionID string) error
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
	SearchFiltered(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]semantic.SearchResult, error)
}

// Options tunes chunking and retrieval.
type Options struct {
	Dims          int           `yaml:"dims"`
	ChunkSize     int           `yaml:"chunk_size"`
	Overlap       int           `yaml:"overlap"`
	BatchSize     int           `yaml:"batch_size"`
	TopK          int           `yaml:"top_k"`
	SearchTimeout time.Duration `yaml:"search_timeout"`
}

// DefaultOptions suits nomic-embed-text.
func DefaultOptions() Options {
	return Options{
		Dims:          768,
		ChunkSize:     DefaultChunkSize,
		Overlap:       DefaultOverlap,
		BatchSize:     32,
		TopK:          5,
		SearchTimeout: 5 * time.Second,
	}
}

// Doc is one extracted page on its way into the index.
type Doc struct {
	SessionID string
	URL       string
	Title     string
	Phase     domain.SourcePhase
	Content   string
}

// ChunkedDoc is a Doc split into embeddable chunks.
type ChunkedDoc struct {
	Doc
	Chunks []string
}

// EmbeddedDoc is a ChunkedDoc with one embedding per chunk.
type EmbeddedDoc struct {
	ChunkedDoc
	Embeddings [][]float32
}

// Index embeds and stores session evidence.
type Index struct {
	embed   Embedder
	vectors Vectors
	opts    Options
	log     *slog.Logger
	ingest  fn.Stage[Doc, int]
}

// New wires the index stages: chunk, embed, store.
func New(embed Embedder, vectors Vectors, opts Options, logger *slog.Logger) *Index {
	def := DefaultOptions()
	if opts.Dims <= 0 {
		opts.Dims = def.Dims
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = def.SearchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Index{embed: embed, vectors: vectors, opts: opts, log: logger}

	chunked := fn.Then(loggedTap[Doc]("chunk", logger), ix.chunk)
	embedded := fn.Then(chunked, fn.Then(loggedTap[ChunkedDoc]("embed", logger), ix.embedDoc))
	ix.ingest = fn.Then(embedded, fn.Then(loggedTap[EmbeddedDoc]("store", logger), ix.store))
	return ix
}

// loggedTap logs stage entry at debug level.
func loggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return fn.TapStage(func(ctx context.Context, _ T) {
		log.DebugContext(ctx, "evidence: stage", "stage", name)
	})
}

func (ix *Index) chunk(_ context.Context, d Doc) fn.Result[ChunkedDoc] {
	chunks := chunkSentences(splitSentences(d.Content), ix.opts.ChunkSize, ix.opts.Overlap)
	if len(chunks) == 0 {
		return fn.Errf[ChunkedDoc]("evidence: %s: no text", d.URL)
	}
	return fn.Ok(ChunkedDoc{Doc: d, Chunks: chunks})
}

func (ix *Index) embedDoc(ctx context.Context, d ChunkedDoc) fn.Result[EmbeddedDoc] {
	embeddings := make([][]float32, 0, len(d.Chunks))
	for _, batch := range fn.Chunk(d.Chunks, ix.opts.BatchSize) {
		vecs, err := ix.embed.EmbedBatch(ctx, batch)
		if err != nil {
			return fn.Err[EmbeddedDoc](fmt.Errorf("evidence: embed %s: %w", d.URL, err))
		}
		embeddings = append(embeddings, vecs...)
	}
	if len(embeddings) != len(d.Chunks) {
		return fn.Errf[EmbeddedDoc]("evidence: embed %s: got %d vectors for %d chunks", d.URL, len(embeddings), len(d.Chunks))
	}
	return fn.Ok(EmbeddedDoc{ChunkedDoc: d, Embeddings: embeddings})
}

func (ix *Index) store(ctx context.Context, d EmbeddedDoc) fn.Result[int] {
	records := make([]semantic.VectorRecord, len(d.Chunks))
	for i, text := range d.Chunks {
		// Deterministic IDs make re-indexing a session idempotent.
		id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s|%s|%d", d.SessionID, d.URL, i))).String()
		records[i] = semantic.VectorRecord{
			ID:        id,
			Embedding: d.Embeddings[i],
			Payload: map[string]any{
				"content":      text,
				"url":          d.URL,
				"title":        d.Title,
				"session_id":   d.SessionID,
				"source_phase": string(d.Phase),
				"chunk_index":  i,
			},
		}
	}
	if err := ix.vectors.Upsert(ctx, records); err != nil {
		return fn.Err[int](fmt.Errorf("evidence: store %s: %w", d.URL, err))
	}
	return fn.Ok(len(records))
}

// IndexSession replaces the session's evidence with chunks of contents and
// returns how many chunks were stored. Individual page failures are logged
// and skipped; the call fails only when nothing could be stored.
func (ix *Index) IndexSession(ctx context.Context, sessionID string, contents []domain.ExtractedContent) (int, error) {
	if len(contents) == 0 {
		return 0, nil
	}
	if err := ix.vectors.EnsureCollection(ctx, ix.opts.Dims); err != nil {
		return 0, fmt.Errorf("evidence: %w: %v", domain.ErrSourceUnavailable, err)
	}
	if err := ix.vectors.DeleteSession(ctx, sessionID); err != nil {
		return 0, fmt.Errorf("evidence: %w: %v", domain.ErrSourceUnavailable, err)
	}

	total, failed := 0, 0
	var lastErr error
	for _, c := range contents {
		n, err := ix.ingest(ctx, Doc{
			SessionID: sessionID,
			URL:       c.URL,
			Title:     c.Title,
			Phase:     c.SourcePhase,
			Content:   c.Content,
		}).Unwrap()
		if err != nil {
			failed++
			lastErr = err
			ix.log.Warn("evidence: index page", "session", sessionID, "url", c.URL, "err", err)
			continue
		}
		total += n
	}
	if total == 0 && failed > 0 {
		return 0, fmt.Errorf("evidence: %w: %v", domain.ErrSourceUnavailable, lastErr)
	}
	ix.log.Info("evidence: indexed", "session", sessionID, "chunks", total, "failed_pages", failed)
	return total, nil
}

// Passages returns the top passages for query within one session,
// formatted for a prompt.
func (ix *Index) Passages(ctx context.Context, sessionID, query string) ([]string, error) {
	emb, err := ix.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("evidence: embed query: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, ix.opts.SearchTimeout)
	defer cancel()
	results, err := ix.vectors.SearchFiltered(searchCtx, emb, ix.opts.TopK, map[string]string{"session_id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("evidence: search: %w", err)
	}
	return formatPassages(results), nil
}

func formatPassages(results []semantic.SearchResult) []string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		text := strings.TrimSpace(r.Content)
		if text == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] (score: %.3f)\n%s", r.URL, r.Score, text))
	}
	return parts
}
