package semantic

// SearchResult is a single vector search hit.
type SearchResult struct {
	ID        string            `json:"id"`
	Score     float32           `json:"score"`
	Content   string            `json:"content"`
	URL       string            `json:"url"`
	SessionID string            `json:"session_id"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// VectorRecord is a single vector to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // content, url, session_id, chunk_index, source_phase
}
