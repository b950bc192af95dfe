// Package graph records research provenance in Neo4j: which sources a
// session collected and how each of its modules was produced.
package graph

import "time"

// SessionNode is a research session.
type SessionNode struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	TotalSources int       `json:"total_sources"`
	PhaseErrors  int       `json:"phase_errors"`
}

// SourceNode is a collected URL with how the session found it.
type SourceNode struct {
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Platform string  `json:"platform,omitempty"`
	Phase    string  `json:"phase"`
	Score    float64 `json:"score"`
}

// ModuleNode is one module artifact of a session.
type ModuleNode struct {
	Name      string `json:"name"`
	Method    string `json:"method"`
	SizeBytes int64  `json:"size_bytes"`
	Attempts  int    `json:"attempts"`
}
