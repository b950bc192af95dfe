package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/WessleyAI/pulse/engine/dedup"
	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// GraphStore writes Session, Source and Module nodes.
//
//	(:Session)-[:COLLECTED {phase, score}]->(:Source)
//	(:Session)-[:PRODUCED]->(:Module)
type GraphStore struct {
	sessions   *repo.Neo4jRepo[SessionNode, string]
	newSession repo.SessionFunc
}

// New creates a GraphStore over a Neo4j driver.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return NewWithSessions(repo.DriverSessions(driver))
}

// NewWithSessions creates a GraphStore over any session source.
func NewWithSessions(f repo.SessionFunc) *GraphStore {
	return &GraphStore{
		sessions: repo.NewNeo4jRepo[SessionNode, string](nil, "Session", sessionToMap, sessionFromRecord,
			repo.WithSessions[SessionNode, string](f)),
		newSession: f,
	}
}

// RecordCollection merges the session node and one Source per distinct
// collected URL. Ranked items carry their engagement score onto the edge.
func (g *GraphStore) RecordCollection(ctx context.Context, rec domain.CollectionRecord) error {
	if _, err := g.sessions.Merge(ctx, SessionNode{
		ID:           rec.SessionID,
		Query:        rec.Query,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
		TotalSources: rec.Statistics.TotalSources,
		PhaseErrors:  len(rec.Statistics.PhaseErrors),
	}); err != nil {
		return fmt.Errorf("graph: merge session %s: %w", rec.SessionID, err)
	}

	sources := collectSources(rec)
	if len(sources) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(sources))
	for i, s := range sources {
		rows[i] = map[string]any{
			"url": s.URL, "title": s.Title, "platform": s.Platform, "phase": s.Phase, "score": s.Score,
		}
	}
	cypher := `MATCH (s:Session {id: $id})
		UNWIND $sources AS row
		MERGE (src:Source {url: row.url})
		SET src.title = row.title, src.platform = row.platform
		MERGE (s)-[r:COLLECTED]->(src)
		SET r.phase = row.phase, r.score = row.score`
	if err := g.run(ctx, cypher, map[string]any{"id": rec.SessionID, "sources": rows}); err != nil {
		return fmt.Errorf("graph: record sources for %s: %w", rec.SessionID, err)
	}
	return nil
}

// collectSources lists web then social URLs, first provenance kept.
func collectSources(rec domain.CollectionRecord) []SourceNode {
	scores := make(map[string]float64, len(rec.Ranked))
	for _, it := range rec.Ranked {
		if key, err := dedup.Normalize(it.URL); err == nil {
			scores[key] = it.Score
		}
	}

	var out []SourceNode
	seen := make(map[string]bool)
	add := func(u, title, platform string, phase domain.SourcePhase) {
		key, err := dedup.Normalize(u)
		if err != nil || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, SourceNode{URL: key, Title: title, Platform: platform, Phase: string(phase), Score: scores[key]})
	}
	for _, r := range rec.WebSearch.Results {
		add(r.URL, r.Title, "", domain.PhaseWebSearch)
	}
	for _, p := range rec.SocialMedia.Posts() {
		c := p.Candidate()
		add(c.URL, c.Title, string(c.Platform), domain.PhaseSocialMedia)
	}
	return out
}

// RecordModules merges one Module node per artifact. Module IDs are
// "<session>/<name>" so regeneration overwrites in place.
func (g *GraphStore) RecordModules(ctx context.Context, res domain.GenerationResult) error {
	if len(res.Artifacts) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(res.Artifacts))
	for i, a := range res.Artifacts {
		rows[i] = map[string]any{
			"id":         res.SessionID + "/" + a.Name,
			"name":       a.Name,
			"method":     string(a.Method),
			"size_bytes": a.SizeBytes,
			"attempts":   a.Attempts,
		}
	}
	cypher := `MERGE (s:Session {id: $id})
		WITH s
		UNWIND $modules AS row
		MERGE (m:Module {id: row.id})
		SET m.name = row.name, m.method = row.method, m.size_bytes = row.size_bytes, m.attempts = row.attempts
		MERGE (s)-[:PRODUCED]->(m)`
	if err := g.run(ctx, cypher, map[string]any{"id": res.SessionID, "modules": rows}); err != nil {
		return fmt.Errorf("graph: record modules for %s: %w", res.SessionID, err)
	}
	return nil
}

// Session returns one session node.
func (g *GraphStore) Session(ctx context.Context, id string) (SessionNode, error) {
	return g.sessions.Get(ctx, id)
}

// Sessions lists sessions, most recently started first.
func (g *GraphStore) Sessions(ctx context.Context, limit int) ([]SessionNode, error) {
	return g.sessions.List(ctx, repo.ListOpts{Limit: limit, OrderBy: "started_at"})
}

// Sources returns the session's sources ordered by score.
func (g *GraphStore) Sources(ctx context.Context, sessionID string) ([]SourceNode, error) {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (:Session {id: $id})-[r:COLLECTED]->(src:Source)
		RETURN src.url AS url, src.title AS title, src.platform AS platform, r.phase AS phase, r.score AS score
		ORDER BY r.score DESC, src.url`
	result, err := sess.Run(ctx, cypher, map[string]any{"id": sessionID})
	if err != nil {
		return nil, fmt.Errorf("graph: sources for %s: %w", sessionID, err)
	}
	var out []SourceNode
	for result.Next(ctx) {
		rec := result.Record()
		out = append(out, SourceNode{
			URL:      recString(rec, "url"),
			Title:    recString(rec, "title"),
			Platform: recString(rec, "platform"),
			Phase:    recString(rec, "phase"),
			Score:    recFloat(rec, "score"),
		})
	}
	return out, nil
}

// DeleteSession removes the session and its modules. Sources shared with
// other sessions stay; orphans are dropped.
func (g *GraphStore) DeleteSession(ctx context.Context, id string) error {
	cypher := `MATCH (s:Session {id: $id})
		OPTIONAL MATCH (s)-[:PRODUCED]->(m:Module)
		DETACH DELETE s, m
		WITH count(*) AS done
		MATCH (src:Source) WHERE NOT (src)<-[:COLLECTED]-()
		DETACH DELETE src`
	if err := g.run(ctx, cypher, map[string]any{"id": id}); err != nil {
		return fmt.Errorf("graph: delete session %s: %w", id, err)
	}
	return nil
}

func (g *GraphStore) run(ctx context.Context, cypher string, params map[string]any) error {
	sess := g.newSession(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, cypher, params)
	return err
}

func sessionToMap(s SessionNode) map[string]any {
	return map[string]any{
		"id":            s.ID,
		"query":         s.Query,
		"started_at":    s.StartedAt.UTC().Format(time.RFC3339),
		"completed_at":  s.CompletedAt.UTC().Format(time.RFC3339),
		"total_sources": s.TotalSources,
		"phase_errors":  s.PhaseErrors,
	}
}

func sessionFromRecord(rec *neo4j.Record) (SessionNode, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return SessionNode{}, err
	}
	p := node.Props
	s := SessionNode{
		ID:           strProp(p, "id"),
		Query:        strProp(p, "query"),
		TotalSources: int(intProp(p, "total_sources")),
		PhaseErrors:  int(intProp(p, "phase_errors")),
	}
	s.StartedAt, _ = time.Parse(time.RFC3339, strProp(p, "started_at"))
	s.CompletedAt, _ = time.Parse(time.RFC3339, strProp(p, "completed_at"))
	return s, nil
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func recString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func recFloat(rec *neo4j.Record, key string) float64 {
	v, _ := rec.Get(key)
	switch f := v.(type) {
	case float64:
		return f
	case int64:
		return float64(f)
	}
	return 0
}
