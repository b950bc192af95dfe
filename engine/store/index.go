package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/WessleyAI/pulse/engine/domain"
)

// Session status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// SessionRow is one indexed session.
type SessionRow struct {
	ID          string             `json:"id"`
	Query       string             `json:"query"`
	Status      string             `json:"status"`
	Error       string             `json:"error,omitempty"`
	ReportPath  string             `json:"report_path,omitempty"`
	Statistics  *domain.Statistics `json:"statistics,omitempty"`
	SuccessRate float64            `json:"success_rate"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// OpenSQLite opens (or creates) a SQLite database at the given path.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets the API read while a pipeline run writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Index records session metadata for listing and pruning.
type Index struct {
	db *sql.DB
}

// NewIndex runs pending migrations on db.
func NewIndex(db *sql.DB) (*Index, error) {
	ix := &Index{db: db}
	if err := ix.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return ix, nil
}

// OpenIndex opens the sqlite file at path and migrates it.
func OpenIndex(path string) (*Index, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("store: open index: %w", err)
	}
	ix, err := NewIndex(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

// migrate applies versioned migrations tracked in schema_version.
// Add a new migration function in the migrations slice below.
func (ix *Index) migrate() error {
	if _, err := ix.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := ix.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := ix.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	migrations := []func() error{
		ix.migrateV1, // v0 → v1: sessions table
		ix.migrateV2, // v1 → v2: success_rate column
	}
	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := ix.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}
	return nil
}

func (ix *Index) migrateV1() error {
	_, err := ix.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			query       TEXT NOT NULL,
			status      TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			report_path TEXT NOT NULL DEFAULT '',
			statistics  TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
	`)
	return err
}

func (ix *Index) migrateV2() error {
	_, err := ix.db.Exec(`ALTER TABLE sessions ADD COLUMN success_rate REAL NOT NULL DEFAULT 0`)
	return err
}

// Upsert inserts or replaces a session row. CreatedAt is kept from the
// first insert.
func (ix *Index) Upsert(ctx context.Context, r SessionRow) error {
	stats := ""
	if r.Statistics != nil {
		b, err := json.Marshal(r.Statistics)
		if err != nil {
			return fmt.Errorf("store: encode statistics: %w", err)
		}
		stats = string(b)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO sessions (id, query, status, error, report_path, statistics, success_rate, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			query = excluded.query,
			status = excluded.status,
			error = excluded.error,
			report_path = excluded.report_path,
			statistics = excluded.statistics,
			success_rate = excluded.success_rate,
			updated_at = excluded.updated_at`,
		r.ID, r.Query, r.Status, r.Error, r.ReportPath, stats, r.SuccessRate,
		r.CreatedAt.UTC().Format(time.RFC3339Nano), r.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: upsert session %s: %w", r.ID, err)
	}
	return nil
}

const selectCols = `id, query, status, error, report_path, statistics, success_rate, created_at, updated_at`

type scanner interface{ Scan(dest ...any) error }

func scanRow(sc scanner) (SessionRow, error) {
	var r SessionRow
	var stats, created, updated string
	if err := sc.Scan(&r.ID, &r.Query, &r.Status, &r.Error, &r.ReportPath, &stats, &r.SuccessRate, &created, &updated); err != nil {
		return r, err
	}
	if stats != "" {
		var st domain.Statistics
		if err := json.Unmarshal([]byte(stats), &st); err == nil {
			r.Statistics = &st
		}
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return r, nil
}

// Get returns one session or ErrSessionNotFound.
func (ix *Index) Get(ctx context.Context, id string) (SessionRow, error) {
	r, err := scanRow(ix.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("store: %s: %w", id, domain.ErrSessionNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("store: get session %s: %w", id, err)
	}
	return r, nil
}

// List returns up to limit sessions, newest first. limit <= 0 means all.
func (ix *Index) List(ctx context.Context, limit int) ([]SessionRow, error) {
	q := `SELECT ` + selectCols + ` FROM sessions ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return ix.query(ctx, q, args...)
}

// OlderThan returns sessions created before cutoff, oldest first.
func (ix *Index) OlderThan(ctx context.Context, cutoff time.Time) ([]SessionRow, error) {
	return ix.query(ctx, `SELECT `+selectCols+` FROM sessions WHERE created_at < ? ORDER BY created_at`,
		cutoff.UTC().Format(time.RFC3339Nano))
}

func (ix *Index) query(ctx context.Context, q string, args ...any) ([]SessionRow, error) {
	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a session row.
func (ix *Index) Delete(ctx context.Context, id string) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete session %s: %w", id, err)
	}
	return nil
}
