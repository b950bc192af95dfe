// Package store persists session artifacts on disk and keeps a sqlite index
// of sessions.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/WessleyAI/pulse/engine/domain"
)

// Session file layout, relative to <root>/<session_id>/.
const (
	CollectionFile  = "collection.json"
	SummaryFile     = "collection_summary.json"
	ReportFile      = "collection_report.md"
	SynthesisFile   = "synthesis.json"
	ModulesDir      = "modules"
	ManifestFile    = "manifest.json"
	FinalReport     = "report_final.md"
	CompleteReport  = "report_complete.md"
	ReportStatsFile = "report_stats.json"
)

// Sessions maps session IDs to directories under a root.
type Sessions struct {
	root string
}

func NewSessions(root string) *Sessions { return &Sessions{root: root} }

func (s *Sessions) Root() string { return s.root }

// Dir returns the session directory. The ID must already be validated.
func (s *Sessions) Dir(id string) string { return filepath.Join(s.root, id) }

// Path joins parts under the session directory.
func (s *Sessions) Path(id string, parts ...string) string {
	return filepath.Join(append([]string{s.Dir(id)}, parts...)...)
}

// Create makes the session directory. Failure is the one fatal pipeline
// condition and wraps ErrStorageUnavailable.
func (s *Sessions) Create(id string) (string, error) {
	if err := domain.ValidateSessionID(id); err != nil {
		return "", err
	}
	dir := s.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: %w: %v", domain.ErrStorageUnavailable, err)
	}
	return dir, nil
}

// Require returns the session directory or ErrSessionNotFound.
func (s *Sessions) Require(id string) (string, error) {
	if err := domain.ValidateSessionID(id); err != nil {
		return "", err
	}
	dir := s.Dir(id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("store: %s: %w", id, domain.ErrSessionNotFound)
	}
	return dir, nil
}

// ReadFile reads a session file; a missing file is ErrSessionNotFound.
func (s *Sessions) ReadFile(id string, parts ...string) ([]byte, error) {
	if _, err := s.Require(id); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.Path(id, parts...))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("store: %s/%s: %w", id, filepath.Join(parts...), domain.ErrSessionNotFound)
	}
	return b, err
}

// ReadJSON decodes a session JSON file into v.
func (s *Sessions) ReadJSON(id, name string, v any) error {
	b, err := s.ReadFile(id, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("store: decode %s: %w", name, err)
	}
	return nil
}

// WriteJSON atomically writes v as indented JSON and verifies the result.
func (s *Sessions) WriteJSON(id, name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", name, err)
	}
	return s.WriteFile(id, name, b)
}

// WriteFile atomically writes data and verifies it landed.
func (s *Sessions) WriteFile(id, name string, data []byte) error {
	p := s.Path(id, name)
	if err := WriteFileAtomic(p, data); err != nil {
		return err
	}
	_, err := Verify(p)
	return err
}

// Remove deletes a session directory.
func (s *Sessions) Remove(id string) error {
	if err := domain.ValidateSessionID(id); err != nil {
		return err
	}
	return os.RemoveAll(s.Dir(id))
}

// WriteFileAtomic writes through a temp file in the same directory and
// renames it over path, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", path, err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		return fmt.Errorf("store: chmod %s: %w", path, err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("store: rename %s: %w", path, err)
	}
	return nil
}

// Verify checks that path exists as a regular non-empty file and returns
// its size.
func Verify(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrPersistenceVerification, path, err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return 0, fmt.Errorf("%w: %s is empty", domain.ErrPersistenceVerification, path)
	}
	return info.Size(), nil
}
