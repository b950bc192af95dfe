package modules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/pulse/engine/domain"
)

func TestDefaultSpecs(t *testing.T) {
	specs := DefaultSpecs()
	if len(specs) != 16 {
		t.Fatalf("specs = %d, want 16", len(specs))
	}
	if err := domain.ValidateModuleSpecs(specs); err != nil {
		t.Fatal(err)
	}
	active := 0
	for _, s := range specs {
		if s.Title == "" || s.Description == "" {
			t.Errorf("spec %s incomplete", s.Name)
		}
		if s.RequiresActiveSearch {
			active++
		}
	}
	if active != 3 {
		t.Fatalf("active search specs = %d", active)
	}
}

func writeSpecs(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modules.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSpecs(t *testing.T) {
	path := writeSpecs(t, `
modules:
  - name: avatars
    title: Target Audience Avatars
    description: Personas
  - name: pricing
    description: Pricing strategy
    requires_active_search: true
`)
	specs, err := LoadSpecs(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 || specs[1].Title != "pricing" || !specs[1].RequiresActiveSearch {
		t.Fatalf("specs = %+v", specs)
	}
}

func TestLoadSpecsRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"duplicate", "modules:\n  - name: a\n  - name: a\n", domain.ErrDuplicateModule},
		{"bad name", "modules:\n  - name: \"../etc\"\n", domain.ErrUnknownModule},
		{"empty", "modules: []\n", nil},
		{"not yaml", "modules: [", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSpecs(writeSpecs(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := LoadSpecs(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestSelect(t *testing.T) {
	all := DefaultSpecs()
	got, err := Select(all, []string{"pricing", "avatars"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "avatars" || got[1].Name != "pricing" {
		t.Fatalf("selected = %+v", got)
	}
	if got, _ := Select(all, nil); len(got) != len(all) {
		t.Fatal("empty selection should keep every spec")
	}
	if _, err := Select(all, []string{"horoscope"}); !errors.Is(err, domain.ErrUnknownModule) {
		t.Fatalf("err = %v", err)
	}
}

func TestPromptCapsInputs(t *testing.T) {
	bd := BaseData{
		SessionID:   "s1",
		Query:       "organic coffee",
		Synthesis:   strings.Repeat("s", 5000),
		Report:      strings.Repeat("r", 5000),
		Screenshots: 2,
	}
	p := Prompt(testSpecs[0], bd, []string{"passage one"})
	if !strings.HasPrefix(p, "# Target Audience Avatars\n") {
		t.Fatalf("prompt head = %q", p[:40])
	}
	if strings.Count(p, "s") < promptSynthesisChars || strings.Count(p, "r") > promptReportChars+200 {
		t.Fatal("prompt sections not capped")
	}
	for _, want := range []string{"Research subject: organic coffee", "passage one", "2 images captured"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestEmergencyContentWithoutTitle(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := EmergencyContent(domain.ModuleSpec{Name: "pricing"}, "s9", "", at)
	for _, want := range []string{"# pricing", "**Session**: s9", "**Original error**: -", "2026-03-01T12:00:00Z", "s9/synthesis.json"} {
		if !strings.Contains(c, want) {
			t.Errorf("emergency content missing %q", want)
		}
	}
}
