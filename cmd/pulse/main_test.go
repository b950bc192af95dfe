package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupCLI(t *testing.T) string {
	t.Helper()
	reddit := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"children":[{"kind":"t3","data":{"id":"c1","title":"Organic coffee subscriptions","score":80,"num_comments":12,"permalink":"/r/coffee/c1","created_utc":1767225600}}]}}`))
	}))
	t.Cleanup(reddit.Close)

	dir := t.TempDir()
	body := "data_dir: " + filepath.Join(dir, "data") + `
llm:
  backend: stub
social:
  reddit_url: ` + reddit.URL + `
generator:
  backoff: 1ms
`
	path := filepath.Join(dir, "pulse.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"PULSE_DATA_DIR", "PULSE_INDEX_PATH", "NATS_URL", "NEO4J_URL", "LLM_BACKEND"} {
		t.Setenv(k, "")
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	sessionID, contextKVs, moduleNames = "", nil, nil
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunListCompilePrune(t *testing.T) {
	conf := setupCLI(t)

	out, err := execute(t, "-c", conf, "run", "organic", "coffee", "--session", "cli1", "--context", "segment=specialty")
	if err != nil {
		t.Fatal(err)
	}
	var outcome struct {
		SessionID  string `json:"session_id"`
		ReportPath string `json:"report_path"`
		Statistics struct {
			TotalModules int     `json:"total_modules"`
			SuccessRate  float64 `json:"success_rate"`
		} `json:"statistics"`
	}
	if err := json.Unmarshal([]byte(out), &outcome); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if outcome.SessionID != "cli1" || outcome.Statistics.TotalModules != 16 || outcome.Statistics.SuccessRate != 100 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if _, err := os.Stat(outcome.ReportPath); err != nil {
		t.Fatal(err)
	}

	out, err = execute(t, "-c", conf, "sessions")
	if err != nil || !strings.Contains(out, "cli1") || !strings.Contains(out, "completed") {
		t.Fatalf("sessions = %q, err = %v", out, err)
	}

	out, err = execute(t, "-c", conf, "sessions", "show", "cli1")
	if err != nil || !strings.Contains(out, `"query": "organic coffee"`) {
		t.Fatalf("show = %q, err = %v", out, err)
	}

	if out, err = execute(t, "-c", conf, "compile", "cli1"); err != nil || !strings.Contains(out, "report_final.md") {
		t.Fatalf("compile = %q, err = %v", out, err)
	}

	out, err = execute(t, "-c", conf, "prune", "--older-than", "1ns", "--dry-run")
	if err != nil || !strings.Contains(out, "cli1") {
		t.Fatalf("dry run = %q, err = %v", out, err)
	}
	if _, err := os.Stat(filepath.Dir(outcome.ReportPath)); err != nil {
		t.Fatal("dry run removed the session")
	}
	if _, err = execute(t, "-c", conf, "prune", "--older-than", "1ns", "--dry-run=false"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Dir(outcome.ReportPath)); !os.IsNotExist(err) {
		t.Fatalf("session dir still present: %v", err)
	}
	out, _ = execute(t, "-c", conf, "sessions")
	if strings.Contains(out, "cli1") {
		t.Fatalf("pruned session still listed: %q", out)
	}
}

func TestStepCommands(t *testing.T) {
	conf := setupCLI(t)

	out, err := execute(t, "-c", conf, "collect", "organic", "coffee", "--session", "steps1")
	if err != nil || !strings.Contains(out, `"session_id": "steps1"`) {
		t.Fatalf("collect = %q, err = %v", out, err)
	}
	if _, err := execute(t, "-c", conf, "synthesize", "steps1"); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "-c", conf, "generate", "steps1", "--modules", "avatars,pricing")
	if err != nil || !strings.Contains(out, `"modules": 2`) {
		t.Fatalf("generate = %q, err = %v", out, err)
	}
	if _, err := execute(t, "-c", conf, "compile", "steps1"); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "-c", conf, "sessions")
	if err != nil || !strings.Contains(out, "steps1") {
		t.Fatalf("sessions = %q, err = %v", out, err)
	}
}

func TestCommandErrors(t *testing.T) {
	conf := setupCLI(t)
	if _, err := execute(t, "-c", conf, "run", "x"); err == nil {
		t.Fatal("short query accepted")
	}
	if _, err := execute(t, "-c", conf, "collect", "organic coffee", "--context", "novalue"); err == nil {
		t.Fatal("bad context accepted")
	}
	if _, err := execute(t, "-c", conf, "compile", "missing"); err == nil {
		t.Fatal("compile of missing session succeeded")
	}
	if _, err := execute(t, "-c", conf, "watch"); err == nil || !strings.Contains(err.Error(), "nats") {
		t.Fatalf("watch without nats err = %v", err)
	}
	if _, err := execute(t, "-c", filepath.Join(t.TempDir(), "nope.yaml"), "sessions"); err == nil {
		t.Fatal("missing config accepted")
	}
}

func TestParseContext(t *testing.T) {
	got, err := parseContext([]string{"segment = specialty", "region=EU"})
	if err != nil || got["segment"] != "specialty" || got["region"] != "EU" {
		t.Fatalf("got %v, err = %v", got, err)
	}
	if got, err := parseContext(nil); got != nil || err != nil {
		t.Fatalf("empty = %v, %v", got, err)
	}
	if _, err := parseContext([]string{"=x"}); err == nil {
		t.Fatal("empty key accepted")
	}
}
