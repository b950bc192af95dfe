package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/pipeline"
	"github.com/WessleyAI/pulse/engine/store"
	"github.com/WessleyAI/pulse/pkg/config"
)

func fakeReddit(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"children":[{"kind":"t3","data":{"id":"a1","subreddit":"coffee","title":"Best organic beans?","score":120,"num_comments":40,"permalink":"/r/coffee/a1","created_utc":1767225600}}]}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.IndexPath = filepath.Join(cfg.DataDir, "sessions.db")
	cfg.Social.RedditURL = fakeReddit(t).URL
	cfg.Generator.Backoff = time.Millisecond
	return cfg
}

func TestNewWiresOptionalServicesOff(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if a.NATS != nil || a.Bus != nil || a.Graph != nil || a.Vectors != nil || a.Evidence != nil {
		t.Fatalf("optional services connected: %+v", a)
	}
	if a.Pipeline == nil || a.Collector == nil || a.Modules == nil || a.Compiler == nil || a.Index == nil {
		t.Fatal("pipeline not wired")
	}
	if len(a.Specs) != 16 {
		t.Fatalf("specs = %d", len(a.Specs))
	}
	if got := len(a.socialSearchers()); got != 1 {
		t.Fatalf("social searchers = %d, want reddit only", got)
	}
	if len(a.searchProviders()) != 0 {
		t.Fatal("search providers without keys")
	}
}

func TestSocialSearcherOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Social.YouTubeKey = "k"
	cfg.Social.Gateways = map[string]config.GatewayConfig{
		"twitter":   {Endpoint: "http://gw/twitter"},
		"instagram": {Endpoint: "http://gw/instagram"},
	}
	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	var got []domain.Platform
	for _, s := range a.socialSearchers() {
		got = append(got, s.Platform())
	}
	want := []domain.Platform{domain.PlatformYouTube, domain.PlatformReddit, domain.PlatformInstagram, domain.PlatformTwitter}
	if len(got) != len(want) {
		t.Fatalf("platforms = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("platforms = %v, want %v", got, want)
		}
	}
}

func TestRunWithStubBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.ModulesFile = filepath.Join(t.TempDir(), "modules.yaml")
	if err := os.WriteFile(cfg.ModulesFile, []byte("modules:\n  - name: avatars\n  - name: pricing\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	out, err := a.Pipeline.Run(context.Background(), pipeline.Request{Query: "organic coffee", SessionID: "stub1"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Statistics.TotalModules != 2 || out.Statistics.SuccessRate != 100 {
		t.Fatalf("statistics = %+v", out.Statistics)
	}
	if out.Collection.SourcesByType[domain.SourceSocialMedia] == 0 {
		t.Fatalf("collection = %+v", out.Collection)
	}
	report, err := os.ReadFile(out.ReportPath)
	if err != nil || !strings.Contains(string(report), "organic coffee") {
		t.Fatalf("report err = %v", err)
	}
	row, err := a.Index.Get(context.Background(), "stub1")
	if err != nil || row.Status != store.StatusCompleted {
		t.Fatalf("row = %+v, err = %v", row, err)
	}
	if !strings.Contains(a.Registry.Render(), "pulse_sessions_total 1") {
		t.Fatalf("metrics:\n%s", a.Registry.Render())
	}
}

func TestNewFailsOnBadModulesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.ModulesFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error")
	}
}
