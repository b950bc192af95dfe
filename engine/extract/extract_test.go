package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/goleak"

	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/pkg/metrics"
)

const articleHTML = `<!DOCTYPE html>
<html><head><title>Organic Coffee Market Report</title></head>
<body>
<nav><a href="/">Home</a> | <a href="/about">About</a></nav>
<article>
<h1>Organic Coffee Market Report</h1>
<p>Organic coffee demand keeps growing as consumers look for traceable beans, fair wages for growers and farming practices that protect the soil over the long term.</p>
<p>Specialty roasters report that single origin organic lots now make up a larger share of their catalogues than five years ago, and subscription services push them hardest.</p>
<p>Retail prices for certified organic coffee sit well above conventional coffee, but buyers in urban markets accept the premium when packaging explains the sourcing story clearly.</p>
<p>Analysts expect cold brew and ready to drink formats to carry much of the next wave of growth, especially among younger shoppers who buy through social commerce channels.</p>
<script>alert("x")</script>
</article>
<footer>Copyright</footer>
</body></html>`

func TestHTTPExtractorExtractsArticle(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	c, err := NewHTTPExtractor(srv.Client()).Extract(context.Background(), srv.URL+"/coffee")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(gotUA, "Mozilla/5.0") {
		t.Fatalf("user agent = %q", gotUA)
	}
	if !strings.Contains(c.Content, "Organic coffee demand keeps growing") {
		t.Fatalf("content missing article text: %q", c.Content)
	}
	if strings.Contains(c.Content, "alert(") {
		t.Fatal("script leaked into content")
	}
	if c.Length != utf8.RuneCountInString(c.Content) {
		t.Fatalf("length = %d, runes = %d", c.Length, utf8.RuneCountInString(c.Content))
	}
	if c.URL != srv.URL+"/coffee" || c.ExtractedAt.IsZero() {
		t.Fatalf("metadata = %+v", c)
	}
}

func TestHTTPExtractorNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := NewHTTPExtractor(srv.Client()).Extract(context.Background(), srv.URL); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err = %v", err)
	}
}

func TestNormalizeText(t *testing.T) {
	got := normalizeText("  a \t b\n\n\n\n c  ")
	if got != "a b\n\n c" {
		t.Fatalf("got %q", got)
	}
}

type fakeExtractor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, url string) (domain.ExtractedContent, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, url string) (domain.ExtractedContent, error) {
	f.calls.Add(1)
	return f.fn(ctx, url)
}

func page(url string, n int) domain.ExtractedContent {
	s := strings.Repeat("x", n)
	return domain.ExtractedContent{URL: url, Content: s, Length: n}
}

func candidates(n int) []domain.CandidateItem {
	out := make([]domain.CandidateItem, n)
	for i := range out {
		out[i] = domain.CandidateItem{URL: fmt.Sprintf("https://example.com/%d", i), SourcePhase: domain.PhaseWebSearch}
	}
	return out
}

func TestExecutorClassifiesOutcomes(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := &fakeExtractor{fn: func(ctx context.Context, url string) (domain.ExtractedContent, error) {
		switch url {
		case "https://example.com/0":
			return page(url, 800), nil
		case "https://example.com/1":
			return page(url, 499), nil
		case "https://example.com/2":
			return domain.ExtractedContent{}, errors.New("connection refused")
		default:
			return page(url, 500), nil
		}
	}}
	reg := metrics.New()
	exec := NewExecutor(fake, DefaultOptions(), nil, metrics.NewPipeline(reg))

	out, stats := exec.Run(context.Background(), candidates(4))
	if stats.Attempted != 4 || stats.Succeeded != 2 || stats.TooShort != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(out) != 2 {
		t.Fatalf("out = %d", len(out))
	}
	for _, c := range out {
		if c.Length < 500 {
			t.Fatalf("short content kept: %s", c.URL)
		}
		if c.SourcePhase != domain.PhaseWebSearch {
			t.Fatalf("phase not carried: %+v", c)
		}
	}
	if !strings.Contains(reg.Render(), `pulse_fetch_total{outcome="too_short"} 1`) {
		t.Fatalf("metrics:\n%s", reg.Render())
	}
}

func TestExecutorCapsURLs(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := &fakeExtractor{fn: func(ctx context.Context, url string) (domain.ExtractedContent, error) {
		return page(url, 600), nil
	}}
	out, stats := NewExecutor(fake, DefaultOptions(), nil, nil).Run(context.Background(), candidates(150))
	if stats.Attempted != 100 || len(out) != 100 || fake.calls.Load() != 100 {
		t.Fatalf("attempted = %d, out = %d, calls = %d", stats.Attempted, len(out), fake.calls.Load())
	}
}

func TestExecutorPerItemTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := &fakeExtractor{fn: func(ctx context.Context, url string) (domain.ExtractedContent, error) {
		if url == "https://example.com/0" {
			<-ctx.Done()
			return domain.ExtractedContent{}, ctx.Err()
		}
		return page(url, 600), nil
	}}
	opts := DefaultOptions()
	opts.Timeout = 50 * time.Millisecond

	start := time.Now()
	out, stats := NewExecutor(fake, opts, nil, nil).Run(context.Background(), candidates(3))
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not bound the slow item")
	}
	if stats.Failed != 1 || stats.Succeeded != 2 || len(out) != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Error != "" {
		t.Fatalf("session error set on item timeout: %q", stats.Error)
	}
}

func TestExecutorSessionCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeExtractor{fn: func(ctx context.Context, url string) (domain.ExtractedContent, error) {
		cancel()
		<-ctx.Done()
		return domain.ExtractedContent{}, ctx.Err()
	}}
	opts := DefaultOptions()
	opts.Workers = 1

	out, stats := NewExecutor(fake, opts, nil, nil).Run(ctx, candidates(20))
	if len(out) != 0 || stats.Failed != 20 {
		t.Fatalf("out = %d, stats = %+v", len(out), stats)
	}
	if stats.Error == "" {
		t.Fatal("expected cancellation marker")
	}
	if fake.calls.Load() >= 20 {
		t.Fatalf("cancelled run still dispatched %d items", fake.calls.Load())
	}
}
