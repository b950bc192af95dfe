package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"ok", "organic coffee", nil},
		{"too short", " a ", ErrQueryTooShort},
		{"too long", strings.Repeat("x", 501), ErrQueryTooLong},
		{"sql", "coffee; DROP TABLE users", ErrQueryInjection},
		{"template", "coffee ${env}", ErrQueryInjection},
		{"script", "<script>alert(1)</script>", ErrQueryInjection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuery(tt.in)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != "query" {
				t.Fatalf("expected ValidationError on query, got %v", err)
			}
		})
	}
}

func TestValidateSessionID(t *testing.T) {
	for _, ok := range []string{"abc", "session_2024-01", "7f3c2a9e-1b2c-4d5e-8f90-123456789abc"} {
		if err := ValidateSessionID(ok); err != nil {
			t.Errorf("%q: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "../etc", "a/b", "a.b", "-lead", strings.Repeat("x", 65)} {
		if err := ValidateSessionID(bad); !errors.Is(err, ErrInvalidSession) {
			t.Errorf("%q: err = %v", bad, err)
		}
	}
}

func TestValidateContext(t *testing.T) {
	if err := ValidateContext(map[string]string{"segment": "coffee"}); err != nil {
		t.Fatal(err)
	}
	if err := ValidateContext(map[string]string{" ": "x"}); !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateModuleSpecs(t *testing.T) {
	if err := ValidateModuleSpecs([]ModuleSpec{{Name: "avatars"}, {Name: "pricing"}}); err != nil {
		t.Fatal(err)
	}
	if err := ValidateModuleSpecs([]ModuleSpec{{Name: "a"}, {Name: "a"}}); !errors.Is(err, ErrDuplicateModule) {
		t.Fatalf("err = %v", err)
	}
	if err := ValidateModuleSpecs([]ModuleSpec{{Name: "bad name"}}); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("err = %v", err)
	}
}

func TestPlatformKind(t *testing.T) {
	tests := map[Platform]PlatformKind{
		PlatformYouTube:   KindVideo,
		PlatformTwitter:   KindMicroBlog,
		PlatformInstagram: KindPhoto,
		PlatformLinkedIn:  KindProfessional,
		PlatformReddit:    KindForum,
		"tiktok":          KindUnknown,
	}
	for p, want := range tests {
		if got := p.Kind(); got != want {
			t.Errorf("%s.Kind() = %v, want %v", p, got, want)
		}
	}
}

func TestSocialPostMetricsProjection(t *testing.T) {
	tests := []struct {
		name string
		post SocialPost
		want Metrics
	}{
		{"video", SocialPost{Video: &VideoStats{Views: 100, Likes: 5, Comments: 2}}, Metrics{Views: 100, Likes: 5, Comments: 2}},
		{"micro", SocialPost{MicroBlog: &MicroBlogStats{Likes: 1, Retweets: 2, Replies: 3}}, Metrics{Likes: 1, Retweets: 2, Replies: 3}},
		{"photo", SocialPost{Photo: &PhotoStats{Likes: 4, Comments: 1}}, Metrics{Likes: 4, Comments: 1}},
		{"pro", SocialPost{Professional: &ProfessionalStats{Likes: 1, Comments: 2, Shares: 3}}, Metrics{Likes: 1, Comments: 2, Shares: 3}},
		{"forum", SocialPost{Forum: &ForumStats{Score: 9, Comments: 4}}, Metrics{Likes: 9, Comments: 4}},
		{"none", SocialPost{}, Metrics{}},
	}
	for _, tt := range tests {
		if got := tt.post.Metrics(); got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestCandidateUsesTextWhenUntitled(t *testing.T) {
	c := SocialPost{Platform: PlatformTwitter, URL: "https://x.com/1", Text: "hello"}.Candidate()
	if c.Title != "hello" || c.SourcePhase != PhaseSocialMedia || c.Platform != PlatformTwitter {
		t.Fatalf("candidate = %+v", c)
	}
}

func TestComputeStatisticsSumsPhases(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := CollectionRecord{
		WebSearch:   WebSearchPhase{Results: make([]SearchResult, 3)},
		SocialMedia: SocialPhase{TotalPosts: 4, Error: "twitter down"},
		TrendFindings: TrendPhase{
			Trends:   []string{"a", "b"},
			Hashtags: []string{"#c"},
		},
		ExtractedContent: []ExtractedContent{{Length: 600}, {Length: 900}},
		Screenshots:      ScreenshotPhase{CapturedCount: 2, FailedCount: 1},
		StartedAt:        start,
		CompletedAt:      start.Add(90 * time.Second),
	}
	s := r.ComputeStatistics()

	sum := 0
	for _, n := range s.SourcesByType {
		sum += n
	}
	if s.TotalSources != sum || s.TotalSources != 3+4+3+2 {
		t.Fatalf("total = %d, by type = %v", s.TotalSources, s.SourcesByType)
	}
	if s.TotalContentLength != 1500 {
		t.Fatalf("content length = %d", s.TotalContentLength)
	}
	if len(s.PhaseErrors) != 1 || !strings.HasPrefix(s.PhaseErrors[0], "social_media") {
		t.Fatalf("phase errors = %v", s.PhaseErrors)
	}
	if s.CollectionSeconds != 90 {
		t.Fatalf("seconds = %v", s.CollectionSeconds)
	}
}

func TestGenerationResultCount(t *testing.T) {
	g := GenerationResult{Artifacts: []ModuleArtifact{
		{Method: MethodPrimary}, {Method: MethodFallback}, {Method: MethodFallback},
	}}
	if g.Count(MethodFallback) != 2 || g.Count(MethodEmergency) != 0 {
		t.Fatal("wrong counts")
	}
	if MethodPrimary.Degraded() || !MethodEmergency.Degraded() {
		t.Fatal("wrong degraded flags")
	}
}

func TestPhaseErrorUnwrap(t *testing.T) {
	err := &PhaseError{Phase: "social", Err: ErrSourceUnavailable}
	if !errors.Is(err, ErrSourceUnavailable) || !strings.Contains(err.Error(), "social") {
		t.Fatalf("err = %v", err)
	}
}
