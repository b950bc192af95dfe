// Package domain defines the core types, error taxonomy and validation for the
// research pipeline. It is the validation gate at pipeline entry points.
package domain

import "time"

// Platform tags the shape of a social post.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformReddit    Platform = "reddit"
)

// PlatformKind is the post-shape family a platform belongs to.
type PlatformKind int

const (
	KindUnknown PlatformKind = iota
	KindVideo
	KindMicroBlog
	KindPhoto
	KindProfessional
	KindForum
)

// Kind maps a platform to its family. Anything unrecognised is KindUnknown.
func (p Platform) Kind() PlatformKind {
	switch p {
	case PlatformYouTube:
		return KindVideo
	case PlatformTwitter:
		return KindMicroBlog
	case PlatformInstagram:
		return KindPhoto
	case PlatformLinkedIn:
		return KindProfessional
	case PlatformReddit:
		return KindForum
	default:
		return KindUnknown
	}
}

// SourcePhase names the collection phase that produced a candidate.
type SourcePhase string

const (
	PhaseWebSearch   SourcePhase = "web_search"
	PhaseSocialMedia SourcePhase = "social_media"
	PhaseTrends      SourcePhase = "trends"
)

// Metrics is the engagement projection shared by every post shape.
type Metrics struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Shares   int64 `json:"shares"`
	Comments int64 `json:"comments"`
	Retweets int64 `json:"retweets,omitempty"`
	Replies  int64 `json:"replies,omitempty"`
}

// CandidateItem is a URL discovered by an adapter. Its identity is the
// normalized URL.
type CandidateItem struct {
	URL         string      `json:"url"`
	Platform    Platform    `json:"platform,omitempty"`
	Title       string      `json:"title"`
	Metrics     Metrics     `json:"metrics"`
	SourcePhase SourcePhase `json:"source_phase"`
}

// ScoredItem is a candidate with its engagement score for this session.
type ScoredItem struct {
	CandidateItem
	Score float64 `json:"score"`
}

// SearchResult is one web search hit.
type SearchResult struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Provider string `json:"provider"`
	Query    string `json:"query"`
}

// Per-shape engagement stats. Exactly one is set on a SocialPost.
type (
	VideoStats struct {
		Views    int64 `json:"views"`
		Likes    int64 `json:"likes"`
		Comments int64 `json:"comments"`
	}
	MicroBlogStats struct {
		Likes    int64 `json:"likes"`
		Retweets int64 `json:"retweets"`
		Replies  int64 `json:"replies"`
	}
	PhotoStats struct {
		Likes    int64 `json:"likes"`
		Comments int64 `json:"comments"`
	}
	ProfessionalStats struct {
		Likes    int64 `json:"likes"`
		Comments int64 `json:"comments"`
		Shares   int64 `json:"shares"`
	}
	ForumStats struct {
		Score    int64 `json:"score"`
		Comments int64 `json:"comments"`
	}
)

// SocialPost is a tagged union over platform post shapes. Platform is the tag.
type SocialPost struct {
	Platform    Platform  `json:"platform"`
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	Text        string    `json:"text,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`

	Video        *VideoStats        `json:"video,omitempty"`
	MicroBlog    *MicroBlogStats    `json:"micro_blog,omitempty"`
	Photo        *PhotoStats        `json:"photo,omitempty"`
	Professional *ProfessionalStats `json:"professional,omitempty"`
	Forum        *ForumStats        `json:"forum,omitempty"`
}

// Metrics projects the shape-specific stats onto the shared metrics view.
func (p SocialPost) Metrics() Metrics {
	switch {
	case p.Video != nil:
		return Metrics{Views: p.Video.Views, Likes: p.Video.Likes, Comments: p.Video.Comments}
	case p.MicroBlog != nil:
		return Metrics{Likes: p.MicroBlog.Likes, Retweets: p.MicroBlog.Retweets, Replies: p.MicroBlog.Replies}
	case p.Photo != nil:
		return Metrics{Likes: p.Photo.Likes, Comments: p.Photo.Comments}
	case p.Professional != nil:
		return Metrics{Likes: p.Professional.Likes, Comments: p.Professional.Comments, Shares: p.Professional.Shares}
	case p.Forum != nil:
		return Metrics{Likes: p.Forum.Score, Comments: p.Forum.Comments}
	}
	return Metrics{}
}

// Candidate converts the post into a ranking candidate.
func (p SocialPost) Candidate() CandidateItem {
	title := p.Title
	if title == "" {
		title = p.Text
	}
	return CandidateItem{
		URL:         p.URL,
		Platform:    p.Platform,
		Title:       title,
		Metrics:     p.Metrics(),
		SourcePhase: PhaseSocialMedia,
	}
}

// WebSearchPhase is the web search phase result. Error is the phase marker.
type WebSearchPhase struct {
	Queries []string       `json:"queries"`
	Results []SearchResult `json:"results"`
	Error   string         `json:"error,omitempty"`
}

// PlatformResult holds one platform's posts or its error.
type PlatformResult struct {
	Platform Platform     `json:"platform"`
	Posts    []SocialPost `json:"posts"`
	Error    string       `json:"error,omitempty"`
}

// SocialPhase is the social media phase result, platforms in search order.
type SocialPhase struct {
	Platforms  []PlatformResult `json:"platforms"`
	TotalPosts int              `json:"total_posts"`
	Error      string           `json:"error,omitempty"`
}

// Posts flattens every platform's posts in platform order.
func (s SocialPhase) Posts() []SocialPost {
	var out []SocialPost
	for _, p := range s.Platforms {
		out = append(out, p.Posts...)
	}
	return out
}

// KeywordCount is a word and its frequency.
type KeywordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// TrendPhase is the trend phase result.
type TrendPhase struct {
	Trends   []string       `json:"trends"`
	Hashtags []string       `json:"hashtags"`
	Themes   []string       `json:"themes,omitempty"`
	Keywords []KeywordCount `json:"keywords,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Sources is how many trend sources the phase contributes: trends plus hashtags.
func (p TrendPhase) Sources() int { return len(p.Trends) + len(p.Hashtags) }

// Screenshot is one captured page. Filename is relative to the session directory.
type Screenshot struct {
	Platform Platform `json:"platform"`
	URL      string   `json:"url"`
	Title    string   `json:"title,omitempty"`
	Filename string   `json:"filename"`
	Score    float64  `json:"score"`
	Metrics  Metrics  `json:"metrics"`
}

// ScreenshotPhase is the capture phase result.
type ScreenshotPhase struct {
	Captured      []Screenshot `json:"captured"`
	CapturedCount int          `json:"captured_count"`
	FailedCount   int          `json:"failed_count"`
	Error         string       `json:"error,omitempty"`
}

// ExtractedContent is the readable text fetched from one URL.
type ExtractedContent struct {
	URL         string      `json:"url"`
	Title       string      `json:"title,omitempty"`
	Content     string      `json:"content"`
	Length      int         `json:"length"`
	ExtractedAt time.Time   `json:"extracted_at"`
	SourcePhase SourcePhase `json:"source_phase,omitempty"`
}

// ExtractionStats counts fetch executor outcomes.
type ExtractionStats struct {
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	TooShort  int    `json:"too_short"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// Source type keys used in Statistics.SourcesByType.
const (
	SourceWebSearch        = "web_search"
	SourceSocialMedia      = "social_media"
	SourceTrends           = "trends"
	SourceExtractedContent = "extracted_content"
)

// Statistics summarises a finished collection.
type Statistics struct {
	SourcesByType       map[string]int `json:"sources_by_type"`
	TotalSources        int            `json:"total_sources"`
	TotalContentLength  int            `json:"total_content_length"`
	ViralCandidates     int            `json:"viral_candidates"`
	ScreenshotsCaptured int            `json:"screenshots_captured"`
	ScreenshotsFailed   int            `json:"screenshots_failed"`
	EvidenceChunks      int            `json:"evidence_chunks,omitempty"`
	PhaseErrors         []string       `json:"phase_errors,omitempty"`
	CollectionSeconds   float64        `json:"collection_seconds"`
}

// CollectionRecord is the single structured result of a collection session.
type CollectionRecord struct {
	SessionID        string             `json:"session_id"`
	Query            string             `json:"query"`
	Context          map[string]string  `json:"context,omitempty"`
	WebSearch        WebSearchPhase     `json:"web_search"`
	SocialMedia      SocialPhase        `json:"social_media"`
	TrendFindings    TrendPhase         `json:"trend_findings"`
	Ranked           []ScoredItem       `json:"ranked"`
	Screenshots      ScreenshotPhase    `json:"screenshots"`
	ExtractedContent []ExtractedContent `json:"extracted_content"`
	Extraction       ExtractionStats    `json:"extraction"`
	EvidenceChunks   int                `json:"evidence_chunks,omitempty"`
	EvidenceError    string             `json:"evidence_error,omitempty"`
	Statistics       Statistics         `json:"statistics"`
	StartedAt        time.Time          `json:"started_at"`
	CompletedAt      time.Time          `json:"completed_at"`
}

// ComputeStatistics sums the phase-local counts. Call it only once every
// phase has resolved, successfully or with an error marker.
func (r *CollectionRecord) ComputeStatistics() Statistics {
	by := map[string]int{
		SourceWebSearch:        len(r.WebSearch.Results),
		SourceSocialMedia:      r.SocialMedia.TotalPosts,
		SourceTrends:           r.TrendFindings.Sources(),
		SourceExtractedContent: len(r.ExtractedContent),
	}
	total := 0
	for _, n := range by {
		total += n
	}

	contentLen := 0
	for _, c := range r.ExtractedContent {
		contentLen += c.Length
	}

	var errs []string
	for _, pe := range []struct{ phase, err string }{
		{"web_search", r.WebSearch.Error},
		{"social_media", r.SocialMedia.Error},
		{"trends", r.TrendFindings.Error},
		{"screenshots", r.Screenshots.Error},
		{"extraction", r.Extraction.Error},
		{"evidence", r.EvidenceError},
	} {
		if pe.err != "" {
			errs = append(errs, pe.phase+": "+pe.err)
		}
	}

	var secs float64
	if !r.CompletedAt.IsZero() && !r.StartedAt.IsZero() {
		secs = r.CompletedAt.Sub(r.StartedAt).Seconds()
	}

	return Statistics{
		SourcesByType:       by,
		TotalSources:        total,
		TotalContentLength:  contentLen,
		ViralCandidates:     len(r.Ranked),
		ScreenshotsCaptured: r.Screenshots.CapturedCount,
		ScreenshotsFailed:   r.Screenshots.FailedCount,
		EvidenceChunks:      r.EvidenceChunks,
		PhaseErrors:         errs,
		CollectionSeconds:   secs,
	}
}

// SummaryMetadata identifies a session in the compact summary.
type SummaryMetadata struct {
	SessionID   string            `json:"session_id"`
	Query       string            `json:"query"`
	Context     map[string]string `json:"context,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// SummaryBlock is the at-a-glance part of the compact summary.
type SummaryBlock struct {
	PostsByPlatform map[string]int `json:"posts_by_platform"`
	TopTrends       []string       `json:"top_trends"`
	TopHashtags     []string       `json:"top_hashtags"`
	TopCandidates   []string       `json:"top_candidates"`
}

// CollectionSummary is the metadata-plus-statistics view of a record.
type CollectionSummary struct {
	Metadata   SummaryMetadata `json:"metadata"`
	Statistics Statistics      `json:"statistics"`
	Summary    SummaryBlock    `json:"summary"`
}

// ModuleSpec is a static entry in the closed set of modules produced per session.
type ModuleSpec struct {
	Name                 string `json:"name" yaml:"name"`
	Title                string `json:"title" yaml:"title"`
	Description          string `json:"description" yaml:"description"`
	RequiresActiveSearch bool   `json:"requires_active_search" yaml:"requires_active_search"`
}

// GenerationMethod tags how a module artifact was produced.
type GenerationMethod string

const (
	MethodPrimary   GenerationMethod = "primary"
	MethodFallback  GenerationMethod = "fallback"
	MethodEmergency GenerationMethod = "emergency"
)

// Degraded reports whether the artifact came from a degradation layer.
func (m GenerationMethod) Degraded() bool { return m != MethodPrimary }

// ModuleArtifact is the persisted output for one module spec.
type ModuleArtifact struct {
	Name      string           `json:"name"`
	Content   string           `json:"-"`
	SizeBytes int64            `json:"size_bytes"`
	Method    GenerationMethod `json:"method"`
	Attempts  int              `json:"attempts"`
	Error     string           `json:"error,omitempty"`
	Path      string           `json:"path"`
}

// GenerationResult holds one artifact per spec, in spec order.
type GenerationResult struct {
	SessionID   string           `json:"session_id"`
	Artifacts   []ModuleArtifact `json:"artifacts"`
	Reconciled  []string         `json:"reconciled,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Count returns how many artifacts used the given method.
func (g GenerationResult) Count(m GenerationMethod) int {
	n := 0
	for _, a := range g.Artifacts {
		if a.Method == m {
			n++
		}
	}
	return n
}

// ReportVariant selects the compiled report flavour.
type ReportVariant string

const (
	VariantFinal    ReportVariant = "final"
	VariantComplete ReportVariant = "complete"
)

// DegradedModule notes a module delivered by fallback or emergency content.
type DegradedModule struct {
	Name   string           `json:"name"`
	Method GenerationMethod `json:"method"`
	Error  string           `json:"error,omitempty"`
}

// ReportStatistics is the completeness summary of a compiled report.
type ReportStatistics struct {
	TotalModules    int     `json:"total_modules"`
	ProducedModules int     `json:"produced_modules"`
	MissingModules  int     `json:"missing_modules"`
	SuccessRate     float64 `json:"success_rate"`
	TotalCharacters int     `json:"total_characters"`
	EstimatedPages  int     `json:"estimated_pages"`
	Screenshots     int     `json:"screenshots"`
	DegradedModules int     `json:"degraded_modules"`
}

// CompiledReport describes one written report document.
type CompiledReport struct {
	SessionID  string           `json:"session_id"`
	Variant    ReportVariant    `json:"variant"`
	Path       string           `json:"path"`
	Statistics ReportStatistics `json:"statistics"`
	Degraded   []DegradedModule `json:"degraded,omitempty"`
	Missing    []string         `json:"missing,omitempty"`
	CompiledAt time.Time        `json:"compiled_at"`
}
