package synthesis

import (
	"strconv"
	"strings"

	"github.com/WessleyAI/pulse/engine/domain"
)

// FallbackSynthesis builds a synthesis from collected counts alone. It is
// deterministic for a given report and summary.
func FallbackSynthesis(sessionID, report string, sum domain.CollectionSummary) Synthesis {
	words := len(strings.Fields(report))
	st := sum.Statistics

	query := sum.Metadata.Query
	if query == "" {
		query = "market analysis from collected data"
	}
	sources := st.TotalSources
	if sources == 0 {
		sources = words / 100
	}

	findings := []string{"Data collected from web search and social platforms"}
	if n := st.SourcesByType[domain.SourceSocialMedia]; n > 0 {
		findings = append(findings, plural(n, "social post", "social posts")+" analyzed for engagement")
	}
	if st.ViralCandidates > 0 {
		findings = append(findings, plural(st.ViralCandidates, "high-engagement post", "high-engagement posts")+" selected as viral candidates")
	}
	if st.ScreenshotsCaptured > 0 {
		findings = append(findings, plural(st.ScreenshotsCaptured, "screenshot", "screenshots")+" captured as visual evidence")
	}
	if len(sum.Summary.TopTrends) > 0 {
		findings = append(findings, "Leading topics: "+strings.Join(sum.Summary.TopTrends[:min(5, len(sum.Summary.TopTrends))], ", "))
	}

	trends := append([]string(nil), sum.Summary.TopTrends...)
	if len(trends) == 0 {
		trends = []string{"Shift of buying research to online channels", "Growing weight of social proof in purchase decisions"}
	}

	evidence := append([]string{}, sum.Summary.TopCandidates...)

	return Synthesis{
		ExecutiveSummary: ExecutiveSummary{
			Query:        query,
			SourcesCount: sources,
			KeyFindings:  findings,
			Confidence:   confidence(st),
		},
		MarketAnalysis: MarketAnalysis{
			MarketSize:    "Not estimated; model synthesis unavailable",
			Trends:        trends,
			Opportunities: []string{"Digital channels with measurable engagement", "Segments under-served by current offers"},
			Threats:       []string{"Established competitors with brand recognition", "Fast-moving consumer attention"},
		},
		DetailedAvatar: Avatar{
			Demographics:   "Derived from platforms where the query is discussed",
			OnlineBehavior: activeOn(sum.Summary.PostsByPlatform),
			Pains:          []string{"Uncertainty about quality and value for money"},
			Desires:        []string{"Trustworthy recommendations", "Products that fit their routine"},
		},
		StrategicInsights: StrategicInsights{
			Positioning:     "Differentiate on verifiable quality and clear value",
			Differentiators: []string{"Evidence-backed claims", "Community presence on the most active platforms"},
			EntryStrategies: []string{"Content built on the trending topics above", "Partnerships with high-engagement creators"},
		},
		SupportingData: SupportingData{
			Sources: []string{"web search", "social media", "trend analysis", "viral post screenshots"},
			Metrics: map[string]any{
				"content_length": len(report),
				"word_count":     words,
				"session_id":     sessionID,
				"total_sources":  st.TotalSources,
				"phase_errors":   len(st.PhaseErrors),
			},
			Evidence: evidence,
			Method:   MethodFallback,
		},
	}
}

func confidence(st domain.Statistics) string {
	switch {
	case st.TotalSources >= 50 && len(st.PhaseErrors) == 0:
		return "medium"
	default:
		return "low"
	}
}

func activeOn(byPlatform map[string]int) string {
	var active []string
	for _, p := range []domain.Platform{domain.PlatformYouTube, domain.PlatformTwitter, domain.PlatformInstagram, domain.PlatformLinkedIn, domain.PlatformReddit} {
		if byPlatform[string(p)] > 0 {
			active = append(active, string(p))
		}
	}
	if len(active) == 0 {
		return "No social activity was collected"
	}
	return "Active on " + strings.Join(active, ", ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return strconv.Itoa(n) + " " + many
}
