package collect

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/WessleyAI/pulse/engine/domain"
)

const (
	reportSnippetLen = 300
	reportContentLen = 3000
	reportPostsShown = 5
)

// RenderReport renders the human-readable collection report. Synthesis and
// module prompts read this document, so it carries the extracted page text
// as well as the counts.
func RenderReport(rec domain.CollectionRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Collection Report: %s\n\n", rec.Query)
	fmt.Fprintf(&b, "- **Session:** %s\n", rec.SessionID)
	fmt.Fprintf(&b, "- **Started:** %s\n", rec.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Completed:** %s\n", rec.CompletedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Duration:** %.1fs\n", rec.Statistics.CollectionSeconds)
	if len(rec.Context) > 0 {
		for _, k := range sortedKeys(rec.Context) {
			fmt.Fprintf(&b, "- **%s:** %s\n", k, rec.Context[k])
		}
	}
	b.WriteString("\n")

	writeStatistics(&b, rec.Statistics)
	writeWeb(&b, rec.WebSearch)
	writeSocial(&b, rec.SocialMedia)
	writeTrends(&b, rec.TrendFindings)
	writeRanked(&b, rec.Ranked)
	writeScreenshots(&b, rec.Screenshots)
	writeContent(&b, rec.ExtractedContent, rec.Extraction)
	return b.String()
}

func writeStatistics(b *strings.Builder, s domain.Statistics) {
	b.WriteString("## Statistics\n\n| Source | Count |\n|---|---|\n")
	for _, k := range []string{domain.SourceWebSearch, domain.SourceSocialMedia, domain.SourceTrends, domain.SourceExtractedContent} {
		fmt.Fprintf(b, "| %s | %d |\n", k, s.SourcesByType[k])
	}
	fmt.Fprintf(b, "| **total** | **%d** |\n\n", s.TotalSources)
	fmt.Fprintf(b, "- Total content length: %d characters\n", s.TotalContentLength)
	fmt.Fprintf(b, "- Viral candidates: %d\n", s.ViralCandidates)
	fmt.Fprintf(b, "- Screenshots: %d captured, %d failed\n", s.ScreenshotsCaptured, s.ScreenshotsFailed)
	if s.EvidenceChunks > 0 {
		fmt.Fprintf(b, "- Evidence chunks indexed: %d\n", s.EvidenceChunks)
	}
	if len(s.PhaseErrors) > 0 {
		b.WriteString("\n### Phase errors\n\n")
		for _, e := range s.PhaseErrors {
			fmt.Fprintf(b, "- %s\n", e)
		}
	}
	b.WriteString("\n")
}

func writeWeb(b *strings.Builder, p domain.WebSearchPhase) {
	fmt.Fprintf(b, "## Web Search (%d results)\n\n", len(p.Results))
	if p.Error != "" {
		fmt.Fprintf(b, "> Error: %s\n\n", p.Error)
	}
	for i, r := range p.Results {
		fmt.Fprintf(b, "%d. [%s](%s)\n", i+1, orURL(r.Title, r.URL), r.URL)
		if s := clip(r.Snippet, reportSnippetLen); s != "" {
			fmt.Fprintf(b, "   %s\n", s)
		}
	}
	b.WriteString("\n")
}

func writeSocial(b *strings.Builder, p domain.SocialPhase) {
	fmt.Fprintf(b, "## Social Media (%d posts)\n\n", p.TotalPosts)
	if p.Error != "" {
		fmt.Fprintf(b, "> Error: %s\n\n", p.Error)
	}

	active := 0
	for _, pr := range p.Platforms {
		if len(pr.Posts) > 0 {
			active++
		}
	}
	fmt.Fprintf(b, "Platforms active: %d of %d\n\n", active, len(p.Platforms))

	for _, pr := range p.Platforms {
		fmt.Fprintf(b, "### %s (%d posts)\n\n", pr.Platform, len(pr.Posts))
		if pr.Error != "" {
			fmt.Fprintf(b, "> Error: %s\n\n", pr.Error)
			continue
		}
		for i, post := range pr.Posts {
			if i == reportPostsShown {
				fmt.Fprintf(b, "- ... %d more\n", len(pr.Posts)-reportPostsShown)
				break
			}
			m := post.Metrics()
			fmt.Fprintf(b, "- [%s](%s) views=%d likes=%d comments=%d shares=%d\n",
				clip(orURL(post.Title, post.URL), 120), post.URL, m.Views, m.Likes, m.Comments, m.Shares)
		}
		b.WriteString("\n")
	}
}

func writeTrends(b *strings.Builder, t domain.TrendPhase) {
	b.WriteString("## Trends\n\n")
	if t.Error != "" {
		fmt.Fprintf(b, "> Error: %s\n\n", t.Error)
	}
	if len(t.Trends) > 0 {
		fmt.Fprintf(b, "- Trends: %s\n", strings.Join(t.Trends, ", "))
	}
	if len(t.Hashtags) > 0 {
		fmt.Fprintf(b, "- Hashtags: %s\n", strings.Join(t.Hashtags, " "))
	}
	if len(t.Themes) > 0 {
		fmt.Fprintf(b, "- Themes: %s\n", strings.Join(t.Themes, "; "))
	}
	if len(t.Keywords) > 0 {
		kw := make([]string, len(t.Keywords))
		for i, k := range t.Keywords {
			kw[i] = fmt.Sprintf("%s (%d)", k.Word, k.Count)
		}
		fmt.Fprintf(b, "- Keywords: %s\n", strings.Join(kw, ", "))
	}
	b.WriteString("\n")
}

func writeRanked(b *strings.Builder, items []domain.ScoredItem) {
	fmt.Fprintf(b, "## Viral Candidates (%d)\n\n", len(items))
	if len(items) == 0 {
		b.WriteString("No scored candidates.\n\n")
		return
	}
	b.WriteString("| # | Platform | Score | Title |\n|---|---|---|---|\n")
	for i, it := range items {
		fmt.Fprintf(b, "| %d | %s | %.2f | [%s](%s) |\n", i+1, it.Platform, it.Score,
			escapeCell(clip(orURL(it.Title, it.URL), 80)), it.URL)
	}
	b.WriteString("\n")
}

func writeScreenshots(b *strings.Builder, p domain.ScreenshotPhase) {
	fmt.Fprintf(b, "## Screenshots (%d captured, %d failed)\n\n", p.CapturedCount, p.FailedCount)
	if p.Error != "" {
		fmt.Fprintf(b, "> Error: %s\n\n", p.Error)
	}
	for _, s := range p.Captured {
		fmt.Fprintf(b, "- `%s` %s (score %.2f)\n", s.Filename, s.URL, s.Score)
	}
	b.WriteString("\n")
}

func writeContent(b *strings.Builder, contents []domain.ExtractedContent, st domain.ExtractionStats) {
	fmt.Fprintf(b, "## Extracted Content (%d of %d pages)\n\n", st.Succeeded, st.Attempted)
	if st.TooShort > 0 || st.Failed > 0 {
		fmt.Fprintf(b, "Skipped: %d too short, %d failed.\n\n", st.TooShort, st.Failed)
	}
	if st.Error != "" {
		fmt.Fprintf(b, "> Error: %s\n\n", st.Error)
	}
	// Executor output order varies; sort so the report is stable.
	sorted := append([]domain.ExtractedContent(nil), contents...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].URL < sorted[j].URL })
	for _, c := range sorted {
		fmt.Fprintf(b, "### %s\n\n", orURL(c.Title, c.URL))
		fmt.Fprintf(b, "Source: %s (%d chars)\n\n", c.URL, c.Length)
		b.WriteString(clip(c.Content, reportContentLen))
		b.WriteString("\n\n")
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orURL(title, url string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return url
}

// clip trims s and cuts it to n runes, marking the cut.
func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func escapeCell(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}
