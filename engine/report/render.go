package report

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/store"
)

func renderFinal(in input) string {
	var b strings.Builder
	writeHeader(&b, "Market Research Report", in)
	writeIndex(&b, in)
	writeCollection(&b, in)
	writeInsights(&b, in)
	writeEvidence(&b, in)
	writeModules(&b, in)
	writeFooter(&b, in)
	return b.String()
}

func renderComplete(in input) string {
	var b strings.Builder
	writeHeader(&b, "Complete Market Research Report", in)
	writeIndex(&b, in)
	writeCollection(&b, in)
	writeInsights(&b, in)

	b.WriteString("## Raw Collection Data\n\n")
	if in.rawReport == "" {
		b.WriteString("_Collection report not available._\n\n")
	} else {
		b.WriteString(excerpt(in.rawReport, rawExcerptChars))
		b.WriteString("\n\n")
	}
	b.WriteString("## Structured Synthesis\n\n")
	if in.synthRaw == "" {
		b.WriteString("_Synthesis not available._\n\n")
	} else {
		b.WriteString("```json\n")
		b.WriteString(excerpt(in.synthRaw, synthExcerptChars))
		b.WriteString("\n```\n\n")
	}

	writeEvidence(&b, in)
	writeModules(&b, in)
	writeFooter(&b, in)
	return b.String()
}

func writeHeader(b *strings.Builder, title string, in input) {
	query := "untitled session"
	if in.summary != nil && in.summary.Metadata.Query != "" {
		query = in.summary.Metadata.Query
	}
	fmt.Fprintf(b, "# %s: %s\n\n", title, query)
	fmt.Fprintf(b, "**Session:** %s\n", in.sessionID)
	fmt.Fprintf(b, "**Compiled:** %s\n\n", in.compiledAt.Format(time.RFC3339))

	s := in.stats
	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(b, "- **Modules delivered:** %d of %d (%.1f%%)\n", s.ProducedModules, s.TotalModules, s.SuccessRate)
	fmt.Fprintf(b, "- **Degraded modules:** %d\n", s.DegradedModules)
	fmt.Fprintf(b, "- **Visual evidence:** %d screenshots\n", s.Screenshots)
	fmt.Fprintf(b, "- **Estimated pages:** %d\n\n", s.EstimatedPages)
}

func writeIndex(b *strings.Builder, in input) {
	degraded := degradedByName(in)
	b.WriteString("### Modules\n\n")
	for i, sec := range in.sections {
		note := ""
		switch {
		case !sec.loaded:
			note = " (not available)"
		case degraded[sec.spec.Name] != "":
			note = " (" + string(degraded[sec.spec.Name]) + ")"
		}
		fmt.Fprintf(b, "%d. %s%s\n", i+1, sec.spec.Title, note)
	}
	b.WriteString("\n---\n\n")
}

func writeCollection(b *strings.Builder, in input) {
	b.WriteString("## Collection Summary\n\n")
	if in.summary == nil {
		b.WriteString("_Collection summary not available._\n\n")
		return
	}
	st := in.summary.Statistics
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(b, "| Total sources | %d |\n", st.TotalSources)
	for _, k := range sortedKeys(st.SourcesByType) {
		fmt.Fprintf(b, "| %s | %d |\n", k, st.SourcesByType[k])
	}
	fmt.Fprintf(b, "| Extracted content | %d chars |\n", st.TotalContentLength)
	fmt.Fprintf(b, "| Screenshots captured | %d |\n\n", st.ScreenshotsCaptured)

	sum := in.summary.Summary
	if len(sum.PostsByPlatform) > 0 {
		b.WriteString("**Posts by platform:** ")
		parts := make([]string, 0, len(sum.PostsByPlatform))
		for _, k := range sortedKeys(sum.PostsByPlatform) {
			parts = append(parts, fmt.Sprintf("%s %d", k, sum.PostsByPlatform[k]))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n\n")
	}
	if len(sum.TopTrends) > 0 {
		fmt.Fprintf(b, "**Top trends:** %s\n\n", strings.Join(sum.TopTrends, ", "))
	}
	if len(st.PhaseErrors) > 0 {
		b.WriteString("**Phase errors:**\n\n")
		for _, e := range st.PhaseErrors {
			fmt.Fprintf(b, "- %s\n", e)
		}
		b.WriteString("\n")
	}
}

func writeInsights(b *strings.Builder, in input) {
	b.WriteString("## Synthesis Insights\n\n")
	if in.synthesis == nil {
		b.WriteString("_Synthesis not available._\n\n")
		return
	}
	s := in.synthesis
	if s.Fallback() {
		b.WriteString("> Built from collected data without the generation backend.\n\n")
	}
	if s.ExecutiveSummary.Confidence != "" {
		fmt.Fprintf(b, "**Confidence:** %s\n\n", s.ExecutiveSummary.Confidence)
	}
	if s.MarketAnalysis.MarketSize != "" {
		fmt.Fprintf(b, "**Market size:** %s\n\n", s.MarketAnalysis.MarketSize)
	}
	writeList(b, "Key findings", s.ExecutiveSummary.KeyFindings)
	writeList(b, "Main trends", s.MarketAnalysis.Trends)
	writeList(b, "Opportunities", s.MarketAnalysis.Opportunities)
	if s.StrategicInsights.Positioning != "" {
		fmt.Fprintf(b, "**Recommended positioning:** %s\n\n", s.StrategicInsights.Positioning)
	}
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

func writeEvidence(b *strings.Builder, in input) {
	if len(in.screenshots) == 0 {
		return
	}
	b.WriteString("## Visual Evidence\n\n")
	for i, p := range in.screenshots {
		fmt.Fprintf(b, "### Evidence %d\n\n![%s](%s)\n\n", i+1, path.Base(p), p)
	}
}

func writeModules(b *strings.Builder, in input) {
	for _, sec := range in.sections {
		fmt.Fprintf(b, "## %s\n\n", sec.spec.Title)
		if !sec.loaded {
			fmt.Fprintf(b, "> Module not available, data preserved at `%s`.\n\n---\n\n", sec.path)
			continue
		}
		b.WriteString(stripTitle(sec.content))
		b.WriteString("\n\n---\n\n")
	}
}

func writeFooter(b *strings.Builder, in input) {
	s := in.stats
	b.WriteString("## Technical Information\n\n")
	fmt.Fprintf(b, "- **Session:** %s\n", in.sessionID)
	fmt.Fprintf(b, "- **Modules specified:** %d\n", s.TotalModules)
	fmt.Fprintf(b, "- **Modules produced:** %d\n", s.ProducedModules)
	fmt.Fprintf(b, "- **Success rate:** %.1f%%\n", s.SuccessRate)
	fmt.Fprintf(b, "- **Module content:** %d chars\n\n", s.TotalCharacters)

	if len(in.degraded) > 0 {
		b.WriteString("### Degraded Modules\n\n")
		for _, d := range in.degraded {
			if d.Error != "" {
				fmt.Fprintf(b, "- %s: %s (%s)\n", d.Name, d.Method, d.Error)
			} else {
				fmt.Fprintf(b, "- %s: %s\n", d.Name, d.Method)
			}
		}
		b.WriteString("\n")
	}
	if len(in.missing) > 0 {
		b.WriteString("### Missing Modules\n\n")
		for _, m := range in.missing {
			fmt.Fprintf(b, "- %s\n", m)
		}
		b.WriteString("\n")
	}

	b.WriteString("### Data Location\n\n")
	for _, f := range []string{store.CollectionFile, store.ReportFile, store.SynthesisFile, store.ModulesDir + "/"} {
		fmt.Fprintf(b, "- `%s/%s`\n", in.sessionID, f)
	}
}

func degradedByName(in input) map[string]domain.GenerationMethod {
	m := make(map[string]domain.GenerationMethod, len(in.degraded))
	for _, d := range in.degraded {
		m[d.Name] = d.Method
	}
	return m
}

// stripTitle drops a leading H1; the report supplies its own heading.
func stripTitle(s string) string {
	if !strings.HasPrefix(s, "# ") {
		return s
	}
	_, rest, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(rest)
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(r[:n])) + "\n\n_[truncated]_"
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
