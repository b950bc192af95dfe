package modules

import (
	"fmt"
	"strings"
	"time"

	"github.com/WessleyAI/pulse/engine/collect"
	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/store"
)

const (
	promptSynthesisChars = 2000
	promptReportChars    = 3000
)

// BaseData is what a session has collected so far. Every field is
// optional; missing files leave zero values.
type BaseData struct {
	SessionID   string
	Query       string
	Synthesis   string
	Report      string
	Screenshots int
	Statistics  domain.Statistics
}

// LoadBaseData reads the session's summary, synthesis and collection
// report, tolerating any of them being absent.
func LoadBaseData(s *store.Sessions, sessionID string) BaseData {
	bd := BaseData{SessionID: sessionID}
	if sum, err := collect.LoadSummary(s, sessionID); err == nil {
		bd.Query = sum.Metadata.Query
		bd.Statistics = sum.Statistics
		bd.Screenshots = sum.Statistics.ScreenshotsCaptured
	}
	if b, err := s.ReadFile(sessionID, store.SynthesisFile); err == nil {
		bd.Synthesis = string(b)
	}
	if b, err := s.ReadFile(sessionID, store.ReportFile); err == nil {
		bd.Report = string(b)
	}
	return bd
}

// ContextLine summarises the available data in one line.
func (b BaseData) ContextLine() string {
	return fmt.Sprintf("Synthesis: %d characters. Collection report: %d characters. Screenshots: %d images.",
		len(b.Synthesis), len(b.Report), b.Screenshots)
}

// Prompt builds the generation prompt for one module.
func Prompt(spec domain.ModuleSpec, bd BaseData, passages []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", spec.Title)
	fmt.Fprintf(&b, "You are an expert in %s.\n", lowerFirst(spec.Description))
	if bd.Query != "" {
		fmt.Fprintf(&b, "Research subject: %s\n", bd.Query)
	}
	fmt.Fprintf(&b, "\n## AVAILABLE DATA\n%s\n", bd.ContextLine())
	fmt.Fprintf(&b, "\n## STRUCTURED SYNTHESIS\n%s\n", clip(bd.Synthesis, promptSynthesisChars))
	fmt.Fprintf(&b, "\n## COLLECTION REPORT\n%s\n", clip(bd.Report, promptReportChars))
	fmt.Fprintf(&b, "\n## SCREENSHOTS\n%d images captured as visual evidence\n", bd.Screenshots)
	if len(passages) > 0 {
		b.WriteString("\n## RELEVANT EVIDENCE\n")
		for _, p := range passages {
			b.WriteString(p)
			b.WriteString("\n\n")
		}
	}
	fmt.Fprintf(&b, "\n## TASK\nWrite a detailed module on %s based only on the data above.\n", spec.Title)
	b.WriteString(`
## REQUIRED STRUCTURE
1. Executive Summary
2. Detailed Analysis
3. Specific Strategies
4. Practical Implementation
5. Metrics and KPIs
6. Execution Timeline

Use professional markdown. Make strategies actionable and metrics measurable. Cite sources and refer to screenshots where relevant.
`)
	return b.String()
}

// FallbackContent builds a structured module from the base data when
// generation is exhausted. It names the module, the session and the
// Fallback method.
func FallbackContent(spec domain.ModuleSpec, bd BaseData, now time.Time) string {
	var b strings.Builder
	name := strings.ReplaceAll(spec.Name, "_", " ")

	fmt.Fprintf(&b, "# %s\n\n", spec.Title)
	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(&b, "This module covers %s, built from the data collected and synthesized for this session.\n\n", lowerFirst(spec.Description))

	b.WriteString("## Detailed Analysis\n\n### Collected data\n\n")
	fmt.Fprintf(&b, "- **Research subject**: %s\n", orDash(bd.Query))
	fmt.Fprintf(&b, "- **Sources collected**: %d\n", bd.Statistics.TotalSources)
	for _, k := range []string{domain.SourceWebSearch, domain.SourceSocialMedia, domain.SourceTrends, domain.SourceExtractedContent} {
		fmt.Fprintf(&b, "  - %s: %d\n", k, bd.Statistics.SourcesByType[k])
	}
	fmt.Fprintf(&b, "- **Extracted content**: %d characters\n", bd.Statistics.TotalContentLength)
	fmt.Fprintf(&b, "- **Collection report**: %d characters\n", len(bd.Report))
	fmt.Fprintf(&b, "- **Synthesis**: %d characters\n", len(bd.Synthesis))
	fmt.Fprintf(&b, "- **Screenshots**: %d\n\n", bd.Screenshots)

	b.WriteString("### Key insights\n\n")
	fmt.Fprintf(&b, "1. Patterns for %s identified across the collected sources\n", name)
	b.WriteString("2. Engagement signals from the highest-scoring social posts\n")
	b.WriteString("3. Opportunities mapped from the trend analysis\n\n")

	b.WriteString("## Specific Strategies\n\n")
	b.WriteString("### Strategy 1: data-driven implementation\n- Act on the findings in the collection report\n- Track the metrics listed below\n- Follow the timeline at the end of this module\n\n")
	b.WriteString("### Strategy 2: continuous optimization\n- Monitor results weekly\n- Adjust based on performance\n- Scale what works\n\n")

	b.WriteString("## Practical Implementation\n\n")
	fmt.Fprintf(&b, "### First 30 days\n1. Apply the %s findings from this session\n2. Set up metric tracking\n3. Run the first tests\n\n", name)
	b.WriteString("### Up to 90 days\n1. Expand based on results\n2. Optimize the processes identified\n3. Scale successful strategies\n\n")

	b.WriteString("## Metrics and KPIs\n\n")
	fmt.Fprintf(&b, "- Primary: progress on %s goals\n- Secondary: engagement and conversion indicators\n\n", name)

	b.WriteString("## Execution Timeline\n\n")
	b.WriteString("| Phase | Duration | Main activities |\n|---|---|---|\n")
	b.WriteString("| Preparation | 1-2 weeks | Detailed analysis and planning |\n")
	b.WriteString("| Implementation | 4-6 weeks | Execute the main strategies |\n")
	b.WriteString("| Optimization | 2-4 weeks | Adjustments and improvements |\n")
	b.WriteString("| Scale | Ongoing | Expansion and replication |\n\n")

	b.WriteString("---\n\n**Generation data**\n\n")
	fmt.Fprintf(&b, "- Module: %s\n", spec.Name)
	fmt.Fprintf(&b, "- Session: %s\n", bd.SessionID)
	fmt.Fprintf(&b, "- Timestamp: %s\n", now.UTC().Format(time.RFC3339))
	b.WriteString("- Method: Fallback (structured from collected data)\n")
	return b.String()
}

// EmergencyContent is the last-resort module: it identifies the module,
// the error that got it here and where the raw data can be recovered.
func EmergencyContent(spec domain.ModuleSpec, sessionID, reason string, now time.Time) string {
	title := spec.Title
	if title == "" {
		title = spec.Name
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString("## Module status\n\n**Generated in emergency mode.** The content for this module could not be produced or saved; all collected data is preserved.\n\n")
	b.WriteString("### Technical information\n\n")
	fmt.Fprintf(&b, "- **Module**: %s\n", spec.Name)
	fmt.Fprintf(&b, "- **Title**: %s\n", title)
	fmt.Fprintf(&b, "- **Session**: %s\n", sessionID)
	fmt.Fprintf(&b, "- **Original error**: %s\n", orDash(reason))
	fmt.Fprintf(&b, "- **Generated at**: %s\n", now.UTC().Format(time.RFC3339))
	b.WriteString("- **Method**: Emergency\n\n")
	b.WriteString("### Recoverable data\n\n")
	fmt.Fprintf(&b, "1. Collection report: `%s/%s`\n", sessionID, store.ReportFile)
	fmt.Fprintf(&b, "2. Full collection record: `%s/%s`\n", sessionID, store.CollectionFile)
	fmt.Fprintf(&b, "3. Structured synthesis: `%s/%s`\n", sessionID, store.SynthesisFile)
	fmt.Fprintf(&b, "4. Screenshots: `%s/files/`\n\n", sessionID)
	b.WriteString("### Next steps\n\n- Check the generation backend configuration and logs\n- Regenerate this module for the session\n- Review the collected data manually in the meantime\n")
	return b.String()
}

func clip(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
