package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	summaryRule = "═══════════════════════════════════════════════════════════════════════════════\n"
	sectionRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// SummaryConfig holds the run context printed alongside the summary.
type SummaryConfig struct {
	Tool        string
	WorkerID    string
	Coordinator string
	MetricsAddr string
}

// FormatExitSummary formats a collector summary for display at program exit.
func FormatExitSummary(s *Summary, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(summaryRule)
	b.WriteString("                           tga-worker Exit Summary\n")
	b.WriteString(summaryRule + "\n")

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(s.Duration))
	fmt.Fprintf(&b, "Tool:                   %s\n", cfg.Tool)
	if cfg.WorkerID != "" {
		fmt.Fprintf(&b, "Worker ID:              %s\n", cfg.WorkerID)
	}
	if cfg.Coordinator != "" {
		fmt.Fprintf(&b, "Coordinator:            %s (%d connections)\n", cfg.Coordinator, s.Connections)
	}
	b.WriteString("\n")

	b.WriteString(sectionRule)
	b.WriteString("                                   Jobs\n")
	b.WriteString(sectionRule + "\n")

	fmt.Fprintf(&b, "  Processed:            %d\n", s.JobsProcessed)
	fmt.Fprintf(&b, "  Failed:               %d\n", s.JobsFailed)
	fmt.Fprintf(&b, "  Interrupted:          %d\n", s.Interrupted)
	fmt.Fprintf(&b, "  Tests Generated:      %d\n", s.TestsGenerated)
	if s.Leaked > 0 {
		fmt.Fprintf(&b, "  Leaked Processes:     %d  (survived SIGKILL)\n", s.Leaked)
	}
	b.WriteString("\n")

	if s.JobsProcessed > 0 {
		b.WriteString(sectionRule)
		b.WriteString("                             Job Time Distribution\n")
		b.WriteString(sectionRule + "\n")

		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatDuration(s.JobTimeP50))
		fmt.Fprintf(&b, "  P95:                  %s\n", FormatDuration(s.JobTimeP95))
		fmt.Fprintf(&b, "  P99:                  %s\n", FormatDuration(s.JobTimeP99))
		b.WriteString("\n")
	}

	if len(s.ExitCategories) > 0 {
		b.WriteString(sectionRule)
		b.WriteString("                               Process Exits\n")
		b.WriteString(sectionRule + "\n")

		categories := make([]string, 0, len(s.ExitCategories))
		for category := range s.ExitCategories {
			categories = append(categories, category)
		}
		sort.Strings(categories)

		for _, category := range categories {
			fmt.Fprintf(&b, "  %-22s%d\n", category+":", s.ExitCategories[category])
		}
		b.WriteString("\n")
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}
	b.WriteString(summaryRule)

	return b.String()
}

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
