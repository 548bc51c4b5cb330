package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderCurrentJob(),
		m.renderJobStats(),
	}

	if m.summary != nil && m.summary.JobsProcessed > 0 {
		sections = append(sections, m.renderJobTimes())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderHistoryView renders the finished-jobs table.
func (m Model) renderHistoryView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderHistoryTable(),
		m.renderFooter(),
	)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	state := m.status.State
	header := fmt.Sprintf(
		" tga-worker │ %s │ Tool: %s │ %s │ Elapsed: %s ",
		GetConnectionLabel(m.connected),
		m.status.Tool,
		GetStateStyle(state).Render(state.String()),
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Current Job
// =============================================================================

func (m Model) renderCurrentJob() string {
	j := m.status.CurrentJob
	if j == nil {
		content := lipgloss.JoinVertical(lipgloss.Left,
			sectionHeaderStyle.Render("Current Job"),
			mutedStyle.Render("Waiting for a job from "+m.coordinator+"..."),
		)
		return boxStyle.Width(m.width - 2).Render(content)
	}

	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	running := time.Duration(0)
	if !m.status.JobStarted.IsZero() {
		running = time.Since(m.status.JobStarted)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Current Job"),
		RenderKeyValue("Job", j.ShortID()),
		RenderKeyValue("Target", truncate(j.Target, m.width-26)),
		RenderKeyValue("Running", formatDuration(running)+" / "+formatDuration(j.TimeBudget)),
		RenderProgressBar(m.JobProgress(), barWidth),
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Job Statistics
// =============================================================================

func (m Model) renderJobStats() string {
	s := m.status

	rows := []string{
		RenderKeyValue("Processed", formatNumber(s.Processed)),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Failed:"),
			GetFailureStyle(s.Failed, s.Processed).Render(formatNumber(s.Failed)),
		),
		RenderKeyValue("Interrupted", formatNumber(s.Interrupted)),
		RenderKeyValue("Tests Generated", formatNumber(s.Tests)),
	}
	if s.Leaked > 0 {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Leaked Processes:"),
			valueBadStyle.Render(formatNumber(s.Leaked)),
		))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Jobs")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func (m Model) renderJobTimes() string {
	s := m.summary

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Job Time"),
		RenderKeyValue("P50", formatDuration(s.JobTimeP50)),
		RenderKeyValue("P95", formatDuration(s.JobTimeP95)),
		RenderKeyValue("P99", formatDuration(s.JobTimeP99)),
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// History
// =============================================================================

func (m Model) renderHistoryTable() string {
	if len(m.history) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			sectionHeaderStyle.Render("Recent Jobs"),
			mutedStyle.Render("No jobs finished yet"),
		)
		return boxStyle.Width(m.width - 2).Render(content)
	}

	targetWidth := m.width - 50
	if targetWidth < 12 {
		targetWidth = 12
	}

	header := tableHeaderStyle.Render(fmt.Sprintf("%-10s %-*s %-12s %6s %10s",
		"Job", targetWidth, "Target", "Result", "Tests", "Time"))

	rows := []string{sectionHeaderStyle.Render("Recent Jobs"), header}

	// Newest first.
	for i := len(m.history) - 1; i >= 0; i-- {
		r := m.history[i]
		result := GetResultStyle(r.Result).Render(fmt.Sprintf("%-12s", r.Result))
		rows = append(rows, fmt.Sprintf("%-10s %-*s %s %6d %10s",
			truncate(r.ID, 10),
			targetWidth, truncate(r.Target, targetWidth),
			result,
			r.Tests,
			formatDuration(r.Elapsed),
		))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	keys := []string{"q: quit", "h: history", "r: refresh"}

	parts := []string{strings.Join(keys, "  ")}
	if m.metricsAddr != "" {
		parts = append(parts, "Metrics: http://"+m.metricsAddr+"/metrics")
	}
	parts = append(parts, dimStyle.Render("Updated "+m.lastUpdate.Format("15:04:05")))

	return footerStyle.Render(strings.Join(parts, " │ "))
}
