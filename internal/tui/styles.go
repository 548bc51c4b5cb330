// Package tui provides a live terminal dashboard for a tga-worker.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It shows the coordinator connection, the job in flight with its budget
// progress, job counters with time percentiles, and a short history of
// finished jobs.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/tga-worker/internal/controller"
)

// =============================================================================
// Palette
// =============================================================================

var (
	colorAccent = lipgloss.Color("#0EA5A4") // Teal
	colorTitle  = lipgloss.Color("#F8FAFC")
	colorHeadBg = lipgloss.Color("#1E3A5F")

	colorGood = lipgloss.Color("#22C55E")
	colorWarn = lipgloss.Color("#EAB308")
	colorBad  = lipgloss.Color("#F43F5E")
	colorBusy = lipgloss.Color("#60A5FA")

	colorFg     = lipgloss.Color("#E2E8F0")
	colorMuted  = lipgloss.Color("#94A3B8")
	colorDim    = lipgloss.Color("#64748B")
	colorBorder = lipgloss.Color("#334155")
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func boldFg(c lipgloss.Color) lipgloss.Style {
	return fg(c).Bold(true)
}

// =============================================================================
// Styles
// =============================================================================

var (
	mutedStyle = fg(colorMuted)
	dimStyle   = fg(colorDim)

	// Controller states and the connection indicator.
	statusOK      = boldFg(colorGood)
	statusWarning = boldFg(colorWarn)
	statusError   = boldFg(colorBad)
	statusInfo    = boldFg(colorBusy)

	valueStyle     = boldFg(colorFg)
	valueGoodStyle = boldFg(colorGood)
	valueBadStyle  = boldFg(colorBad)
	valueWarnStyle = boldFg(colorWarn)
	labelStyle     = fg(colorMuted).Width(20)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	headerStyle = boldFg(colorTitle).
			Background(colorHeadBg).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = boldFg(colorAccent).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder).
				MarginTop(1)

	tableHeaderStyle = boldFg(colorAccent)
	footerStyle      = fg(colorMuted).MarginTop(1)

	// Budget progress of the job in flight.
	progressBarStyle      = fg(colorAccent)
	progressBarEmptyStyle = fg(colorBorder)
	progressPercentStyle  = boldFg(colorFg)
)

// =============================================================================
// Status Indicators
// =============================================================================

// GetConnectionLabel returns a styled coordinator connection indicator.
func GetConnectionLabel(connected bool) string {
	if connected {
		return statusOK.Render("● Connected")
	}
	return statusWarning.Render("● Connecting")
}

// GetStateStyle returns the style for a controller state.
func GetStateStyle(state controller.State) lipgloss.Style {
	switch state {
	case controller.StateRunningJob:
		return statusInfo
	case controller.StateShuttingDown:
		return statusWarning
	case controller.StateStopped:
		return statusError
	default:
		return statusOK
	}
}

// GetResultStyle returns the style for a job result in the history table.
func GetResultStyle(result string) lipgloss.Style {
	switch result {
	case ResultOK:
		return valueGoodStyle
	case ResultInterrupted:
		return valueWarnStyle
	case ResultFailed, ResultLeaked:
		return valueBadStyle
	default:
		return valueStyle
	}
}

// GetFailureStyle returns a style based on the failed share of processed jobs.
func GetFailureStyle(failed, processed int64) lipgloss.Style {
	switch {
	case failed == 0:
		return valueGoodStyle
	case processed > 0 && float64(failed)/float64(processed) < 0.25:
		return valueWarnStyle
	default:
		return valueBadStyle
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderProgressBar renders a progress bar.
func RenderProgressBar(progress float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(progress * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := progressBarStyle.Render(repeatChar('█', filled)) +
		progressBarEmptyStyle.Render(repeatChar('░', width-filled))

	percent := progressPercentStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))

	return bar + percent
}

func repeatChar(char rune, count int) string {
	if count <= 0 {
		return ""
	}
	return strings.Repeat(string(char), count)
}
