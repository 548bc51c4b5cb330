package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/tga-worker/internal/controller"
	"github.com/randomizedcoder/tga-worker/internal/metrics"
	"github.com/randomizedcoder/tga-worker/internal/supervisor"
)

// DefaultHistory is the number of finished jobs kept for the history view.
const DefaultHistory = 10

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// JobDoneMsg carries a finished job into the history.
type JobDoneMsg struct {
	Record JobRecord
}

// ConnectedMsg reports a change in coordinator connectivity.
type ConnectedMsg bool

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Job history
// =============================================================================

// Job results shown in the history table.
const (
	ResultOK          = "ok"
	ResultFailed      = "failed"
	ResultInterrupted = "interrupted"
	ResultLeaked      = "leaked"
)

// JobRecord is one row of the history table.
type JobRecord struct {
	ID       string
	Target   string
	Result   string
	Tests    int
	Elapsed  time.Duration
	Finished time.Time
}

// NewJobRecord summarizes a controller job report.
func NewJobRecord(r controller.JobReport) JobRecord {
	rec := JobRecord{
		ID:       r.Job.ShortID(),
		Target:   r.Job.Target,
		Result:   ResultOK,
		Tests:    r.Suite.Len(),
		Elapsed:  r.Elapsed,
		Finished: time.Now(),
	}
	switch {
	case r.Run.Outcome.Leaked:
		rec.Result = ResultLeaked
	case r.Failed():
		rec.Result = ResultFailed
	case r.Ran && r.Run.Outcome.Kind == supervisor.Interrupted:
		rec.Result = ResultInterrupted
	}
	return rec
}

// =============================================================================
// Model
// =============================================================================

// StatusSource provides the controller's live status.
type StatusSource interface {
	Status() controller.Status
}

// SummarySource provides aggregate job metrics.
type SummarySource interface {
	GenerateSummary() *metrics.Summary
}

// Config holds TUI configuration.
type Config struct {
	Coordinator   string
	MetricsAddr   string
	StatusSource  StatusSource
	SummarySource SummarySource
	MaxHistory    int
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	coordinator string
	metricsAddr string
	maxHistory  int

	// Current state
	status      controller.Status
	summary     *metrics.Summary
	connected   bool
	history     []JobRecord
	startTime   time.Time
	lastUpdate  time.Time
	historyView bool

	// Display options
	width  int
	height int

	statusSource  StatusSource
	summarySource SummarySource

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = DefaultHistory
	}
	return Model{
		coordinator:   cfg.Coordinator,
		metricsAddr:   cfg.MetricsAddr,
		maxHistory:    maxHistory,
		statusSource:  cfg.StatusSource,
		summarySource: cfg.SummarySource,
		startTime:     time.Now(),
		lastUpdate:    time.Now(),
		width:         80,
		height:        24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "h":
			m.historyView = !m.historyView
			return m, nil
		case "r":
			return m.refresh(), nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		return m.refresh(), tickCmd()

	case JobDoneMsg:
		m.history = append(m.history, msg.Record)
		if len(m.history) > m.maxHistory {
			m.history = m.history[len(m.history)-m.maxHistory:]
		}
		return m, nil

	case ConnectedMsg:
		m.connected = bool(msg)
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// refresh pulls the latest status and summary from the sources.
func (m Model) refresh() Model {
	if m.statusSource != nil {
		m.status = m.statusSource.Status()
	}
	if m.summarySource != nil {
		m.summary = m.summarySource.GenerateSummary()
	}
	m.lastUpdate = time.Now()
	return m
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.historyView {
		return m.renderHistoryView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// History returns the finished jobs, oldest first.
func (m Model) History() []JobRecord {
	return m.history
}

// Connected reports the last known coordinator connectivity.
func (m Model) Connected() bool {
	return m.connected
}

// JobProgress returns the fraction of the current job's budget used
// (0.0 to 1.0), or 0 when idle.
func (m Model) JobProgress() float64 {
	j := m.status.CurrentJob
	if j == nil || j.TimeBudget <= 0 || m.status.JobStarted.IsZero() {
		return 0
	}
	p := float64(time.Since(m.status.JobStarted)) / float64(j.TimeBudget)
	if p > 1 {
		p = 1
	}
	return p
}

// =============================================================================
// Helpers for external use
// =============================================================================

// SendJobDone sends a finished job to the TUI.
func SendJobDone(p *tea.Program, r controller.JobReport) {
	if p != nil {
		p.Send(JobDoneMsg{Record: NewJobRecord(r)})
	}
}

// SendConnected sends a connectivity change to the TUI.
func SendConnected(p *tea.Program, connected bool) {
	if p != nil {
		p.Send(ConnectedMsg(connected))
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// truncate shortens s to at most n runes, marking the cut with "…".
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
