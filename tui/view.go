package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/sim-topup/internal/domain"
	"github.com/hochfrequenz/sim-topup/internal/events"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	queuedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	completedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("238"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	c := m.snapshot.Counts
	header := fmt.Sprintf(" SIM top-up │ Devices: %d │ New: %d │ Processing: %d │ Success: %d │ Failure: %d ",
		len(m.snapshot.Devices), c[domain.StatusNew], c[domain.StatusProcessing], c[domain.StatusSuccess], c[domain.StatusFailure])
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case tabDashboard:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderDevices()))
		b.WriteString("\n")
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderActive()))
		b.WriteString("\n")
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderEvents(8)))
		b.WriteString("\n")
	case tabJobs:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderJobs()))
		b.WriteString("\n")
	case tabEvents:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderEvents(maxEventLines)))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(warningStyle.Width(m.width).Render(" Refresh failed: " + m.err.Error()))
		b.WriteString("\n")
	}

	refreshed := "never"
	if !m.lastRefresh.IsZero() {
		refreshed = humanize.RelTime(m.lastRefresh, m.now(), "ago", "from now")
	}

	var statusBar string
	switch m.activeTab {
	case tabJobs:
		statusBar = fmt.Sprintf(" [tab]switch [j/k]scroll [f]ilter (%s) [r]efresh [q]uit │ updated %s ", filterName(statusFilters[m.filter]), refreshed)
	default:
		statusBar = fmt.Sprintf(" [tab]switch [1-3]jump [r]efresh [q]uit │ updated %s ", refreshed)
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(statusBar))

	return b.String()
}

func (m Model) renderTabs() string {
	tabs := []string{"Dashboard", "Jobs", "Events"}
	var parts []string

	for i, tab := range tabs {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		} else {
			parts = append(parts, tabInactiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		}
	}

	return strings.Join(parts, "│")
}

func (m Model) renderDevices() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("DEVICES"))
	b.WriteString("\n")

	if m.snapshot.DeviceErr != nil {
		b.WriteString(warningStyle.Render("  adb: " + m.snapshot.DeviceErr.Error()))
		return b.String()
	}
	if len(m.snapshot.Devices) == 0 {
		b.WriteString(queuedStyle.Render("  No devices connected"))
		return b.String()
	}
	for _, serial := range m.snapshot.Devices {
		b.WriteString(completedStyle.Render("  ● " + serial))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderActive() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("PROCESSING"))
	b.WriteString("\n")

	found := false
	for _, j := range m.snapshot.Jobs {
		if j.Status != domain.StatusProcessing {
			continue
		}
		found = true
		since := ""
		if j.LeasedAt != nil {
			since = humanize.RelTime(*j.LeasedAt, m.now(), "", "")
		}
		line := fmt.Sprintf("  ● #%-6d %-15s %-9s %s", j.ID, j.Phone.Number, j.ProviderValue(), since)
		b.WriteString(runningStyle.Render(line))
		b.WriteString("\n")
	}
	if !found {
		b.WriteString(queuedStyle.Render("  Nothing in progress"))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) visibleRows() int {
	rows := m.height - 8
	if rows < 5 {
		rows = 5
	}
	return rows
}

func (m Model) renderJobs() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("JOBS (%s)", filterName(statusFilters[m.filter]))))
	b.WriteString("\n")

	jobs := m.filteredJobs()
	if len(jobs) == 0 {
		b.WriteString(queuedStyle.Render("  No jobs. Add one with 'sim-topup jobs add'."))
		return b.String()
	}

	start := 0
	rows := m.visibleRows()
	if m.jobScroll >= rows {
		start = m.jobScroll - rows + 1
	}
	end := min(start+rows, len(jobs))

	for i := start; i < end; i++ {
		line := formatJobLine(jobs[i], m)
		if i == m.jobScroll {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if end < len(jobs) {
		b.WriteString(queuedStyle.Render(fmt.Sprintf("  ... %d more", len(jobs)-end)))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func formatJobLine(j *domain.Job, m Model) string {
	amount := "-"
	if j.Amount != nil {
		amount = fmt.Sprintf("%d", *j.Amount)
	}
	provider := string(j.ProviderValue())
	if provider == "" {
		provider = "-"
	}
	line := fmt.Sprintf("  %s #%-6d %-15s %-9s %5s  %s",
		statusIcon(j.Status), j.ID, j.Phone.Number, provider, amount, humanize.RelTime(j.CreatedAt, m.now(), "ago", "from now"))
	return statusStyle(j.Status).Render(line)
}

func statusIcon(s domain.JobStatus) string {
	switch s {
	case domain.StatusSuccess:
		return "✓"
	case domain.StatusFailure:
		return "✗"
	case domain.StatusProcessing:
		return "●"
	}
	return "○"
}

func statusStyle(s domain.JobStatus) lipgloss.Style {
	switch s {
	case domain.StatusSuccess:
		return completedStyle
	case domain.StatusFailure:
		return warningStyle
	case domain.StatusProcessing:
		return runningStyle
	}
	return queuedStyle
}

func filterName(s domain.JobStatus) string {
	if s == "" {
		return "all"
	}
	return string(s)
}

func (m Model) renderEvents(limit int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("EVENTS"))
	b.WriteString("\n")

	if len(m.feed) == 0 {
		if m.eventsDone && m.events == nil {
			b.WriteString(queuedStyle.Render("  Live events are shown when the dashboard runs with the orchestrator"))
		} else {
			b.WriteString(queuedStyle.Render("  No events yet"))
		}
		return b.String()
	}

	start := 0
	if len(m.feed) > limit {
		start = len(m.feed) - limit
	}
	for i := len(m.feed) - 1; i >= start; i-- {
		b.WriteString(eventStyle(m.feed[i].Kind).Render(formatEvent(m.feed[i], m)))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func formatEvent(e events.Event, m Model) string {
	var parts []string
	if e.Device != "" {
		parts = append(parts, e.Device)
	}
	if e.JobID != 0 {
		parts = append(parts, fmt.Sprintf("#%d", e.JobID))
	}
	if e.Number != "" {
		parts = append(parts, e.Number)
	}
	if e.Message != "" {
		parts = append(parts, truncate(e.Message, 60))
	}
	return fmt.Sprintf("  %-12s %-16s %s", humanize.RelTime(e.Time, m.now(), "ago", "from now"), e.Kind, strings.Join(parts, " "))
}

func eventStyle(k events.Kind) lipgloss.Style {
	switch k {
	case events.JobSucceeded:
		return completedStyle
	case events.JobFailed, events.WorkerError:
		return warningStyle
	case events.JobLeased, events.JobAbandoned, events.LeasesExpired:
		return runningStyle
	}
	return queuedStyle
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
