package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/sim-topup/internal/events"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, refreshCmd(m.source)
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.jobScroll = 0
		case "shift+tab":
			m.activeTab = (m.activeTab + tabCount - 1) % tabCount
			m.jobScroll = 0
		case "1":
			m.activeTab = tabDashboard
		case "2":
			m.activeTab = tabJobs
		case "3":
			m.activeTab = tabEvents
		case "f":
			if m.activeTab == tabJobs {
				m.filter = (m.filter + 1) % len(statusFilters)
				m.jobScroll = 0
			}
		case "j", "down":
			if m.activeTab == tabJobs && m.jobScroll < len(m.filteredJobs())-1 {
				m.jobScroll++
			}
		case "k", "up":
			if m.activeTab == tabJobs && m.jobScroll > 0 {
				m.jobScroll--
			}
		case "g":
			m.jobScroll = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(refreshCmd(m.source), tickCmd(m.interval))

	case SnapshotMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.snapshot = msg.Snapshot
			m.lastRefresh = msg.At
			if n := len(m.filteredJobs()); m.jobScroll >= n {
				m.jobScroll = max(n-1, 0)
			}
		}

	case EventMsg:
		m.addEvent(events.Event(msg))
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		m.eventsDone = true
	}

	return m, nil
}
