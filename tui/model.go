package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/sim-topup/internal/device"
	"github.com/hochfrequenz/sim-topup/internal/domain"
	"github.com/hochfrequenz/sim-topup/internal/events"
	"github.com/hochfrequenz/sim-topup/internal/jobstore"
)

const (
	tabDashboard = iota
	tabJobs
	tabEvents
	tabCount
)

const (
	recentJobs    = 200
	maxEventLines = 50
)

// statusFilters is the cycle order of the jobs tab filter; "" shows all
var statusFilters = []domain.JobStatus{"", domain.StatusNew, domain.StatusProcessing, domain.StatusSuccess, domain.StatusFailure}

// Snapshot is the data shown on one refresh
type Snapshot struct {
	Counts  map[domain.JobStatus]int
	Jobs    []*domain.Job
	Devices []string
	// DeviceErr is set when the device list could not be read
	DeviceErr error
}

// Source loads dashboard snapshots
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// JobReader is the job store surface the dashboard reads
type JobReader interface {
	ListJobs(ctx context.Context, opts jobstore.ListOptions) ([]*domain.Job, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
}

// StoreSource reads jobs from the store and devices from adb
type StoreSource struct {
	Store   JobReader
	Devices device.Manager
}

// Snapshot implements Source
func (s StoreSource) Snapshot(ctx context.Context) (Snapshot, error) {
	counts, err := s.Store.CountByStatus(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	jobs, err := s.Store.ListJobs(ctx, jobstore.ListOptions{Limit: recentJobs})
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Counts: counts, Jobs: jobs}
	if s.Devices != nil {
		devs, err := s.Devices.ListConnectedDevices(ctx)
		snap.DeviceErr = err
		for _, d := range devs {
			snap.Devices = append(snap.Devices, d.Serial())
		}
	}
	return snap, nil
}

// Model is the TUI application model
type Model struct {
	source   Source
	events   <-chan events.Event
	interval time.Duration

	// Data
	snapshot Snapshot
	feed     []events.Event
	err      error

	// UI state
	width      int
	height     int
	activeTab  int
	jobScroll  int
	filter     int
	eventsDone bool

	lastRefresh time.Time
	now         func() time.Time
}

// ModelConfig holds the data sources for the TUI model
type ModelConfig struct {
	Source Source
	// Events is an optional live feed, set when the orchestrator runs in-process
	Events          <-chan events.Event
	History         []events.Event
	RefreshInterval time.Duration
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = time.Second
	}
	m := Model{
		source:     cfg.Source,
		events:     cfg.Events,
		interval:   interval,
		eventsDone: cfg.Events == nil,
		now:        time.Now,
	}
	for _, e := range cfg.History {
		m.addEvent(e)
	}
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		refreshCmd(m.source),
		tickCmd(m.interval),
		waitForEvent(m.events),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// SnapshotMsg carries a loaded snapshot
type SnapshotMsg struct {
	Snapshot Snapshot
	Err      error
	At       time.Time
}

// EventMsg carries one live event
type EventMsg events.Event

// eventsClosedMsg is sent once the live feed is closed
type eventsClosedMsg struct{}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func refreshCmd(src Source) tea.Cmd {
	if src == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := src.Snapshot(ctx)
		return SnapshotMsg{Snapshot: snap, Err: err, At: time.Now()}
	}
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg(e)
	}
}

func (m *Model) addEvent(e events.Event) {
	m.feed = append(m.feed, e)
	if len(m.feed) > maxEventLines {
		m.feed = m.feed[len(m.feed)-maxEventLines:]
	}
}

// filteredJobs returns the jobs matching the active status filter
func (m Model) filteredJobs() []*domain.Job {
	status := statusFilters[m.filter]
	if status == "" {
		return m.snapshot.Jobs
	}
	var out []*domain.Job
	for _, j := range m.snapshot.Jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out
}
