// Package tui is the live terminal monitor behind `intertalk watch`.
package tui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/intertalk/internal/api"
	"github.com/mattjoyce/intertalk/internal/dispatch"
	"github.com/mattjoyce/intertalk/internal/events"
	"github.com/mattjoyce/intertalk/internal/registry"
)

const (
	maxEventLog  = 50
	pollInterval = 2 * time.Second
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusIdle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// --- Types ---

type condKey struct {
	depth     int
	condition string
}

// conditionState merges the polled registry view with invocation events.
type conditionState struct {
	registry.ConditionStats
	Invokes  int
	Failures int
	Last     time.Duration
	LastErr  string
}

// invocationData is the payload of condition.invoked and condition.failed.
type invocationData struct {
	InvocationID string `json:"invocation_id"`
	Depth        int    `json:"depth"`
	Condition    string `json:"condition"`
	Dispatched   int    `json:"dispatched"`
	DurationUS   int64  `json:"duration_us"`
	Error        string `json:"error"`
}

// Model is the BubbleTea model for the monitor.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health     api.HealthzResponse
	conditions map[condKey]*conditionState
	eventLog   []events.Event
	lastError  string

	table    table.Model
	viewport viewport.Model

	hubEvents chan events.Event
}

// NewMonitor creates a monitor polling and streaming from apiURL.
func NewMonitor(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Depth", Width: 6},
			{Title: "Condition", Width: 20},
			{Title: "Live", Width: 7},
			{Title: "Slots", Width: 7},
			{Title: "Invokes", Width: 8},
			{Title: "Fails", Width: 6},
			{Title: "Last", Width: 12},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     apiKey,
		conditions: make(map[condKey]*conditionState),
		hubEvents:  make(chan events.Event, 100),
		table:      t,
		viewport:   viewport.New(80, 10),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.poll(),
		tea.EnterAltScreen,
	)
}

func (m Model) poll() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		func() tea.Msg { return fetchConditions(m.apiURL, m.apiKey) },
	)
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)
		m.viewport.Width = m.width - 6
		m.viewport.Height = m.height / 3
		m.viewport.SetContent(m.renderEvents())

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.refresh()
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health = api.HealthzResponse(msg)
		m.lastError = ""
		return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case conditionsMsg:
		m.mergeConditions(msg.Conditions)
		m.refresh()
		return m, nil

	case tickMsg:
		return m, m.poll()

	case sseDisconnectedMsg:
		m.lastError = "event stream disconnected, retrying"
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents)

	case errMsg:
		m.lastError = msg.err.Error()
		return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
	}

	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) condition(depth int, name string) *conditionState {
	k := condKey{depth, name}
	c, ok := m.conditions[k]
	if !ok {
		c = &conditionState{ConditionStats: registry.ConditionStats{Depth: depth, Condition: name}}
		m.conditions[k] = c
	}
	return c
}

// mergeConditions replaces the registry view. Conditions no longer reported
// were reset away and are dropped along with their counters.
func (m *Model) mergeConditions(stats []registry.ConditionStats) {
	seen := make(map[condKey]bool, len(stats))
	for _, s := range stats {
		k := condKey{s.Depth, s.Condition}
		seen[k] = true
		m.condition(s.Depth, s.Condition).ConditionStats = s
	}
	for k := range m.conditions {
		if !seen[k] {
			delete(m.conditions, k)
		}
	}
}

func (m *Model) handleEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	switch e.Type {
	case dispatch.EventInvoked, dispatch.EventFailed:
		var data invocationData
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return
		}
		c := m.condition(data.Depth, data.Condition)
		c.Invokes++
		c.Last = time.Duration(data.DurationUS) * time.Microsecond
		if e.Type == dispatch.EventFailed {
			c.Failures++
			c.LastErr = data.Error
		}

	case dispatch.EventRegistered, dispatch.EventUnregistered:
		var data struct {
			Depth     int    `json:"depth"`
			Condition string `json:"condition"`
		}
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return
		}
		c := m.condition(data.Depth, data.Condition)
		if e.Type == dispatch.EventRegistered {
			c.Live++
			if c.Live > c.Slots {
				c.Slots = c.Live
			}
		} else if c.Live > 0 {
			c.Live--
		}
	}
}

func (m *Model) sortedConditions() []*conditionState {
	out := make([]*conditionState, 0, len(m.conditions))
	for _, c := range m.conditions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].Condition < out[j].Condition
	})
	return out
}

func (m *Model) refresh() {
	conds := m.sortedConditions()
	rows := make([]table.Row, 0, len(conds))
	for _, c := range conds {
		rows = append(rows, conditionRow(c))
	}
	m.table.SetRows(rows)
	m.viewport.SetContent(m.renderEvents())
}

func conditionRow(c *conditionState) table.Row {
	statusSym := statusIdle.Render("○")
	switch {
	case c.InFlight:
		statusSym = statusRunning.Render("◉")
	case c.LastErr != "":
		statusSym = statusFailed.Render("∅")
	case c.Invokes > 0:
		statusSym = statusOK.Render("●")
	}

	last := "-"
	if c.Invokes > 0 {
		last = c.Last.Round(time.Microsecond).String()
	}

	return table.Row{
		statusSym,
		strconv.Itoa(c.Depth),
		c.Condition,
		strconv.Itoa(c.Live),
		strconv.Itoa(c.Slots),
		strconv.Itoa(c.Invokes),
		strconv.Itoa(c.Failures),
		last,
	}
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	conditions := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Conditions"),
			m.table.View(),
		),
	)

	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.viewport.View(),
		),
	)

	help := " [q] Quit • [↑/↓] Scroll Conditions"
	if m.lastError != "" {
		help += " • " + statusFailed.Render(m.lastError)
	}

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderHeader(),
			conditions,
			eventsView,
			helpStyle.Render(help),
		),
	)
}

func (m Model) renderHeader() string {
	status := statusOK.Render("RUNNING")
	if m.health.Status != "ok" && m.health.Status != "" {
		status = statusFailed.Render("DEGRADED")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second

	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime.String()),
		fmt.Sprintf("Layers: %d", m.health.Layers),
		fmt.Sprintf("In flight: %d", m.health.InFlight),
		fmt.Sprintf("Pending resets: %d", m.health.PendingResets),
	}

	cell := lipgloss.NewStyle().Width((m.width - 4) / len(items))
	cells := make([]string, 0, len(items))
	for _, it := range items {
		cells = append(cells, cell.Render(it))
	}
	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m Model) renderEvents() string {
	if len(m.eventLog) == 0 {
		return "  No events yet..."
	}
	lines := make([]string, 0, len(m.eventLog))
	for _, e := range m.eventLog {
		lines = append(lines, fmt.Sprintf("%s | %-25s | %s", e.At.Format("15:04:05"), e.Type, string(e.Data)))
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}
