package listener

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// dashboardMsg is sent on the program's channel whenever the service wants
// the dashboard to refresh: a connection state change, a new roster member,
// or a finished capture. It carries a full snapshot rather than a delta —
// the dashboard has no use for partial updates and a snapshot keeps Update
// trivial.
type dashboardMsg struct {
	connected bool
	socketID  string
	channels  []string
	members   []string
	lastEvent string
	capturing string
}

type tickMsg time.Time

// Dashboard is the optional foreground status view for the device
// listener: connection state, subscribed channels, presence roster, and
// the most recent capture. It implements tea.Model the way the teacher's
// cmd/chief wires its own App into tea.NewProgram(app, tea.WithAltScreen()).
type Dashboard struct {
	width, height int

	connected bool
	socketID  string
	channels  []string
	members   []string
	lastEvent string
	capturing string

	channelsScrollOffset int
	events               []string
	eventsScrollOffset   int

	updates <-chan dashboardMsg
}

// NewDashboard creates a Dashboard that receives snapshots over updates.
// The Service owns the send side and pushes a snapshot after every state
// change worth showing.
func NewDashboard(updates <-chan dashboardMsg) *Dashboard {
	return &Dashboard{updates: updates}
}

func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.waitForUpdate(), tickEvery())
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (d *Dashboard) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-d.updates
		if !ok {
			return nil
		}
		return msg
	}
}

func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		d.width, d.height = m.Width, m.Height
		return d, nil
	case tea.KeyMsg:
		switch m.String() {
		case "q", "ctrl+c":
			return d, tea.Quit
		case "up", "k":
			if d.channelsScrollOffset > 0 {
				d.channelsScrollOffset--
			}
		case "down", "j":
			if d.channelsScrollOffset < len(d.channels)-1 {
				d.channelsScrollOffset++
			}
		}
		return d, nil
	case tickMsg:
		return d, tickEvery()
	case dashboardMsg:
		d.connected = m.connected
		d.socketID = m.socketID
		d.channels = m.channels
		d.members = m.members
		d.capturing = m.capturing
		if m.lastEvent != "" && m.lastEvent != d.lastEvent {
			d.lastEvent = m.lastEvent
			d.events = append(d.events, m.lastEvent)
			if len(d.events) > 200 {
				d.events = d.events[len(d.events)-200:]
			}
			d.eventsScrollOffset = maxInt(0, len(d.events)-d.eventsListHeight())
		}
		return d, d.waitForUpdate()
	}
	return d, nil
}

func (d *Dashboard) View() string {
	return d.renderDashboard()
}

var (
	dashboardBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	dashboardTitle  = lipgloss.NewStyle().Bold(true)
	dashboardOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dashboardBad    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dashboardDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func (d *Dashboard) renderDashboard() string {
	width := d.width
	if width <= 0 {
		width = 80
	}

	status := dashboardBad.Render("disconnected")
	if d.connected {
		status = dashboardOK.Render(fmt.Sprintf("connected (socket %s)", d.socketID))
	}
	header := dashboardTitle.Render("reverb-device") + "  " + status

	panelWidth := width/2 - 2
	channels := dashboardBorder.Width(panelWidth).Render(d.renderChannelsPanel(panelWidth))
	roster := dashboardBorder.Width(panelWidth).Render(d.renderRosterPanel(panelWidth))
	top := lipgloss.JoinHorizontal(lipgloss.Top, channels, roster)

	events := dashboardBorder.Width(width - 2).Render(d.renderEventsPanel(width - 2))

	body := lipgloss.JoinVertical(lipgloss.Left, header, top, events)

	if d.height >= 12 {
		footer := dashboardDim.Render("q: quit  ↑/↓: scroll channels")
		body = lipgloss.JoinVertical(lipgloss.Left, body, footer)
	}
	return body
}

func (d *Dashboard) renderChannelsPanel(width int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Channels (%d)\n", len(d.channels))
	start := minInt(d.channelsScrollOffset, len(d.channels))
	for _, name := range d.channels[start:] {
		marker := "  "
		if d.capturing != "" && name == d.capturing {
			marker = "* "
		}
		fmt.Fprintf(&b, "%s%s\n", marker, name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dashboard) renderRosterPanel(width int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Presence (%d)\n", len(d.members))
	for _, m := range d.members {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dashboard) eventsListHeight() int {
	h := d.height - 10
	if h < 3 {
		h = 3
	}
	return h
}

func (d *Dashboard) renderEventsPanel(width int) string {
	listHeight := d.eventsListHeight()
	start := d.eventsScrollOffset
	if start > len(d.events) {
		start = len(d.events)
	}
	end := minInt(len(d.events), start+listHeight)

	var b strings.Builder
	b.WriteString("Recent events\n")
	for _, e := range d.events[start:end] {
		fmt.Fprintf(&b, "  %s\n", e)
	}
	return strings.TrimRight(b.String(), "\n")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
