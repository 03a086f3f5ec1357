package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ntfy2tg/pkg/bus"
)

const maxLogLines = 500

type eventMsg bus.Event

type feedClosedMsg struct{}

type topicStats struct {
	state     string
	lastError string
	received  int
	forwarded int
	dropped   int
	skipped   int
}

type model struct {
	feed   <-chan bus.Event
	topics []string
	stats  map[string]*topicStats

	theme     theme
	spinner   spinner.Model
	viewport  viewport.Model
	lines     []string
	width     int
	height    int
	isReady   bool
	followLog bool
	startedAt time.Time
}

func newModel(topics []string, feed <-chan bus.Event) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	stats := make(map[string]*topicStats, len(topics))
	for _, topic := range topics {
		stats[topic] = &topicStats{state: "connecting"}
	}

	return &model{
		feed:      feed,
		topics:    topics,
		stats:     stats,
		theme:     defaultTheme(),
		spinner:   spin,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
		startedAt: time.Now(),
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.feed))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport()
		m.isReady = true
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc", "q":
			return m, tea.Quit
		}
		m.handleViewportKey(typed)
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case eventMsg:
		wasIdle := !m.anyConnecting()
		m.apply(bus.Event(typed))
		m.refreshViewport()
		if wasIdle && m.anyConnecting() {
			return m, tea.Batch(waitForEvent(m.feed), m.spinner.Tick)
		}
		return m, waitForEvent(m.feed)
	case feedClosedMsg:
		return m, tea.Quit
	case spinner.TickMsg:
		if !m.anyConnecting() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}

	return m, nil
}

// apply folds one lifecycle event into the per-topic counters and the event log.
func (m *model) apply(event bus.Event) {
	stats, ok := m.stats[event.Topic]
	if !ok {
		return
	}

	line := ""
	switch event.Type {
	case bus.EventConnected:
		stats.state = "connected"
		stats.lastError = ""
		line = "connected"
	case bus.EventDisconnected:
		stats.state = "disconnected"
		stats.lastError = event.Error
		line = m.theme.dropped.Render("disconnected") + " " + event.Error
	case bus.EventReceived:
		stats.received++
		line = "received " + event.MessageID
	case bus.EventForwarded:
		stats.forwarded++
		line = m.theme.forwarded.Render("forwarded") + " " + event.MessageID
	case bus.EventDropped:
		stats.dropped++
		line = m.theme.dropped.Render("dropped") + " " + event.MessageID + " " + event.Error
	case bus.EventFrameSkipped:
		stats.skipped++
		line = m.theme.skipped.Render("skipped frame") + " " + event.Error
	default:
		return
	}

	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	m.lines = append(m.lines, fmt.Sprintf("%s %s %s",
		m.theme.timestamp.Render(at.Local().Format(time.TimeOnly)),
		m.theme.topicName.UnsetWidth().Render(event.Topic),
		strings.TrimSpace(line),
	))
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
}

func (m *model) anyConnecting() bool {
	for _, stats := range m.stats {
		if stats.state != "connected" {
			return true
		}
	}

	return false
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport()
	}

	header := m.theme.header.Width(m.width - 2).Render("📡 ntfy2tg monitor")
	meta := m.theme.headerMeta.Render(fmt.Sprintf("topics:%d · up:%s", len(m.topics), time.Since(m.startedAt).Truncate(time.Second)))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("─", max(8, m.width-2)))

	rows := make([]string, 0, len(m.topics))
	for _, topic := range m.topics {
		rows = append(rows, m.renderTopic(topic))
	}

	status := m.theme.status.Render("PgUp/PgDn scroll · End jump latest · q quit")
	if m.anyConnecting() {
		status = m.theme.statusBusy.Render(m.spinner.View() + " waiting for subscriptions...")
	}

	parts := []string{header, meta, line}
	parts = append(parts, rows...)
	parts = append(parts, line, m.theme.viewport.Width(m.width-2).Render(m.viewport.View()), status)

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) renderTopic(topic string) string {
	stats := m.stats[topic]

	stateStyle := m.theme.connecting
	switch stats.state {
	case "connected":
		stateStyle = m.theme.connected
	case "disconnected":
		stateStyle = m.theme.disconnected
	}

	counters := m.theme.counters.Render(fmt.Sprintf("recv %d · fwd %d · drop %d · skip %d",
		stats.received, stats.forwarded, stats.dropped, stats.skipped))

	return m.theme.topicName.Render(topic) + stateStyle.Render(stats.state) + counters
}

func (m *model) resizeComponents() {
	w := max(40, m.width-6)
	h := max(5, m.height-len(m.topics)-8)

	m.viewport.Width = w
	m.viewport.Height = h
}

func (m *model) refreshViewport() {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if m.followLog {
		m.viewport.GotoBottom()
	}
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "up", "k":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "down", "j":
		m.viewport.PageDown()
		m.followLog = m.viewport.AtBottom()
		return true
	case "home", "g":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end", "G":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		m.followLog = m.viewport.AtBottom()
		return true
	default:
		return false
	}
}

func waitForEvent(feed <-chan bus.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-feed
		if !ok {
			return feedClosedMsg{}
		}
		return eventMsg(event)
	}
}
