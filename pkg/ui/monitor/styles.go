package monitor

import "github.com/charmbracelet/lipgloss"

// theme groups reusable styles for dashboard regions.
type theme struct {
	header       lipgloss.Style
	headerMeta   lipgloss.Style
	divider      lipgloss.Style
	topicName    lipgloss.Style
	connected    lipgloss.Style
	connecting   lipgloss.Style
	disconnected lipgloss.Style
	counters     lipgloss.Style
	forwarded    lipgloss.Style
	dropped      lipgloss.Style
	skipped      lipgloss.Style
	timestamp    lipgloss.Style
	status       lipgloss.Style
	statusBusy   lipgloss.Style
	viewport     lipgloss.Style
}

// defaultTheme defines the terminal palette used by the dashboard.
func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("25")),
		headerMeta: lipgloss.NewStyle().
			Foreground(lipgloss.Color("153")),
		divider: lipgloss.NewStyle().
			Foreground(lipgloss.Color("24")),
		topicName: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Width(20),
		connected: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true).
			Width(14),
		connecting: lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")).
			Width(14),
		disconnected: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true).
			Width(14),
		counters: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")),
		forwarded: lipgloss.NewStyle().
			Foreground(lipgloss.Color("44")),
		dropped: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")),
		skipped: lipgloss.NewStyle().
			Foreground(lipgloss.Color("180")),
		timestamp: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Bold(true),
		statusBusy: lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")).
			Bold(true),
		viewport: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("24")).
			Padding(0, 1),
	}
}
