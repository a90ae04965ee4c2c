package monitor

import "github.com/charmbracelet/lipgloss"

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	timerStyle  = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	idleStyle   = lipgloss.NewStyle().Bold(true).Foreground(mutedColor)
	subtleStyle = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	laborStyle  = lipgloss.NewStyle().Bold(true).Foreground(warningColor)
	errStyle    = lipgloss.NewStyle().Foreground(errorColor)

	syncStyles = map[string]lipgloss.Style{
		"idle":    lipgloss.NewStyle().Foreground(successColor),
		"syncing": lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		"error":   lipgloss.NewStyle().Foreground(errorColor),
		"offline": lipgloss.NewStyle().Foreground(mutedColor),
	}
)

// formatSyncStatus renders a sync status with color
func formatSyncStatus(s string) string {
	style, ok := syncStyles[s]
	if !ok {
		return s
	}
	return style.Render(s)
}
