package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/marcus/ct/internal/output"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	// Handle small terminal sizes gracefully
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	timer := m.renderTimerPanel()
	listHeight := m.Height - lipgloss.Height(timer) - 3
	list := m.renderListPanel(listHeight)

	return lipgloss.JoinVertical(lipgloss.Left, timer, list, m.renderFooter())
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder
	s.WriteString("ct watch (resize for full view)\n\n")
	if m.Active != nil {
		s.WriteString(fmt.Sprintf("Running: %s\n", output.FormatSeconds(elapsed(m.Active, m.Now))))
	} else {
		s.WriteString("Ready\n")
	}
	s.WriteString(fmt.Sprintf("Total: %d\n", m.Stats.Total))
	s.WriteString("\nspace:start/stop q:quit")
	return s.String()
}

func (m Model) renderTimerPanel() string {
	var s strings.Builder
	title := panelTitleStyle.Render("CONTRACTION TIMER")
	if m.SyncInfo != nil {
		title += "  " + subtleStyle.Render(string(m.SyncInfo.Backend)+":") + " " + formatSyncStatus(string(m.SyncInfo.Status))
		if m.SyncInfo.PendingOperations > 0 {
			title += subtleStyle.Render(fmt.Sprintf(" (%d pending)", m.SyncInfo.PendingOperations))
		}
	}
	s.WriteString(title + "\n\n")

	style := panelStyle
	switch {
	case m.Active != nil:
		style = activePanelStyle
		s.WriteString(timerStyle.Render("● " + output.FormatSeconds(elapsed(m.Active, m.Now))))
		s.WriteString(subtleStyle.Render("  started " + output.FormatClock(m.Active.StartTime)))
	default:
		s.WriteString(idleStyle.Render("○ Ready"))
		if len(m.Events) > 0 && m.Events[0].EndTime != nil {
			since := m.Now.Sub(m.Events[0].EndTime.Time()).Milliseconds() / 1000
			s.WriteString(subtleStyle.Render("  last ended " + output.FormatSeconds(since) + " ago"))
		}
	}
	s.WriteString("\n")

	if m.Stats.Total > 0 {
		line := fmt.Sprintf("Total %d   avg duration %s", m.Stats.Total, output.FormatSeconds(m.Stats.AverageDuration))
		if m.Stats.AverageInterval > 0 {
			line += fmt.Sprintf("   avg interval %s", output.FormatSeconds(m.Stats.AverageInterval))
		}
		s.WriteString(subtleStyle.Render(line) + "\n")
	}
	if m.Labor {
		s.WriteString(laborStyle.Render("Pattern matches active labor (45-90s, 3-5 min apart)") + "\n")
	}

	switch m.Phase {
	case PhaseRate:
		s.WriteString("\nIntensity? 1-9, 0 for 10, enter to skip")
	case PhaseNotes:
		s.WriteString("\n" + m.NotesInput.View())
	}

	return style.Width(m.Width - 2).Render(strings.TrimRight(s.String(), "\n"))
}

func (m Model) renderListPanel(height int) string {
	var s strings.Builder
	s.WriteString(panelTitleStyle.Render("RECENT") + "\n")

	rows := height - 3
	if rows < 1 {
		rows = 1
	}
	if m.Err != nil {
		s.WriteString(errStyle.Render("Error: " + m.Err.Error()))
	} else if len(m.Events) == 0 {
		s.WriteString(subtleStyle.Render("No contractions yet. Press space to start."))
	}
	notesWidth := max(m.Width-60, 10)
	for i, e := range m.Events {
		if i >= rows {
			s.WriteString(subtleStyle.Render(fmt.Sprintf("… %d more", len(m.Events)-i)))
			break
		}
		line := output.FormatEventShort(e, intervalBefore(m.Events, i), notesWidth)
		s.WriteString(ansi.Truncate(line, m.Width-4, "…") + "\n")
	}
	return panelStyle.Width(m.Width - 2).Render(strings.TrimRight(s.String(), "\n"))
}

func (m Model) renderFooter() string {
	keys := "space:start/stop  u:undo  U:redo  s:sync  r:refresh  ?:help  q:quit"
	if m.Status != "" {
		return helpStyle.Render(keys) + "   " + m.Status
	}
	return helpStyle.Render(keys)
}

func (m Model) renderHelp() string {
	help := `CT WATCH

  space, enter   start or stop a contraction
  1-9, 0         rate the contraction just stopped (0 = 10)
  u              undo the last action
  U, ctrl+r      redo
  s              sync with the backend now
  r              reload from the local store
  ?              toggle this help
  q, esc         quit`
	return activePanelStyle.Width(m.Width - 2).Render(help)
}
