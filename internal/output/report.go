package output

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/marcus/ct/internal/models"
	"golang.org/x/term"
)

const (
	defaultReportWidth = 80
	minReportWidth     = 20
)

// TerminalWidth returns the current terminal width or a fallback when unavailable.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultReportWidth
	}
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// StatsMarkdown builds a shareable markdown summary: headline numbers and a
// table of the most recent events.
func StatsMarkdown(st models.Stats, labor bool, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Contractions\n\n_As of %s_\n\n", now.Format("Mon Jan 2 15:04"))
	if st.Total == 0 {
		sb.WriteString("No completed contractions yet.\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "- **Total:** %d\n", st.Total)
	fmt.Fprintf(&sb, "- **Average duration:** %s\n", FormatSeconds(st.AverageDuration))
	if st.AverageInterval > 0 {
		fmt.Fprintf(&sb, "- **Average interval:** %s\n", FormatSeconds(st.AverageInterval))
	}
	if st.Last != nil {
		fmt.Fprintf(&sb, "- **Last:** %s\n", FormatTimeAgo(st.Last.StartTime.Time()))
	}
	if labor {
		sb.WriteString("\n> Pattern matches active labor: 45-90s contractions, 3-5 minutes apart.\n")
	}

	sb.WriteString("\n| Start | Duration | Interval | Intensity |\n|---|---|---|---|\n")
	for i, e := range st.Recent {
		interval := "-"
		if i+1 < len(st.Recent) {
			if iv := models.Interval(st.Recent[i+1], e); iv > 0 {
				interval = FormatSeconds(iv)
			}
		}
		intensity := "-"
		if e.Intensity != nil {
			intensity = strconv.Itoa(*e.Intensity)
		}
		duration := "-"
		if e.Duration != nil {
			duration = FormatSeconds(*e.Duration)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", e.StartTime.Time().Format("15:04:05"), duration, interval, intensity)
	}
	return sb.String()
}

// RenderMarkdown renders markdown with Glamour, wrapped to the terminal.
func RenderMarkdown(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	width := max(TerminalWidth(defaultReportWidth), minReportWidth)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(rendered, "\n"), nil
}
