// Package output provides styled terminal output helpers (success, error,
// warning, event formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/marcus/ct/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	syncStyles   = map[models.SyncStatus]lipgloss.Style{
		models.SyncPending:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.SyncSynced:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.SyncConflict: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeConflict      = "conflict"
	ErrCodeBusy          = "busy"
	ErrCodeDatabaseError = "database_error"
	ErrCodeBackendError  = "backend_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{"error": map[string]string{"code": code, "message": message}})
	fmt.Println(string(data))
}

// FormatSeconds renders a duration in seconds as "45s" or "4m 02s".
func FormatSeconds(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	if secs < 3600 {
		return fmt.Sprintf("%dm %02ds", secs/60, secs%60)
	}
	return fmt.Sprintf("%dh %02dm", secs/3600, (secs%3600)/60)
}

// FormatClock renders a timestamp as local wall-clock time.
func FormatClock(m models.Millis) string {
	t := m.Time()
	if sameDay(t, time.Now()) {
		return t.Format("15:04:05")
	}
	return t.Format("Jan 02 15:04")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// FormatIntensity renders 1-10 as a colored bar, or "-" when unrated.
func FormatIntensity(i *int) string {
	if i == nil {
		return subtleStyle.Render("-")
	}
	color := "42"
	switch {
	case *i >= 8:
		color = "196"
	case *i >= 5:
		color = "214"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(fmt.Sprintf("%2d %s", *i, strings.Repeat("▮", *i)))
}

// SyncBadge returns a sync status indicator with symbol
// e.g., "✓ synced", "↑ pending", "! conflict"
func SyncBadge(status models.SyncStatus) string {
	symbols := map[models.SyncStatus]string{
		models.SyncPending:  "↑",
		models.SyncSynced:   "✓",
		models.SyncConflict: "!",
	}
	symbol, ok := symbols[status]
	if !ok {
		symbol = "?"
	}
	if style, ok := syncStyles[status]; ok {
		return style.Render(fmt.Sprintf("%s %s", symbol, status))
	}
	return fmt.Sprintf("%s %s", symbol, status)
}

// ShortID shortens an event id to 8 characters for display
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatEventShort formats one event on a single line. interval is the gap
// to the previous event in seconds, 0 when unknown.
func FormatEventShort(e models.Event, interval int64, notesWidth int) string {
	var parts []string
	parts = append(parts, titleStyle.Render(ShortID(e.ID)))
	parts = append(parts, FormatClock(e.StartTime))
	if e.Duration != nil {
		parts = append(parts, fmt.Sprintf("%8s", FormatSeconds(*e.Duration)))
	} else {
		parts = append(parts, activeStyle.Render(fmt.Sprintf("%8s", "running")))
	}
	if interval > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("every %s", FormatSeconds(interval))))
	}
	parts = append(parts, FormatIntensity(e.Intensity))
	if e.SyncStatus != models.SyncSynced {
		parts = append(parts, SyncBadge(e.SyncStatus))
	}
	if e.Notes != "" {
		notes := e.Notes
		if notesWidth > 0 {
			notes = ansi.Truncate(notes, notesWidth, "…")
		}
		parts = append(parts, subtleStyle.Render(notes))
	}
	return strings.Join(parts, "  ")
}

// FormatEventLong formats an event with all of its fields.
func FormatEventLong(e models.Event) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(e.ID))
	if e.Archived {
		sb.WriteString(subtleStyle.Render("  (archived)"))
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Started:   %s\n", e.StartTime.Time().Format(time.RFC3339))
	if e.EndTime != nil {
		fmt.Fprintf(&sb, "Ended:     %s\n", e.EndTime.Time().Format(time.RFC3339))
	}
	if e.Duration != nil {
		fmt.Fprintf(&sb, "Duration:  %s\n", FormatSeconds(*e.Duration))
	}
	fmt.Fprintf(&sb, "Intensity: %s\n", FormatIntensity(e.Intensity))
	if e.Notes != "" {
		fmt.Fprintf(&sb, "Notes:     %s\n", e.Notes)
	}
	fmt.Fprintf(&sb, "Sync:      %s\n", SyncBadge(e.SyncStatus))
	fmt.Fprintf(&sb, "Updated:   %s", FormatTimeAgo(e.UpdatedAt.Time()))
	return sb.String()
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nRECENT:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// Plain strips styling, for comparisons and logs.
func Plain(s string) string {
	return ansi.Strip(s)
}
