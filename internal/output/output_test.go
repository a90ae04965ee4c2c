package output

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/ct/internal/models"
)

// TestFormatTimeAgo covers each bucket
func TestFormatTimeAgo(t *testing.T) {
	tests := []struct {
		ago      time.Duration
		expected string
	}{
		{0, "just now"},
		{59 * time.Second, "just now"},
		{2 * time.Minute, "2m ago"},
		{5 * time.Hour, "5h ago"},
		{3 * 24 * time.Hour, "3d ago"},
	}
	for _, tc := range tests {
		if got := FormatTimeAgo(time.Now().Add(-tc.ago)); got != tc.expected {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tc.ago, got, tc.expected)
		}
	}

	old := time.Date(2020, 5, 1, 0, 0, 0, 0, time.Local)
	if got := FormatTimeAgo(old); got != "2020-05-01" {
		t.Errorf("FormatTimeAgo(old) = %q", got)
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := map[int64]string{
		-5:   "0s",
		0:    "0s",
		45:   "45s",
		62:   "1m 02s",
		238:  "3m 58s",
		3725: "1h 02m",
	}
	for in, want := range tests {
		if got := FormatSeconds(in); got != want {
			t.Errorf("FormatSeconds(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestSyncBadge(t *testing.T) {
	if got := Plain(SyncBadge(models.SyncSynced)); got != "✓ synced" {
		t.Errorf("synced badge = %q", got)
	}
	if got := Plain(SyncBadge(models.SyncStatus("weird"))); got != "? weird" {
		t.Errorf("unknown badge = %q", got)
	}
}

func TestFormatIntensity(t *testing.T) {
	if got := Plain(FormatIntensity(nil)); got != "-" {
		t.Errorf("unrated = %q", got)
	}
	i := 3
	if got := Plain(FormatIntensity(&i)); got != " 3 ▮▮▮" {
		t.Errorf("intensity 3 = %q", got)
	}
}

func TestFormatEventShort(t *testing.T) {
	start := models.Now() - 120_000
	e := models.Event{ID: "0123456789abcdef", StartTime: start, Notes: "a very long note about breathing", SyncStatus: models.SyncPending}

	line := Plain(FormatEventShort(e, 0, 10))
	if !strings.HasPrefix(line, "01234567  ") {
		t.Errorf("expected short id prefix, got %q", line)
	}
	if !strings.Contains(line, "running") {
		t.Errorf("active event should say running: %q", line)
	}
	if !strings.Contains(line, "↑ pending") {
		t.Errorf("pending badge missing: %q", line)
	}
	if strings.Contains(line, "breathing") || !strings.Contains(line, "…") {
		t.Errorf("notes should be truncated: %q", line)
	}

	e.Finish(start + 62_000)
	e.SyncStatus = models.SyncSynced
	line = Plain(FormatEventShort(e, 238, 0))
	if !strings.Contains(line, "1m 02s") || !strings.Contains(line, "every 3m 58s") {
		t.Errorf("duration/interval missing: %q", line)
	}
	if strings.Contains(line, "synced") {
		t.Errorf("synced events carry no badge: %q", line)
	}
}

func TestStatsMarkdown(t *testing.T) {
	now := time.Now()
	empty := StatsMarkdown(models.Stats{}, false, now)
	if !strings.Contains(empty, "No completed contractions") {
		t.Errorf("empty report: %q", empty)
	}

	base := models.FromTime(now.Add(-time.Hour))
	var events []models.Event
	for i := 2; i >= 0; i-- {
		e := models.Event{ID: string(rune('a' + i)), StartTime: base + models.Millis(i)*300_000}
		e.Finish(e.StartTime + 62_000)
		events = append(events, e)
	}
	md := StatsMarkdown(models.ComputeStats(events), true, now)
	for _, want := range []string{"**Total:** 3", "1m 02s", "3m 58s", "active labor", "| Start | Duration |"} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q:\n%s", want, md)
		}
	}
}
