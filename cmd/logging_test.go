package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNewLogHandlerLevels(t *testing.T) {
	tests := []struct {
		level string
		on    slog.Level
		off   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 1},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"", slog.LevelWarn, slog.LevelInfo},
		{"bogus", slog.LevelWarn, slog.LevelInfo},
		{"ERROR", slog.LevelError, slog.LevelWarn},
	}
	for _, tt := range tests {
		h := newLogHandler(&bytes.Buffer{}, tt.level, "")
		if !h.Enabled(context.Background(), tt.on) {
			t.Errorf("level %q: %v should be enabled", tt.level, tt.on)
		}
		if h.Enabled(context.Background(), tt.off) {
			t.Errorf("level %q: %v should be disabled", tt.level, tt.off)
		}
	}
}

func TestNewLogHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newLogHandler(&buf, "info", "json"))
	logger.Info("synced", "pending", 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json handler output %q: %v", buf.String(), err)
	}
	if rec["msg"] != "synced" || rec["pending"] != float64(2) {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	slog.New(newLogHandler(&buf, "info", "text")).Info("synced", "pending", 2)
	if !strings.Contains(buf.String(), "msg=synced pending=2") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestParseSpan(t *testing.T) {
	now := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)

	start, end, err := parseSpan("-10m", "", "62s", now)
	if err != nil {
		t.Fatalf("parseSpan: %v", err)
	}
	if got := start.Time(); !got.Equal(now.Add(-10 * time.Minute)) {
		t.Errorf("start = %v", got)
	}
	if d := end - start; d != 62000 {
		t.Errorf("span = %dms, want 62000", d)
	}

	start, end, err = parseSpan("11:50", "11:51:30", "", now)
	if err != nil {
		t.Fatalf("parseSpan: %v", err)
	}
	if d := end - start; d != 90000 {
		t.Errorf("span = %dms, want 90000", d)
	}

	for _, args := range [][3]string{
		{"", "", "60s"},
		{"-5m", "", ""},
		{"-5m", "-4m", "60s"},
		{"later", "", "60s"},
		{"-5m", "", "-60s"},
	} {
		if _, _, err := parseSpan(args[0], args[1], args[2], now); err == nil {
			t.Errorf("parseSpan%q: expected error", args)
		}
	}
}
