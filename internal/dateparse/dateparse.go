// Package dateparse parses the instants users type for contraction start and
// end times: clock times, full timestamps and offsets into the past.
package dateparse

import (
	"fmt"
	"strings"
	"time"
)

// ParseTime parses a time input relative to the current time.
//
// Supported formats:
//   - Keyword: "now"
//   - Clock times today: "14:05", "14:05:30" (yesterday if still ahead)
//   - Local timestamps: "2026-03-01 14:05", "2026-03-01T14:05:30"
//   - RFC 3339: "2026-03-01T14:05:30Z"
//   - Offsets into the past: "-5m", "-1h30m", "90s ago"
func ParseTime(input string) (time.Time, error) {
	return ParseTimeFrom(input, time.Now())
}

// ParseTimeFrom parses a time input relative to the given reference time.
// This variant enables deterministic testing with a fixed "now".
func ParseTimeFrom(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return time.Time{}, fmt.Errorf("empty time input")
	}
	if input == "now" {
		return now, nil
	}

	if t, err := time.Parse(time.RFC3339, strings.ToUpper(input)); err == nil {
		return t, nil
	}

	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02t15:04:05", "2006-01-02t15:04"} {
		if t, err := time.ParseInLocation(layout, input, now.Location()); err == nil {
			return t, nil
		}
	}

	// Clock time today; a clock time still ahead of now means yesterday
	for _, layout := range []string{"15:04:05", "15:04"} {
		c, err := time.Parse(layout, input)
		if err != nil {
			continue
		}
		y, m, d := now.Date()
		t := time.Date(y, m, d, c.Hour(), c.Minute(), c.Second(), 0, now.Location())
		if t.After(now) {
			t = t.AddDate(0, 0, -1)
		}
		return t, nil
	}

	// Offsets: "-5m" or "5m ago"
	offset := ""
	switch {
	case strings.HasPrefix(input, "-"):
		offset = input[1:]
	case strings.HasSuffix(input, " ago"):
		offset = strings.TrimSpace(strings.TrimSuffix(input, " ago"))
	}
	if offset != "" {
		d, err := time.ParseDuration(offset)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad offset in %q: %w", input, err)
		}
		if d < 0 {
			return time.Time{}, fmt.Errorf("offset %q must point into the past", input)
		}
		return now.Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %q", input)
}

// ParseDuration parses a contraction length: a Go duration ("62s", "1m2s")
// or a bare number of seconds ("62").
func ParseDuration(input string) (time.Duration, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return 0, fmt.Errorf("empty duration input")
	}
	if strings.Trim(input, "0123456789") == "" {
		input += "s"
	}
	d, err := time.ParseDuration(input)
	if err != nil {
		return 0, fmt.Errorf("unrecognized duration: %q", input)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", input)
	}
	return d, nil
}
