package models

import (
	"sort"
	"time"
)

// Duration returns whole seconds between start and end, floored.
func Duration(start, end Millis) int64 {
	d := int64(end - start)
	if d < 0 {
		// floor, not truncate toward zero
		return -((-d + 999) / 1000)
	}
	return d / 1000
}

// Interval returns the seconds between the end of earlier and the start of
// later. Zero when earlier has not ended.
func Interval(earlier, later Event) int64 {
	if earlier.EndTime == nil || later.StartTime == 0 {
		return 0
	}
	return Duration(*earlier.EndTime, later.StartTime)
}

// Stats summarizes completed events.
type Stats struct {
	Total           int     `json:"total"`
	AverageDuration int64   `json:"averageDuration"`
	AverageInterval int64   `json:"averageInterval"`
	Last            *Event  `json:"lastContraction,omitempty"`
	Recent          []Event `json:"recentContractions"`
}

// SortByStartDesc orders events newest first, id ascending on equal starts.
func SortByStartDesc(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].StartTime != events[j].StartTime {
			return events[i].StartTime > events[j].StartTime
		}
		return events[i].ID < events[j].ID
	})
}

// ComputeStats expects events newest first and ignores active ones.
func ComputeStats(events []Event) Stats {
	var done []Event
	for _, e := range events {
		if e.EndTime != nil && e.Duration != nil {
			done = append(done, e)
		}
	}
	if len(done) == 0 {
		return Stats{Recent: []Event{}}
	}

	var total int64
	for _, e := range done {
		total += *e.Duration
	}

	var intervalSum, intervalCount int64
	for i := 0; i < len(done)-1; i++ {
		if iv := Interval(done[i+1], done[i]); iv > 0 {
			intervalSum += iv
			intervalCount++
		}
	}

	st := Stats{
		Total:           len(done),
		AverageDuration: total / int64(len(done)),
	}
	if intervalCount > 0 {
		st.AverageInterval = intervalSum / intervalCount
	}
	last := done[0]
	st.Last = &last
	n := min(len(done), 10)
	st.Recent = append([]Event(nil), done[:n]...)
	return st
}

// InTimeRange keeps events that started within the last hours relative to now.
func InTimeRange(events []Event, hours int, now time.Time) []Event {
	cutoff := FromTime(now.Add(-time.Duration(hours) * time.Hour))
	var out []Event
	for _, e := range events {
		if e.StartTime >= cutoff {
			out = append(out, e)
		}
	}
	return out
}

// IsActiveLaborPattern reports whether the three most recent events (newest
// first) each lasted 45-90s and were spaced 3-5 minutes apart.
func IsActiveLaborPattern(events []Event) bool {
	if len(events) < 3 {
		return false
	}
	recent := events[:3]
	for _, e := range recent {
		if e.Duration == nil || *e.Duration < 45 || *e.Duration > 90 {
			return false
		}
	}
	valid := 0
	for i := 0; i < len(recent)-1; i++ {
		iv := Interval(recent[i+1], recent[i])
		if iv >= 180 && iv <= 300 {
			valid++
		}
	}
	return valid >= 2
}
