package models

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	tests := []struct {
		name       string
		start, end Millis
		want       int64
	}{
		{"exact", 0, 60000, 60},
		{"floors", 1000, 63999, 62},
		{"zero", 5000, 5000, 0},
		{"sub-second", 1000, 1999, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Duration(tt.start, tt.end); got != tt.want {
				t.Errorf("Duration(%d, %d) = %d, want %d", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestFinishSetsDuration(t *testing.T) {
	e := NewEvent(1_000_000)
	if !e.IsActive() || e.Duration != nil {
		t.Fatal("new event should be active with no duration")
	}
	e.Finish(1_062_000)
	if e.EndTime == nil || *e.EndTime != 1_062_000 {
		t.Fatalf("EndTime = %v", e.EndTime)
	}
	if e.Duration == nil || *e.Duration != 62 {
		t.Fatalf("Duration = %v, want 62", e.Duration)
	}
	e.Reopen()
	if e.EndTime != nil || e.Duration != nil {
		t.Error("Reopen should clear end time and duration together")
	}
}

func TestIntervalScenario(t *testing.T) {
	t0 := Millis(1_700_000_000_000)
	first := NewEvent(t0)
	first.Finish(t0 + 62_000)

	second := NewEvent(t0 + 300_000)
	second.Finish(t0 + 360_000)

	if got := *first.Duration; got != 62 {
		t.Errorf("first duration = %d, want 62", got)
	}
	if got := Interval(first, second); got != 238 {
		t.Errorf("interval = %d, want 238", got)
	}

	active := NewEvent(t0)
	if got := Interval(active, second); got != 0 {
		t.Errorf("interval from active event = %d, want 0", got)
	}
}

func TestComputeStats(t *testing.T) {
	t0 := Millis(1_700_000_000_000)
	var events []Event
	for i := 0; i < 3; i++ {
		e := NewEvent(t0 + Millis(i)*300_000)
		e.Finish(e.StartTime + 60_000)
		events = append(events, e)
	}
	running := NewEvent(t0 + 900_000)
	events = append(events, running)
	SortByStartDesc(events)

	st := ComputeStats(events)
	if st.Total != 3 {
		t.Errorf("Total = %d, want 3", st.Total)
	}
	if st.AverageDuration != 60 {
		t.Errorf("AverageDuration = %d, want 60", st.AverageDuration)
	}
	if st.AverageInterval != 240 {
		t.Errorf("AverageInterval = %d, want 240", st.AverageInterval)
	}
	if st.Last == nil || st.Last.StartTime != t0+600_000 {
		t.Errorf("Last = %+v", st.Last)
	}

	empty := ComputeStats(nil)
	if empty.Total != 0 || empty.Recent == nil {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestIsActiveLaborPattern(t *testing.T) {
	t0 := Millis(1_700_000_000_000)
	mk := func(offset Millis, secs int64) Event {
		e := NewEvent(t0 + offset)
		e.Finish(e.StartTime + Millis(secs*1000))
		return e
	}

	active := []Event{mk(480_000, 60), mk(240_000, 60), mk(0, 60)}
	if !IsActiveLaborPattern(active) {
		t.Error("expected active labor pattern")
	}

	short := []Event{mk(480_000, 30), mk(240_000, 60), mk(0, 60)}
	if IsActiveLaborPattern(short) {
		t.Error("30s contraction should not match")
	}

	if IsActiveLaborPattern(active[:2]) {
		t.Error("fewer than three events should not match")
	}
}

func TestInTimeRange(t *testing.T) {
	now := time.Now()
	recent := NewEvent(FromTime(now.Add(-30 * time.Minute)))
	old := NewEvent(FromTime(now.Add(-3 * time.Hour)))

	got := InTimeRange([]Event{recent, old}, 1, now)
	if len(got) != 1 || got[0].ID != recent.ID {
		t.Errorf("InTimeRange = %+v", got)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	e := NewEvent(1000)
	e.Finish(5000)
	i := 4
	e.Intensity = &i

	c := e.Clone()
	*c.EndTime = 9000
	*c.Intensity = 9
	if *e.EndTime != 5000 || *e.Intensity != 4 {
		t.Error("clone shares pointers with original")
	}
}

func TestPatchApply(t *testing.T) {
	e := NewEvent(1000)
	e.Finish(61_000)

	start := Millis(11_000)
	p := EventPatch{StartTime: &start}
	p.Apply(&e)
	if *e.Duration != 50 {
		t.Errorf("duration after moving start = %d, want 50", *e.Duration)
	}

	zero := 0
	seven := 7
	(EventPatch{Intensity: &seven}).Apply(&e)
	if e.Intensity == nil || *e.Intensity != 7 {
		t.Fatalf("intensity = %v", e.Intensity)
	}
	(EventPatch{Intensity: &zero}).Apply(&e)
	if e.Intensity != nil {
		t.Error("intensity 0 should clear")
	}

	(EventPatch{ClearEnd: true}).Apply(&e)
	if e.EndTime != nil || e.Duration != nil {
		t.Error("ClearEnd should reopen event")
	}

	snap := e.Clone()
	snap.Notes = "restored"
	snap.Finish(31_000)
	PatchFrom(snap).Apply(&e)
	if !e.SameContent(snap) {
		t.Errorf("PatchFrom round trip mismatch: %+v vs %+v", e, snap)
	}
}
