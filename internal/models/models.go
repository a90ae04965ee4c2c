// Package models defines the contraction event, the undo history entry and the
// outbound sync operation shared by the store, queue and sync layers.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Millis is a wall-clock instant in milliseconds since the Unix epoch.
type Millis int64

// Now returns the current time in milliseconds
func Now() Millis {
	return FromTime(time.Now())
}

// FromTime converts a time.Time to Millis
func FromTime(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// Time converts back to a time.Time in the local zone
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m))
}

// Ptr returns a pointer to a copy of m
func (m Millis) Ptr() *Millis {
	return &m
}

// SyncStatus is local bookkeeping only; it never participates in merges.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncConflict SyncStatus = "conflict"
)

// Intensity bounds
const (
	MinIntensity = 1
	MaxIntensity = 10
)

// Event is a single timed contraction.
type Event struct {
	ID         string     `json:"id" yaml:"id"`
	StartTime  Millis     `json:"startTime" yaml:"startTime"`
	EndTime    *Millis    `json:"endTime" yaml:"endTime"`
	Duration   *int64     `json:"duration" yaml:"duration"`
	Intensity  *int       `json:"intensity,omitempty" yaml:"intensity,omitempty"`
	Notes      string     `json:"notes,omitempty" yaml:"notes,omitempty"`
	CreatedAt  Millis     `json:"createdAt" yaml:"createdAt"`
	UpdatedAt  Millis     `json:"updatedAt" yaml:"updatedAt"`
	Archived   bool       `json:"archived" yaml:"archived"`
	SyncStatus SyncStatus `json:"syncStatus,omitempty" yaml:"-"`
}

// NewEvent returns an active event starting at start with a fresh id.
func NewEvent(start Millis) Event {
	now := Now()
	return Event{
		ID:         uuid.NewString(),
		StartTime:  start,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: SyncPending,
	}
}

// IsActive reports whether the event is still running
func (e Event) IsActive() bool {
	return e.EndTime == nil
}

// Finish sets the end time and derives the duration.
func (e *Event) Finish(end Millis) {
	e.EndTime = end.Ptr()
	d := Duration(e.StartTime, end)
	e.Duration = &d
}

// Reopen clears the end time and duration together.
func (e *Event) Reopen() {
	e.EndTime = nil
	e.Duration = nil
}

// Clone returns a deep copy so snapshots never alias live state.
func (e Event) Clone() Event {
	c := e
	if e.EndTime != nil {
		v := *e.EndTime
		c.EndTime = &v
	}
	if e.Duration != nil {
		v := *e.Duration
		c.Duration = &v
	}
	if e.Intensity != nil {
		v := *e.Intensity
		c.Intensity = &v
	}
	return c
}

// CloneAll deep-copies a slice of events
func CloneAll(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}

// SameContent compares the user-visible fields, ignoring timestamps that every
// mutation bumps and the local sync bookkeeping.
func (e Event) SameContent(o Event) bool {
	if e.ID != o.ID || e.StartTime != o.StartTime || e.Notes != o.Notes || e.Archived != o.Archived {
		return false
	}
	if !eqPtr(e.EndTime, o.EndTime) || !eqPtr(e.Duration, o.Duration) || !eqPtr(e.Intensity, o.Intensity) {
		return false
	}
	return true
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// EventPatch is a partial update. Nil fields are left untouched.
type EventPatch struct {
	StartTime *Millis `json:"startTime,omitempty"`
	EndTime   *Millis `json:"endTime,omitempty"`
	ClearEnd  bool    `json:"clearEnd,omitempty"`
	Intensity *int    `json:"intensity,omitempty"` // 0 clears
	Notes     *string `json:"notes,omitempty"`
	Archived  *bool   `json:"archived,omitempty"`

	// UpdatedAt is carried to remotes; the local store stamps its own.
	UpdatedAt Millis `json:"updatedAt,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p EventPatch) IsEmpty() bool {
	return p.StartTime == nil && p.EndTime == nil && !p.ClearEnd &&
		p.Intensity == nil && p.Notes == nil && p.Archived == nil
}

// Apply mutates e in place and re-derives the duration.
func (p EventPatch) Apply(e *Event) {
	if p.StartTime != nil {
		e.StartTime = *p.StartTime
	}
	if p.ClearEnd {
		e.Reopen()
	}
	if p.EndTime != nil {
		e.Finish(*p.EndTime)
	} else if e.EndTime != nil {
		e.Finish(*e.EndTime)
	}
	if p.Intensity != nil {
		if *p.Intensity == 0 {
			e.Intensity = nil
		} else {
			v := *p.Intensity
			e.Intensity = &v
		}
	}
	if p.Notes != nil {
		e.Notes = *p.Notes
	}
	if p.Archived != nil {
		e.Archived = *p.Archived
	}
}

// PatchFrom builds a patch that overwrites every mutable field with e's values.
func PatchFrom(e Event) EventPatch {
	start := e.StartTime
	notes := e.Notes
	archived := e.Archived
	p := EventPatch{
		StartTime: &start,
		Notes:     &notes,
		Archived:  &archived,
		UpdatedAt: e.UpdatedAt,
	}
	if e.EndTime != nil {
		p.EndTime = e.EndTime.Ptr()
	} else {
		p.ClearEnd = true
	}
	zero := 0
	p.Intensity = &zero
	if e.Intensity != nil {
		v := *e.Intensity
		p.Intensity = &v
	}
	return p
}

// ActionType identifies an undoable user action
type ActionType string

const (
	ActionCreate     ActionType = "create"
	ActionDelete     ActionType = "delete"
	ActionArchive    ActionType = "archive"
	ActionArchiveAll ActionType = "archive_all"
	ActionUpdate     ActionType = "update"
)

// HistoryEntry records the state needed to invert and re-apply one action.
type HistoryEntry struct {
	ID          string     `json:"id"`
	ActionType  ActionType `json:"actionType"`
	Timestamp   Millis     `json:"timestamp"`
	EventIDs    []string   `json:"eventIds"`
	Before      []Event    `json:"before"`
	After       []Event    `json:"after,omitempty"`
	Description string     `json:"description"`
}

// OpType is the kind of remote mutation an outbound operation carries
type OpType string

const (
	OpCreate  OpType = "create"
	OpUpdate  OpType = "update"
	OpDelete  OpType = "delete"
	OpArchive OpType = "archive"
	OpRestore OpType = "restore"
)

// OpStatus is the lifecycle state of an outbound operation
type OpStatus string

const (
	OpPending    OpStatus = "pending"
	OpProcessing OpStatus = "processing"
	OpFailed     OpStatus = "failed"
	OpCompleted  OpStatus = "completed"
)

// SyncOperation is one durable outbound change.
type SyncOperation struct {
	ID            string   `json:"id"`
	Seq           int64    `json:"seq"`
	Type          OpType   `json:"type"`
	EventID       string   `json:"eventId"`
	Payload       Event    `json:"payload"`
	Timestamp     Millis   `json:"timestamp"`
	RetryCount    int      `json:"retryCount"`
	Status        OpStatus `json:"status"`
	NextAttemptAt Millis   `json:"nextAttemptAt,omitempty"`
	LastError     string   `json:"lastError,omitempty"`
}
