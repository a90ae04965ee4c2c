package monitor

import (
	"context"
	"time"

	"github.com/marcus/ct/internal/models"
	"github.com/marcus/ct/internal/tracker"
)

// recentLimit caps the list panel
const recentLimit = 20

// FetchData retrieves all data needed for the watch display
func FetchData(ctx context.Context, svc *tracker.Service) RefreshDataMsg {
	msg := RefreshDataMsg{Timestamp: time.Now()}

	active, err := svc.Active(ctx)
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Active = active

	events, err := svc.List(ctx, false)
	if err != nil {
		msg.Err = err
		return msg
	}
	if len(events) > recentLimit {
		events = events[:recentLimit]
	}
	msg.Events = events

	if msg.Stats, err = svc.Stats(ctx, 0); err != nil {
		msg.Err = err
		return msg
	}
	msg.Labor, _ = svc.LaborPattern(ctx)
	return msg
}

// intervalBefore returns the gap between events[i] and the next older
// completed event, in seconds.
func intervalBefore(events []models.Event, i int) int64 {
	for j := i + 1; j < len(events); j++ {
		if events[j].EndTime != nil {
			return models.Interval(events[j], events[i])
		}
	}
	return 0
}

// elapsed is the running time of e at now, in seconds.
func elapsed(e *models.Event, now time.Time) int64 {
	if e == nil {
		return 0
	}
	return models.Duration(e.StartTime, models.FromTime(now))
}
