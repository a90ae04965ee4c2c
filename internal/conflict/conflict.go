// Package conflict reconciles local and remote copies of events by
// last-write-wins on updatedAt.
package conflict

import (
	"github.com/marcus/ct/internal/models"
)

// Strategy names which side won a resolution
type Strategy string

const (
	KeepLocal  Strategy = "local"
	KeepRemote Strategy = "remote"
)

// Resolution is the outcome of comparing two copies of one event.
type Resolution struct {
	Winner   models.Event
	Strategy Strategy
}

// Resolve picks the copy with the greater updatedAt. Ties go to local unless
// preferRemoteOnTie is set.
func Resolve(local, remote models.Event, preferRemoteOnTie bool) Resolution {
	switch {
	case remote.UpdatedAt > local.UpdatedAt:
		return Resolution{Winner: remote, Strategy: KeepRemote}
	case local.UpdatedAt > remote.UpdatedAt:
		return Resolution{Winner: local, Strategy: KeepLocal}
	case preferRemoteOnTie:
		return Resolution{Winner: remote, Strategy: KeepRemote}
	default:
		return Resolution{Winner: local, Strategy: KeepLocal}
	}
}

// MergeCollections unions local and remote by id. Remote-only events and the
// winners of collisions are tagged synced; local-only events keep their
// status. The result is ordered by startTime descending, id ascending.
//
// The merge is pure: merging a result with the same remote again yields the
// same set, and merge order does not change the outcome.
func MergeCollections(local, remote []models.Event, preferRemoteOnTie bool) []models.Event {
	merged := make(map[string]models.Event, len(local)+len(remote))
	for _, e := range local {
		merged[e.ID] = e.Clone()
	}

	for _, r := range remote {
		l, ok := merged[r.ID]
		if !ok {
			w := r.Clone()
			w.SyncStatus = models.SyncSynced
			merged[r.ID] = w
			continue
		}
		w := Resolve(l, r, preferRemoteOnTie).Winner.Clone()
		w.SyncStatus = models.SyncSynced
		merged[r.ID] = w
	}

	out := make([]models.Event, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	models.SortByStartDesc(out)
	return out
}
