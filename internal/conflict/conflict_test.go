package conflict

import (
	"testing"

	"github.com/marcus/ct/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(id string, start, updated models.Millis, notes string) models.Event {
	e := models.Event{ID: id, StartTime: start, CreatedAt: start, UpdatedAt: updated, Notes: notes, SyncStatus: models.SyncPending}
	e.Finish(start + 60_000)
	return e
}

func ids(events []models.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		localAt    models.Millis
		remoteAt   models.Millis
		preferRem  bool
		wantWinner string
		wantStrat  Strategy
	}{
		{"remote newer", 100, 200, false, "remote", KeepRemote},
		{"local newer", 300, 200, false, "local", KeepLocal},
		{"tie keeps local", 200, 200, false, "local", KeepLocal},
		{"tie prefers remote", 200, 200, true, "remote", KeepRemote},
		{"local newer beats preference", 300, 200, true, "local", KeepLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := ev("x", 1000, tt.localAt, "local")
			r := ev("x", 1000, tt.remoteAt, "remote")
			res := Resolve(l, r, tt.preferRem)
			assert.Equal(t, tt.wantWinner, res.Winner.Notes)
			assert.Equal(t, tt.wantStrat, res.Strategy)
		})
	}
}

func TestMergeCollections(t *testing.T) {
	local := []models.Event{
		ev("a", 1000, 10, "local a"),
		ev("b", 2000, 50, "local b"),
	}
	remote := []models.Event{
		ev("b", 2000, 40, "remote b"),
		ev("c", 3000, 30, "remote c"),
	}

	merged := MergeCollections(local, remote, false)
	require.Len(t, merged, 3)
	assert.Equal(t, []string{"c", "b", "a"}, ids(merged))

	byID := map[string]models.Event{}
	for _, e := range merged {
		byID[e.ID] = e
	}
	assert.Equal(t, "local b", byID["b"].Notes, "newer local copy wins")
	assert.Equal(t, models.SyncSynced, byID["b"].SyncStatus)
	assert.Equal(t, models.SyncSynced, byID["c"].SyncStatus)
	assert.Equal(t, models.SyncPending, byID["a"].SyncStatus, "local-only keeps its status")
}

func TestMergeRemoteNewerWins(t *testing.T) {
	local := []models.Event{ev("a", 1000, 10, "old")}
	remote := []models.Event{ev("a", 1000, 20, "new")}
	merged := MergeCollections(local, remote, false)
	require.Len(t, merged, 1)
	assert.Equal(t, "new", merged[0].Notes)
}

func TestMergeIdempotent(t *testing.T) {
	local := []models.Event{ev("a", 1000, 10, "a"), ev("b", 2000, 50, "b")}
	remote := []models.Event{ev("b", 2000, 60, "b2"), ev("c", 3000, 30, "c")}

	once := MergeCollections(local, remote, false)
	twice := MergeCollections(once, remote, false)
	assert.Equal(t, once, twice)
}

func TestMergeAssociative(t *testing.T) {
	a := []models.Event{ev("x", 1000, 10, "a-x"), ev("y", 2000, 10, "a-y")}
	b := []models.Event{ev("x", 1000, 20, "b-x"), ev("z", 3000, 10, "b-z")}
	c := []models.Event{ev("y", 2000, 30, "c-y"), ev("z", 3000, 5, "c-z")}

	left := MergeCollections(MergeCollections(a, b, false), c, false)
	right := MergeCollections(a, MergeCollections(b, c, false), false)

	require.Equal(t, ids(left), ids(right))
	for i := range left {
		assert.True(t, left[i].SameContent(right[i]), "event %s differs", left[i].ID)
		assert.Equal(t, left[i].UpdatedAt, right[i].UpdatedAt)
	}
}

func TestMergeTieBreakOrder(t *testing.T) {
	merged := MergeCollections(
		[]models.Event{ev("b", 1000, 1, "")},
		[]models.Event{ev("a", 1000, 1, "")},
		false,
	)
	assert.Equal(t, []string{"a", "b"}, ids(merged))
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	local := []models.Event{ev("a", 1000, 10, "a")}
	merged := MergeCollections(local, nil, false)
	*merged[0].EndTime = 1
	assert.NotEqual(t, models.Millis(1), *local[0].EndTime)
}
