package remote_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/models"
	"github.com/marcus/ct/internal/remote"
	"github.com/marcus/ct/internal/remote/remotetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finished(start models.Millis, seconds int64, intensity int) models.Event {
	e := models.Event{
		ID:        "evt-" + time.UnixMilli(int64(start)).Format("150405.000"),
		StartTime: start,
		CreatedAt: start,
		UpdatedAt: start,
	}
	e.Finish(start + models.Millis(seconds*1000))
	e.Intensity = &intensity
	return e
}

func newSheets(t *testing.T) (*remote.Sheets, *remotetest.SheetsServer) {
	t.Helper()
	srv := remotetest.NewSheetsServer(t)
	return remote.NewSheets(remote.SheetsConfig{URL: srv.URL}, 5*time.Second, nil), srv
}

func TestEncodeRow(t *testing.T) {
	e := finished(1_700_000_000_000, 62, 7)
	e.Notes = "strong"
	row := remote.EncodeRow(e)
	require.Len(t, row, len(remote.SheetHeaders))
	assert.Equal(t, []string{e.ID, "1700000000000", "1700000062000", "62", "7", "strong", "1700000000000", "1700000000000", ""}, row)

	active := models.Event{ID: "a", StartTime: 5, CreatedAt: 5, UpdatedAt: 6}
	assert.Equal(t, []string{"a", "5", "", "", "", "", "5", "6", ""}, remote.EncodeRow(active))
}

func TestSheetsCreateAndPull(t *testing.T) {
	s, _ := newSheets(t)
	ctx := context.Background()

	a := finished(1_700_000_000_000, 62, 6)
	b := finished(1_700_000_300_000, 55, 8)
	require.NoError(t, s.PushCreate(ctx, a))
	require.NoError(t, s.PushCreate(ctx, b))

	got, err := s.PullAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].ID, "newest first")
	assert.True(t, got[1].SameContent(a))
	assert.Equal(t, a.UpdatedAt, got[1].UpdatedAt)
	assert.Equal(t, models.SyncSynced, got[1].SyncStatus)
}

func TestSheetsCreateIsIdempotent(t *testing.T) {
	s, srv := newSheets(t)
	ctx := context.Background()

	e := finished(1_700_000_000_000, 60, 5)
	require.NoError(t, s.PushCreate(ctx, e))
	e.Notes = "replayed"
	e.UpdatedAt++
	require.NoError(t, s.PushCreate(ctx, e))

	rows := srv.Rows("Contractions")
	require.Len(t, rows, 1, "a replayed create overwrites the row")
	assert.Equal(t, "replayed", rows[0][5])
}

func TestSheetsUpdate(t *testing.T) {
	s, srv := newSheets(t)
	ctx := context.Background()

	e := finished(1_700_000_000_000, 60, 5)
	require.NoError(t, s.PushCreate(ctx, e))

	notes := "after"
	intensity := 9
	require.NoError(t, s.PushUpdate(ctx, e.ID, models.EventPatch{Notes: &notes, Intensity: &intensity, UpdatedAt: e.UpdatedAt + 10}))

	rows := srv.Rows("Contractions")
	require.Len(t, rows, 1)
	assert.Equal(t, "9", rows[0][4])
	assert.Equal(t, "after", rows[0][5])
	assert.Equal(t, "1700000000010", rows[0][7])

	err := s.PushUpdate(ctx, "missing", models.EventPatch{Notes: &notes})
	assert.True(t, apperr.IsNotFound(err))
}

func TestSheetsArchive(t *testing.T) {
	s, srv := newSheets(t)
	ctx := context.Background()

	a := finished(1_700_000_000_000, 60, 5)
	b := finished(1_700_000_400_000, 70, 6)
	c := finished(1_700_000_800_000, 80, 7)
	for _, e := range []models.Event{a, b, c} {
		require.NoError(t, s.PushCreate(ctx, e))
	}

	require.NoError(t, s.PushArchive(ctx, a.ID, a.UpdatedAt+100))
	// row positions shifted; the next archive must not hit the wrong row
	require.NoError(t, s.PushArchive(ctx, c.ID, 0))
	require.NoError(t, s.PushArchive(ctx, "missing", 0), "archiving an absent row is a no-op")

	mainRows := srv.Rows("Contractions")
	require.Len(t, mainRows, 1)
	assert.Equal(t, b.ID, mainRows[0][0])
	assert.Len(t, srv.Rows("Archived Contractions"), 2)

	active, err := s.PullAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 1)

	all, err := s.PullAll(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, e := range all {
		if e.ID == b.ID {
			assert.False(t, e.Archived)
			continue
		}
		assert.True(t, e.Archived)
		if e.ID == a.ID {
			assert.Equal(t, a.UpdatedAt+100, e.UpdatedAt, "archive carries the local stamp")
			continue
		}
		assert.Greater(t, e.UpdatedAt, e.CreatedAt, "archive without a stamp uses now")
	}
}

func TestSheetsBatchArchive(t *testing.T) {
	s, srv := newSheets(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		e := finished(models.Millis(1_700_000_000_000+i*400_000), 60, 5)
		require.NoError(t, s.PushCreate(ctx, e))
		ids = append(ids, e.ID)
	}
	require.NoError(t, s.PushBatchArchive(ctx, ids, 1_700_000_900_000))

	assert.Empty(t, srv.Rows("Contractions"))
	assert.Len(t, srv.Rows("Archived Contractions"), 3)
	assert.Contains(t, srv.Actions(), "archiveAll")
}

func TestSheetsDeleteUsesSentinel(t *testing.T) {
	s, srv := newSheets(t)
	ctx := context.Background()

	e := finished(1_700_000_000_000, 60, 5)
	require.NoError(t, s.PushCreate(ctx, e))
	require.NoError(t, s.PushDelete(ctx, e.ID))

	rows := srv.Rows("Contractions")
	require.Len(t, rows, 1)
	assert.Equal(t, remote.DeletedMarker, rows[0][8])

	got, err := s.PullAll(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSheetsSkipsMalformedRows(t *testing.T) {
	s, srv := newSheets(t)
	ctx := context.Background()

	require.NoError(t, srv.AppendRow("Contractions", []string{"", "1700000000000"}))
	require.NoError(t, srv.AppendRow("Contractions", []string{"no-start", ""}))
	require.NoError(t, srv.AppendRow("Contractions", []string{"bare", "1700000000000"}))

	got, err := s.PullAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bare", got[0].ID)
	assert.Equal(t, got[0].StartTime, got[0].CreatedAt, "missing timestamps default to the start")
	assert.Equal(t, got[0].StartTime, got[0].UpdatedAt)
	assert.True(t, got[0].IsActive())
}

func TestSheetsErrorKinds(t *testing.T) {
	s, srv := newSheets(t)
	ctx := context.Background()

	srv.FailNext(1, http.StatusBadGateway)
	err := s.TestConnection(ctx)
	assert.True(t, apperr.IsUnreachable(err), "5xx is retryable: %v", err)

	srv.FailNext(1, http.StatusForbidden)
	err = s.TestConnection(ctx)
	assert.True(t, apperr.IsRejected(err), "4xx is a rejection: %v", err)

	require.NoError(t, s.TestConnection(ctx))
	require.NoError(t, s.Initialize(ctx))

	down := remote.NewSheets(remote.SheetsConfig{URL: "http://127.0.0.1:1"}, time.Second, nil)
	assert.True(t, apperr.IsUnreachable(down.TestConnection(ctx)))
}

func TestSheetsBatchUpsert(t *testing.T) {
	s, srv := newSheets(t)
	ctx := context.Background()

	a := finished(1_700_000_000_000, 60, 5)
	require.NoError(t, s.PushCreate(ctx, a))

	a.Notes = "updated"
	b := finished(1_700_000_400_000, 70, 6)
	c := finished(1_700_000_800_000, 80, 7)
	c.Archived = true
	require.NoError(t, s.PushBatchUpsert(ctx, []models.Event{a, b, c}))

	mainRows := srv.Rows("Contractions")
	require.Len(t, mainRows, 2)
	assert.Equal(t, "updated", mainRows[0][5])
	assert.Len(t, srv.Rows("Archived Contractions"), 1)
}

func TestNewSelectsVariant(t *testing.T) {
	a, err := remote.New(remote.Config{})
	require.NoError(t, err)
	assert.Equal(t, remote.KindPassive, a.Kind())
	assert.ErrorIs(t, a.TestConnection(context.Background()), apperr.ErrBackendUnconfigured)

	_, err = remote.New(remote.Config{Kind: remote.KindPolling})
	assert.ErrorIs(t, err, apperr.ErrBackendUnconfigured)

	_, err = remote.New(remote.Config{Kind: remote.KindRealtime, Realtime: remote.RealtimeConfig{URL: "ws://x"}})
	assert.ErrorIs(t, err, apperr.ErrBackendUnconfigured)

	a, err = remote.New(remote.Config{Kind: remote.KindPolling, Sheets: remote.SheetsConfig{URL: "http://x"}})
	require.NoError(t, err)
	assert.Equal(t, remote.KindPolling, a.Kind())

	k, err := remote.ParseKind("firestore")
	require.NoError(t, err)
	assert.Equal(t, remote.KindRealtime, k)
	_, err = remote.ParseKind("carrier-pigeon")
	assert.Error(t, err)
}
