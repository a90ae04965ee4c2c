package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/models"
)

// fixedClock returns a clock that advances by one second per call.
func fixedClock(start models.Millis) func() models.Millis {
	t := start
	return func() models.Millis {
		t += 1000
		return t
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func finished(start, end models.Millis) models.Event {
	e := models.NewEvent(start)
	e.Finish(end)
	return e
}

func TestOpenCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	database, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer database.Close()

	if database.BaseDir() != dir {
		t.Errorf("BaseDir = %s, want %s", database.BaseDir(), dir)
	}
	if Path(dir) != filepath.Join(dir, ".ct", "events.db") {
		t.Errorf("Path = %s", Path(dir))
	}

	v, err := database.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion failed: %v", err)
	}
	if v != SchemaVersion {
		t.Errorf("schema version = %d, want %d", v, SchemaVersion)
	}

	ok, err := database.columnExists("outbound_queue", "last_error")
	if err != nil || !ok {
		t.Errorf("last_error column missing: %v", err)
	}

	// reopening is a no-op for migrations
	database.Close()
	again, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer again.Close()
	n, err := again.RunMigrations()
	if err != nil || n != 0 {
		t.Errorf("RunMigrations on current db = %d, %v", n, err)
	}
}

func TestCreateAndGet(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	now := models.Now()
	e := finished(now-120_000, now-58_000)
	intensity := 6
	e.Intensity = &intensity
	e.Notes = "strong"

	if err := database.Create(ctx, &e); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := database.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.SameContent(e) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, e)
	}
	if *got.Duration != 62 {
		t.Errorf("Duration = %d, want 62", *got.Duration)
	}
	if got.SyncStatus != models.SyncPending {
		t.Errorf("SyncStatus = %s, want pending", got.SyncStatus)
	}

	if err := database.Create(ctx, &e); !apperr.IsValidation(err) {
		t.Errorf("duplicate Create = %v, want validation error", err)
	}
}

func TestCreateValidation(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	now := models.Now()

	bad := func(i int) *int { return &i }
	tests := []struct {
		name string
		e    models.Event
	}{
		{"end before start", models.Event{StartTime: now - 1000, EndTime: (now - 5000).Ptr()}},
		{"intensity too high", models.Event{StartTime: now - 1000, Intensity: bad(11)}},
		{"intensity too low", models.Event{StartTime: now - 1000, Intensity: bad(0)}},
		{"future start", models.Event{StartTime: now + 3_600_000}},
		{"missing start", models.Event{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.e
			err := database.Create(ctx, &e)
			if !apperr.IsValidation(err) {
				t.Errorf("Create = %v, want validation error", err)
			}
		})
	}
}

func TestUpdateStampsAndValidates(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	database.SetClock(fixedClock(models.Now()))

	e := models.NewEvent(models.Now() - 300_000)
	e.CreatedAt, e.UpdatedAt = 0, 0
	if err := database.Create(ctx, &e); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	before := e.UpdatedAt

	end := e.StartTime + 45_000
	got, err := database.Update(ctx, e.ID, models.EventPatch{EndTime: &end})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.UpdatedAt <= before {
		t.Errorf("UpdatedAt not bumped: %d <= %d", got.UpdatedAt, before)
	}
	if got.Duration == nil || *got.Duration != 45 {
		t.Errorf("Duration = %v, want 45", got.Duration)
	}

	eleven := 11
	if _, err := database.Update(ctx, e.ID, models.EventPatch{Intensity: &eleven}); !apperr.IsValidation(err) {
		t.Errorf("invalid intensity update = %v, want validation error", err)
	}
	stored, _ := database.Get(ctx, e.ID)
	if stored.Intensity != nil {
		t.Error("rejected update must not be persisted")
	}

	if _, err := database.Update(ctx, "missing", models.EventPatch{}); !apperr.IsNotFound(err) {
		t.Errorf("Update unknown = %v, want not found", err)
	}
}

func TestArchiveAndListings(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	now := models.Now()

	var ids []string
	for i := 0; i < 3; i++ {
		e := finished(now-models.Millis(10-i)*60_000, now-models.Millis(10-i)*60_000+30_000)
		if err := database.Create(ctx, &e); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, e.ID)
	}

	if _, err := database.Archive(ctx, ids[0]); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if _, err := database.Archive(ctx, "nope"); !apperr.IsNotFound(err) {
		t.Errorf("Archive unknown = %v, want not found", err)
	}

	active, _ := database.ListActive(ctx)
	archived, _ := database.ListArchived(ctx)
	if len(active) != 2 || len(archived) != 1 {
		t.Fatalf("active=%d archived=%d, want 2/1", len(active), len(archived))
	}
	if active[0].StartTime < active[1].StartTime {
		t.Error("ListActive should be newest first")
	}

	// archived events remain retrievable
	got, err := database.Get(ctx, ids[0])
	if err != nil || !got.Archived {
		t.Errorf("Get archived = %+v, %v", got, err)
	}

	if _, err := database.ArchiveMany(ctx, []string{ids[1], "missing"}); !apperr.IsNotFound(err) {
		t.Errorf("ArchiveMany with unknown id = %v", err)
	}
	active, _ = database.ListActive(ctx)
	if len(active) != 2 {
		t.Errorf("failed batch must not archive anything, active=%d", len(active))
	}

	out, err := database.ArchiveMany(ctx, ids[1:])
	if err != nil || len(out) != 2 {
		t.Fatalf("ArchiveMany = %d, %v", len(out), err)
	}
	active, _ = database.ListActive(ctx)
	if len(active) != 0 {
		t.Errorf("active after archive-all = %d", len(active))
	}
}

func TestPutRestoresSnapshot(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	now := models.Now()

	e := finished(now-90_000, now-30_000)
	e.Notes = "original"
	if err := database.Create(ctx, &e); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	snapshot := e.Clone()

	notes := "edited"
	if _, err := database.Update(ctx, e.ID, models.EventPatch{Notes: &notes}); err != nil {
		t.Fatal(err)
	}
	edited, _ := database.Get(ctx, e.ID)

	restored, err := database.Put(ctx, snapshot)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !restored.SameContent(snapshot) {
		t.Errorf("restored content mismatch: %+v", restored)
	}
	if restored.UpdatedAt <= edited.UpdatedAt {
		t.Error("restore must carry a newer updatedAt than the state it replaces")
	}

	// Put creates missing events
	ghost := finished(now-50_000, now-20_000)
	if _, err := database.Put(ctx, ghost); err != nil {
		t.Fatalf("Put new failed: %v", err)
	}
	if _, err := database.Get(ctx, ghost.ID); err != nil {
		t.Errorf("Put should insert absent event: %v", err)
	}
}

func TestActiveEvent(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	got, err := database.ActiveEvent(ctx)
	if err != nil || got != nil {
		t.Fatalf("ActiveEvent on empty db = %+v, %v", got, err)
	}

	running := models.NewEvent(models.Now() - 10_000)
	if err := database.Create(ctx, &running); err != nil {
		t.Fatal(err)
	}
	got, err = database.ActiveEvent(ctx)
	if err != nil || got == nil || got.ID != running.ID {
		t.Errorf("ActiveEvent = %+v, %v", got, err)
	}
}

func TestMarkSyncedOnlyWhenUnchanged(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	now := models.Now()

	e := finished(now-90_000, now-30_000)
	if err := database.Create(ctx, &e); err != nil {
		t.Fatal(err)
	}
	pushed := e.UpdatedAt

	notes := "changed after push"
	if _, err := database.Update(ctx, e.ID, models.EventPatch{Notes: &notes}); err != nil {
		t.Fatal(err)
	}
	if err := database.MarkSynced(ctx, e.ID, pushed); err != nil {
		t.Fatal(err)
	}
	got, _ := database.Get(ctx, e.ID)
	if got.SyncStatus != models.SyncPending {
		t.Error("stale MarkSynced must not flag a newer local edit as synced")
	}

	if err := database.MarkSynced(ctx, e.ID, got.UpdatedAt); err != nil {
		t.Fatal(err)
	}
	got, _ = database.Get(ctx, e.ID)
	if got.SyncStatus != models.SyncSynced {
		t.Errorf("SyncStatus = %s, want synced", got.SyncStatus)
	}

	counts, err := database.CountBySyncStatus(ctx)
	if err != nil || counts[models.SyncSynced] != 1 {
		t.Errorf("CountBySyncStatus = %v, %v", counts, err)
	}
}

func TestApplyMergedSkipsStaleCopies(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	now := models.Now()

	e := finished(now-90_000, now-30_000)
	other := finished(now-200_000, now-150_000)
	for _, ev := range []*models.Event{&e, &other} {
		if err := database.Create(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	stale, _ := database.ListAll(ctx)

	notes := "edited mid-sync"
	edited, err := database.Update(ctx, e.ID, models.EventPatch{Notes: &notes})
	if err != nil {
		t.Fatal(err)
	}

	for i := range stale {
		stale[i].SyncStatus = models.SyncSynced
	}
	if err := database.ApplyMerged(ctx, stale); err != nil {
		t.Fatalf("ApplyMerged failed: %v", err)
	}

	got, _ := database.Get(ctx, e.ID)
	if got.Notes != notes || got.UpdatedAt != edited.UpdatedAt {
		t.Errorf("newer local row was overwritten: notes=%q updatedAt=%d", got.Notes, got.UpdatedAt)
	}
	if got.SyncStatus != models.SyncPending {
		t.Errorf("SyncStatus = %s, want pending", got.SyncStatus)
	}
	got, _ = database.Get(ctx, other.ID)
	if got.SyncStatus != models.SyncSynced {
		t.Errorf("unchanged row should take the merged copy, got %s", got.SyncStatus)
	}
}

func TestReplaceFromRemote(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	now := models.Now()

	syncedGone := finished(now-500_000, now-450_000)
	unsent := finished(now-400_000, now-350_000)
	shared := finished(now-300_000, now-250_000)
	for _, e := range []*models.Event{&syncedGone, &unsent, &shared} {
		if err := database.Create(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	database.MarkSynced(ctx, syncedGone.ID, syncedGone.UpdatedAt)
	database.MarkSynced(ctx, shared.ID, shared.UpdatedAt)

	remoteShared := shared.Clone()
	remoteShared.Notes = "from other device"
	remoteShared.UpdatedAt = shared.UpdatedAt + 5000
	remoteOnly := finished(now-200_000, now-150_000)

	if err := database.ReplaceFromRemote(ctx, []models.Event{remoteShared, remoteOnly}); err != nil {
		t.Fatalf("ReplaceFromRemote failed: %v", err)
	}

	all, _ := database.ListAll(ctx)
	byID := map[string]models.Event{}
	for _, e := range all {
		byID[e.ID] = e
	}
	if _, ok := byID[syncedGone.ID]; ok {
		t.Error("synced event absent remotely should be dropped")
	}
	if _, ok := byID[unsent.ID]; !ok {
		t.Error("never-synced local event must be kept")
	}
	if byID[shared.ID].Notes != "from other device" {
		t.Errorf("shared event not replaced: %+v", byID[shared.ID])
	}
	if byID[remoteOnly.ID].SyncStatus != models.SyncSynced {
		t.Error("remote events should be stored as synced")
	}
}

func TestErrorsAreTyped(t *testing.T) {
	database := openTestDB(t)
	_, err := database.Get(context.Background(), "absent")
	var nf *apperr.NotFoundError
	if !errors.As(err, &nf) || nf.ID != "absent" {
		t.Errorf("Get absent = %v", err)
	}
}
