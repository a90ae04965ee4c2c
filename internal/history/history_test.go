package history

import (
	"context"
	"sync"
	"testing"

	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/db"
	"github.com/marcus/ct/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type propagated struct {
	op models.OpType
	id string
}

type recorder struct {
	mu    sync.Mutex
	calls []propagated
	batch [][]string
}

func (r *recorder) Propagate(_ context.Context, op models.OpType, e models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, propagated{op, e.ID})
	return nil
}

func (r *recorder) PropagateBatchArchive(_ context.Context, events []models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	r.batch = append(r.batch, ids)
	return nil
}

func setup(t *testing.T, size int) (*Manager, *db.DB, *recorder) {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	rec := &recorder{}
	m, err := New(context.Background(), database, rec, size)
	require.NoError(t, err)
	return m, database, rec
}

func seed(t *testing.T, database *db.DB, n int) []models.Event {
	t.Helper()
	base := models.Now() - models.Millis(n)*600_000
	var out []models.Event
	for i := 0; i < n; i++ {
		e := models.NewEvent(base + models.Millis(i)*600_000)
		e.Finish(e.StartTime + 60_000)
		require.NoError(t, database.Create(context.Background(), &e))
		out = append(out, e)
	}
	return out
}

func entry(action models.ActionType, desc string) models.HistoryEntry {
	return models.HistoryEntry{ActionType: action, Description: desc}
}

func TestCursorStateMachine(t *testing.T) {
	m, _, _ := setup(t, 0)
	ctx := context.Background()

	assert.False(t, m.CanUndo())
	assert.False(t, m.CanRedo())
	_, err := m.Undo(ctx)
	assert.ErrorIs(t, err, apperr.ErrNothingToUndo)
	_, err = m.Redo(ctx)
	assert.ErrorIs(t, err, apperr.ErrNothingToRedo)

	require.NoError(t, m.Record(ctx, entry(models.ActionCreate, "one")))
	assert.True(t, m.CanUndo())
	assert.False(t, m.CanRedo())
	assert.Equal(t, "Undo: one", m.UndoDescription())
	assert.Empty(t, m.RedoDescription())
}

func TestRecordAfterUndoTruncatesRedo(t *testing.T) {
	m, database, _ := setup(t, 0)
	ctx := context.Background()
	events := seed(t, database, 2)

	for _, e := range events {
		require.NoError(t, m.Record(ctx, models.HistoryEntry{
			ActionType: models.ActionCreate, EventIDs: []string{e.ID}, After: []models.Event{e}, Description: "create",
		}))
	}
	_, err := m.Undo(ctx)
	require.NoError(t, err)
	_, err = m.Undo(ctx)
	require.NoError(t, err)
	assert.True(t, m.CanRedo())

	require.NoError(t, m.Record(ctx, entry(models.ActionCreate, "fresh")))
	assert.False(t, m.CanRedo(), "a new entry discards the redo stack")

	entries, cursor := m.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 0, cursor)
	assert.Equal(t, "fresh", entries[0].Description)
}

func TestEvictionMovesCursor(t *testing.T) {
	m, _, _ := setup(t, 3)
	ctx := context.Background()

	for _, d := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, m.Record(ctx, entry(models.ActionCreate, d)))
	}
	entries, cursor := m.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, 2, cursor)
	assert.Equal(t, "c", entries[0].Description)
	assert.Equal(t, "Undo: e", m.UndoDescription())
}

func TestUndoRedoCreate(t *testing.T) {
	m, database, rec := setup(t, 0)
	ctx := context.Background()
	e := seed(t, database, 1)[0]

	require.NoError(t, m.Record(ctx, models.HistoryEntry{
		ActionType: models.ActionCreate, EventIDs: []string{e.ID}, After: []models.Event{e}, Description: "Add contraction",
	}))

	undone, err := m.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCreate, undone.ActionType)
	active, _ := database.ListActive(ctx)
	assert.Empty(t, active)

	_, err = m.Redo(ctx)
	require.NoError(t, err)
	active, _ = database.ListActive(ctx)
	require.Len(t, active, 1)
	assert.True(t, active[0].SameContent(e))

	assert.Equal(t, []propagated{{models.OpArchive, e.ID}, {models.OpRestore, e.ID}}, rec.calls)
}

func TestUndoRedoArchiveAll(t *testing.T) {
	m, database, rec := setup(t, 0)
	ctx := context.Background()
	events := seed(t, database, 3)

	ids := []string{events[0].ID, events[1].ID, events[2].ID}
	before, err := database.ListByIDs(ctx, ids)
	require.NoError(t, err)
	err = m.Track(ctx, func(ctx context.Context) (*models.HistoryEntry, error) {
		if _, err := database.ArchiveMany(ctx, ids); err != nil {
			return nil, err
		}
		return &models.HistoryEntry{ActionType: models.ActionArchiveAll, EventIDs: ids, Before: before, Description: "Archive all"}, nil
	})
	require.NoError(t, err)
	active, _ := database.ListActive(ctx)
	assert.Empty(t, active)

	entries, _ := m.Entries()
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Before, 3)

	_, err = m.Undo(ctx)
	require.NoError(t, err)
	active, _ = database.ListActive(ctx)
	require.Len(t, active, 3)
	for _, e := range active {
		assert.False(t, e.Archived)
	}

	_, err = m.Redo(ctx)
	require.NoError(t, err)
	active, _ = database.ListActive(ctx)
	assert.Empty(t, active)
	require.Len(t, rec.batch, 1)
	assert.ElementsMatch(t, ids, rec.batch[0])
}

func TestUndoUpdateRestoresPriorSnapshot(t *testing.T) {
	m, database, _ := setup(t, 0)
	ctx := context.Background()
	e := seed(t, database, 1)[0]

	notes := "edited"
	updated, err := database.Update(ctx, e.ID, models.EventPatch{Notes: &notes})
	require.NoError(t, err)
	require.NoError(t, m.Record(ctx, models.HistoryEntry{
		ActionType: models.ActionUpdate, EventIDs: []string{e.ID},
		Before: []models.Event{e}, After: []models.Event{*updated}, Description: "Edit",
	}))

	_, err = m.Undo(ctx)
	require.NoError(t, err)
	got, err := database.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.SameContent(e))
	assert.Greater(t, got.UpdatedAt, updated.UpdatedAt, "restores win against older copies")

	_, err = m.Redo(ctx)
	require.NoError(t, err)
	got, _ = database.Get(ctx, e.ID)
	assert.Equal(t, "edited", got.Notes)
}

func TestOverlappingCallsAreRejected(t *testing.T) {
	m, database, _ := setup(t, 0)
	ctx := context.Background()
	e := seed(t, database, 1)[0]
	require.NoError(t, m.Record(ctx, models.HistoryEntry{
		ActionType: models.ActionCreate, EventIDs: []string{e.ID}, After: []models.Event{e}, Description: "create",
	}))

	err := m.Track(ctx, func(ctx context.Context) (*models.HistoryEntry, error) {
		assert.True(t, m.Busy())
		_, err := m.Undo(ctx)
		assert.ErrorIs(t, err, apperr.ErrBusy)
		_, err = m.Redo(ctx)
		assert.ErrorIs(t, err, apperr.ErrBusy)
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, m.Busy())
	assert.True(t, m.CanUndo(), "the rejected undo changed nothing")
}

func TestHistoryPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	database, err := db.Open(dir)
	require.NoError(t, err)
	m, err := New(ctx, database, nil, 0)
	require.NoError(t, err)
	require.NoError(t, m.Record(ctx, entry(models.ActionCreate, "a")))
	require.NoError(t, m.Record(ctx, entry(models.ActionCreate, "b")))
	require.NoError(t, database.Close())

	database, err = db.Open(dir)
	require.NoError(t, err)
	defer database.Close()
	m, err = New(ctx, database, nil, 0)
	require.NoError(t, err)
	entries, cursor := m.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 1, cursor)
	assert.Equal(t, "Undo: b", m.UndoDescription())

	require.NoError(t, m.Clear(ctx))
	assert.False(t, m.CanUndo())
}
