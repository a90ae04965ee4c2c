// Package history keeps the linear undo/redo stack of user actions. Each
// entry holds full event snapshots so it can be inverted or re-applied
// without consulting current state.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/models"
)

// DefaultMaxEntries bounds the stack; the oldest entries are evicted first.
const DefaultMaxEntries = 50

// Store is the event and history persistence the manager needs.
type Store interface {
	Put(ctx context.Context, snapshot models.Event) (*models.Event, error)
	PutMany(ctx context.Context, snapshots []models.Event) ([]models.Event, error)
	Archive(ctx context.Context, id string) (*models.Event, error)
	ArchiveMany(ctx context.Context, ids []string) ([]models.Event, error)
	LoadHistory(ctx context.Context) ([]models.HistoryEntry, int, error)
	SaveHistory(ctx context.Context, entries []models.HistoryEntry, cursor int) error
}

// Propagator forwards a local change to the active backend.
type Propagator interface {
	Propagate(ctx context.Context, op models.OpType, e models.Event) error
	PropagateBatchArchive(ctx context.Context, events []models.Event) error
}

// Manager owns the entry sequence and its cursor. Entries at or before the
// cursor can be undone; entries after it can be redone.
type Manager struct {
	store  Store
	remote Propagator
	max    int

	busy atomic.Bool

	mu      sync.Mutex
	entries []models.HistoryEntry
	cursor  int
}

// New loads persisted history. remote may be nil; maxEntries <= 0 uses the default.
func New(ctx context.Context, store Store, remote Propagator, maxEntries int) (*Manager, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	entries, cursor, err := store.LoadHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	m := &Manager{store: store, remote: remote, max: maxEntries, entries: entries, cursor: cursor}
	// a smaller configured bound trims the oldest entries
	if over := len(m.entries) - maxEntries; over > 0 {
		m.entries = m.entries[over:]
		m.cursor = max(m.cursor-over, -1)
	}
	return m, nil
}

// SetPropagator attaches the backend forwarder after construction.
func (m *Manager) SetPropagator(p Propagator) {
	m.remote = p
}

// CanUndo reports whether an entry sits at or before the cursor
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor >= 0
}

// CanRedo reports whether an entry sits after the cursor
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor < len(m.entries)-1
}

// UndoDescription describes what Undo would do, or "" when nothing can be undone.
func (m *Manager) UndoDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor < 0 {
		return ""
	}
	return "Undo: " + m.entries[m.cursor].Description
}

// RedoDescription describes what Redo would do, or "".
func (m *Manager) RedoDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor >= len(m.entries)-1 {
		return ""
	}
	return "Redo: " + m.entries[m.cursor+1].Description
}

// Entries returns a copy of the sequence and the cursor.
func (m *Manager) Entries() ([]models.HistoryEntry, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.HistoryEntry, len(m.entries))
	for i, e := range m.entries {
		out[i] = cloneEntry(e)
	}
	return out, m.cursor
}

// Busy reports whether an undo, redo or tracked mutation is in flight.
func (m *Manager) Busy() bool {
	return m.busy.Load()
}

// Track runs fn under the busy guard and records the entry it returns. A nil
// entry records nothing. Overlapping calls fail with ErrBusy.
func (m *Manager) Track(ctx context.Context, fn func(ctx context.Context) (*models.HistoryEntry, error)) error {
	if !m.busy.CompareAndSwap(false, true) {
		return apperr.ErrBusy
	}
	defer m.busy.Store(false)

	entry, err := fn(ctx)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	return m.Record(ctx, *entry)
}

// Record appends entry after the cursor, discarding any redo entries, and
// evicts the oldest entry when the bound is exceeded.
func (m *Manager) Record(ctx context.Context, entry models.HistoryEntry) error {
	entry = cloneEntry(entry)
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = models.Now()
	}

	m.mu.Lock()
	m.entries = append(m.entries[:m.cursor+1], entry)
	m.cursor++
	if len(m.entries) > m.max {
		m.entries = m.entries[1:]
		m.cursor--
	}
	entries, cursor := m.entries, m.cursor
	m.mu.Unlock()

	slog.Debug("history: recorded", "action", entry.ActionType, "events", len(entry.EventIDs))
	return m.store.SaveHistory(ctx, entries, cursor)
}

// Undo applies the inverse of the entry at the cursor and moves the cursor
// back. It returns the entry that was undone.
func (m *Manager) Undo(ctx context.Context) (*models.HistoryEntry, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return nil, apperr.ErrBusy
	}
	defer m.busy.Store(false)

	m.mu.Lock()
	if m.cursor < 0 {
		m.mu.Unlock()
		return nil, apperr.ErrNothingToUndo
	}
	entry := cloneEntry(m.entries[m.cursor])
	m.mu.Unlock()

	if err := m.invert(ctx, entry); err != nil {
		return nil, fmt.Errorf("undo %s: %w", entry.ActionType, err)
	}

	m.mu.Lock()
	m.cursor--
	entries, cursor := m.entries, m.cursor
	m.mu.Unlock()
	if err := m.store.SaveHistory(ctx, entries, cursor); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Redo re-applies the entry after the cursor and advances it.
func (m *Manager) Redo(ctx context.Context) (*models.HistoryEntry, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return nil, apperr.ErrBusy
	}
	defer m.busy.Store(false)

	m.mu.Lock()
	if m.cursor >= len(m.entries)-1 {
		m.mu.Unlock()
		return nil, apperr.ErrNothingToRedo
	}
	entry := cloneEntry(m.entries[m.cursor+1])
	m.mu.Unlock()

	if err := m.reapply(ctx, entry); err != nil {
		return nil, fmt.Errorf("redo %s: %w", entry.ActionType, err)
	}

	m.mu.Lock()
	m.cursor++
	entries, cursor := m.entries, m.cursor
	m.mu.Unlock()
	if err := m.store.SaveHistory(ctx, entries, cursor); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Clear drops every entry.
func (m *Manager) Clear(ctx context.Context) error {
	if !m.busy.CompareAndSwap(false, true) {
		return apperr.ErrBusy
	}
	defer m.busy.Store(false)

	m.mu.Lock()
	m.entries = nil
	m.cursor = -1
	m.mu.Unlock()
	return m.store.SaveHistory(ctx, nil, -1)
}

func (m *Manager) invert(ctx context.Context, entry models.HistoryEntry) error {
	switch entry.ActionType {
	case models.ActionCreate:
		for _, id := range entry.EventIDs {
			e, err := m.store.Archive(ctx, id)
			if err != nil {
				return err
			}
			m.propagate(ctx, models.OpArchive, *e)
		}
		return nil

	case models.ActionDelete, models.ActionArchive, models.ActionArchiveAll, models.ActionUpdate:
		if len(entry.Before) == 0 {
			return fmt.Errorf("entry %s has no prior snapshot", entry.ID)
		}
		restored, err := m.store.PutMany(ctx, entry.Before)
		if err != nil {
			return err
		}
		for _, e := range restored {
			m.propagate(ctx, models.OpRestore, e)
		}
		return nil
	}
	return fmt.Errorf("unknown action %q", entry.ActionType)
}

func (m *Manager) reapply(ctx context.Context, entry models.HistoryEntry) error {
	switch entry.ActionType {
	case models.ActionCreate, models.ActionUpdate:
		if len(entry.After) == 0 {
			return fmt.Errorf("entry %s has no resulting snapshot", entry.ID)
		}
		applied, err := m.store.PutMany(ctx, entry.After)
		if err != nil {
			return err
		}
		for _, e := range applied {
			m.propagate(ctx, models.OpRestore, e)
		}
		return nil

	case models.ActionDelete, models.ActionArchive:
		op := models.OpArchive
		if entry.ActionType == models.ActionDelete {
			op = models.OpDelete
		}
		for _, id := range entry.EventIDs {
			e, err := m.store.Archive(ctx, id)
			if err != nil {
				return err
			}
			m.propagate(ctx, op, *e)
		}
		return nil

	case models.ActionArchiveAll:
		archived, err := m.store.ArchiveMany(ctx, entry.EventIDs)
		if err != nil {
			return err
		}
		if m.remote != nil {
			if err := m.remote.PropagateBatchArchive(ctx, archived); err != nil {
				slog.Warn("history: propagate batch archive", "events", len(archived), "err", err)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown action %q", entry.ActionType)
}

// propagate never fails the local action; the queue owns delivery.
func (m *Manager) propagate(ctx context.Context, op models.OpType, e models.Event) {
	if m.remote == nil {
		return
	}
	if err := m.remote.Propagate(ctx, op, e); err != nil {
		slog.Warn("history: propagate", "op", op, "event", e.ID, "err", err)
	}
}

func cloneEntry(e models.HistoryEntry) models.HistoryEntry {
	c := e
	c.EventIDs = append([]string(nil), e.EventIDs...)
	c.Before = models.CloneAll(e.Before)
	c.After = models.CloneAll(e.After)
	return c
}
