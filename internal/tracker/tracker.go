// Package tracker is the application layer over the event store: every
// user-facing mutation goes through here so it is recorded for undo and
// propagated to the configured backend.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/db"
	"github.com/marcus/ct/internal/history"
	"github.com/marcus/ct/internal/models"
)

// Service wraps the store, history and propagation for one data directory.
type Service struct {
	db      *db.DB
	history *history.Manager
	remote  history.Propagator

	mu        sync.Mutex
	listeners []func()
}

// New builds a service. remote may be nil when no backend is configured.
func New(database *db.DB, h *history.Manager, remote history.Propagator) *Service {
	return &Service{db: database, history: h, remote: remote}
}

// History exposes the undo/redo manager
func (s *Service) History() *history.Manager {
	return s.history
}

// OnChange registers fn to run after every successful local mutation.
func (s *Service) OnChange(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Service) changed() {
	s.mu.Lock()
	fns := slices.Clone(s.listeners)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// propagate never fails the mutation; the local write already happened.
func (s *Service) propagate(ctx context.Context, op models.OpType, e models.Event) {
	if s.remote == nil {
		return
	}
	if err := s.remote.Propagate(ctx, op, e); err != nil {
		slog.Warn("tracker: propagate change", "op", op, "id", e.ID, "err", err)
	}
}

func (s *Service) mutate(ctx context.Context, fn func(ctx context.Context) (*models.HistoryEntry, error)) error {
	if err := s.history.Track(ctx, fn); err != nil {
		return err
	}
	s.changed()
	return nil
}

// Active returns the running event, or nil
func (s *Service) Active(ctx context.Context) (*models.Event, error) {
	return s.db.ActiveEvent(ctx)
}

// Start opens a new event at the current time. Only one event may run.
func (s *Service) Start(ctx context.Context) (*models.Event, error) {
	var out models.Event
	err := s.mutate(ctx, func(ctx context.Context) (*models.HistoryEntry, error) {
		active, err := s.db.ActiveEvent(ctx)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, apperr.ErrAlreadyActive
		}
		e := models.NewEvent(models.Now())
		if err := s.db.Create(ctx, &e); err != nil {
			return nil, err
		}
		out = e
		s.propagate(ctx, models.OpCreate, e)
		return &models.HistoryEntry{
			ActionType:  models.ActionCreate,
			EventIDs:    []string{e.ID},
			After:       []models.Event{e},
			Description: "Start contraction",
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Stop closes the running event. intensity nil leaves it unrated.
func (s *Service) Stop(ctx context.Context, intensity *int, notes string) (*models.Event, error) {
	var out models.Event
	err := s.mutate(ctx, func(ctx context.Context) (*models.HistoryEntry, error) {
		active, err := s.db.ActiveEvent(ctx)
		if err != nil {
			return nil, err
		}
		if active == nil {
			return nil, apperr.ErrNoActive
		}
		end := models.Now()
		patch := models.EventPatch{EndTime: &end, Intensity: intensity}
		if notes != "" {
			patch.Notes = &notes
		}
		updated, err := s.db.Update(ctx, active.ID, patch)
		if err != nil {
			return nil, err
		}
		out = *updated
		s.propagate(ctx, models.OpUpdate, out)
		return &models.HistoryEntry{
			ActionType:  models.ActionUpdate,
			EventIDs:    []string{out.ID},
			Before:      []models.Event{*active},
			After:       []models.Event{out},
			Description: "Stop contraction",
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddManual records a completed event after the fact.
func (s *Service) AddManual(ctx context.Context, start, end models.Millis, intensity *int, notes string) (*models.Event, error) {
	var out models.Event
	err := s.mutate(ctx, func(ctx context.Context) (*models.HistoryEntry, error) {
		e := models.NewEvent(start)
		e.Finish(end)
		e.Intensity = intensity
		e.Notes = notes
		if err := s.db.Create(ctx, &e); err != nil {
			return nil, err
		}
		out = e
		s.propagate(ctx, models.OpCreate, e)
		return &models.HistoryEntry{
			ActionType:  models.ActionCreate,
			EventIDs:    []string{e.ID},
			After:       []models.Event{e},
			Description: "Add contraction",
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Update applies patch to one event.
func (s *Service) Update(ctx context.Context, id string, patch models.EventPatch) (*models.Event, error) {
	if patch.IsEmpty() {
		return nil, apperr.Validation("nothing to update")
	}
	var out models.Event
	err := s.mutate(ctx, func(ctx context.Context) (*models.HistoryEntry, error) {
		before, err := s.db.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		updated, err := s.db.Update(ctx, id, patch)
		if err != nil {
			return nil, err
		}
		out = *updated
		s.propagate(ctx, models.OpUpdate, out)
		return &models.HistoryEntry{
			ActionType:  models.ActionUpdate,
			EventIDs:    []string{id},
			Before:      []models.Event{*before},
			After:       []models.Event{out},
			Description: "Edit contraction",
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes an event from the active list. Deletion is soft locally;
// the backend decides whether to keep a tombstone.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.remove(ctx, id, models.ActionDelete, models.OpDelete, "Delete contraction")
}

// Archive moves one event to the archive.
func (s *Service) Archive(ctx context.Context, id string) error {
	return s.remove(ctx, id, models.ActionArchive, models.OpArchive, "Archive contraction")
}

func (s *Service) remove(ctx context.Context, id string, action models.ActionType, op models.OpType, desc string) error {
	return s.mutate(ctx, func(ctx context.Context) (*models.HistoryEntry, error) {
		before, err := s.db.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if before.Archived {
			return nil, apperr.Validation(fmt.Sprintf("event %s is already archived", id))
		}
		archived, err := s.db.Archive(ctx, id)
		if err != nil {
			return nil, err
		}
		s.propagate(ctx, op, *archived)
		return &models.HistoryEntry{
			ActionType:  action,
			EventIDs:    []string{id},
			Before:      []models.Event{*before},
			Description: desc,
		}, nil
	})
}

// ArchiveAll archives every active event as one undoable action and returns
// how many were archived.
func (s *Service) ArchiveAll(ctx context.Context) (int, error) {
	var n int
	err := s.mutate(ctx, func(ctx context.Context) (*models.HistoryEntry, error) {
		active, err := s.db.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		if len(active) == 0 {
			return nil, nil
		}
		ids := make([]string, len(active))
		for i, e := range active {
			ids[i] = e.ID
		}
		archived, err := s.db.ArchiveMany(ctx, ids)
		if err != nil {
			return nil, err
		}
		n = len(archived)
		if s.remote != nil {
			if err := s.remote.PropagateBatchArchive(ctx, archived); err != nil {
				slog.Warn("tracker: propagate archive-all", "count", len(archived), "err", err)
			}
		}
		return &models.HistoryEntry{
			ActionType:  models.ActionArchiveAll,
			EventIDs:    ids,
			Before:      active,
			Description: fmt.Sprintf("Archive %d contractions", n),
		}, nil
	})
	return n, err
}

// Undo reverts the most recent action.
func (s *Service) Undo(ctx context.Context) (*models.HistoryEntry, error) {
	entry, err := s.history.Undo(ctx)
	if err != nil {
		return nil, err
	}
	s.changed()
	return entry, nil
}

// Redo re-applies the most recently undone action.
func (s *Service) Redo(ctx context.Context) (*models.HistoryEntry, error) {
	entry, err := s.history.Redo(ctx)
	if err != nil {
		return nil, err
	}
	s.changed()
	return entry, nil
}

// Get returns one event
func (s *Service) Get(ctx context.Context, id string) (*models.Event, error) {
	return s.db.Get(ctx, id)
}

// List returns active events, or archived ones, newest first.
func (s *Service) List(ctx context.Context, archived bool) ([]models.Event, error) {
	if archived {
		return s.db.ListArchived(ctx)
	}
	return s.db.ListActive(ctx)
}

// Stats summarizes the active events. hours > 0 limits the window.
func (s *Service) Stats(ctx context.Context, hours int) (models.Stats, error) {
	events, err := s.db.ListActive(ctx)
	if err != nil {
		return models.Stats{}, err
	}
	if hours > 0 {
		events = models.InTimeRange(events, hours, models.Now().Time())
	}
	return models.ComputeStats(events), nil
}

// LaborPattern reports whether recent events look like active labor.
func (s *Service) LaborPattern(ctx context.Context) (bool, error) {
	events, err := s.db.ListActive(ctx)
	if err != nil {
		return false, err
	}
	var done []models.Event
	for _, e := range events {
		if e.EndTime != nil {
			done = append(done, e)
		}
	}
	return models.IsActiveLaborPattern(done), nil
}
