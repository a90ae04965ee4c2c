// Package syncer moves local changes to the active backend and remote state
// back into the local store. The Dispatcher propagates individual changes;
// the Orchestrator decides when to sync and reconciles full collections.
package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/models"
	"github.com/marcus/ct/internal/queue"
	"github.com/marcus/ct/internal/remote"
)

// SyncMarker records a successful push; *db.DB satisfies it.
type SyncMarker interface {
	MarkSynced(ctx context.Context, id string, updatedAt models.Millis) error
}

// Dispatcher routes a local change by backend variant: polling backends get
// a queued operation, realtime backends are called directly and fall back to
// the queue on failure, and the passive backend drops it.
type Dispatcher struct {
	adapter remote.Adapter
	queue   *queue.Queue
	store   SyncMarker
}

// NewDispatcher wires a dispatcher
func NewDispatcher(adapter remote.Adapter, q *queue.Queue, store SyncMarker) *Dispatcher {
	return &Dispatcher{adapter: adapter, queue: q, store: store}
}

// Adapter returns the backend this dispatcher targets
func (d *Dispatcher) Adapter() remote.Adapter {
	return d.adapter
}

// Propagate forwards one change. e is the event as stored after the change.
func (d *Dispatcher) Propagate(ctx context.Context, op models.OpType, e models.Event) error {
	switch d.adapter.Kind() {
	case remote.KindPassive:
		return nil
	case remote.KindRealtime:
		err := d.Apply(ctx, models.SyncOperation{Type: op, EventID: e.ID, Payload: e})
		if err == nil {
			return nil
		}
		slog.Debug("dispatch: direct push failed, queueing", "op", op, "event", e.ID, "err", err)
	}
	if _, err := d.queue.Enqueue(ctx, op, e); err != nil {
		return err
	}
	return nil
}

// PropagateBatchArchive forwards an archive of many events. Realtime
// backends get one atomic batch; otherwise each archive is queued.
func (d *Dispatcher) PropagateBatchArchive(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	switch d.adapter.Kind() {
	case remote.KindPassive:
		return nil
	case remote.KindRealtime:
		ids := make([]string, len(events))
		var at models.Millis
		for i, e := range events {
			ids[i] = e.ID
			at = max(at, e.UpdatedAt)
		}
		err := d.adapter.PushBatchArchive(ctx, ids, at)
		if err == nil {
			for _, e := range events {
				d.markSynced(ctx, e)
			}
			return nil
		}
		slog.Debug("dispatch: batch archive failed, queueing", "events", len(events), "err", err)
	}
	for _, e := range events {
		if _, err := d.queue.Enqueue(ctx, models.OpArchive, e); err != nil {
			return err
		}
	}
	return nil
}

// Apply performs one operation against the adapter and marks the event
// synced on success. It is the queue's apply function.
func (d *Dispatcher) Apply(ctx context.Context, op models.SyncOperation) error {
	var err error
	switch op.Type {
	case models.OpCreate, models.OpRestore:
		err = d.adapter.PushCreate(ctx, op.Payload)
	case models.OpUpdate:
		err = d.adapter.PushUpdate(ctx, op.EventID, models.PatchFrom(op.Payload))
		if apperr.IsNotFound(err) {
			err = d.adapter.PushCreate(ctx, op.Payload)
		}
	case models.OpArchive:
		err = d.adapter.PushArchive(ctx, op.EventID, op.Payload.UpdatedAt)
	case models.OpDelete:
		err = d.adapter.PushDelete(ctx, op.EventID)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
	if err != nil {
		return err
	}
	d.markSynced(ctx, op.Payload)
	return nil
}

func (d *Dispatcher) markSynced(ctx context.Context, e models.Event) {
	if d.store == nil || e.ID == "" {
		return
	}
	if err := d.store.MarkSynced(ctx, e.ID, e.UpdatedAt); err != nil {
		slog.Warn("dispatch: mark synced", "event", e.ID, "err", err)
	}
}
