package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcus/ct/internal/conflict"
	"github.com/marcus/ct/internal/models"
	"github.com/marcus/ct/internal/queue"
	"github.com/marcus/ct/internal/remote"
)

// DefaultInterval is the polling period for backends without push.
const DefaultInterval = 60 * time.Second

// Status is the orchestrator's coarse sync state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// State is a snapshot of sync health.
type State struct {
	Backend           remote.Kind   `json:"backend"`
	Status            Status        `json:"status"`
	LastSyncTime      models.Millis `json:"lastSyncTime,omitempty"`
	PendingOperations int           `json:"pendingOperations"`
	FailedOperations  int           `json:"failedOperations"`
	LastError         string        `json:"lastError,omitempty"`
}

// Store is the local persistence the orchestrator reconciles into.
type Store interface {
	SyncMarker
	ListAll(ctx context.Context) ([]models.Event, error)
	ApplyMerged(ctx context.Context, events []models.Event) error
	ReplaceFromRemote(ctx context.Context, events []models.Event) error
	LastSyncTime(ctx context.Context) (models.Millis, error)
	SetLastSyncTime(ctx context.Context, t models.Millis) error
}

// Orchestrator decides when to sync. Triggers are Start, connectivity
// changes, manual SyncNow, the polling ticker and the queue's retry timer.
// Runs never overlap; a trigger that arrives mid-run is dropped.
type Orchestrator struct {
	store    Store
	adapter  remote.Adapter
	queue    *queue.Queue
	dispatch *Dispatcher
	interval time.Duration

	running atomic.Bool

	mu          sync.Mutex
	state       State
	online      bool
	ctx         context.Context
	cancel      context.CancelFunc
	retry       *time.Timer
	unsubscribe func()
	listeners   []func(State)
	onRemote    []func()

	wg sync.WaitGroup
}

// NewOrchestrator builds an orchestrator for the dispatcher's backend.
// interval <= 0 uses DefaultInterval.
func NewOrchestrator(store Store, d *Dispatcher, q *queue.Queue, interval time.Duration) *Orchestrator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Orchestrator{
		store:    store,
		adapter:  d.Adapter(),
		queue:    q,
		dispatch: d,
		interval: interval,
		online:   true,
		state:    State{Backend: d.Adapter().Kind(), Status: StatusIdle},
	}
}

// OnChange registers fn to receive every state change.
func (o *Orchestrator) OnChange(fn func(State)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

// OnRemoteChange registers fn to run after remote data was written locally.
func (o *Orchestrator) OnRemoteChange(fn func()) {
	o.mu.Lock()
	o.onRemote = append(o.onRemote, fn)
	o.mu.Unlock()
}

// State returns the current sync state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) update(fn func(*State)) {
	o.mu.Lock()
	fn(&o.state)
	st := o.state
	listeners := slices.Clone(o.listeners)
	o.mu.Unlock()
	for _, l := range listeners {
		l(st)
	}
}

func (o *Orchestrator) remoteChanged() {
	o.mu.Lock()
	fns := slices.Clone(o.onRemote)
	o.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Start runs the initial sync and installs the background trigger for the
// backend: a ticker for polling, a live subscription for realtime. Failures
// are reported through State, not returned.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.ctx != nil {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	runCtx := o.ctx
	o.mu.Unlock()

	o.Refresh(ctx)

	if o.adapter.Kind() == remote.KindPassive {
		return nil
	}

	if _, err := o.SyncNow(ctx); err != nil {
		slog.Warn("sync: initial sync failed", "backend", o.adapter.Kind(), "err", err)
	}

	if sub, ok := o.adapter.(remote.Subscriber); ok {
		unsubscribe, err := sub.Subscribe(runCtx, o.applySnapshot, o.subscriptionError)
		if err != nil {
			slog.Warn("sync: subscribe failed", "err", err)
			o.update(func(s *State) {
				s.Status = StatusError
				s.LastError = err.Error()
			})
			return nil
		}
		o.mu.Lock()
		o.unsubscribe = unsubscribe
		o.mu.Unlock()
		return nil
	}

	o.wg.Add(1)
	go o.poll(runCtx)
	return nil
}

// Refresh reloads the persisted last sync time and the queue counts
// without contacting the backend.
func (o *Orchestrator) Refresh(ctx context.Context) State {
	if last, err := o.store.LastSyncTime(ctx); err == nil {
		o.update(func(s *State) { s.LastSyncTime = last })
	}
	o.refreshCounts(ctx)
	return o.State()
}

func (o *Orchestrator) poll(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.SyncNow(ctx); err != nil {
				slog.Debug("sync: periodic sync failed", "err", err)
			}
		}
	}
}

// applySnapshot runs on the adapter's delivery goroutine; it only touches
// the local store.
func (o *Orchestrator) applySnapshot(events []models.Event) {
	o.mu.Lock()
	ctx := o.ctx
	o.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if err := o.store.ReplaceFromRemote(ctx, events); err != nil {
		slog.Warn("sync: apply snapshot", "events", len(events), "err", err)
		o.update(func(s *State) { s.LastError = err.Error() })
		return
	}
	now := models.Now()
	if err := o.store.SetLastSyncTime(ctx, now); err != nil {
		slog.Debug("sync: persist last sync time", "err", err)
	}
	o.update(func(s *State) {
		s.LastSyncTime = now
		if s.Status == StatusError {
			s.Status = StatusIdle
			s.LastError = ""
		}
	})
	o.remoteChanged()
}

// subscriptionError logs and keeps the subscription; the adapter redials.
func (o *Orchestrator) subscriptionError(err error) {
	slog.Warn("sync: subscription error", "err", err)
	o.update(func(s *State) { s.LastError = err.Error() })
}

// SetOnline records a connectivity change. Going online triggers a sync.
func (o *Orchestrator) SetOnline(ctx context.Context, online bool) {
	o.mu.Lock()
	was := o.online
	o.online = online
	o.mu.Unlock()

	if !online {
		o.update(func(s *State) { s.Status = StatusOffline })
		return
	}
	if !was {
		o.update(func(s *State) { s.Status = StatusIdle })
		if _, err := o.SyncNow(ctx); err != nil {
			slog.Debug("sync: reconnect sync failed", "err", err)
		}
	}
}

// SyncNow drains the outbound queue and reconciles with the backend's full
// collection. It returns immediately when offline, on the passive backend or
// while another run is in progress.
func (o *Orchestrator) SyncNow(ctx context.Context) (State, error) {
	o.mu.Lock()
	online := o.online
	o.mu.Unlock()
	if !online {
		o.update(func(s *State) { s.Status = StatusOffline })
		return o.State(), nil
	}
	if o.adapter.Kind() == remote.KindPassive {
		o.refreshCounts(ctx)
		return o.State(), nil
	}
	if !o.running.CompareAndSwap(false, true) {
		slog.Debug("sync: run already in progress")
		return o.State(), nil
	}
	defer o.running.Store(false)

	o.update(func(s *State) { s.Status = StatusSyncing })
	res, err := o.run(ctx)
	o.refreshCounts(ctx)

	if err != nil {
		o.update(func(s *State) {
			s.Status = StatusError
			s.LastError = err.Error()
		})
		return o.State(), err
	}

	now := models.Now()
	if err := o.store.SetLastSyncTime(ctx, now); err != nil {
		slog.Debug("sync: persist last sync time", "err", err)
	}
	o.update(func(s *State) {
		s.LastSyncTime = now
		s.Status = StatusIdle
		s.LastError = ""
		if len(res.Errors) > 0 {
			s.Status = StatusError
			s.LastError = res.Errors[len(res.Errors)-1].Error()
		}
	})
	return o.State(), nil
}

func (o *Orchestrator) run(ctx context.Context) (queue.DrainResult, error) {
	res, err := o.queue.Drain(ctx, o.dispatch.Apply)
	if err != nil {
		return res, fmt.Errorf("drain queue: %w", err)
	}
	if res.NextRetryIn > 0 {
		o.scheduleRetry(res.NextRetryIn)
	}
	if res.Attempted > 0 {
		slog.Debug("sync: drained", "succeeded", res.Succeeded, "rescheduled", res.Rescheduled, "failed", res.Failed, "deferred", res.Deferred)
	}

	backfilled, err := o.reconcile(ctx)
	if err != nil {
		return res, err
	}
	if backfilled > 0 {
		more, err := o.queue.Drain(ctx, o.dispatch.Apply)
		if err != nil {
			return res, fmt.Errorf("drain backfill: %w", err)
		}
		res.Attempted += more.Attempted
		res.Succeeded += more.Succeeded
		res.Rescheduled += more.Rescheduled
		res.Failed += more.Failed
		res.Errors = append(res.Errors, more.Errors...)
		if more.NextRetryIn > 0 {
			o.scheduleRetry(more.NextRetryIn)
		}
	}
	return res, nil
}

// reconcile pulls the full remote collection, archived included, and merges
// it into the local store. Events with undelivered operations stay pending.
// Pending local events with no operation at all are queued so work recorded
// before a backend was configured reaches it. Returns how many were queued.
func (o *Orchestrator) reconcile(ctx context.Context) (int, error) {
	remoteEvents, err := o.adapter.PullAll(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("pull: %w", err)
	}
	local, err := o.store.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list local: %w", err)
	}

	owed := make(map[string]bool)
	pending, err := o.queue.Pending(ctx)
	if err != nil {
		return 0, err
	}
	failed, err := o.queue.Failed(ctx)
	if err != nil {
		return 0, err
	}
	for _, op := range append(pending, failed...) {
		owed[op.EventID] = true
	}

	merged := conflict.MergeCollections(local, remoteEvents, false)
	var orphans []models.Event
	for i := range merged {
		switch {
		case owed[merged[i].ID]:
			merged[i].SyncStatus = models.SyncPending
		case merged[i].SyncStatus == models.SyncPending:
			orphans = append(orphans, merged[i])
		}
	}
	if err := o.store.ApplyMerged(ctx, merged); err != nil {
		return 0, fmt.Errorf("apply merged: %w", err)
	}
	if len(remoteEvents) > 0 {
		o.remoteChanged()
	}

	for _, e := range orphans {
		if _, err := o.queue.Enqueue(ctx, models.OpCreate, e); err != nil {
			return 0, err
		}
	}
	if len(orphans) > 0 {
		slog.Info("sync: queued unsynced local events", "count", len(orphans))
	}
	return len(orphans), nil
}

func (o *Orchestrator) scheduleRetry(after time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx == nil || o.ctx.Err() != nil {
		return
	}
	if o.retry != nil {
		o.retry.Stop()
	}
	ctx := o.ctx
	o.retry = time.AfterFunc(after, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := o.SyncNow(ctx); err != nil {
			slog.Debug("sync: retry failed", "err", err)
		}
	})
}

func (o *Orchestrator) refreshCounts(ctx context.Context) {
	pending, err := o.queue.PendingCount(ctx)
	if err != nil {
		slog.Debug("sync: count pending", "err", err)
		return
	}
	failed, err := o.queue.FailedCount(ctx)
	if err != nil {
		slog.Debug("sync: count failed", "err", err)
		return
	}
	o.update(func(s *State) {
		s.PendingOperations = pending
		s.FailedOperations = failed
	})
}

// Stop cancels the ticker, the retry timer and the subscription. It does
// not close the adapter.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	if o.retry != nil {
		o.retry.Stop()
		o.retry = nil
	}
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	o.wg.Wait()
}
