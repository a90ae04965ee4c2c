// Package queue is the durable outbound operation queue. Operations drain in
// enqueue order; failures are rescheduled with backoff instead of blocking the
// pass, and give up after MaxRetries attempts.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/models"
)

// MaxRetries is the number of failed attempts after which an operation is
// marked failed and never retried automatically.
const MaxRetries = 5

// RetryDelays is the backoff schedule indexed by retry count; the last entry
// caps it.
var RetryDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// Store is the persistence the queue needs; *db.DB satisfies it.
type Store interface {
	EnqueueOp(ctx context.Context, op models.SyncOperation) (models.SyncOperation, error)
	ListOps(ctx context.Context, statuses ...models.OpStatus) ([]models.SyncOperation, error)
	SaveOp(ctx context.Context, op models.SyncOperation) error
	CountOps(ctx context.Context, status models.OpStatus) (int, error)
	PurgeCompletedOps(ctx context.Context) (int, error)
	ResetFailedOps(ctx context.Context) (int, error)
}

// ApplyFunc performs one operation against the remote.
type ApplyFunc func(ctx context.Context, op models.SyncOperation) error

// DrainResult summarizes one pass.
type DrainResult struct {
	// Skipped is set when another drain was already running.
	Skipped bool

	Attempted   int
	Succeeded   int
	Rescheduled int
	Failed      int

	// Deferred counts operations held back behind an earlier operation on
	// the same event that is waiting for its retry.
	Deferred int

	// NextRetryIn is how long until the earliest rescheduled operation is
	// due; zero when nothing is waiting.
	NextRetryIn time.Duration
	Errors      []error
}

// Queue drains operations from a Store.
type Queue struct {
	store    Store
	draining atomic.Bool
	now      func() time.Time
}

// New returns a queue over store
func New(store Store) *Queue {
	return &Queue{store: store, now: time.Now}
}

// SetClock overrides the time source. Used by tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// Backoff returns the delay before retry number retryCount (1-based).
func Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > len(RetryDelays) {
		return RetryDelays[len(RetryDelays)-1]
	}
	return RetryDelays[retryCount-1]
}

// Enqueue appends an operation carrying a snapshot of payload.
func (q *Queue) Enqueue(ctx context.Context, typ models.OpType, payload models.Event) (models.SyncOperation, error) {
	op, err := q.store.EnqueueOp(ctx, models.SyncOperation{
		Type:      typ,
		EventID:   payload.ID,
		Payload:   payload.Clone(),
		Timestamp: models.FromTime(q.now()),
		Status:    models.OpPending,
	})
	if err != nil {
		return op, fmt.Errorf("enqueue: %w", err)
	}
	slog.Debug("queue: enqueued", "type", typ, "event", payload.ID, "op", op.ID)
	return op, nil
}

// Drain runs every due pending operation once, in order. It returns
// immediately with Skipped set if a drain is already in progress.
func (q *Queue) Drain(ctx context.Context, apply ApplyFunc) (DrainResult, error) {
	var res DrainResult
	if !q.draining.CompareAndSwap(false, true) {
		res.Skipped = true
		return res, nil
	}
	defer q.draining.Store(false)

	ops, err := q.store.ListOps(ctx, models.OpPending)
	if err != nil {
		return res, fmt.Errorf("list pending: %w", err)
	}

	// stored times are millisecond precision
	now := q.now().Truncate(time.Millisecond)
	// events with an operation waiting for retry; later operations on the
	// same event must not overtake it
	blocked := make(map[string]bool)
	noteRetry := func(at models.Millis) {
		d := at.Time().Sub(now)
		if d <= 0 {
			d = time.Millisecond
		}
		if res.NextRetryIn == 0 || d < res.NextRetryIn {
			res.NextRetryIn = d
		}
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if blocked[op.EventID] {
			res.Deferred++
			continue
		}
		if op.NextAttemptAt > models.FromTime(now) {
			blocked[op.EventID] = true
			noteRetry(op.NextAttemptAt)
			continue
		}

		op.Status = models.OpProcessing
		if err := q.store.SaveOp(ctx, op); err != nil {
			return res, err
		}
		res.Attempted++

		applyErr := apply(ctx, op)
		if applyErr == nil {
			op.Status = models.OpCompleted
			op.LastError = ""
			if err := q.store.SaveOp(ctx, op); err != nil {
				return res, err
			}
			res.Succeeded++
			continue
		}

		op.RetryCount++
		op.LastError = applyErr.Error()
		if op.RetryCount >= MaxRetries {
			op.Status = models.OpFailed
			res.Failed++
			res.Errors = append(res.Errors, &apperr.ConflictExhaustionError{
				OperationID: op.ID,
				Attempts:    op.RetryCount,
				Last:        applyErr,
			})
			slog.Warn("queue: operation failed permanently", "op", op.ID, "type", op.Type, "event", op.EventID, "err", applyErr)
		} else {
			op.Status = models.OpPending
			op.NextAttemptAt = models.FromTime(now.Add(Backoff(op.RetryCount)))
			blocked[op.EventID] = true
			noteRetry(op.NextAttemptAt)
			res.Rescheduled++
			res.Errors = append(res.Errors, applyErr)
			slog.Debug("queue: operation rescheduled", "op", op.ID, "retry", op.RetryCount, "err", applyErr)
		}
		if err := q.store.SaveOp(ctx, op); err != nil {
			return res, err
		}
	}

	if _, err := q.store.PurgeCompletedOps(ctx); err != nil {
		return res, fmt.Errorf("purge completed: %w", err)
	}
	return res, nil
}

// Draining reports whether a drain is in progress
func (q *Queue) Draining() bool {
	return q.draining.Load()
}

// PendingCount counts operations still to be delivered. Failed operations
// are not included.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	pending, err := q.store.CountOps(ctx, models.OpPending)
	if err != nil {
		return 0, err
	}
	processing, err := q.store.CountOps(ctx, models.OpProcessing)
	if err != nil {
		return 0, err
	}
	return pending + processing, nil
}

// FailedCount counts operations that exhausted their retries
func (q *Queue) FailedCount(ctx context.Context) (int, error) {
	return q.store.CountOps(ctx, models.OpFailed)
}

// Failed lists operations that exhausted their retries
func (q *Queue) Failed(ctx context.Context) ([]models.SyncOperation, error) {
	return q.store.ListOps(ctx, models.OpFailed)
}

// Pending lists operations still to be delivered, in order
func (q *Queue) Pending(ctx context.Context) ([]models.SyncOperation, error) {
	return q.store.ListOps(ctx, models.OpPending, models.OpProcessing)
}

// RetryFailed returns failed operations to the queue with a fresh budget.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	return q.store.ResetFailedOps(ctx)
}
