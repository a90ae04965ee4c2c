package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/db"
	"github.com/marcus/ct/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(t *testing.T) (*Queue, *clock) {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	c := &clock{t: time.Now()}
	q := New(database)
	q.SetClock(c.now)
	return q, c
}

func event(start models.Millis) models.Event {
	e := models.NewEvent(start)
	e.Finish(start + 60_000)
	return e
}

var errRemote = errors.New("remote down")

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, Backoff(i+1), "retry %d", i+1)
	}
	assert.Equal(t, time.Second, Backoff(0))
}

func TestDrainInOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var enqueued []string
	for i := 0; i < 3; i++ {
		op, err := q.Enqueue(ctx, models.OpCreate, event(models.Millis(1000*(i+1))))
		require.NoError(t, err)
		enqueued = append(enqueued, op.ID)
	}

	var seen []string
	res, err := q.Drain(ctx, func(_ context.Context, op models.SyncOperation) error {
		seen = append(seen, op.ID)
		assert.Equal(t, models.OpProcessing, op.Status)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, enqueued, seen)
	assert.Equal(t, 3, res.Succeeded)

	pending, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	left, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, left, "completed operations are purged after the pass")
}

func TestFailureDoesNotBlockOtherEvents(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first := event(1000)
	second := event(2000)
	_, err := q.Enqueue(ctx, models.OpCreate, first)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, models.OpCreate, second)
	require.NoError(t, err)

	var attempted []string
	res, err := q.Drain(ctx, func(_ context.Context, op models.SyncOperation) error {
		attempted = append(attempted, op.EventID)
		if op.EventID == first.ID {
			return errRemote
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{first.ID, second.ID}, attempted, "second op runs in the same pass")
	assert.Equal(t, 1, res.Rescheduled)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, time.Second, res.NextRetryIn)

	pending, _ := q.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, "remote down", pending[0].LastError)
}

func TestLaterOpsOnSameEventWait(t *testing.T) {
	q, c := newTestQueue(t)
	ctx := context.Background()

	e := event(1000)
	other := event(5000)
	_, _ = q.Enqueue(ctx, models.OpCreate, e)
	_, _ = q.Enqueue(ctx, models.OpUpdate, e)
	_, _ = q.Enqueue(ctx, models.OpCreate, other)

	fail := true
	var order []models.OpType
	apply := func(_ context.Context, op models.SyncOperation) error {
		if op.EventID == e.ID {
			order = append(order, op.Type)
			if fail {
				return errRemote
			}
		}
		return nil
	}

	res, err := q.Drain(ctx, apply)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, []models.OpType{models.OpCreate}, order)

	// not yet due: nothing for e is attempted
	res, err = q.Drain(ctx, apply)
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Equal(t, 1, res.Deferred)
	assert.Greater(t, res.NextRetryIn, time.Duration(0))

	fail = false
	c.advance(2 * time.Second)
	res, err = q.Drain(ctx, apply)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, []models.OpType{models.OpCreate, models.OpCreate, models.OpUpdate}, order)
}

func TestRetryCeiling(t *testing.T) {
	q, c := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.OpCreate, event(1000))
	require.NoError(t, err)

	attempts := 0
	apply := func(context.Context, models.SyncOperation) error {
		attempts++
		return &apperr.UnreachableError{Backend: "test", Err: errRemote}
	}

	var last DrainResult
	for i := 0; i < MaxRetries; i++ {
		last, err = q.Drain(ctx, apply)
		require.NoError(t, err)
		c.advance(time.Minute)
	}
	assert.Equal(t, MaxRetries, attempts)
	assert.Equal(t, 1, last.Failed)

	var exhausted *apperr.ConflictExhaustionError
	require.Len(t, last.Errors, 1)
	require.ErrorAs(t, last.Errors[0], &exhausted)
	assert.Equal(t, MaxRetries, exhausted.Attempts)
	assert.True(t, apperr.IsUnreachable(last.Errors[0]))

	// a sixth pass never touches the failed op
	res, err := q.Drain(ctx, apply)
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Equal(t, MaxRetries, attempts)

	pending, _ := q.PendingCount(ctx)
	failed, _ := q.FailedCount(ctx)
	assert.Zero(t, pending, "failed ops are excluded from the pending count")
	assert.Equal(t, 1, failed)

	n, err := q.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	pending, _ = q.PendingCount(ctx)
	assert.Equal(t, 1, pending)
}

func TestDrainIsExclusive(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, models.OpCreate, event(1000))

	var inner DrainResult
	_, err := q.Drain(ctx, func(ctx context.Context, _ models.SyncOperation) error {
		assert.True(t, q.Draining())
		var err error
		inner, err = q.Drain(ctx, func(context.Context, models.SyncOperation) error {
			t.Error("re-entrant drain must not apply operations")
			return nil
		})
		return err
	})
	require.NoError(t, err)
	assert.True(t, inner.Skipped)
	assert.False(t, q.Draining())
}
