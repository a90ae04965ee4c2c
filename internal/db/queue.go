package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/marcus/ct/internal/models"
)

const opColumns = `seq, id, type, event_id, payload, timestamp, retry_count, status, next_attempt_at, last_error`

func scanOp(s rowScanner) (models.SyncOperation, error) {
	var (
		op      models.SyncOperation
		payload string
		ts, at  int64
	)
	err := s.Scan(&op.Seq, &op.ID, &op.Type, &op.EventID, &payload, &ts, &op.RetryCount, &op.Status, &at, &op.LastError)
	if err != nil {
		return op, err
	}
	op.Timestamp = models.Millis(ts)
	op.NextAttemptAt = models.Millis(at)
	if err := json.Unmarshal([]byte(payload), &op.Payload); err != nil {
		return op, fmt.Errorf("decode payload of %s: %w", op.ID, err)
	}
	return op, nil
}

// EnqueueOp appends op to the outbound queue. Id, timestamp and status are
// filled in when empty; the stored operation is returned with its sequence.
func (db *DB) EnqueueOp(ctx context.Context, op models.SyncOperation) (models.SyncOperation, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Timestamp == 0 {
		op.Timestamp = db.now()
	}
	if op.Status == "" {
		op.Status = models.OpPending
	}
	payload, err := json.Marshal(op.Payload.Clone())
	if err != nil {
		return op, fmt.Errorf("encode payload: %w", err)
	}

	err = db.withWriteLock(func() error {
		res, err := db.conn.ExecContext(ctx, `INSERT INTO outbound_queue
			(id, type, event_id, payload, timestamp, retry_count, status, next_attempt_at, last_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.ID, string(op.Type), op.EventID, string(payload), int64(op.Timestamp),
			op.RetryCount, string(op.Status), int64(op.NextAttemptAt), op.LastError)
		if err != nil {
			return fmt.Errorf("enqueue %s %s: %w", op.Type, op.EventID, err)
		}
		op.Seq, err = res.LastInsertId()
		return err
	})
	return op, err
}

// ListOps returns operations in enqueue order, optionally filtered by status.
func (db *DB) ListOps(ctx context.Context, statuses ...models.OpStatus) ([]models.SyncOperation, error) {
	query := `SELECT ` + opColumns + ` FROM outbound_queue`
	args := make([]any, len(statuses))
	if len(statuses) > 0 {
		for i, s := range statuses {
			args[i] = string(s)
		}
		query += ` WHERE status IN (` + strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",") + `)`
	}
	query += ` ORDER BY seq ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var out []models.SyncOperation
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// SaveOp persists the mutable lifecycle fields of op.
func (db *DB) SaveOp(ctx context.Context, op models.SyncOperation) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.ExecContext(ctx, `UPDATE outbound_queue
			SET retry_count = ?, status = ?, next_attempt_at = ?, last_error = ?
			WHERE id = ?`,
			op.RetryCount, string(op.Status), int64(op.NextAttemptAt), op.LastError, op.ID)
		if err != nil {
			return fmt.Errorf("save op %s: %w", op.ID, err)
		}
		return nil
	})
}

// CountOps counts operations in the given status.
func (db *DB) CountOps(ctx context.Context, status models.OpStatus) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbound_queue WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s ops: %w", status, err)
	}
	return n, nil
}

// PurgeCompletedOps deletes completed operations.
func (db *DB) PurgeCompletedOps(ctx context.Context) (int, error) {
	return db.execCount(ctx, `DELETE FROM outbound_queue WHERE status = ?`, string(models.OpCompleted))
}

// ResetFailedOps returns failed operations to pending with a fresh retry budget.
func (db *DB) ResetFailedOps(ctx context.Context) (int, error) {
	return db.execCount(ctx, `UPDATE outbound_queue
		SET status = ?, retry_count = 0, next_attempt_at = 0
		WHERE status = ?`, string(models.OpPending), string(models.OpFailed))
}

func (db *DB) execCount(ctx context.Context, query string, args ...any) (int, error) {
	var n int64
	err := db.withWriteLock(func() error {
		res, err := db.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// recoverProcessing runs at open; nothing can be processing in a fresh process.
func (db *DB) recoverProcessing() error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`UPDATE outbound_queue SET status = ? WHERE status = ?`,
			string(models.OpPending), string(models.OpProcessing))
		return err
	})
}

// LastSyncTime returns the last successful sync time, 0 if never.
func (db *DB) LastSyncTime(ctx context.Context) (models.Millis, error) {
	var v sql.NullInt64
	err := db.conn.QueryRowContext(ctx, `SELECT CAST(value AS INTEGER) FROM kv WHERE key = ?`, keyLastSync).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read last sync: %w", err)
	}
	return models.Millis(v.Int64), nil
}

// SetLastSyncTime records a successful sync.
func (db *DB) SetLastSyncTime(ctx context.Context, t models.Millis) error {
	return db.withWriteLock(func() error {
		return db.setKV(db.conn, keyLastSync, fmt.Sprintf("%d", int64(t)))
	})
}
