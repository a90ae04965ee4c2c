package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/models"
)

// clockSkew tolerates small differences between device clocks when
// rejecting timestamps in the future.
const clockSkew models.Millis = 60_000

const eventColumns = `id, start_time, end_time, duration, intensity, notes, created_at, updated_at, archived, sync_status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(s rowScanner) (models.Event, error) {
	var (
		e                            models.Event
		endTime, duration, intensity sql.NullInt64
		start, created, updated      int64
		archived                     int
		status                       string
	)
	err := s.Scan(&e.ID, &start, &endTime, &duration, &intensity, &e.Notes, &created, &updated, &archived, &status)
	if err != nil {
		return e, err
	}
	e.StartTime = models.Millis(start)
	e.CreatedAt = models.Millis(created)
	e.UpdatedAt = models.Millis(updated)
	e.Archived = archived != 0
	e.SyncStatus = models.SyncStatus(status)
	if endTime.Valid {
		e.EndTime = models.Millis(endTime.Int64).Ptr()
	}
	if duration.Valid {
		d := duration.Int64
		e.Duration = &d
	}
	if intensity.Valid {
		i := int(intensity.Int64)
		e.Intensity = &i
	}
	return e, nil
}

func nullMillis(m *models.Millis) any {
	if m == nil {
		return nil
	}
	return int64(*m)
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Validate checks an event against the field rules, relative to now.
func Validate(e models.Event, now models.Millis) error {
	var problems []string
	if e.ID == "" {
		problems = append(problems, "id is required")
	}
	if e.StartTime <= 0 {
		problems = append(problems, "start time is required")
	} else if e.StartTime > now+clockSkew {
		problems = append(problems, "start time cannot be in the future")
	}
	if e.EndTime != nil {
		if *e.EndTime < e.StartTime {
			problems = append(problems, "end time must be after start time")
		}
		if *e.EndTime > now+clockSkew {
			problems = append(problems, "end time cannot be in the future")
		}
		if e.Duration == nil {
			problems = append(problems, "duration must be set when end time is set")
		}
	} else if e.Duration != nil {
		problems = append(problems, "duration must be empty while the event is active")
	}
	if e.Intensity != nil && (*e.Intensity < models.MinIntensity || *e.Intensity > models.MaxIntensity) {
		problems = append(problems, fmt.Sprintf("intensity must be between %d and %d", models.MinIntensity, models.MaxIntensity))
	}
	return apperr.Validation(problems...)
}

// nextStamp returns now, or prev+1 when the clock has not advanced past prev,
// so every mutation strictly increases updatedAt.
func (db *DB) nextStamp(prev models.Millis) models.Millis {
	now := db.now()
	if now <= prev {
		return prev + 1
	}
	return now
}

const upsertEventSQL = `INSERT INTO events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			duration = excluded.duration,
			intensity = excluded.intensity,
			notes = excluded.notes,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			archived = excluded.archived,
			sync_status = excluded.sync_status`

func upsertEvent(ctx context.Context, tx *sql.Tx, e models.Event) error {
	return execUpsert(ctx, tx, upsertEventSQL, e)
}

// mergeEvent is upsertEvent except that a stored row with a newer updatedAt
// is left alone.
func mergeEvent(ctx context.Context, tx *sql.Tx, e models.Event) error {
	return execUpsert(ctx, tx, upsertEventSQL+`
		WHERE excluded.updated_at >= events.updated_at`, e)
}

func execUpsert(ctx context.Context, tx *sql.Tx, query string, e models.Event) error {
	_, err := tx.ExecContext(ctx, query,
		e.ID, int64(e.StartTime), nullMillis(e.EndTime), nullInt64(e.Duration), nullInt(e.Intensity),
		e.Notes, int64(e.CreatedAt), int64(e.UpdatedAt), boolInt(e.Archived), string(e.SyncStatus))
	if err != nil {
		return fmt.Errorf("write event %s: %w", e.ID, err)
	}
	return nil
}

func getEventTx(ctx context.Context, tx *sql.Tx, id string) (models.Event, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, apperr.NotFound(id)
	}
	if err != nil {
		return e, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, nil
}

// Create inserts a new event. Missing id and timestamps are filled in and
// the event is marked pending. e is updated in place.
func (db *DB) Create(ctx context.Context, e *models.Event) error {
	now := db.now()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	if e.UpdatedAt < e.CreatedAt {
		e.UpdatedAt = e.CreatedAt
	}
	e.SyncStatus = models.SyncPending
	if e.EndTime != nil {
		e.Finish(*e.EndTime)
	}
	if err := Validate(*e, now); err != nil {
		return err
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE id = ?`, e.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check event: %w", err)
		}
		if exists > 0 {
			return apperr.Validation(fmt.Sprintf("event %s already exists", e.ID))
		}
		return upsertEvent(ctx, tx, *e)
	})
}

// Get returns one event, archived or not.
func (db *DB) Get(ctx context.Context, id string) (*models.Event, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return &e, nil
}

// Update applies patch, stamps updatedAt and marks the event pending.
func (db *DB) Update(ctx context.Context, id string, patch models.EventPatch) (*models.Event, error) {
	var out models.Event
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		e, err := getEventTx(ctx, tx, id)
		if err != nil {
			return err
		}
		patch.Apply(&e)
		e.UpdatedAt = db.nextStamp(e.UpdatedAt)
		e.SyncStatus = models.SyncPending
		if err := Validate(e, db.now()); err != nil {
			return err
		}
		out = e
		return upsertEvent(ctx, tx, e)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Archive soft-deletes one event.
func (db *DB) Archive(ctx context.Context, id string) (*models.Event, error) {
	archived := true
	return db.Update(ctx, id, models.EventPatch{Archived: &archived})
}

// ArchiveMany archives every id in one transaction. An unknown id aborts the
// whole batch.
func (db *DB) ArchiveMany(ctx context.Context, ids []string) ([]models.Event, error) {
	out := make([]models.Event, 0, len(ids))
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			e, err := getEventTx(ctx, tx, id)
			if err != nil {
				return err
			}
			e.Archived = true
			e.UpdatedAt = db.nextStamp(e.UpdatedAt)
			e.SyncStatus = models.SyncPending
			if err := upsertEvent(ctx, tx, e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put restores an event to the content of snapshot, creating it if absent.
// updatedAt is re-stamped so the restore wins against older remote copies.
func (db *DB) Put(ctx context.Context, snapshot models.Event) (*models.Event, error) {
	out, err := db.PutMany(ctx, []models.Event{snapshot})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// PutMany is Put for several snapshots in one transaction.
func (db *DB) PutMany(ctx context.Context, snapshots []models.Event) ([]models.Event, error) {
	out := make([]models.Event, 0, len(snapshots))
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, snap := range snapshots {
			e := snap.Clone()
			prev := e.UpdatedAt
			if cur, err := getEventTx(ctx, tx, e.ID); err == nil {
				prev = max(prev, cur.UpdatedAt)
			} else if !apperr.IsNotFound(err) {
				return err
			}
			if e.CreatedAt == 0 {
				e.CreatedAt = db.now()
			}
			e.UpdatedAt = db.nextStamp(prev)
			e.SyncStatus = models.SyncPending
			if err := upsertEvent(ctx, tx, e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyMerged writes merge output verbatim, including timestamps and sync
// status. Rows changed locally since the merge input was read carry a newer
// updatedAt and are left alone.
func (db *DB) ApplyMerged(ctx context.Context, events []models.Event) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range events {
			if err := mergeEvent(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceFromRemote makes local state match a full remote snapshot. Local
// events still pending that are absent from the snapshot, or newer than the
// remote copy, are kept so unsent work survives until it is pushed.
func (db *DB) ReplaceFromRemote(ctx context.Context, remote []models.Event) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		local, err := listTx(ctx, tx, "")
		if err != nil {
			return err
		}
		byID := make(map[string]models.Event, len(local))
		for _, e := range local {
			byID[e.ID] = e
		}

		seen := make(map[string]bool, len(remote))
		for _, r := range remote {
			seen[r.ID] = true
			if l, ok := byID[r.ID]; ok && l.SyncStatus == models.SyncPending && l.UpdatedAt > r.UpdatedAt {
				continue
			}
			r = r.Clone()
			r.SyncStatus = models.SyncSynced
			if err := upsertEvent(ctx, tx, r); err != nil {
				return err
			}
		}

		for _, l := range local {
			if seen[l.ID] || l.SyncStatus == models.SyncPending {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, l.ID); err != nil {
				return fmt.Errorf("drop event %s: %w", l.ID, err)
			}
		}
		return nil
	})
}

// MarkSynced flags an event as synced, but only if it has not been modified
// since the pushed version stamped updatedAt.
func (db *DB) MarkSynced(ctx context.Context, id string, updatedAt models.Millis) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.ExecContext(ctx,
			`UPDATE events SET sync_status = ? WHERE id = ? AND updated_at = ?`,
			string(models.SyncSynced), id, int64(updatedAt))
		return err
	})
}

func listTx(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, where string, args ...any) ([]models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY start_time DESC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListActive returns non-archived events, newest first.
func (db *DB) ListActive(ctx context.Context) ([]models.Event, error) {
	return listTx(ctx, db.conn, "archived = 0")
}

// ListArchived returns archived events, newest first.
func (db *DB) ListArchived(ctx context.Context) ([]models.Event, error) {
	return listTx(ctx, db.conn, "archived = 1")
}

// ListAll returns every event, newest first.
func (db *DB) ListAll(ctx context.Context) ([]models.Event, error) {
	return listTx(ctx, db.conn, "")
}

// ListByIDs returns the events with the given ids; unknown ids are skipped.
func (db *DB) ListByIDs(ctx context.Context, ids []string) ([]models.Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	return listTx(ctx, db.conn, "id IN ("+placeholders+")", args...)
}

// ActiveEvent returns the running event, or nil.
func (db *DB) ActiveEvent(ctx context.Context) (*models.Event, error) {
	events, err := listTx(ctx, db.conn, "archived = 0 AND end_time IS NULL")
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// CountBySyncStatus counts non-archived and archived events per sync status.
func (db *DB) CountBySyncStatus(ctx context.Context) (map[models.SyncStatus]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM events GROUP BY sync_status`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := make(map[models.SyncStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[models.SyncStatus(status)] = n
	}
	return out, rows.Err()
}
