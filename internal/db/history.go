package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/marcus/ct/internal/models"
)

// LoadHistory returns the stored history entries in order and the cursor.
// An empty history has cursor -1.
func (db *DB) LoadHistory(ctx context.Context) ([]models.HistoryEntry, int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, action_type, timestamp, event_ids, before_data, after_data, description
		FROM history_entries ORDER BY position ASC`)
	if err != nil {
		return nil, -1, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var (
			h                  models.HistoryEntry
			ts                 int64
			ids, before, after string
		)
		if err := rows.Scan(&h.ID, &h.ActionType, &ts, &ids, &before, &after, &h.Description); err != nil {
			return nil, -1, err
		}
		h.Timestamp = models.Millis(ts)
		if err := json.Unmarshal([]byte(ids), &h.EventIDs); err != nil {
			return nil, -1, fmt.Errorf("decode event ids of %s: %w", h.ID, err)
		}
		if err := json.Unmarshal([]byte(before), &h.Before); err != nil {
			return nil, -1, fmt.Errorf("decode previous state of %s: %w", h.ID, err)
		}
		if after != "" {
			if err := json.Unmarshal([]byte(after), &h.After); err != nil {
				return nil, -1, fmt.Errorf("decode new state of %s: %w", h.ID, err)
			}
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, -1, err
	}

	raw, err := db.getKV(db.conn, keyHistoryCursor)
	if err != nil {
		return nil, -1, fmt.Errorf("load history cursor: %w", err)
	}
	cursor := len(entries) - 1
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cursor = n
		}
	}
	// clamp against a cursor written by a different history size
	cursor = max(-1, min(cursor, len(entries)-1))
	return entries, cursor, nil
}

// SaveHistory replaces the stored history with entries and cursor atomically.
func (db *DB) SaveHistory(ctx context.Context, entries []models.HistoryEntry, cursor int) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM history_entries`); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
		for i, h := range entries {
			ids, err := json.Marshal(h.EventIDs)
			if err != nil {
				return err
			}
			before, err := json.Marshal(h.Before)
			if err != nil {
				return err
			}
			var after []byte
			if len(h.After) > 0 {
				if after, err = json.Marshal(h.After); err != nil {
					return err
				}
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO history_entries
				(position, id, action_type, timestamp, event_ids, before_data, after_data, description)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				i, h.ID, string(h.ActionType), int64(h.Timestamp), string(ids), string(before), string(after), h.Description)
			if err != nil {
				return fmt.Errorf("write history entry %s: %w", h.ID, err)
			}
		}
		return db.setKV(tx, keyHistoryCursor, strconv.Itoa(cursor))
	})
}
