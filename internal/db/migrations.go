package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

const (
	keySchemaVersion = "schema_version"
	keyHistoryCursor = "history_cursor"
	keyLastSync      = "last_sync_time"
)

// columnExists checks whether a column exists on a table
func (db *DB) columnExists(table, column string) (bool, error) {
	rows, err := db.conn.Query(fmt.Sprintf("PRAGMA table_info(%s);", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// GetSchemaVersion returns the stored schema version, 0 when unset
func (db *DB) GetSchemaVersion() (int, error) {
	v, err := db.getKV(db.conn, keySchemaVersion)
	if err != nil || v == "" {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", v, err)
	}
	return n, nil
}

// RunMigrations applies pending migrations and returns how many ran.
func (db *DB) RunMigrations() (int, error) {
	current, _ := db.GetSchemaVersion()
	if current >= SchemaVersion {
		return 0, nil
	}

	var ran int
	err := db.withWriteLock(func() error {
		var err error
		ran, err = db.runMigrationsInternal()
		return err
	})
	return ran, err
}

func (db *DB) runMigrationsInternal() (int, error) {
	current, err := db.GetSchemaVersion()
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}

	ran := 0
	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		if m.Version == 2 {
			exists, err := db.columnExists("outbound_queue", "last_error")
			if err != nil {
				return ran, fmt.Errorf("check column last_error: %w", err)
			}
			if exists {
				if err := db.setKV(db.conn, keySchemaVersion, strconv.Itoa(m.Version)); err != nil {
					return ran, fmt.Errorf("set version %d: %w", m.Version, err)
				}
				ran++
				continue
			}
		}
		if _, err := db.conn.Exec(m.SQL); err != nil {
			return ran, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if err := db.setKV(db.conn, keySchemaVersion, strconv.Itoa(m.Version)); err != nil {
			return ran, fmt.Errorf("set version %d: %w", m.Version, err)
		}
		ran++
	}
	return ran, nil
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Exec(query string, args ...any) (sql.Result, error)
}

func (db *DB) getKV(q querier, key string) (string, error) {
	var v string
	err := q.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (db *DB) setKV(q querier, key, value string) error {
	_, err := q.Exec(`INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`, key, value)
	return err
}
