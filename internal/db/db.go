// Package db is the local event store: contractions, the durable outbound
// queue and the undo history, all persisted in one SQLite file.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcus/ct/internal/models"
	_ "modernc.org/sqlite"
)

const (
	dataDir = ".ct"
	dbFile  = "events.db"
)

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	baseDir string
	now     func() models.Millis
}

// Path returns the database file location for baseDir
func Path(baseDir string) string {
	return filepath.Join(baseDir, dataDir, dbFile)
}

// Open opens (creating if needed) the database under baseDir and brings the
// schema up to date. Queue operations left mid-flight by a crashed process
// are returned to pending.
func Open(baseDir string) (*DB, error) {
	dbPath := Path(baseDir)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets readers proceed while a writer holds the lock
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	db := &DB{conn: conn, baseDir: baseDir, now: models.Now}

	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if err := db.recoverProcessing(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("recover queue: %w", err)
	}

	return db, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// BaseDir returns the base directory for the database
func (db *DB) BaseDir() string {
	return db.baseDir
}

// SetClock overrides the timestamp source. Used by tests.
func (db *DB) SetClock(now func() models.Millis) {
	db.now = now
}

// withWriteLock executes fn while holding the cross-process write lock.
func (db *DB) withWriteLock(fn func() error) error {
	lock := newFileLock(filepath.Join(db.baseDir, dataDir))
	if err := lock.acquire(defaultTimeout); err != nil {
		return err
	}
	defer lock.release()
	return fn()
}

// withTx runs fn in a transaction under the write lock.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return db.withWriteLock(func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
