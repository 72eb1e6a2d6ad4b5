// Package persistence is the SQLite-backed durable layer: the history
// table behind the audit sink and the notes table behind the quick-note
// sink. The task store itself is deliberately in-memory; only terminal
// outcomes and saved notes survive a restart.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id       TEXT NOT NULL,
	intent_id     TEXT NOT NULL,
	action_type   TEXT NOT NULL,
	safety_level  TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	message       TEXT NOT NULL DEFAULT '',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	finished_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_task ON history(task_id);
CREATE INDEX IF NOT EXISTS idx_history_finished ON history(finished_at);

CREATE TABLE IF NOT EXISTS notes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	text       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// DB wraps the SQLite handle shared by the durable collaborators.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the engine database at path. WAL mode
// keeps the audit append path from blocking readers.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// retryOnBusy retries fn on transient SQLITE_BUSY/LOCKED errors with
// bounded jitter.
func retryOnBusy(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		msg := err.Error()
		if !strings.Contains(msg, "database is locked") && !strings.Contains(msg, "database table is locked") {
			return err
		}
		delay := time.Duration(10+rand.IntN(40)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
