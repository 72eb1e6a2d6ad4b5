package persistence

import (
	"context"
	"fmt"
	"time"
)

// Note is one saved quick note.
type Note struct {
	ID        int64
	Text      string
	CreatedAt time.Time
}

// SaveNote persists a quick note. Implements the NoteSink collaborator.
func (d *DB) SaveNote(ctx context.Context, text string, createdAt time.Time) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := d.db.ExecContext(ctx,
			`INSERT INTO notes (text, created_at) VALUES (?, ?);`, text, createdAt.UTC())
		if err != nil {
			return fmt.Errorf("save note: %w", err)
		}
		return nil
	})
}

// ListNotes returns up to limit notes, newest first.
func (d *DB) ListNotes(ctx context.Context, limit int) ([]Note, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, text, created_at FROM notes ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Text, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("note rows: %w", err)
	}
	return out, nil
}
