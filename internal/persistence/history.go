package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

// InsertHistory appends one terminal-outcome record.
func (d *DB) InsertHistory(ctx context.Context, rec task.HistoryRecord) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO history (task_id, intent_id, action_type, safety_level, outcome, message, attempt_count, created_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, rec.TaskID, rec.IntentID, string(rec.ActionType), string(rec.SafetyLevel),
			string(rec.Outcome), rec.Message, rec.AttemptCount, rec.CreatedAt.UTC(), rec.FinishedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		return nil
	})
}

// QueryHistory returns up to limit records, newest first.
func (d *DB) QueryHistory(ctx context.Context, limit int) ([]task.HistoryRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT task_id, intent_id, action_type, safety_level, outcome, message, attempt_count, created_at, finished_at
		FROM history
		ORDER BY id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []task.HistoryRecord
	for rows.Next() {
		var rec task.HistoryRecord
		var actionType, safety, outcome string
		if err := rows.Scan(&rec.TaskID, &rec.IntentID, &actionType, &safety,
			&outcome, &rec.Message, &rec.AttemptCount, &rec.CreatedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec.ActionType = task.ActionType(actionType)
		rec.SafetyLevel = task.SafetyLevel(safety)
		rec.Outcome = task.Status(outcome)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history rows: %w", err)
	}
	return out, nil
}

// PruneHistoryBefore deletes records finished before cutoff, returning the
// number removed.
func (d *DB) PruneHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM history WHERE finished_at < ?;`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountHistoryForTask returns the number of records for one task.
func (d *DB) CountHistoryForTask(ctx context.Context, taskID string) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM history WHERE task_id = ?;`, taskID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}
