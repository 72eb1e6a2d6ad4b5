// Package audit is the append-only record of action outcomes. Every
// terminal task produces exactly one history record, written to a JSONL
// file and, when a database is attached, to the history table as well.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/persistence"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/shared"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

// Sink appends history records. It is an explicitly-owned component, not
// a process-wide singleton; the orchestrator and scheduler share one
// instance.
type Sink struct {
	mu     sync.Mutex
	file   *os.File
	db     *persistence.DB
	logger *slog.Logger

	appended atomic.Int64
}

// Config holds the audit sink's dependencies.
type Config struct {
	// Dir is the directory for the JSONL file (history.jsonl). Empty
	// disables the file sink.
	Dir string
	// DB, when set, mirrors records into the history table.
	DB     *persistence.DB
	Logger *slog.Logger
}

// NewSink opens the JSONL file (append-only) and returns the sink.
func NewSink(cfg Config) (*Sink, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{db: cfg.DB, logger: logger}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.Dir, "history.jsonl"),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open history.jsonl: %w", err)
		}
		s.file = f
	}
	return s, nil
}

// Append writes one record. The message is redacted before persistence;
// OCR text routinely carries keys and tokens.
func (s *Sink) Append(ctx context.Context, rec task.HistoryRecord) error {
	rec.Message = shared.Redact(rec.Message)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal history record: %w", err)
		}
		if _, err := s.file.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("append history record: %w", err)
		}
	}
	if s.db != nil {
		if err := s.db.InsertHistory(ctx, rec); err != nil {
			// The JSONL line already landed; losing the table row is
			// recoverable, losing both is not. Log and continue.
			s.logger.Error("audit: history table insert failed",
				"task_id", rec.TaskID, "error", err)
		}
	}
	s.appended.Add(1)
	return nil
}

// Query returns recent records from the database sink, newest first.
// Returns nil when no database is attached.
func (s *Sink) Query(ctx context.Context, limit int) ([]task.HistoryRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	return s.db.QueryHistory(ctx, limit)
}

// AppendedCount returns the number of records appended since startup.
func (s *Sink) AppendedCount() int64 {
	return s.appended.Load()
}

// Flush forces file contents to stable storage.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

// Close flushes and closes the file sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
