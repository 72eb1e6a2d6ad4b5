// Package confirm is the human-in-the-loop gate: a FIFO queue of
// active-safety tasks awaiting a user decision, plus the auto-approve
// rule set that can short-circuit it for passive-equivalent payloads.
package confirm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/bus"
)

// Decision is a user's verdict on a queued task.
type Decision string

const (
	Approve Decision = "approve"
	Dismiss Decision = "dismiss"
)

var (
	ErrNotFound        = errors.New("confirmation not found")
	ErrAlreadyResolved = errors.New("confirmation already resolved")
	ErrExpired         = errors.New("confirmation expired")
)

// Entry is one queued confirmation.
type Entry struct {
	TaskID      string    `json:"task_id"`
	ActionType  string    `json:"action_type"`
	Describe    string    `json:"describe"`
	PresentedAt time.Time `json:"presented_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Queue holds pending confirmations in FIFO order. Decisions are
// single-shot: a second resolve for the same task is rejected.
type Queue struct {
	mu       sync.Mutex
	entries  []Entry
	byTask   map[string]int // task id -> index hint; rebuilt on removal
	resolved map[string]resolvedMark
	bus      *bus.Bus
}

// resolvedMark records a past decision and when it was made, so markers
// can be evicted once the task's retention window has passed.
type resolvedMark struct {
	decision Decision
	at       time.Time
}

// NewQueue creates an empty confirmation queue. The bus is optional; when
// present, enqueue and resolve publish confirm.* events.
func NewQueue(b *bus.Bus) *Queue {
	return &Queue{
		byTask:   make(map[string]int),
		resolved: make(map[string]resolvedMark),
		bus:      b,
	}
}

// Enqueue appends a confirmation entry. Duplicate task ids are rejected.
func (q *Queue) Enqueue(e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byTask[e.TaskID]; ok {
		return fmt.Errorf("task %s already queued", e.TaskID)
	}
	if _, ok := q.resolved[e.TaskID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, e.TaskID)
	}
	q.entries = append(q.entries, e)
	q.byTask[e.TaskID] = len(q.entries) - 1
	if q.bus != nil {
		q.bus.Publish(bus.TopicConfirmRequested, bus.ConfirmRequestedEvent{
			TaskID:     e.TaskID,
			ActionType: e.ActionType,
			Describe:   e.Describe,
			ExpiresAt:  e.ExpiresAt.Format(time.RFC3339),
		})
	}
	return nil
}

// List returns an ordered snapshot of pending entries.
func (q *Queue) List() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Resolve applies a decision atomically. A task not present yields
// ErrNotFound, a second resolve ErrAlreadyResolved, and a decision
// arriving after the entry's expiry ErrExpired (the entry is removed).
func (q *Queue) Resolve(taskID string, decision Decision, now time.Time) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if prior, ok := q.resolved[taskID]; ok {
		return Entry{}, fmt.Errorf("%w: %s (was %s)", ErrAlreadyResolved, taskID, prior.decision)
	}
	idx, ok := q.index(taskID)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	e := q.entries[idx]
	if !now.Before(e.ExpiresAt) {
		q.removeAt(idx)
		return Entry{}, fmt.Errorf("%w: %s", ErrExpired, taskID)
	}

	q.removeAt(idx)
	q.resolved[taskID] = resolvedMark{decision: decision, at: now}
	if q.bus != nil {
		q.bus.Publish(bus.TopicConfirmResolved, bus.ConfirmResolvedEvent{
			TaskID:   taskID,
			Decision: string(decision),
		})
	}
	return e, nil
}

// Drop removes a pending entry without a decision (task expired or forced
// terminal elsewhere). Unknown ids are a no-op.
func (q *Queue) Drop(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx, ok := q.index(taskID); ok {
		q.removeAt(idx)
	}
}

func (q *Queue) index(taskID string) (int, bool) {
	// The hint may be stale after removals; verify and fall back to scan.
	if idx, ok := q.byTask[taskID]; ok {
		if idx < len(q.entries) && q.entries[idx].TaskID == taskID {
			return idx, true
		}
		for i, e := range q.entries {
			if e.TaskID == taskID {
				q.byTask[taskID] = i
				return i, true
			}
		}
	}
	return 0, false
}

func (q *Queue) removeAt(idx int) {
	taskID := q.entries[idx].TaskID
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	delete(q.byTask, taskID)
}

// Resolution returns the decision previously applied to taskID, if any.
func (q *Queue) Resolution(taskID string) (Decision, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.resolved[taskID]
	return m.decision, ok
}

// EvictResolvedBefore drops resolved markers older than cutoff and returns
// how many were removed. The tasks they guarded are long terminal by then;
// a later resolve for an evicted id reports ErrNotFound.
func (q *Queue) EvictResolvedBefore(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	for id, m := range q.resolved {
		if m.at.Before(cutoff) {
			delete(q.resolved, id)
			n++
		}
	}
	return n
}
