// Package store is the in-memory task set: primary index by id, secondary
// indexes by status and by expiry (min-heap). All mutation goes through
// UpdateViaTransition so the state machine cannot be bypassed.
package store

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

var (
	ErrNotFound  = errors.New("task not found")
	ErrDuplicate = errors.New("task already exists")
)

// expiryItem is a heap entry. Entries are never removed eagerly; stale
// entries (task gone or already terminal) are skipped on pop.
type expiryItem struct {
	expiresAt time.Time
	id        string
}

type expiryHeap []expiryItem

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)         { *h = append(*h, x.(expiryItem)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Store holds tasks keyed by id. The lock is held only across pure state
// mutations, never across handler invocations.
type Store struct {
	mu       sync.Mutex
	tasks    map[string]*task.Task
	order    []string                             // insertion order, for stable iteration
	byStatus map[task.Status]map[string]struct{}  // secondary index
	byIntent map[string]string                    // intent id -> live task id
	expiry   expiryHeap
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tasks:    make(map[string]*task.Task),
		byStatus: make(map[task.Status]map[string]struct{}),
		byIntent: make(map[string]string),
	}
}

// Insert adds a new task. The intent invariant is enforced here: an intent
// may have at most one live (non-terminal) task at a time.
func (s *Store) Insert(t *task.Task) error {
	if t.ID == "" {
		return errors.New("task id must be non-empty")
	}
	if !t.ExpiresAt.After(t.CreatedAt) {
		return fmt.Errorf("task %s: expires_at must be after created_at", t.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, t.ID)
	}
	if live, ok := s.byIntent[t.IntentID]; ok {
		return fmt.Errorf("%w: intent %s already has live task %s", ErrDuplicate, t.IntentID, live)
	}

	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	s.indexStatus(t.ID, t.Status)
	s.byIntent[t.IntentID] = t.ID
	heap.Push(&s.expiry, expiryItem{expiresAt: t.ExpiresAt, id: t.ID})
	return nil
}

// Get returns a copy of the task. Copies keep callers from mutating shared
// state outside the store lock.
func (s *Store) Get(id string) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *t, nil
}

// HasLiveIntent reports whether the intent currently has a non-terminal task.
func (s *Store) HasLiveIntent(intentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byIntent[intentID]
	return ok
}

// UpdateViaTransition applies a guarded status transition. The mutate
// callback (optional) runs under the store lock after the transition is
// validated; it must not block. Returns the updated task copy.
func (s *Store) UpdateViaTransition(id string, to task.Status, now time.Time, mutate func(*task.Task)) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := task.CheckTransition(t.Status, to); err != nil {
		return task.Task{}, fmt.Errorf("task %s: %w", id, err)
	}

	s.unindexStatus(id, t.Status)
	t.Status = to
	s.indexStatus(id, to)

	if now.After(t.UpdatedAt) { // updated_at is monotonically non-decreasing
		t.UpdatedAt = now
	}
	t.Seq++
	if mutate != nil {
		mutate(t)
	}
	if to.Terminal() {
		t.Retrying = false
		delete(s.byIntent, t.IntentID)
	}
	return *t, nil
}

// Mutate runs a callback against a task under the store lock without a
// status change (retry bookkeeping, payload enrichment). Terminal tasks
// are immutable.
func (s *Store) Mutate(id string, now time.Time, mutate func(*task.Task)) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status.Terminal() {
		return task.Task{}, fmt.Errorf("task %s is terminal", id)
	}
	if now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
	mutate(t)
	return *t, nil
}

// IterByStatus returns copies of tasks in the given status, in insertion
// order.
func (s *Store) IterByStatus(status task.Status) []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.byStatus[status]
	if !ok {
		return nil
	}
	var out []task.Task
	for _, id := range s.order {
		if _, in := ids[id]; in {
			out = append(out, *s.tasks[id])
		}
	}
	return out
}

// PopExpiredUntil pops up to limit tasks whose expiry has been reached
// (inclusive) and which are still expirable (DETECTED or PENDING).
// Popped tasks are returned as copies; the caller drives the transition.
func (s *Store) PopExpiredUntil(now time.Time, limit int) []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []task.Task
	for s.expiry.Len() > 0 && (limit <= 0 || len(out) < limit) {
		top := s.expiry[0]
		if top.expiresAt.After(now) {
			break
		}
		heap.Pop(&s.expiry)
		t, ok := s.tasks[top.id]
		if !ok || !t.ExpiresAt.Equal(top.expiresAt) {
			continue // stale heap entry
		}
		switch t.Status {
		case task.StatusDetected, task.StatusPending:
			out = append(out, *t)
		}
	}
	return out
}

// EvictTerminalOlderThan removes terminal tasks whose last update is
// before cutoff, returning the number evicted.
func (s *Store) EvictTerminalOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	kept := s.order[:0]
	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status.Terminal() && t.UpdatedAt.Before(cutoff) {
			s.unindexStatus(id, t.Status)
			delete(s.tasks, id)
			evicted++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return evicted
}

// Len returns the number of stored tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Store) indexStatus(id string, status task.Status) {
	set, ok := s.byStatus[status]
	if !ok {
		set = make(map[string]struct{})
		s.byStatus[status] = set
	}
	set[id] = struct{}{}
}

func (s *Store) unindexStatus(id string, status task.Status) {
	if set, ok := s.byStatus[status]; ok {
		delete(set, id)
	}
}
