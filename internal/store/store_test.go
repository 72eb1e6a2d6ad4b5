package store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/store"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

var storeNow = time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

func newTask(id, intentID string, expiresIn time.Duration) *task.Task {
	return &task.Task{
		ID:         id,
		IntentID:   intentID,
		ActionType: task.ActionQuickNote,
		Safety:     task.SafetyPassive,
		Status:     task.StatusDetected,
		CreatedAt:  storeNow,
		UpdatedAt:  storeNow,
		ExpiresAt:  storeNow.Add(expiresIn),
	}
}

func TestInsertAndGet(t *testing.T) {
	s := store.New()
	if err := s.Insert(newTask("t1", "i1", time.Hour)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := s.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IntentID != "i1" || got.Status != task.StatusDetected {
		t.Errorf("Get = %+v", got)
	}
	if _, err := s.Get("nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestInsertRejectsDuplicates(t *testing.T) {
	s := store.New()
	if err := s.Insert(newTask("t1", "i1", time.Hour)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(newTask("t1", "i2", time.Hour)); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate id: %v, want ErrDuplicate", err)
	}
	// One live task per intent.
	if err := s.Insert(newTask("t2", "i1", time.Hour)); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate live intent: %v, want ErrDuplicate", err)
	}
	if !s.HasLiveIntent("i1") {
		t.Error("HasLiveIntent(i1) = false")
	}
}

func TestInsertValidates(t *testing.T) {
	s := store.New()
	if err := s.Insert(newTask("", "i1", time.Hour)); err == nil {
		t.Error("empty id accepted")
	}
	bad := newTask("t1", "i1", time.Hour)
	bad.ExpiresAt = bad.CreatedAt
	if err := s.Insert(bad); err == nil {
		t.Error("expires_at == created_at accepted")
	}
}

func TestTerminalFreesIntent(t *testing.T) {
	s := store.New()
	if err := s.Insert(newTask("t1", "i1", time.Hour)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.UpdateViaTransition("t1", task.StatusExpired, storeNow.Add(time.Hour), nil); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if s.HasLiveIntent("i1") {
		t.Error("intent still live after terminal transition")
	}
	// The same intent may now materialise a fresh task.
	if err := s.Insert(newTask("t2", "i1", time.Hour)); err != nil {
		t.Errorf("re-insert after terminal: %v", err)
	}
}

func TestUpdateViaTransition(t *testing.T) {
	s := store.New()
	if err := s.Insert(newTask("t1", "i1", time.Hour)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	later := storeNow.Add(time.Second)
	got, err := s.UpdateViaTransition("t1", task.StatusPending, later, func(tk *task.Task) {
		tk.AttemptCount = 1
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != task.StatusPending || got.Seq != 1 || got.AttemptCount != 1 {
		t.Errorf("after transition: %+v", got)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}

	// Status index follows the task.
	if n := len(s.IterByStatus(task.StatusDetected)); n != 0 {
		t.Errorf("DETECTED index holds %d tasks after transition", n)
	}
	if n := len(s.IterByStatus(task.StatusPending)); n != 1 {
		t.Errorf("PENDING index holds %d tasks", n)
	}

	// Invalid edges fail closed and leave the task untouched.
	if _, err := s.UpdateViaTransition("t1", task.StatusDone, later, nil); !errors.Is(err, task.ErrInvalidTransition) {
		t.Errorf("invalid edge: %v, want ErrInvalidTransition", err)
	}
	got, _ = s.Get("t1")
	if got.Status != task.StatusPending || got.Seq != 1 {
		t.Errorf("task changed by rejected transition: %+v", got)
	}

	if _, err := s.UpdateViaTransition("missing", task.StatusPending, later, nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing task: %v, want ErrNotFound", err)
	}
}

func TestUpdatedAtNeverRegresses(t *testing.T) {
	s := store.New()
	if err := s.Insert(newTask("t1", "i1", time.Hour)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	earlier := storeNow.Add(-time.Minute)
	got, err := s.UpdateViaTransition("t1", task.StatusPending, earlier, nil)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.UpdatedAt.Before(storeNow) {
		t.Errorf("UpdatedAt regressed to %v", got.UpdatedAt)
	}
}

func TestMutate(t *testing.T) {
	s := store.New()
	if err := s.Insert(newTask("t1", "i1", time.Hour)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := s.Mutate("t1", storeNow.Add(time.Second), func(tk *task.Task) {
		tk.Retrying = true
		tk.NextAttemptAt = storeNow.Add(2 * time.Second)
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if !got.Retrying || got.Seq != 0 {
		t.Errorf("after Mutate: %+v", got)
	}

	s.UpdateViaTransition("t1", task.StatusExpired, storeNow.Add(time.Hour), nil)
	if _, err := s.Mutate("t1", storeNow.Add(time.Hour), func(*task.Task) {}); err == nil {
		t.Error("Mutate on terminal task succeeded")
	}
}

func TestIterByStatusInsertionOrder(t *testing.T) {
	s := store.New()
	for _, id := range []string{"c", "a", "b"} {
		if err := s.Insert(newTask(id, "i-"+id, time.Hour)); err != nil {
			t.Fatalf("Insert(%s): %v", id, err)
		}
	}
	got := s.IterByStatus(task.StatusDetected)
	if len(got) != 3 {
		t.Fatalf("IterByStatus = %d tasks", len(got))
	}
	for i, want := range []string{"c", "a", "b"} {
		if got[i].ID != want {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, want)
		}
	}
	if s.IterByStatus(task.StatusDone) != nil {
		t.Error("empty status returned non-nil slice")
	}
}

func TestPopExpiredUntil(t *testing.T) {
	s := store.New()
	// Inserted out of expiry order; pops must come back soonest-first.
	s.Insert(newTask("late", "i1", 3*time.Hour))
	s.Insert(newTask("soon", "i2", 1*time.Hour))
	s.Insert(newTask("mid", "i3", 2*time.Hour))

	got := s.PopExpiredUntil(storeNow.Add(30*time.Minute), 0)
	if len(got) != 0 {
		t.Fatalf("premature pop: %v", got)
	}

	got = s.PopExpiredUntil(storeNow.Add(4*time.Hour), 0)
	if len(got) != 3 {
		t.Fatalf("popped %d, want 3", len(got))
	}
	for i, want := range []string{"soon", "mid", "late"} {
		if got[i].ID != want {
			t.Errorf("pop %d = %s, want %s", i, got[i].ID, want)
		}
	}

	// Popped entries are consumed.
	if got = s.PopExpiredUntil(storeNow.Add(4*time.Hour), 0); len(got) != 0 {
		t.Errorf("second pop returned %d tasks", len(got))
	}
}

func TestPopExpiredUntilLimit(t *testing.T) {
	s := store.New()
	for i, id := range []string{"a", "b", "c"} {
		tk := newTask(id, "i-"+id, time.Duration(i+1)*time.Minute)
		s.Insert(tk)
	}
	got := s.PopExpiredUntil(storeNow.Add(time.Hour), 2)
	if len(got) != 2 {
		t.Fatalf("popped %d, want limit 2", len(got))
	}
	got = s.PopExpiredUntil(storeNow.Add(time.Hour), 2)
	if len(got) != 1 {
		t.Fatalf("remainder pop = %d, want 1", len(got))
	}
}

func TestPopExpiredSkipsNonExpirable(t *testing.T) {
	s := store.New()
	s.Insert(newTask("active", "i1", time.Minute))
	s.Insert(newTask("pending", "i2", time.Minute))
	s.Insert(newTask("detected", "i3", time.Minute))

	s.UpdateViaTransition("active", task.StatusPending, storeNow, nil)
	s.UpdateViaTransition("active", task.StatusActive, storeNow, nil)
	s.UpdateViaTransition("pending", task.StatusPending, storeNow, nil)

	got := s.PopExpiredUntil(storeNow.Add(time.Hour), 0)
	if len(got) != 2 {
		t.Fatalf("popped %d, want 2 (ACTIVE is not expirable)", len(got))
	}
	for _, tk := range got {
		if tk.ID == "active" {
			t.Error("popped an ACTIVE task")
		}
	}
}

func TestEvictTerminalOlderThan(t *testing.T) {
	s := store.New()
	s.Insert(newTask("old", "i1", time.Hour))
	s.Insert(newTask("fresh", "i2", time.Hour))
	s.Insert(newTask("live", "i3", time.Hour))

	s.UpdateViaTransition("old", task.StatusExpired, storeNow.Add(time.Minute), nil)
	s.UpdateViaTransition("fresh", task.StatusExpired, storeNow.Add(time.Hour), nil)

	n := s.EvictTerminalOlderThan(storeNow.Add(30 * time.Minute))
	if n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if _, err := s.Get("old"); !errors.Is(err, store.ErrNotFound) {
		t.Error("old terminal task still present")
	}
	if _, err := s.Get("fresh"); err != nil {
		t.Errorf("fresh terminal task evicted: %v", err)
	}
	if _, err := s.Get("live"); err != nil {
		t.Errorf("live task evicted: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}
