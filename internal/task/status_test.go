package task

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestCanTransitionEdges(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusDetected, StatusPending},
		{StatusDetected, StatusExpired},
		{StatusDetected, StatusFailed},
		{StatusPending, StatusActive},
		{StatusPending, StatusDismissed},
		{StatusPending, StatusExpired},
		{StatusPending, StatusFailed},
		{StatusActive, StatusDone},
		{StatusActive, StatusFailed},
	}
	for _, e := range allowed {
		if !CanTransition(e.from, e.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", e.from, e.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusDetected, StatusActive},
		{StatusDetected, StatusDone},
		{StatusDetected, StatusDismissed},
		{StatusPending, StatusDone},
		{StatusPending, StatusDetected},
		{StatusActive, StatusExpired},
		{StatusActive, StatusDismissed},
		{StatusActive, StatusPending},
		{StatusDone, StatusActive},
		{StatusFailed, StatusPending},
		{StatusExpired, StatusPending},
		{StatusDismissed, StatusActive},
		{Status("BOGUS"), StatusDone},
	}
	for _, e := range denied {
		if CanTransition(e.from, e.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", e.from, e.to)
		}
	}
}

func TestCheckTransitionError(t *testing.T) {
	if err := CheckTransition(StatusDetected, StatusPending); err != nil {
		t.Fatalf("CheckTransition valid edge: %v", err)
	}
	err := CheckTransition(StatusDone, StatusActive)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("CheckTransition = %v, want ErrInvalidTransition", err)
	}
	// Both endpoints appear in the message for diagnosability.
	for _, want := range []string{"DONE", "ACTIVE"} {
		if got := err.Error(); !strings.Contains(got, want) {
			t.Errorf("error %q missing %q", got, want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusDone, StatusFailed, StatusExpired, StatusDismissed} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
	for _, s := range []Status{StatusDetected, StatusPending, StatusActive} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
	}
}

func TestOutcome(t *testing.T) {
	if out, ok := StatusDone.Outcome(); !ok || out != "DONE" {
		t.Errorf("Outcome(DONE) = %q, %v", out, ok)
	}
	if _, ok := StatusActive.Outcome(); ok {
		t.Error("Outcome(ACTIVE) reported ok")
	}
}

func TestSafetyFor(t *testing.T) {
	passive := []ActionType{ActionClipboard, ActionNotification, ActionQuickNote, ActionReminder}
	for _, at := range passive {
		if got := SafetyFor(at); got != SafetyPassive {
			t.Errorf("SafetyFor(%s) = %s, want passive", at, got)
		}
	}
	if got := SafetyFor(ActionShellCommand); got != SafetyActive {
		t.Errorf("SafetyFor(shell_command) = %s, want active", got)
	}
	// Unknown action types fail closed to active.
	if got := SafetyFor(ActionType("teleport")); got != SafetyActive {
		t.Errorf("SafetyFor(unknown) = %s, want active", got)
	}
	if KnownActionType(ActionType("teleport")) {
		t.Error("KnownActionType(unknown) = true")
	}
	if !KnownActionType(ActionReminder) {
		t.Error("KnownActionType(reminder) = false")
	}
}

func TestPayloadAccessors(t *testing.T) {
	p := Payload{
		"text":    "buy milk",
		"fire_at": "2026-03-10T17:00:00Z",
		"empty":   "",
		"num":     42,
	}
	if s, ok := p.String("text"); !ok || s != "buy milk" {
		t.Errorf("String(text) = %q, %v", s, ok)
	}
	if _, ok := p.String("empty"); ok {
		t.Error("String(empty) = ok for empty value")
	}
	if _, ok := p.String("num"); ok {
		t.Error("String(num) = ok for non-string")
	}
	if _, ok := p.String("missing"); ok {
		t.Error("String(missing) = ok")
	}

	at, ok := p.Time("fire_at")
	if !ok {
		t.Fatal("Time(fire_at) not ok")
	}
	want := time.Date(2026, time.March, 10, 17, 0, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Errorf("Time(fire_at) = %v, want %v", at, want)
	}
	if _, ok := p.Time("text"); ok {
		t.Error("Time(text) parsed a non-timestamp")
	}

	c := p.Clone()
	c["text"] = "changed"
	if s, _ := p.String("text"); s != "buy milk" {
		t.Error("Clone shares storage with original")
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		kind      ErrorKind
		retryable bool
	}{
		{KindInvalidPayload, false},
		{KindNoHandler, false},
		{KindTimeout, true},
		{KindTransient, true},
		{KindPermanent, false},
		{KindShuttingDown, false},
	}
	for _, tc := range cases {
		e := NewError(tc.kind, "boom")
		if got := e.Retryable(); got != tc.retryable {
			t.Errorf("%s.Retryable() = %v, want %v", tc.kind, got, tc.retryable)
		}
	}
}

func TestClassify(t *testing.T) {
	te := NewError(KindTransient, "flaky")
	if got := Classify(fmt.Errorf("wrapped: %w", te)); got.Kind != KindTransient {
		t.Errorf("Classify kept kind %s, want TRANSIENT", got.Kind)
	}
	// Unclassified errors become permanent.
	got := Classify(errors.New("mystery"))
	if got.Kind != KindPermanent {
		t.Errorf("Classify(plain) kind = %s, want PERMANENT", got.Kind)
	}
	if got.Retryable() {
		t.Error("unclassified error retryable")
	}
}

func TestWrapErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	e := WrapError(KindTransient, cause, "save note")
	if !errors.Is(e, cause) {
		t.Error("WrapError lost the cause")
	}
	if got := e.Error(); !strings.Contains(got, "TRANSIENT") || !strings.Contains(got, "disk full") {
		t.Errorf("Error() = %q", got)
	}
}

func TestHistoryRecord(t *testing.T) {
	created := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)
	finished := created.Add(5 * time.Second)
	tk := &Task{
		ID:           "t1",
		IntentID:     "i1",
		ActionType:   ActionQuickNote,
		Safety:       SafetyPassive,
		Status:       StatusDone,
		CreatedAt:    created,
		AttemptCount: 1,
		Result:       &ActionResult{Success: true, Message: "note saved"},
	}
	rec, ok := tk.History(finished)
	if !ok {
		t.Fatal("History on terminal task not ok")
	}
	if rec.Outcome != StatusDone || rec.Message != "note saved" || rec.AttemptCount != 1 {
		t.Errorf("record = %+v", rec)
	}
	if !rec.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v", rec.FinishedAt)
	}

	tk.Status = StatusActive
	if _, ok := tk.History(finished); ok {
		t.Error("History on live task reported ok")
	}

	// Failures carry the last error when no result was produced.
	tk.Status = StatusFailed
	tk.Result = nil
	tk.LastError = "TIMEOUT: handler exceeded budget"
	rec, _ = tk.History(finished)
	if rec.Message != tk.LastError {
		t.Errorf("Message = %q, want last error", rec.Message)
	}
}
