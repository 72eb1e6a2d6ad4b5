// Package task defines the lifecycle-tracked materialisation of a detected
// intent: the Task model, its validated state machine, the action/safety
// taxonomy, and the failure classification used for retry decisions.
package task

import (
	"time"
)

// ActionType names the handler capability a task requires.
type ActionType string

const (
	ActionClipboard    ActionType = "clipboard"
	ActionNotification ActionType = "notification"
	ActionQuickNote    ActionType = "quick_note"
	ActionReminder     ActionType = "reminder"
	ActionShellCommand ActionType = "shell_command"
)

// SafetyLevel gates whether a task may execute without user confirmation.
type SafetyLevel string

const (
	SafetyPassive SafetyLevel = "passive"
	SafetyActive  SafetyLevel = "active"
)

// canonicalSafety is the fixed ActionType -> SafetyLevel table. Safety is
// derived from the action type alone, never from the payload, and handlers
// that report a different level are rejected at registration.
var canonicalSafety = map[ActionType]SafetyLevel{
	ActionClipboard:    SafetyPassive,
	ActionNotification: SafetyPassive,
	ActionQuickNote:    SafetyPassive,
	ActionReminder:     SafetyPassive,
	ActionShellCommand: SafetyActive,
}

// SafetyFor returns the canonical safety level for an action type.
// Unknown action types are treated as active: confirmation is the safe
// default for anything unrecognised.
func SafetyFor(at ActionType) SafetyLevel {
	if lvl, ok := canonicalSafety[at]; ok {
		return lvl
	}
	return SafetyActive
}

// KnownActionType reports whether at appears in the canonical safety table.
func KnownActionType(at ActionType) bool {
	_, ok := canonicalSafety[at]
	return ok
}

// Payload is the opaque structured map carried by a task. Accepted keys
// depend on the ActionType; handlers validate shape against their schema
// before any side effect.
type Payload map[string]any

// String returns the payload value for key if it is a non-empty string.
func (p Payload) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Time returns the payload value for key parsed as RFC3339.
func (p Payload) Time(key string) (time.Time, bool) {
	s, ok := p.String(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ActionResult is produced exactly once per terminal task.
type ActionResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Output  map[string]any `json:"output,omitempty"`
}

// Task is the executable materialisation of an intent.
//
// Mutation happens only under the store lock via UpdateViaTransition; the
// Seq counter totally orders the transitions of a single task.
type Task struct {
	ID       string
	IntentID string

	ActionType ActionType
	Payload    Payload
	Safety     SafetyLevel

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time

	AttemptCount int
	LastError    string
	Result       *ActionResult

	// Retrying marks a task awaiting a scheduled reattempt. It is an
	// internal flag, not a lifecycle state: the task stays ACTIVE.
	Retrying      bool
	NextAttemptAt time.Time

	// Seq increments on every applied transition.
	Seq uint64
}

// HistoryRecord is the append-only audit form of a terminal task.
type HistoryRecord struct {
	TaskID       string      `json:"task_id"`
	IntentID     string      `json:"intent_id"`
	ActionType   ActionType  `json:"action_type"`
	SafetyLevel  SafetyLevel `json:"safety_level"`
	Outcome      Status      `json:"outcome"`
	Message      string      `json:"message"`
	AttemptCount int         `json:"attempt_count"`
	CreatedAt    time.Time   `json:"created_at"`
	FinishedAt   time.Time   `json:"finished_at"`
}

// History builds the audit record for a terminal task. The second return
// is false when the task is not yet terminal.
func (t *Task) History(finishedAt time.Time) (HistoryRecord, bool) {
	if !t.Status.Terminal() {
		return HistoryRecord{}, false
	}
	msg := t.LastError
	if t.Result != nil {
		msg = t.Result.Message
	}
	return HistoryRecord{
		TaskID:       t.ID,
		IntentID:     t.IntentID,
		ActionType:   t.ActionType,
		SafetyLevel:  t.Safety,
		Outcome:      t.Status,
		Message:      msg,
		AttemptCount: t.AttemptCount,
		CreatedAt:    t.CreatedAt,
		FinishedAt:   finishedAt,
	}, true
}
