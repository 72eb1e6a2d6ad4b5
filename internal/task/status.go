package task

import "fmt"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusDetected  Status = "DETECTED"
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusDone      Status = "DONE"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
	StatusDismissed Status = "DISMISSED"
)

// allowedTransitions is the canonical edge set of the task state machine.
// Anything not listed fails closed with ErrInvalidTransition.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusDetected: {
		StatusPending: {}, // orchestrator after admission
		StatusExpired: {}, // scheduler, never admitted
		StatusFailed:  {}, // admission failure (no handler registered)
	},
	StatusPending: {
		StatusActive:    {}, // orchestrator (passive) or confirmation approve
		StatusDismissed: {}, // user dismissal via confirmation queue
		StatusExpired:   {}, // scheduler when now >= expires_at
		StatusFailed:    {}, // forced terminal during drain
	},
	StatusActive: {
		StatusDone:   {}, // handler success
		StatusFailed: {}, // non-retryable error or retries exhausted
	},
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusExpired, StatusDismissed:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusDetected, StatusPending, StatusActive,
		StatusDone, StatusFailed, StatusExpired, StatusDismissed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a permitted edge.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// CheckTransition returns ErrInvalidTransition (wrapped with both states)
// when from -> to is not a permitted edge.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Outcome maps a terminal status to its history-record outcome string.
// Non-terminal statuses have no outcome.
func (s Status) Outcome() (string, bool) {
	if !s.Terminal() {
		return "", false
	}
	return string(s), true
}
