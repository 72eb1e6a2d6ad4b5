package bus

// Task lifecycle topics.
const (
	TopicTaskCreated      = "task.created"
	TopicTaskStateChanged = "task.state_changed"
	TopicTaskCompleted    = "task.completed"
	TopicTaskFailed       = "task.failed"
	TopicTaskExpired      = "task.expired"
	TopicTaskRetrying     = "task.retrying"
)

// Confirmation (human-in-the-loop) topics.
const (
	TopicConfirmRequested = "confirm.requested"
	TopicConfirmResolved  = "confirm.resolved"
)

// Reminder topics.
const (
	TopicReminderFired = "reminder.fired"
)

// TaskStateChangedEvent is published on every applied transition.
type TaskStateChangedEvent struct {
	TaskID     string `json:"task_id"`
	IntentID   string `json:"intent_id"`
	ActionType string `json:"action_type"`
	OldStatus  string `json:"old_status"`
	NewStatus  string `json:"new_status"`
	Message    string `json:"message,omitempty"`
}

// ConfirmRequestedEvent is published when an active-safety task enters the
// confirmation queue.
type ConfirmRequestedEvent struct {
	TaskID     string `json:"task_id"`
	ActionType string `json:"action_type"`
	Describe   string `json:"describe"`
	ExpiresAt  string `json:"expires_at"`
}

// ConfirmResolvedEvent is published when a queued task is approved or
// dismissed.
type ConfirmResolvedEvent struct {
	TaskID   string `json:"task_id"`
	Decision string `json:"decision"` // "approve" or "dismiss"
}

// ReminderFiredEvent is published when the scheduler fires a due reminder.
type ReminderFiredEvent struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}
