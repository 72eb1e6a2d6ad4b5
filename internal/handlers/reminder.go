package handlers

import (
	"context"
	"fmt"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/shared"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

// Reminder validates and arms a reminder. It performs no blocking work
// itself: the scheduler fires the reminder at its payload fire_at via the
// notification handler.
type Reminder struct{}

func (Reminder) ActionType() task.ActionType   { return task.ActionReminder }
func (Reminder) SafetyLevel() task.SafetyLevel { return task.SafetyPassive }

func (Reminder) Describe(payload task.Payload) string {
	msg, _ := payload.String("message")
	out := "Remind: " + shared.Preview(msg, 50)
	if at, ok := payload.Time("fire_at"); ok {
		out += " at " + at.Format("Jan 2 15:04")
	}
	return out
}

func (Reminder) Execute(ctx context.Context, payload task.Payload) (task.ActionResult, error) {
	if err := ValidatePayload(task.ActionReminder, payload); err != nil {
		return task.ActionResult{}, err
	}
	if raw, ok := payload.String("fire_at"); ok {
		if _, parses := payload.Time("fire_at"); !parses {
			return task.ActionResult{}, task.NewError(task.KindInvalidPayload,
				"fire_at %q is not RFC3339", raw)
		}
	}
	msg, _ := payload.String("message")
	return task.ActionResult{Success: true, Message: fmt.Sprintf("Reminder armed: %s", msg)}, nil
}
