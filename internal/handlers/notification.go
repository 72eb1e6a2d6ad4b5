package handlers

import (
	"context"
	"fmt"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/shared"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

// Notification shows a user notification via the notification surface.
type Notification struct {
	Surface NotificationSurface
}

func (Notification) ActionType() task.ActionType   { return task.ActionNotification }
func (Notification) SafetyLevel() task.SafetyLevel { return task.SafetyPassive }

func (Notification) Describe(payload task.Payload) string {
	title, _ := payload.String("title")
	return "Show notification: " + shared.Preview(title, 50)
}

func (h Notification) Execute(ctx context.Context, payload task.Payload) (task.ActionResult, error) {
	if err := ValidatePayload(task.ActionNotification, payload); err != nil {
		return task.ActionResult{}, err
	}
	title, _ := payload.String("title")
	body, _ := payload.String("body")
	if err := h.Surface.Show(ctx, title, body); err != nil {
		// A busy notification surface is the canonical transient failure.
		return task.ActionResult{}, task.WrapError(task.KindTransient, err, "notification surface")
	}
	return task.ActionResult{Success: true, Message: fmt.Sprintf("Notification shown: %s", title)}, nil
}
