package handlers

import (
	"context"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/shared"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

// Clipboard copies the payload text to the system clipboard.
type Clipboard struct {
	Surface ClipboardSurface
}

func (Clipboard) ActionType() task.ActionType   { return task.ActionClipboard }
func (Clipboard) SafetyLevel() task.SafetyLevel { return task.SafetyPassive }

func (Clipboard) Describe(payload task.Payload) string {
	text, _ := payload.String("text")
	return "Copy to clipboard: " + shared.Preview(text, 50)
}

func (h Clipboard) Execute(ctx context.Context, payload task.Payload) (task.ActionResult, error) {
	if err := ValidatePayload(task.ActionClipboard, payload); err != nil {
		return task.ActionResult{}, err
	}
	text, _ := payload.String("text")
	if err := h.Surface.Copy(ctx, text); err != nil {
		return task.ActionResult{}, task.WrapError(task.KindTransient, err, "clipboard copy failed")
	}
	return task.ActionResult{Success: true, Message: "Copied to clipboard"}, nil
}
