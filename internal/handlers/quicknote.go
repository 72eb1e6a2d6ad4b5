package handlers

import (
	"context"
	"fmt"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/clock"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/shared"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

// notePreviewBytes bounds the preview echoed in the result message; the
// cut never splits a UTF-8 character.
const notePreviewBytes = 50

// QuickNote persists the payload text via the note sink.
type QuickNote struct {
	Sink  NoteSink
	Clock clock.Clock
}

func (QuickNote) ActionType() task.ActionType   { return task.ActionQuickNote }
func (QuickNote) SafetyLevel() task.SafetyLevel { return task.SafetyPassive }

func (QuickNote) Describe(payload task.Payload) string {
	text, _ := payload.String("text")
	return "Save note: " + shared.Preview(text, notePreviewBytes)
}

func (h QuickNote) Execute(ctx context.Context, payload task.Payload) (task.ActionResult, error) {
	if err := ValidatePayload(task.ActionQuickNote, payload); err != nil {
		return task.ActionResult{}, err
	}
	text, _ := payload.String("text")
	ck := h.Clock
	if ck == nil {
		ck = clock.System{}
	}
	if err := h.Sink.SaveNote(ctx, text, ck.NowWall()); err != nil {
		return task.ActionResult{}, task.WrapError(task.KindTransient, err, "note sink")
	}
	return task.ActionResult{
		Success: true,
		Message: fmt.Sprintf("Note saved: %s", shared.Preview(text, notePreviewBytes)),
	}, nil
}
