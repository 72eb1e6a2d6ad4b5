package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/shared"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

// ShellCommand stages a shell command for the user. It never spawns a
// process: the only side effect is a log line. SafetyLevel is active
// unconditionally; the registry cross-checks it against the canonical
// table anyway.
type ShellCommand struct {
	Logger *slog.Logger
}

func (ShellCommand) ActionType() task.ActionType   { return task.ActionShellCommand }
func (ShellCommand) SafetyLevel() task.SafetyLevel { return task.SafetyActive }

func (ShellCommand) Describe(payload task.Payload) string {
	cmd, _ := payload.String("command")
	return "Stage shell command: " + shared.Preview(shared.Redact(cmd), 80)
}

func (h ShellCommand) Execute(ctx context.Context, payload task.Payload) (task.ActionResult, error) {
	if err := ValidatePayload(task.ActionShellCommand, payload); err != nil {
		return task.ActionResult{}, err
	}
	cmd, _ := payload.String("command")
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("shell command staged", "command", shared.Redact(cmd))
	return task.ActionResult{
		Success: true,
		Message: fmt.Sprintf("Command staged for execution: %s", cmd),
		Output:  map[string]any{"staged": true},
	}, nil
}
