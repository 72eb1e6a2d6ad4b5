// Package handlers contains the concrete action implementations and the
// payload schemas that form the engine's external contract. Each handler
// validates its payload against the schema before any side effect.
package handlers

import (
	"context"
	"time"
)

// NotificationSurface shows a notification to the user.
type NotificationSurface interface {
	Show(ctx context.Context, title, body string) error
}

// ClipboardSurface copies text to the system clipboard.
type ClipboardSurface interface {
	Copy(ctx context.Context, text string) error
}

// NoteSink persists a quick note.
type NoteSink interface {
	SaveNote(ctx context.Context, text string, createdAt time.Time) error
}
