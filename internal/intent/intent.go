// Package intent turns unstructured captured text into actionable intents.
//
// Detection is a pipeline of independent pattern matchers, one per intent
// kind. Overlapping matches are resolved by confidence, then span start,
// then a fixed kind priority. Matchers are isolated: one that panics is
// logged and skipped for that chunk only.
package intent

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Kind classifies what the user appears to want.
type Kind string

const (
	KindReminder     Kind = "reminder"
	KindNote         Kind = "note"
	KindNotification Kind = "notification"
	KindClipboard    Kind = "clipboard"
	KindShellCommand Kind = "shell_command"
	KindUnknown      Kind = "unknown"
)

// kindPriority breaks confidence ties between overlapping matches.
// Lower is stronger.
var kindPriority = map[Kind]int{
	KindReminder:     0,
	KindShellCommand: 1,
	KindNotification: 2,
	KindNote:         3,
	KindClipboard:    4,
	KindUnknown:      5,
}

// Metadata accompanies a captured text chunk.
type Metadata struct {
	Source     string // e.g. "ocr", "transcript", "dictation"
	CapturedAt time.Time
	AppHint    string // foreground application, when known
}

// Span is a half-open byte range [Start, End) into the source chunk.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Intent is an inferred user wish extracted from text. Immutable once
// produced; the ID is a content hash so identical chunks yield identical
// intent ids (detection determinism).
type Intent struct {
	ID         string
	Kind       Kind
	Text       string
	FireAt     *time.Time // parsed time expression, if any
	Span       Span
	Source     string // opaque reference back to the originating chunk
	Confidence float64
}

// intentID hashes the identity of a detection: kind, normalised text and
// source span. Stable across runs given the same input.
func intentID(kind Kind, text string, span Span) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d-%d", kind, normalise(text), span.Start, span.End)
	return fmt.Sprintf("%016x", h.Sum64())
}

// normalise lower-cases and collapses whitespace so trivial formatting
// differences do not change intent identity.
func normalise(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
