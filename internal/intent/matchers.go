package intent

import (
	"regexp"
	"strings"
	"time"
)

// candidate is a raw matcher hit before overlap resolution and the
// confidence threshold.
type candidate struct {
	kind       Kind
	span       Span
	text       string
	fireAt     *time.Time
	confidence float64
}

// Matcher produces zero or more candidates for one intent kind.
// Implementations must not panic; the pipeline recovers and skips a
// matcher that does, but that is a bug to fix, not a control path.
type Matcher interface {
	Name() string
	Match(text string, meta Metadata, now time.Time) []candidate
}

// Confidence is a weighted sum of cue strength, context and field
// completeness. The weights are fixed; matchers pick the cue strength.
const (
	weightContext      = 0.05
	weightCompleteness = 0.15
)

// appHints maps intent kinds to foreground-app hints that make the kind
// more plausible (e.g. a terminal hint strengthens shell detection).
var appHints = map[Kind][]string{
	KindReminder:     {"calendar", "todo", "mail"},
	KindNote:         {"notes", "editor", "docs"},
	KindNotification: {"calendar", "monitoring"},
	KindClipboard:    {"browser", "editor", "terminal"},
	KindShellCommand: {"terminal", "editor"},
}

func contextBonus(kind Kind, meta Metadata) float64 {
	hint := strings.ToLower(meta.AppHint)
	if hint == "" {
		return 0
	}
	for _, h := range appHints[kind] {
		if strings.Contains(hint, h) {
			return weightContext
		}
	}
	return 0
}

func completenessBonus(fields ...string) float64 {
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return 0
		}
	}
	return weightCompleteness
}

// --- Reminder ---

var (
	reRemindMe   = regexp.MustCompile(`(?i)\bremind me (?:to|about)?\s*(.+)`)
	reDontForget = regexp.MustCompile(`(?i)\bdon'?t forget (?:to\s+)?(.+)`)
	reAtSignTime = regexp.MustCompile(`(?i)(.+?)\s+@\s*(.+)`)
)

type reminderMatcher struct{}

func (reminderMatcher) Name() string { return "reminder" }

func (reminderMatcher) Match(text string, meta Metadata, now time.Time) []candidate {
	var out []candidate
	for _, re := range []*regexp.Regexp{reRemindMe, reDontForget} {
		m := re.FindStringSubmatchIndex(text)
		if m == nil {
			continue
		}
		body := text[m[2]:m[3]]
		tm := findTime(body, now)
		msg := stripTime(body, tm)
		conf := 0.6 + contextBonus(KindReminder, meta) + completenessBonus(msg)
		if tm != nil {
			conf += 0.15
		}
		c := candidate{
			kind:       KindReminder,
			span:       Span{m[0], m[1]},
			text:       msg,
			confidence: clamp(conf),
		}
		if tm != nil {
			at := tm.at
			c.fireAt = &at
		}
		out = append(out, c)
	}
	if len(out) > 0 {
		return out
	}

	// "<something> @ <time>" dictation shorthand.
	if m := reAtSignTime.FindStringSubmatchIndex(text); m != nil {
		tm := findTime(text[m[4]:m[5]], now)
		if tm != nil {
			msg := strings.TrimSpace(text[m[2]:m[3]])
			at := tm.at
			out = append(out, candidate{
				kind:       KindReminder,
				span:       Span{m[0], m[1]},
				text:       msg,
				fireAt:     &at,
				confidence: clamp(0.5 + 0.15 + contextBonus(KindReminder, meta) + completenessBonus(msg)),
			})
		}
	}
	return out
}

// --- Note ---

var (
	reNoteCue     = regexp.MustCompile(`(?i)\b(?:note|todo):\s*(.+)`)
	reRememberCue = regexp.MustCompile(`(?i)\bremember\s+(?:to\s+|that\s+)?(.+)`)
	// Leading verbs that usually open an action sentence in dictation.
	reLeadingVerb = regexp.MustCompile(`(?i)^(buy|call|email|send|fix|review|schedule|pay|book|read|write)\b\s+(.+)`)
)

type noteMatcher struct{}

func (noteMatcher) Name() string { return "note" }

func (noteMatcher) Match(text string, meta Metadata, now time.Time) []candidate {
	var out []candidate
	for _, re := range []*regexp.Regexp{reNoteCue, reRememberCue} {
		if m := re.FindStringSubmatchIndex(text); m != nil {
			body := strings.TrimSpace(text[m[2]:m[3]])
			out = append(out, candidate{
				kind:       KindNote,
				span:       Span{m[0], m[1]},
				text:       body,
				confidence: clamp(0.6 + contextBonus(KindNote, meta) + completenessBonus(body)),
			})
		}
	}
	if len(out) > 0 {
		return out
	}
	if m := reLeadingVerb.FindStringSubmatchIndex(strings.TrimSpace(text)); m != nil {
		trimmed := strings.TrimSpace(text)
		offset := len(text) - len(strings.TrimLeft(text, " \t"))
		body := trimmed
		out = append(out, candidate{
			kind:       KindNote,
			span:       Span{offset, offset + m[1]},
			text:       body,
			confidence: clamp(0.45 + contextBonus(KindNote, meta) + completenessBonus(trimmed[m[4]:m[5]])),
		})
	}
	return out
}

// --- Notification ---

var (
	reNotifyMe  = regexp.MustCompile(`(?i)\bnotify me\s+(?:about\s+|when\s+|of\s+)?(.+)`)
	reAlertWhen = regexp.MustCompile(`(?i)\balert\s+(?:me\s+)?when\s+(.+)`)
)

type notificationMatcher struct{}

func (notificationMatcher) Name() string { return "notification" }

func (notificationMatcher) Match(text string, meta Metadata, now time.Time) []candidate {
	var out []candidate
	for _, re := range []*regexp.Regexp{reNotifyMe, reAlertWhen} {
		if m := re.FindStringSubmatchIndex(text); m != nil {
			body := strings.TrimSpace(text[m[2]:m[3]])
			out = append(out, candidate{
				kind:       KindNotification,
				span:       Span{m[0], m[1]},
				text:       body,
				confidence: clamp(0.6 + contextBonus(KindNotification, meta) + completenessBonus(body)),
			})
		}
	}
	return out
}

// --- Clipboard ---

var (
	reCopyThis  = regexp.MustCompile(`(?i)\bcopy this[:\s]\s*(.+)`)
	reToClip    = regexp.MustCompile(`(?i)\bcopy\s+(.+?)\s+to (?:the )?clipboard\b`)
	reInlineVal = "`" + `([^` + "`" + `]+)` + "`"
)

var reInlineCode = regexp.MustCompile(reInlineVal)

type clipboardMatcher struct{}

func (clipboardMatcher) Name() string { return "clipboard" }

func (clipboardMatcher) Match(text string, meta Metadata, now time.Time) []candidate {
	var out []candidate
	if m := reCopyThis.FindStringSubmatchIndex(text); m != nil {
		body := strings.TrimSpace(text[m[2]:m[3]])
		out = append(out, candidate{
			kind:       KindClipboard,
			span:       Span{m[0], m[1]},
			text:       body,
			confidence: clamp(0.6 + contextBonus(KindClipboard, meta) + completenessBonus(body)),
		})
	}
	if m := reToClip.FindStringSubmatchIndex(text); m != nil {
		body := strings.TrimSpace(text[m[2]:m[3]])
		out = append(out, candidate{
			kind:       KindClipboard,
			span:       Span{m[0], m[1]},
			text:       body,
			confidence: clamp(0.6 + contextBonus(KindClipboard, meta) + completenessBonus(body)),
		})
	}
	// An inline code or URL span counts only when the chunk asks to copy.
	if len(out) == 0 && strings.Contains(strings.ToLower(text), "copy") {
		if m := reInlineCode.FindStringSubmatchIndex(text); m != nil {
			body := strings.TrimSpace(text[m[2]:m[3]])
			out = append(out, candidate{
				kind:       KindClipboard,
				span:       Span{m[0], m[1]},
				text:       body,
				confidence: clamp(0.5 + contextBonus(KindClipboard, meta) + completenessBonus(body)),
			})
		}
	}
	return out
}

// --- ShellCommand ---

var reDollarLine = regexp.MustCompile(`(?m)^\s*\$\s+(.+)$`)

// shellConfidenceCap bounds shell-command confidence: a staged command is
// never treated as a high-certainty detection.
const shellConfidenceCap = 0.7

type shellMatcher struct{}

func (shellMatcher) Name() string { return "shell_command" }

func (shellMatcher) Match(text string, meta Metadata, now time.Time) []candidate {
	var out []candidate
	if m := reDollarLine.FindStringSubmatchIndex(text); m != nil {
		cmd := strings.TrimSpace(text[m[2]:m[3]])
		if tokenisesAsShell(cmd) {
			out = append(out, candidate{
				kind:       KindShellCommand,
				span:       Span{m[0], m[1]},
				text:       cmd,
				confidence: min(shellConfidenceCap, 0.55+contextBonus(KindShellCommand, meta)+completenessBonus(cmd)),
			})
		}
	}
	if len(out) == 0 {
		if m := reInlineCode.FindStringSubmatchIndex(text); m != nil {
			cmd := strings.TrimSpace(text[m[2]:m[3]])
			if tokenisesAsShell(cmd) && looksLikeCommand(cmd) {
				out = append(out, candidate{
					kind:       KindShellCommand,
					span:       Span{m[0], m[1]},
					text:       cmd,
					confidence: min(shellConfidenceCap, 0.5+contextBonus(KindShellCommand, meta)+completenessBonus(cmd)),
				})
			}
		}
	}
	return out
}

// tokenisesAsShell runs a minimal POSIX-ish tokenisation: words split on
// whitespace with single/double quote grouping. Unbalanced quotes fail.
func tokenisesAsShell(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		}
	}
	return quote == 0
}

// looksLikeCommand guards the inline-code path against prose in backticks:
// the first token must look like a program name or path.
func looksLikeCommand(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	head := fields[0]
	for _, r := range head {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == '.' || r == '_' || r == '-' || r == '/') {
			return false
		}
	}
	return len(fields) > 1 || strings.ContainsAny(head, "./-")
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
