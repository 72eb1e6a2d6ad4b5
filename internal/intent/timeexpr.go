package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The time-expression grammar is deliberately small and documented here in
// full. Expressions that do not fit any of these forms are treated as "no
// time" and the engine falls back to the default TTL.
//
//	in N seconds|secs|s|minutes|min|m|hours|h|days|d
//	tomorrow [at H[:MM][am|pm]]
//	next monday..sunday
//	at H[:MM][am|pm]
//	HH:MM           (24-hour)
//	Ham | Hpm       (e.g. 3pm)
//	<Month> D       (e.g. Dec 3, December 3)

var (
	reRelative = regexp.MustCompile(`(?i)\bin\s+(\d+)\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d)\b`)
	reTomorrow = regexp.MustCompile(`(?i)\btomorrow(?:\s+at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?)?\b`)
	reNextDay  = regexp.MustCompile(`(?i)\bnext\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	reAtClock  = regexp.MustCompile(`(?i)\bat\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	reClock24  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	reMeridiem = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(am|pm)\b`)
	reMonthDay = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\s+(\d{1,2})\b`)
)

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// timeMatch is a parsed time expression and the span of text it consumed.
type timeMatch struct {
	at   time.Time
	span Span
}

// findTime scans text for the first recognisable time expression and
// resolves it against now in the local time zone. Returns nil when no
// expression parses; callers then apply the default TTL.
func findTime(text string, now time.Time) *timeMatch {
	if m := reRelative.FindStringSubmatchIndex(text); m != nil {
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil || n <= 0 {
			return nil
		}
		unit := strings.ToLower(text[m[4]:m[5]])
		var d time.Duration
		switch unit[0] {
		case 's':
			d = time.Duration(n) * time.Second
		case 'm':
			d = time.Duration(n) * time.Minute
		case 'h':
			d = time.Duration(n) * time.Hour
		case 'd':
			d = time.Duration(n) * 24 * time.Hour
		}
		return &timeMatch{at: now.Add(d), span: Span{m[0], m[1]}}
	}

	if m := reTomorrow.FindStringSubmatchIndex(text); m != nil {
		hour, min := 9, 0 // morning default when no clock time given
		if m[2] >= 0 {
			hour, _ = strconv.Atoi(text[m[2]:m[3]])
			if m[4] >= 0 {
				min, _ = strconv.Atoi(text[m[4]:m[5]])
			}
			if m[6] >= 0 {
				hour = applyMeridiem(hour, text[m[6]:m[7]])
			}
		}
		if hour > 23 || min > 59 {
			return nil
		}
		day := now.AddDate(0, 0, 1)
		at := time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, now.Location())
		return &timeMatch{at: at, span: Span{m[0], m[1]}}
	}

	if m := reNextDay.FindStringSubmatchIndex(text); m != nil {
		wd := weekdays[strings.ToLower(text[m[2]:m[3]])]
		days := (int(wd) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		day := now.AddDate(0, 0, days)
		at := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, now.Location())
		return &timeMatch{at: at, span: Span{m[0], m[1]}}
	}

	if m := reAtClock.FindStringSubmatchIndex(text); m != nil {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		min := 0
		if m[4] >= 0 {
			min, _ = strconv.Atoi(text[m[4]:m[5]])
		}
		if m[6] >= 0 {
			hour = applyMeridiem(hour, text[m[6]:m[7]])
		}
		if at, ok := nextClock(now, hour, min); ok {
			return &timeMatch{at: at, span: Span{m[0], m[1]}}
		}
		return nil
	}

	if m := reMeridiem.FindStringSubmatchIndex(text); m != nil {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		hour = applyMeridiem(hour, text[m[4]:m[5]])
		if at, ok := nextClock(now, hour, 0); ok {
			return &timeMatch{at: at, span: Span{m[0], m[1]}}
		}
		return nil
	}

	if m := reClock24.FindStringSubmatchIndex(text); m != nil {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		min, _ := strconv.Atoi(text[m[4]:m[5]])
		if at, ok := nextClock(now, hour, min); ok {
			return &timeMatch{at: at, span: Span{m[0], m[1]}}
		}
		return nil
	}

	if m := reMonthDay.FindStringSubmatchIndex(text); m != nil {
		mon := months[strings.ToLower(text[m[2]:m[3]])[:3]]
		day, _ := strconv.Atoi(text[m[4]:m[5]])
		if day < 1 || day > 31 {
			return nil
		}
		at := time.Date(now.Year(), mon, day, 9, 0, 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(1, 0, 0)
		}
		return &timeMatch{at: at, span: Span{m[0], m[1]}}
	}

	return nil
}

func applyMeridiem(hour int, meridiem string) int {
	switch strings.ToLower(meridiem) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return hour
}

// nextClock resolves an hour:minute to the next occurrence after now,
// rolling to the following day when the time has already passed.
func nextClock(now time.Time, hour, min int) (time.Time, bool) {
	if hour > 23 || min > 59 {
		return time.Time{}, false
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, true
}

// stripTime removes a matched time expression (plus any dangling "at"/"@"
// connective) from text, returning the cleaned remainder.
func stripTime(text string, tm *timeMatch) string {
	if tm == nil {
		return strings.TrimSpace(text)
	}
	rest := text[:tm.span.Start] + text[tm.span.End:]
	rest = strings.TrimSpace(rest)
	rest = strings.TrimSuffix(rest, "@")
	rest = strings.TrimSuffix(rest, " at")
	return strings.TrimSpace(rest)
}
