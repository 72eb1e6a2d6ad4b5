package intent

import (
	"testing"
	"time"
)

// A fixed Tuesday morning keeps weekday and rollover arithmetic stable.
var baseNow = time.Date(2026, time.March, 10, 10, 0, 0, 0, time.Local)

func TestFindTimeRelative(t *testing.T) {
	cases := []struct {
		text string
		want time.Duration
	}{
		{"in 30 seconds", 30 * time.Second},
		{"in 5 minutes", 5 * time.Minute},
		{"in 1 min", 1 * time.Minute},
		{"in 2 hours", 2 * time.Hour},
		{"in 3 days", 3 * 24 * time.Hour},
	}
	for _, tc := range cases {
		tm := findTime(tc.text, baseNow)
		if tm == nil {
			t.Fatalf("findTime(%q) = nil", tc.text)
		}
		if got := tm.at.Sub(baseNow); got != tc.want {
			t.Errorf("findTime(%q) offset = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestFindTimeTomorrow(t *testing.T) {
	tm := findTime("tomorrow", baseNow)
	if tm == nil {
		t.Fatal("findTime(tomorrow) = nil")
	}
	want := time.Date(2026, time.March, 11, 9, 0, 0, 0, time.Local)
	if !tm.at.Equal(want) {
		t.Errorf("tomorrow = %v, want %v", tm.at, want)
	}

	tm = findTime("tomorrow at 3pm", baseNow)
	if tm == nil {
		t.Fatal("findTime(tomorrow at 3pm) = nil")
	}
	want = time.Date(2026, time.March, 11, 15, 0, 0, 0, time.Local)
	if !tm.at.Equal(want) {
		t.Errorf("tomorrow at 3pm = %v, want %v", tm.at, want)
	}
}

func TestFindTimeNextWeekday(t *testing.T) {
	// baseNow is a Tuesday; "next tuesday" must mean a full week out.
	tm := findTime("next tuesday", baseNow)
	if tm == nil {
		t.Fatal("findTime(next tuesday) = nil")
	}
	if got := tm.at.Day(); got != 17 {
		t.Errorf("next tuesday day = %d, want 17", got)
	}

	tm = findTime("next friday", baseNow)
	if tm == nil {
		t.Fatal("findTime(next friday) = nil")
	}
	if got := tm.at.Weekday(); got != time.Friday {
		t.Errorf("weekday = %v, want Friday", got)
	}
	if !tm.at.After(baseNow) {
		t.Error("next friday not after now")
	}
}

func TestFindTimeClockRollsToNextDay(t *testing.T) {
	// 08:00 has already passed at 10:00, so it resolves to tomorrow.
	tm := findTime("at 8am", baseNow)
	if tm == nil {
		t.Fatal("findTime(at 8am) = nil")
	}
	want := time.Date(2026, time.March, 11, 8, 0, 0, 0, time.Local)
	if !tm.at.Equal(want) {
		t.Errorf("at 8am = %v, want %v", tm.at, want)
	}

	// 17:30 is still ahead today.
	tm = findTime("17:30", baseNow)
	if tm == nil {
		t.Fatal("findTime(17:30) = nil")
	}
	want = time.Date(2026, time.March, 10, 17, 30, 0, 0, time.Local)
	if !tm.at.Equal(want) {
		t.Errorf("17:30 = %v, want %v", tm.at, want)
	}
}

func TestFindTimeMeridiemShorthand(t *testing.T) {
	tm := findTime("3pm", baseNow)
	if tm == nil {
		t.Fatal("findTime(3pm) = nil")
	}
	if tm.at.Hour() != 15 {
		t.Errorf("3pm hour = %d, want 15", tm.at.Hour())
	}
}

func TestFindTimeMonthDay(t *testing.T) {
	tm := findTime("Dec 3", baseNow)
	if tm == nil {
		t.Fatal("findTime(Dec 3) = nil")
	}
	if tm.at.Month() != time.December || tm.at.Day() != 3 || tm.at.Year() != 2026 {
		t.Errorf("Dec 3 = %v", tm.at)
	}

	// A date already past this year rolls to next year.
	tm = findTime("January 5", baseNow)
	if tm == nil {
		t.Fatal("findTime(January 5) = nil")
	}
	if tm.at.Year() != 2027 {
		t.Errorf("January 5 year = %d, want 2027", tm.at.Year())
	}
}

func TestFindTimeInvalid(t *testing.T) {
	for _, text := range []string{"", "no time here", "at 25:00", "in zero minutes"} {
		if tm := findTime(text, baseNow); tm != nil {
			t.Errorf("findTime(%q) = %v, want nil", text, tm.at)
		}
	}
}

func TestStripTime(t *testing.T) {
	text := "call mum at 5pm"
	tm := findTime(text, baseNow)
	if tm == nil {
		t.Fatal("findTime = nil")
	}
	if got := stripTime(text, tm); got != "call mum" {
		t.Errorf("stripTime = %q, want %q", got, "call mum")
	}

	if got := stripTime("  plain text  ", nil); got != "plain text" {
		t.Errorf("stripTime(nil) = %q", got)
	}
}
