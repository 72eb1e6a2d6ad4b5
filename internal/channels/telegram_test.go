package channels

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/confirm"
)

func TestParseConfirmCallback(t *testing.T) {
	cases := []struct {
		data     string
		taskID   string
		decision confirm.Decision
		ok       bool
	}{
		{"confirm:abc-123:approve", "abc-123", confirm.Approve, true},
		{"confirm:abc-123:dismiss", "abc-123", confirm.Dismiss, true},
		{" confirm:abc:approve ", "abc", confirm.Approve, true},
		{"confirm::approve", "", "", false},
		{"confirm:abc:shrug", "", "", false},
		{"hitl:abc:approve", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		taskID, decision, err := parseConfirmCallback(tc.data)
		if tc.ok {
			if err != nil {
				t.Errorf("parseConfirmCallback(%q): %v", tc.data, err)
				continue
			}
			if taskID != tc.taskID || decision != tc.decision {
				t.Errorf("parseConfirmCallback(%q) = %q, %q", tc.data, taskID, decision)
			}
			continue
		}
		if err == nil {
			t.Errorf("parseConfirmCallback(%q) accepted", tc.data)
		}
	}
}

func TestResolveErrorText(t *testing.T) {
	ch := &TelegramChannel{logger: slog.Default()}
	cases := []struct {
		err  error
		want string
	}{
		{confirm.ErrExpired, "expired"},
		{confirm.ErrAlreadyResolved, "already decided"},
		{confirm.ErrNotFound, "No pending"},
		{errors.New("boom"), "Could not resolve"},
	}
	for _, tc := range cases {
		if got := ch.resolveErrorText("t1", tc.err); !strings.Contains(got, tc.want) {
			t.Errorf("resolveErrorText(%v) = %q, want substring %q", tc.err, got, tc.want)
		}
	}
}
