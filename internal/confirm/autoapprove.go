package confirm

import (
	"fmt"
	"regexp"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

// Rule is one auto-approve entry: an action type plus a payload predicate.
// A matching rule lets an active-safety task skip the confirmation queue.
type Rule struct {
	ActionType task.ActionType `yaml:"action_type"`
	// RequireKey must be present and non-empty in the payload.
	RequireKey string `yaml:"require_key"`
	// Match, when set, is a regular expression the RequireKey value must
	// match in full.
	Match string `yaml:"match,omitempty"`

	re *regexp.Regexp
}

// AutoApprover holds the filtered, compiled rule set. ShellCommand rules
// are rejected outright: staged commands always pass through the queue.
type AutoApprover struct {
	rules []Rule
}

// NewAutoApprover validates and compiles rules. Any shell_command rule is
// an error, not a silent filter, so a misconfiguration is caught at load.
func NewAutoApprover(rules []Rule) (*AutoApprover, error) {
	compiled := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if r.ActionType == task.ActionShellCommand {
			return nil, fmt.Errorf("auto_approve rule %d: shell_command is never auto-approvable", i)
		}
		if !task.KnownActionType(r.ActionType) {
			return nil, fmt.Errorf("auto_approve rule %d: unknown action type %q", i, r.ActionType)
		}
		if r.RequireKey == "" {
			return nil, fmt.Errorf("auto_approve rule %d: require_key must be set", i)
		}
		if r.Match != "" {
			re, err := regexp.Compile("^(?:" + r.Match + ")$")
			if err != nil {
				return nil, fmt.Errorf("auto_approve rule %d: bad match pattern: %w", i, err)
			}
			r.re = re
		}
		compiled = append(compiled, r)
	}
	return &AutoApprover{rules: compiled}, nil
}

// Allows reports whether any rule approves the given action/payload pair.
// ShellCommand is refused unconditionally regardless of the rule set.
func (a *AutoApprover) Allows(at task.ActionType, payload task.Payload) bool {
	if a == nil || at == task.ActionShellCommand {
		return false
	}
	for _, r := range a.rules {
		if r.ActionType != at {
			continue
		}
		val, ok := payload.String(r.RequireKey)
		if !ok {
			continue
		}
		if r.re != nil && !r.re.MatchString(val) {
			continue
		}
		return true
	}
	return false
}
