// Package tui renders the confirmation queue in the terminal. Pending
// entries can be approved or dismissed with single keystrokes.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/confirm"
)

// Snapshot is the per-tick view of engine state.
type Snapshot struct {
	Confirmations []confirm.Entry
	LiveTasks     int
	Audited       int64
	LastEvent     string
	Uptime        time.Duration
}

// StatusProvider supplies a fresh Snapshot each tick.
type StatusProvider func() Snapshot

// Resolver applies a queue decision.
type Resolver func(taskID string, decision confirm.Decision) error

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	itemStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type model struct {
	provider StatusProvider
	resolver Resolver
	snap     Snapshot
	cursor   int
	notice   string
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(1*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.snap.Confirmations)-1 {
				m.cursor++
			}
		case "a":
			m.notice = m.decide(confirm.Approve)
		case "d":
			m.notice = m.decide(confirm.Dismiss)
		}
	case tickMsg:
		m.snap = m.provider()
		if m.cursor >= len(m.snap.Confirmations) {
			m.cursor = len(m.snap.Confirmations) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m *model) decide(decision confirm.Decision) string {
	if len(m.snap.Confirmations) == 0 || m.cursor >= len(m.snap.Confirmations) {
		return "nothing selected"
	}
	e := m.snap.Confirmations[m.cursor]
	if err := m.resolver(e.TaskID, decision); err != nil {
		return errStyle.Render(err.Error())
	}
	m.snap = m.provider()
	if m.cursor >= len(m.snap.Confirmations) {
		m.cursor = len(m.snap.Confirmations) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	return fmt.Sprintf("%sd %s", decision, e.TaskID)
}

func (m model) View() string {
	var out strings.Builder
	out.WriteString(titleStyle.Render("Engram Confirmations") + "\n\n")

	if len(m.snap.Confirmations) == 0 {
		out.WriteString(dimStyle.Render("No pending confirmations.") + "\n")
	} else {
		for i, e := range m.snap.Confirmations {
			age := time.Since(e.PresentedAt).Truncate(time.Second)
			line := fmt.Sprintf("[%s] %s (%s, waiting %s)", e.TaskID, e.Describe, e.ActionType, age)
			if i == m.cursor {
				out.WriteString(cursorStyle.Render("> "+line) + "\n")
			} else {
				out.WriteString(itemStyle.Render("  "+line) + "\n")
			}
		}
	}

	out.WriteString("\n")
	out.WriteString(dimStyle.Render(fmt.Sprintf(
		"live tasks: %d  audited: %d  uptime: %s",
		m.snap.LiveTasks, m.snap.Audited, m.snap.Uptime.Truncate(time.Second))) + "\n")
	if m.snap.LastEvent != "" {
		out.WriteString(dimStyle.Render("last event: "+m.snap.LastEvent) + "\n")
	}
	if m.notice != "" {
		out.WriteString(m.notice + "\n")
	}
	out.WriteString(dimStyle.Render("a approve  d dismiss  j/k move  q quit") + "\n")
	return out.String()
}

// Run blocks until the user quits or the context is cancelled.
func Run(ctx context.Context, provider StatusProvider, resolver Resolver) error {
	defer bestEffortResetTTY()

	m := model{provider: provider, resolver: resolver, snap: provider()}
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
