// Package ui is the terminal front-end. It renders the tutor state and maps
// keys onto the controller's session and recording operations.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/lingua/internal/prompt"
	"github.com/MrWong99/lingua/internal/tutor"
	"github.com/MrWong99/lingua/pkg/provider/live"
)

const (
	boxWidth  = 54
	barWidth  = 20
	textWidth = boxWidth - 4
)

// Controller is the part of [tutor.Controller] the front-end drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	PauseRecording()
	ResumeRecording()
	Settings() tutor.Settings
	Subscribe() (<-chan tutor.State, func())
}

var _ Controller = (*tutor.Controller)(nil)

// StateMsg carries a new tutor state.
type StateMsg tutor.State

// ErrMsg reports a failed start or stop. Only the generic text is shown.
type ErrMsg struct{ Err error }

type closedMsg struct{}

// Model is the bubbletea model of the practice screen.
type Model struct {
	ctx     context.Context
	ctrl    Controller
	updates <-chan tutor.State

	state    tutor.State
	settings tutor.Settings
	err      string

	width  int
	height int
}

// NewModel returns a model driving ctrl. updates is usually the channel from
// ctrl.Subscribe.
func NewModel(ctx context.Context, ctrl Controller, updates <-chan tutor.State) Model {
	return Model{
		ctx:      ctx,
		ctrl:     ctrl,
		updates:  updates,
		settings: ctrl.Settings(),
	}
}

// Init starts listening for state changes.
func (m Model) Init() tea.Cmd {
	return waitForState(m.updates)
}

func waitForState(ch <-chan tutor.State) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return StateMsg(st)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StateMsg:
		m.state = tutor.State(msg)
		return m, waitForState(m.updates)
	case ErrMsg:
		m.err = tutor.ErrSessionFailed.Error()
	case closedMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Sequence(m.stop(), tea.Quit)
	case "s", "enter":
		if m.state.SessionStarted || m.state.Loading {
			return m, nil
		}
		m.err = ""
		m.settings = m.ctrl.Settings()
		return m, m.start()
	case "x":
		return m, m.stop()
	case " ", "p":
		if !m.state.SessionStarted {
			return m, nil
		}
		if m.state.Recording {
			m.ctrl.PauseRecording()
		} else {
			m.ctrl.ResumeRecording()
		}
	}
	return m, nil
}

func (m Model) start() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		if err := ctrl.Start(ctx); err != nil && !errors.Is(err, tutor.ErrStopped) {
			return ErrMsg{Err: err}
		}
		return nil
	}
}

func (m Model) stop() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		if err := ctrl.Stop(context.WithoutCancel(ctx)); err != nil {
			return ErrMsg{Err: err}
		}
		return nil
	}
}

// View renders the screen.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderLevels())
	b.WriteString(m.renderQuestion())
	b.WriteString(m.renderTranscript())
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	s := m.settings
	practice := fmt.Sprintf("%s → %s, %s",
		prompt.LookupLanguage(s.NativeLanguage).Label,
		prompt.LookupLanguage(s.LearnLanguage).Label,
		prompt.LookupLevel(s.Difficulty).Label)

	status := m.statusLine()
	return fmt.Sprintf("┌─ lingua %s┐\n│ %-*s │\n│ %-*s │\n├%s┤\n",
		strings.Repeat("─", boxWidth-11),
		textWidth, truncate(practice, textWidth),
		textWidth, truncate(status, textWidth),
		strings.Repeat("─", boxWidth-2))
}

func (m Model) statusLine() string {
	switch {
	case m.err != "":
		return m.err
	case m.state.Error != "":
		return m.state.Error
	case m.state.Loading:
		return "Connecting…"
	case m.state.SessionStarted && m.state.Recording:
		return "Listening"
	case m.state.SessionStarted:
		return "Paused"
	case m.state.Connection == live.StateActive:
		return "Preparing the first question…"
	default:
		return "Press s to start"
	}
}

func (m Model) renderLevels() string {
	return fmt.Sprintf("│ Tutor: [%s]%-*s │\n│ You:   [%s]%-*s │\n",
		renderBar(m.state.OutputLevel, barWidth), textWidth-barWidth-9, "",
		renderBar(m.state.InputLevel, barWidth), textWidth-barWidth-9, "")
}

func (m Model) renderQuestion() string {
	q := m.state.CurrentQuestion
	if q == "" {
		q = "-"
	}
	return fmt.Sprintf("│ %-*s │\n", textWidth, truncate("Question: "+q, textWidth))
}

func (m Model) renderTranscript() string {
	var b strings.Builder
	b.WriteString("├" + strings.Repeat("─", boxWidth-2) + "┤\n")
	lines := wrap(m.state.Transcript, textWidth)
	if len(lines) == 0 {
		lines = []string{""}
	}
	// Keep the tail of long turns on screen.
	const maxLines = 6
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	for _, l := range lines {
		fmt.Fprintf(&b, "│ %-*s │\n", textWidth, l)
	}
	return b.String()
}

func (m Model) renderHelp() string {
	return fmt.Sprintf("├%s┤\n│ %-*s │\n└%s┘\n",
		strings.Repeat("─", boxWidth-2),
		textWidth, "s:Start  x:Stop  space:Pause/Resume  q:Quit",
		strings.Repeat("─", boxWidth-2))
}

func renderBar(level float64, width int) string {
	level = min(max(level, 0), 1)
	filled := int(level*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return string(r[:length-1]) + "…"
}

// wrap breaks s into lines of at most width runes at word boundaries.
func wrap(s string, width int) []string {
	var lines []string
	var cur []rune
	for _, word := range strings.Fields(s) {
		w := []rune(word)
		switch {
		case len(cur) == 0:
			cur = w
		case len(cur)+1+len(w) <= width:
			cur = append(append(cur, ' '), w...)
		default:
			lines = append(lines, string(cur))
			cur = w
		}
		for len(cur) > width {
			lines = append(lines, string(cur[:width]))
			cur = cur[width:]
		}
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}
