package ui

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// Option configures [Run].
type Option func(*[]tea.ProgramOption)

// WithIO replaces the terminal with in and out. Used by tests.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(opts *[]tea.ProgramOption) {
		*opts = append(*opts, tea.WithInput(in), tea.WithOutput(out))
	}
}

// Run shows the practice screen until the user quits or ctx ends.
func Run(ctx context.Context, ctrl Controller, opts ...Option) error {
	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	popts := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}
	for _, o := range opts {
		o(&popts)
	}

	p := tea.NewProgram(NewModel(ctx, ctrl, updates), popts...)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("ui: %w", err)
	}
	return nil
}
