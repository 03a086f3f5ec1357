// Package monitor renders a live terminal dashboard of listener state and forwarded messages.
package monitor

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"ntfy2tg/pkg/bus"
)

// Run shows the dashboard until the user quits, ctx is canceled or feed is closed.
func Run(ctx context.Context, topics []string, feed <-chan bus.Event) error {
	program := tea.NewProgram(newModel(topics, feed),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}

	return err
}
