package views

import (
	"fmt"
	"strings"

	"relgraph/ui/tui/state"
	"relgraph/ui/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

type ConsoleView struct{}

func (v ConsoleView) Render(s state.AppState, props ViewProps) string {
	header := MenuHeaderStyle.Width(props.Width).Render(fmt.Sprintf("Event Log (%d)", len(s.ConsoleLogs)))

	height := max(1, props.Height-lipgloss.Height(header)-4)
	total := len(s.ConsoleLogs)
	top := min(max(props.ScrollY, 0), max(total-height, 0))
	end := min(top+height, total)

	lines := make([]string, 0, end-top)
	for _, line := range s.ConsoleLogs[top:end] {
		lines = append(lines, logLine(line))
	}

	box := lipgloss.NewStyle().
		Width(max(props.Width-4, 0)).
		Height(height).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))

	hint := fmt.Sprintf("Lines %d-%d of %d • Press 'b' to go back", min(top+1, total), end, total)
	if total > height {
		hint += " • Use ↑/↓ to scroll"
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.NewStyle().Padding(1, 2).Render(box),
		footer(hint),
	)
}

// logLine colors a log entry by what it records.
func logLine(line string) string {
	style := lipgloss.NewStyle()
	switch {
	case strings.Contains(line, "failed"):
		style = style.Foreground(styles.Bad)
	case strings.Contains(line, "] step "):
		style = style.Foreground(styles.Highlight).Bold(true)
	case strings.HasSuffix(line, " rows"):
		style = style.Foreground(styles.Good)
	}
	return style.Render(line)
}
