package views

import (
	"fmt"
	"strings"

	"relgraph/internal/output"
	"relgraph/ui/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

func ColorForStatus(status string) lipgloss.Style {
	switch status {
	case output.StatusWarn:
		return styles.StatusStyle.Foreground(styles.Warn)
	case output.StatusCrit:
		return styles.StatusStyle.Foreground(styles.Bad)
	}
	return styles.StatusStyle.Foreground(styles.Good)
}

// RenderSection lays out a report section as label/value lines.
func RenderSection(sec output.Section) string {
	var b strings.Builder
	for _, it := range sec.Items {
		val := it.Note
		if val == "" {
			val = fmt.Sprintf("%.0f", it.Value)
			if it.Unit != "" && it.Unit != "rows" {
				val = fmt.Sprintf("%.1f%s", it.Value, it.Unit)
			}
		}
		if it.Status != "" && it.Status != output.StatusOK {
			val = ColorForStatus(it.Status).Render(val)
		}
		b.WriteString(styles.LabelStyle.Render(it.Label))
		b.WriteString(val)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func card(title, body string) string {
	return styles.CardStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Bold(true).Render(title),
		body,
	))
}

func footer(text string) string {
	return lipgloss.NewStyle().Padding(1, 2).Foreground(styles.Subtle).Render(text)
}
