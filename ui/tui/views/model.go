package views

import (
	"fmt"
	"strings"

	"relgraph/ui/tui/state"
	"relgraph/ui/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

type ModelView struct{}

func (v ModelView) Render(s state.AppState, props ViewProps) string {
	header := MenuHeaderStyle.Width(props.Width).Render("Graph Model")
	if s.Report == nil || s.Report.Model == nil {
		return lipgloss.JoinVertical(lipgloss.Left,
			header,
			lipgloss.NewStyle().Padding(1, 2).Render("The model is shown once the run has mapped the source."),
			footer("Press 'b' to go back"),
		)
	}

	m := s.Report.Model
	var vb strings.Builder
	for _, t := range m.Vertices {
		name := lipgloss.NewStyle().Bold(true).Foreground(BrandColor).Render(t.Name)
		if t.Parent != "" {
			name += styles.LabelStyle.UnsetWidth().Render(" ⊂ " + t.Parent)
		}
		fmt.Fprintf(&vb, "%s\n  key: %s\n  %s\n", name, strings.Join(t.Key, ", "), strings.Join(t.Properties, ", "))
	}

	var eb strings.Builder
	for _, e := range m.Edges {
		kind := ""
		switch {
		case e.Aggregator:
			kind = " [aggregated]"
		case e.Logical:
			kind = " [logical]"
		}
		ends := e.From + " → " + e.To
		if len(e.Ends) > 0 {
			ends = strings.ReplaceAll(strings.Join(e.Ends, ", "), "->", "→")
		}
		fmt.Fprintf(&eb, "%s: %s%s\n", lipgloss.NewStyle().Bold(true).Render(e.Name), ends, kind)
	}

	content := lipgloss.JoinHorizontal(lipgloss.Top,
		card(fmt.Sprintf("Vertices (%d)", len(m.Vertices)), strings.TrimRight(vb.String(), "\n")),
		card(fmt.Sprintf("Edges (%d)", len(m.Edges)), strings.TrimRight(eb.String(), "\n")),
	)
	return lipgloss.JoinVertical(lipgloss.Left, header, content, footer("Press 'b' to go back"))
}
