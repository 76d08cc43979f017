package views

import (
	"relgraph/internal/output"
	"relgraph/ui/tui/state"

	"github.com/charmbracelet/lipgloss"
)

type ReportView struct{}

func (v ReportView) Render(s state.AppState, props ViewProps) string {
	header := MenuHeaderStyle.Width(props.Width).Render("Run Report")
	if s.Report == nil {
		return lipgloss.JoinVertical(lipgloss.Left,
			header,
			lipgloss.NewStyle().Padding(1, 2).Render(props.SpinnerView+" Migration in progress..."),
			footer("Press 'b' to go back"),
		)
	}

	view := output.BuildReportView(s.Report)
	var cards []string
	for _, id := range []string{output.SectionSummary, output.SectionImport, output.SectionSchema} {
		if sec := view.SectionByID(id); sec != nil {
			cards = append(cards, card(sec.Title, RenderSection(*sec)))
		}
	}
	var warn string
	if sec := view.SectionByID(output.SectionWarnings); sec != nil && len(sec.Items) > 0 {
		warn = card(sec.Title, RenderSection(*sec))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.JoinHorizontal(lipgloss.Top, cards...),
		warn,
		footer("Press 'b' to go back"),
	)
}
