package views

import (
	"fmt"
	"time"

	"relgraph/internal/output"
	"relgraph/internal/pipeline"
	"relgraph/ui/tui/state"
	"relgraph/ui/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

type ProgressView struct{}

func (v ProgressView) Render(s state.AppState, props ViewProps) string {
	status := props.SpinnerView
	switch {
	case s.Done() && s.Err != nil:
		status = ColorForStatus(output.StatusCrit).Render("✗")
	case s.Done():
		status = ColorForStatus(output.StatusOK).Render("✓")
	}

	elapsed := time.Duration(0)
	if !s.Started.IsZero() {
		elapsed = s.LastUpdate.Sub(s.Started).Round(time.Second)
	}
	header := lipgloss.JoinHorizontal(lipgloss.Left,
		status,
		styles.TitleStyle.Render("relgraph migration"),
		fmt.Sprintf(" step: %s • elapsed: %s • %.0f rows/s", s.Step, elapsed, s.RowsPerSec),
	)

	live := output.BuildReportView(&pipeline.Report{Step: s.Step, Stats: s.Stats, Entities: s.Entities})
	var counters, entities string
	if sec := live.SectionByID(output.SectionImport); sec != nil {
		counters = card("Import", RenderSection(*sec))
	}
	if sec := live.SectionByID(output.SectionEntities); sec != nil && len(sec.Items) > 0 {
		entities = card("Tables done", RenderSection(*sec))
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, counters, props.ChartView, entities)

	var errLine string
	if s.Err != nil {
		errLine = "\n" + ColorForStatus(output.StatusCrit).Render("Error: "+s.Err.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.NewStyle().Padding(1, 2).Render(props.ProgressView),
		body,
		errLine,
		footer("Press 'b' to go back • 'q' to quit"),
	)
}
