package views

import (
	"relgraph/ui/tui/state"
)

func RenderMenu(s state.AppState, width, height, cursor int, animCursor float64, mouseX, mouseY int) string {
	v := MenuView{}
	return v.Render(s, ViewProps{
		Width:      width,
		Height:     height,
		MenuCursor: cursor,
		AnimCursor: animCursor,
		MouseX:     mouseX,
		MouseY:     mouseY,
	})
}

func RenderProgress(s state.AppState, spinnerView, progressView, chartView string) string {
	v := ProgressView{}
	return v.Render(s, ViewProps{
		SpinnerView:  spinnerView,
		ProgressView: progressView,
		ChartView:    chartView,
	})
}

func RenderReport(s state.AppState, spinnerView string, width, height int) string {
	v := ReportView{}
	return v.Render(s, ViewProps{Width: width, Height: height, SpinnerView: spinnerView})
}

func RenderModel(s state.AppState, width, height int) string {
	v := ModelView{}
	return v.Render(s, ViewProps{Width: width, Height: height})
}

func RenderRawConsole(s state.AppState, width, height, scrollY int) string {
	v := ConsoleView{}
	return v.Render(s, ViewProps{
		Width:   width,
		Height:  height,
		ScrollY: scrollY,
	})
}
