// Package console prints migration reports to a plain terminal.
package console

import (
	"fmt"
	"io"
	"strings"

	"relgraph/internal/output"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

const (
	labelWidth = 22
	noteWidth  = 60
)

// Print renders the report view to w in a compact format. Empty sections are
// left out.
func Print(w io.Writer, view output.ReportView) {
	fmt.Fprintf(w, "%s■ MIGRATION REPORT %s%s %s\n", colorCyan, colorReset, marker(view.Status), view.RunID)

	for _, sec := range view.Sections {
		if len(sec.Items) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s─ %s%s\n", colorCyan, sec.Title, colorReset)
		for _, it := range sec.Items {
			if it.Key == "run_id" {
				continue
			}
			label := truncate(it.Label, labelWidth-2)
			dots := strings.Repeat("·", labelWidth-len([]rune(label)))
			fmt.Fprintf(w, "  %s%s%s%s %s%s\n", label, colorCyan, dots, colorReset, value(it), suffix(it.Status))
		}
	}
	fmt.Fprintln(w)
}

func value(it output.Item) string {
	switch {
	case it.Note != "":
		return truncate(it.Note, noteWidth)
	case it.Unit == "rows" || it.Unit == "":
		if it.Value == float64(int64(it.Value)) {
			s := fmt.Sprintf("%d", int64(it.Value))
			if it.Unit != "" {
				s += " " + it.Unit
			}
			return s
		}
		return fmt.Sprintf("%.1f", it.Value)
	default:
		return fmt.Sprintf("%.1f%s", it.Value, it.Unit)
	}
}

func suffix(status string) string {
	if status == "" || status == output.StatusOK {
		return ""
	}
	return " " + marker(status)
}

func marker(status string) string {
	switch status {
	case output.StatusWarn:
		return colorFor(status) + "!" + colorReset
	case output.StatusCrit:
		return colorFor(status) + "X" + colorReset
	default:
		return colorFor(status) + "✓" + colorReset
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func colorFor(status string) string {
	switch status {
	case output.StatusWarn:
		return colorYellow
	case output.StatusCrit:
		return colorRed
	default:
		return colorGreen
	}
}
